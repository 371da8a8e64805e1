package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	MetricTotal    = "total"
	MetricUpload   = "upload"
	MetricDownload = "download"
)

// Config настройки сеанса мониторинга. Значение неизменяемо после старта
// сеанса: сеанс хранит свою копию.
type Config struct {
	TargetHost       string        `validate:"required,hostname_rfc1123|ip"`
	AnomalyThreshold float64       `validate:"gt=0,lte=10"`
	CheckInterval    time.Duration `validate:"min=100ms,max=1h"`
	HistorySize      int           `validate:"min=2,max=3600"`
	AnomalyMetrics   []string      `validate:"min=1,dive,oneof=total upload download"`

	AutoDiagnostics     bool
	DiagnosticsInterval time.Duration `validate:"gte=0,max=24h"`
	DiagnosticsCooldown time.Duration `validate:"gte=0,max=24h"`
	DiagnosticsTimeout  time.Duration `validate:"gt=0,max=10m"`
	PingCount           int           `validate:"min=1,max=100"`
	LossPingCount       int           `validate:"min=1,max=1000"`
	DNSProbeHost        string        `validate:"required,hostname_rfc1123"`
	HTTPProbeURL        string        `validate:"omitempty,url"`
	ThroughputURL       string        `validate:"omitempty,url"`
	UploadURL           string        `validate:"omitempty,url"`
	UploadBytes         int           `validate:"min=1,max=100000000"`

	LogSamples bool
	LogFile    string

	ServerPort     string `validate:"required,numeric"`
	RedisAddr      string `validate:"omitempty,hostname_port"`
	RedisPassword  string
	RedisDB        int           `validate:"gte=0"`
	EventRetention time.Duration `validate:"gt=0,max=8760h"`
}

var validate = validator.New()

// Default возвращает конфигурацию по умолчанию (без целевого хоста)
func Default() Config {
	return Config{
		AnomalyThreshold:    2.0,
		CheckInterval:       time.Second,
		HistorySize:         60,
		AnomalyMetrics:      []string{MetricTotal},
		AutoDiagnostics:     true,
		DiagnosticsCooldown: 30 * time.Second,
		DiagnosticsTimeout:  30 * time.Second,
		PingCount:           4,
		LossPingCount:       10,
		DNSProbeHost:        "www.google.com",
		HTTPProbeURL:        "http://www.google.com",
		ThroughputURL:       "https://speed.cloudflare.com/__down?bytes=10000000",
		UploadURL:           "https://speed.cloudflare.com/__up",
		UploadBytes:         2000000,
		ServerPort:          "8080",
		EventRetention:      time.Hour,
	}
}

// Load читает .env (если есть) и переменные окружения поверх Default()
// и проверяет результат.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	r := &envReader{}

	cfg.TargetHost = r.str("TARGET_HOST", cfg.TargetHost)
	cfg.AnomalyThreshold = r.float("ANOMALY_THRESHOLD", cfg.AnomalyThreshold)
	cfg.CheckInterval = r.seconds("CHECK_INTERVAL_SECONDS", cfg.CheckInterval)
	cfg.HistorySize = r.int("HISTORY_SIZE", cfg.HistorySize)
	cfg.AnomalyMetrics = r.list("ANOMALY_METRICS", cfg.AnomalyMetrics)

	cfg.AutoDiagnostics = r.bool("AUTO_DIAGNOSTICS", cfg.AutoDiagnostics)
	cfg.DiagnosticsInterval = r.seconds("DIAGNOSTICS_INTERVAL_SECONDS", cfg.DiagnosticsInterval)
	cfg.DiagnosticsCooldown = r.seconds("DIAGNOSTICS_COOLDOWN_SECONDS", cfg.DiagnosticsCooldown)
	cfg.DiagnosticsTimeout = r.seconds("DIAGNOSTICS_TIMEOUT_SECONDS", cfg.DiagnosticsTimeout)
	cfg.PingCount = r.int("PING_COUNT", cfg.PingCount)
	cfg.LossPingCount = r.int("LOSS_PING_COUNT", cfg.LossPingCount)
	cfg.DNSProbeHost = r.str("DNS_PROBE_HOST", cfg.DNSProbeHost)
	cfg.HTTPProbeURL = r.str("HTTP_PROBE_URL", cfg.HTTPProbeURL)
	cfg.ThroughputURL = r.str("THROUGHPUT_URL", cfg.ThroughputURL)
	cfg.UploadURL = r.str("UPLOAD_URL", cfg.UploadURL)
	cfg.UploadBytes = r.int("UPLOAD_BYTES", cfg.UploadBytes)

	cfg.LogSamples = r.bool("LOG_SAMPLES", cfg.LogSamples)
	cfg.LogFile = r.str("LOG_FILE", cfg.LogFile)

	cfg.ServerPort = r.str("SERVER_PORT", cfg.ServerPort)
	cfg.RedisAddr = r.str("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = r.str("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = r.int("REDIS_DB", cfg.RedisDB)
	cfg.EventRetention = r.hours("EVENT_RETENTION_HOURS", cfg.EventRetention)

	if len(r.errs) > 0 {
		return cfg, &ValidationError{Fields: r.errs}
	}
	return cfg, cfg.Validate()
}

// Validate проверяет конфигурацию перед стартом сеанса
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("failed to validate config: %w", err)
	}

	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{
			Field:   fe.Field(),
			Message: describe(fe),
		})
	}
	return &ValidationError{Fields: fields}
}

// FieldError ошибка одного поля
type FieldError struct {
	Field   string
	Message string
}

// ValidationError конфигурация отклонена, сеанс не запускается
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

// Has проверяет, есть ли ошибка для поля
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "must not be empty"
	case "gt":
		return "must be positive"
	case "gte":
		return "must not be negative"
	case "min":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "oneof":
		return fmt.Sprintf("%v is not one of [%s]", fe.Value(), fe.Param())
	case "hostname_rfc1123|ip", "hostname_rfc1123":
		return "must be a hostname or IP address"
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

// envReader читает переменные окружения и копит ошибки разбора
type envReader struct {
	errs []FieldError
}

func (r *envReader) str(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func (r *envReader) int(key string, defaultValue int) int {
	valueStr := r.str(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		r.errs = append(r.errs, FieldError{Field: key, Message: fmt.Sprintf("%q is not an integer", valueStr)})
		return defaultValue
	}
	return value
}

func (r *envReader) float(key string, defaultValue float64) float64 {
	valueStr := r.str(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		r.errs = append(r.errs, FieldError{Field: key, Message: fmt.Sprintf("%q is not a finite number", valueStr)})
		return defaultValue
	}
	return value
}

func (r *envReader) seconds(key string, defaultValue time.Duration) time.Duration {
	d, err := Seconds(r.float(key, defaultValue.Seconds()))
	if err != nil {
		r.errs = append(r.errs, FieldError{Field: key, Message: err.Error()})
		return defaultValue
	}
	return d
}

func (r *envReader) hours(key string, defaultValue time.Duration) time.Duration {
	hours := r.int(key, int(defaultValue/time.Hour))
	d, err := Seconds(float64(hours) * 3600)
	if err != nil {
		r.errs = append(r.errs, FieldError{Field: key, Message: err.Error()})
		return defaultValue
	}
	return d
}

func (r *envReader) bool(key string, defaultValue bool) bool {
	valueStr := r.str(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		r.errs = append(r.errs, FieldError{Field: key, Message: fmt.Sprintf("%q is not a boolean", valueStr)})
		return defaultValue
	}
	return value
}

func (r *envReader) list(key string, defaultValue []string) []string {
	valueStr := r.str(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return NormalizeMetrics(strings.Split(valueStr, ","))
}

// NormalizeMetrics приводит имена метрик к нижнему регистру и убирает пустые
func NormalizeMetrics(names []string) []string {
	var out []string
	for _, name := range names {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// maxSeconds самый длинный интервал, представимый в time.Duration
const maxSeconds = float64(math.MaxInt64) / float64(time.Second)

// Seconds переводит секунды в time.Duration, не допуская переполнения
func Seconds(secs float64) (time.Duration, error) {
	if math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, errors.New("must be a finite number")
	}
	if math.Abs(secs) >= maxSeconds {
		return 0, fmt.Errorf("%g seconds is out of range", secs)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
