package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"netpulse/internal/models"
)

var (
	// RequestsTotal общее количество запросов
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netpulse_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// RequestDuration продолжительность запросов
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netpulse_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// TransferRate текущая скорость по направлениям
	TransferRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "netpulse_transfer_rate_bytes_per_second",
			Help: "Current network transfer rate",
		},
		[]string{"direction"},
	)

	// SamplesTotal снятые замеры
	SamplesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netpulse_samples_total",
			Help: "Total number of rate samples taken",
		},
	)

	// AnomaliesDetected обнаруженные аномалии
	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netpulse_anomalies_detected_total",
			Help: "Total number of anomalies detected",
		},
		[]string{"metric", "kind"},
	)

	// LastZScore z-score последней аномалии
	LastZScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "netpulse_last_anomaly_zscore",
			Help: "Z-score of the most recent anomaly per metric",
		},
		[]string{"metric"},
	)

	// TickLatency длительность тика сэмплирования
	TickLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "netpulse_tick_latency_seconds",
			Help:    "Sampling tick processing latency in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// HistoryLength заполненность буфера истории
	HistoryLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netpulse_history_length",
			Help: "Number of samples currently held in history",
		},
	)

	// DiagnosticsRuns прогоны диагностики
	DiagnosticsRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netpulse_diagnostics_runs_total",
			Help: "Total number of diagnostics runs",
		},
		[]string{"status"},
	)

	// DiagnosticsDuration длительность диагностики
	DiagnosticsDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "netpulse_diagnostics_duration_seconds",
			Help:    "Diagnostics run duration in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
	)

	// Latency задержка до целевого хоста
	Latency = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netpulse_latency_ms",
			Help: "Average ping latency to the target host in milliseconds",
		},
	)

	// PacketLoss потери пакетов
	PacketLoss = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netpulse_packet_loss_percent",
			Help: "Packet loss to the target host",
		},
	)

	// Throughput пропускная способность по направлениям
	Throughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "netpulse_throughput_mbps",
			Help: "Measured throughput in Mbps",
		},
		[]string{"direction"},
	)

	// RedisOperations операции с Redis
	RedisOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netpulse_redis_operations_total",
			Help: "Total number of Redis operations",
		},
		[]string{"operation", "status"},
	)

	// StreamClients подключенные WebSocket клиенты
	StreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netpulse_stream_clients",
			Help: "Number of connected live stream clients",
		},
	)
)

// Publisher переносит события сеанса в метрики Prometheus
type Publisher struct{}

func (Publisher) PublishSample(s models.Sample) {
	SamplesTotal.Inc()
	TransferRate.WithLabelValues("upload").Set(s.UploadRate)
	TransferRate.WithLabelValues("download").Set(s.DownloadRate)
}

func (Publisher) PublishAnomaly(ev models.AnomalyEvent) {
	AnomaliesDetected.WithLabelValues(ev.Metric, ev.Kind).Inc()
	LastZScore.WithLabelValues(ev.Metric).Set(ev.ZScore)
}

func (Publisher) PublishDiagnostics(r models.DiagnosticsResult) {
	status := "ok"
	if !r.OK() {
		status = "failed"
	}
	DiagnosticsRuns.WithLabelValues(status).Inc()
	DiagnosticsDuration.Observe(r.Duration.Seconds())
	PacketLoss.Set(r.PacketLossPct)
	if r.LatencyMs != nil {
		Latency.Set(*r.LatencyMs)
	}
	if r.ThroughputMbps != nil {
		Throughput.WithLabelValues("download").Set(*r.ThroughputMbps)
	}
	if r.UploadMbps != nil {
		Throughput.WithLabelValues("upload").Set(*r.UploadMbps)
	}
}
