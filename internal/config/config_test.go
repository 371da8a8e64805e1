package config

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TARGET_HOST", "8.8.8.8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.AnomalyThreshold != 2.0 {
		t.Errorf("expected threshold 2, got %v", cfg.AnomalyThreshold)
	}
	if cfg.CheckInterval != time.Second {
		t.Errorf("expected 1s interval, got %v", cfg.CheckInterval)
	}
	if cfg.HistorySize != 60 {
		t.Errorf("expected history size 60, got %d", cfg.HistorySize)
	}
	if len(cfg.AnomalyMetrics) != 1 || cfg.AnomalyMetrics[0] != MetricTotal {
		t.Errorf("expected [total] metrics, got %v", cfg.AnomalyMetrics)
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.ServerPort)
	}
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("TARGET_HOST", "example.com")
	t.Setenv("ANOMALY_THRESHOLD", "3.5")
	t.Setenv("CHECK_INTERVAL_SECONDS", "0.5")
	t.Setenv("HISTORY_SIZE", "120")
	t.Setenv("ANOMALY_METRICS", "Upload, download")
	t.Setenv("AUTO_DIAGNOSTICS", "false")
	t.Setenv("EVENT_RETENTION_HOURS", "6")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.AnomalyThreshold != 3.5 {
		t.Errorf("expected threshold 3.5, got %v", cfg.AnomalyThreshold)
	}
	if cfg.CheckInterval != 500*time.Millisecond {
		t.Errorf("expected 500ms interval, got %v", cfg.CheckInterval)
	}
	if cfg.HistorySize != 120 {
		t.Errorf("expected history size 120, got %d", cfg.HistorySize)
	}
	if len(cfg.AnomalyMetrics) != 2 || cfg.AnomalyMetrics[0] != MetricUpload || cfg.AnomalyMetrics[1] != MetricDownload {
		t.Errorf("unexpected metrics: %v", cfg.AnomalyMetrics)
	}
	if cfg.AutoDiagnostics {
		t.Error("expected auto diagnostics disabled")
	}
	if cfg.EventRetention != 6*time.Hour {
		t.Errorf("expected 6h retention, got %v", cfg.EventRetention)
	}
}

func TestLoad_NonNumericThreshold(t *testing.T) {
	t.Setenv("TARGET_HOST", "8.8.8.8")
	t.Setenv("ANOMALY_THRESHOLD", "abc")

	_, err := Load()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !verr.Has("ANOMALY_THRESHOLD") {
		t.Errorf("expected ANOMALY_THRESHOLD in errors, got %v", verr)
	}
}

func TestLoad_MissingTarget(t *testing.T) {
	t.Setenv("TARGET_HOST", "")

	_, err := Load()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !verr.Has("TargetHost") {
		t.Errorf("expected TargetHost error, got %v", verr)
	}
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.TargetHost = "192.168.1.1"

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero interval", func(c *Config) { c.CheckInterval = 0 }, "CheckInterval"},
		{"negative interval", func(c *Config) { c.CheckInterval = -time.Second }, "CheckInterval"},
		{"zero threshold", func(c *Config) { c.AnomalyThreshold = 0 }, "AnomalyThreshold"},
		{"negative threshold", func(c *Config) { c.AnomalyThreshold = -1 }, "AnomalyThreshold"},
		{"history too small", func(c *Config) { c.HistorySize = 1 }, "HistorySize"},
		{"history too large", func(c *Config) { c.HistorySize = 3601 }, "HistorySize"},
		{"history overflowing", func(c *Config) { c.HistorySize = 8796093022208 }, "HistorySize"},
		{"threshold too large", func(c *Config) { c.AnomalyThreshold = 10.5 }, "AnomalyThreshold"},
		{"infinite threshold", func(c *Config) { c.AnomalyThreshold = math.Inf(1) }, "AnomalyThreshold"},
		{"NaN threshold", func(c *Config) { c.AnomalyThreshold = math.NaN() }, "AnomalyThreshold"},
		{"nanosecond interval", func(c *Config) { c.CheckInterval = time.Nanosecond }, "CheckInterval"},
		{"interval too long", func(c *Config) { c.CheckInterval = 2 * time.Hour }, "CheckInterval"},
		{"upload size zero", func(c *Config) { c.UploadBytes = 0 }, "UploadBytes"},
		{"unknown metric", func(c *Config) { c.AnomalyMetrics = []string{"latency"} }, "AnomalyMetrics[0]"},
		{"no metrics", func(c *Config) { c.AnomalyMetrics = nil }, "AnomalyMetrics"},
		{"bad target", func(c *Config) { c.TargetHost = "not a host" }, "TargetHost"},
		{"bad http url", func(c *Config) { c.HTTPProbeURL = "::nope" }, "HTTPProbeURL"},
	}

	if err := valid.Validate(); err != nil {
		t.Fatalf("baseline config should be valid: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			cfg.AnomalyMetrics = append([]string(nil), valid.AnomalyMetrics...)
			tt.mutate(&cfg)

			err := cfg.Validate()
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if !verr.Has(tt.field) {
				t.Errorf("expected error on %s, got %v", tt.field, verr)
			}
		})
	}
}

func TestEnvReader_Seconds(t *testing.T) {
	t.Setenv("NETPULSE_TEST_SECONDS", "2.5")

	r := &envReader{}
	d := r.seconds("NETPULSE_TEST_SECONDS", time.Second)
	if d != 2500*time.Millisecond {
		t.Errorf("expected 2.5s, got %v", d)
	}
	if len(r.errs) != 0 {
		t.Errorf("unexpected errors: %v", r.errs)
	}

	d = r.seconds("NETPULSE_TEST_SECONDS_UNSET", 3*time.Second)
	if d != 3*time.Second {
		t.Errorf("expected default 3s, got %v", d)
	}
}

func TestLoad_RejectsNonFiniteAndOverflow(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		field   string
		message string
	}{
		{"infinite threshold", "ANOMALY_THRESHOLD", "Inf", "ANOMALY_THRESHOLD", "finite"},
		{"NaN threshold", "ANOMALY_THRESHOLD", "NaN", "ANOMALY_THRESHOLD", "finite"},
		{"interval overflow", "CHECK_INTERVAL_SECONDS", "1e10", "CHECK_INTERVAL_SECONDS", "out of range"},
		{"infinite interval", "CHECK_INTERVAL_SECONDS", "+Inf", "CHECK_INTERVAL_SECONDS", "finite"},
		{"tiny interval", "CHECK_INTERVAL_SECONDS", "1e-9", "CheckInterval", "at least"},
		{"huge history", "HISTORY_SIZE", "8796093022208", "HistorySize", "at most"},
		{"retention overflow", "EVENT_RETENTION_HOURS", "9000000000000", "EVENT_RETENTION_HOURS", "out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TARGET_HOST", "8.8.8.8")
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if !verr.Has(tt.field) {
				t.Fatalf("expected error on %s, got %v", tt.field, verr)
			}
			if !strings.Contains(verr.Error(), tt.message) {
				t.Errorf("expected %q in %q", tt.message, verr.Error())
			}
		})
	}
}

func TestSeconds(t *testing.T) {
	d, err := Seconds(0.25)
	if err != nil || d != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v (%v)", d, err)
	}

	for _, secs := range []float64{math.Inf(1), math.Inf(-1), math.NaN(), 1e10, -1e10} {
		if _, err := Seconds(secs); err == nil {
			t.Errorf("expected error for %v", secs)
		}
	}
}

func TestNormalizeMetrics(t *testing.T) {
	got := NormalizeMetrics([]string{" Total", "UPLOAD ", "", "download"})
	want := []string{MetricTotal, MetricUpload, MetricDownload}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
		}
	}
}
