package eventlog

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"netpulse/internal/models"
)

func newTestLogger(t *testing.T, opts Options) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	opts.Output = &buf
	l, err := New(opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }
	return l, &buf
}

func TestLogger_WriteFormat(t *testing.T) {
	l, buf := newTestLogger(t, Options{})
	l.Write("hello")

	if got := buf.String(); got != "2026-03-04 05:06:07: hello\n" {
		t.Errorf("unexpected line: %q", got)
	}
}

func TestLogger_SamplesOptional(t *testing.T) {
	l, buf := newTestLogger(t, Options{})
	l.PublishSample(models.Sample{UploadRate: 10, DownloadRate: 20})
	if buf.Len() != 0 {
		t.Errorf("samples should not be logged by default, got %q", buf.String())
	}

	l, buf = newTestLogger(t, Options{LogSamples: true})
	l.PublishSample(models.Sample{UploadRate: 10, DownloadRate: 20})
	if !strings.Contains(buf.String(), "Network activity: 30 bytes/sec") {
		t.Errorf("unexpected sample line: %q", buf.String())
	}
}

func TestLogger_Anomaly(t *testing.T) {
	l, buf := newTestLogger(t, Options{})
	l.PublishAnomaly(models.AnomalyEvent{Metric: "total", Kind: models.AnomalySpike, Observed: 1000, Mean: 10, StdDev: 1, ZScore: 990, Threshold: 2})

	if !strings.Contains(buf.String(), "Anomaly detected in total rate: spike 1000") {
		t.Errorf("unexpected anomaly line: %q", buf.String())
	}
}

func TestLogger_FailedDiagnostics(t *testing.T) {
	l, buf := newTestLogger(t, Options{})
	l.PublishDiagnostics(models.DiagnosticsResult{
		Target:        "10.0.0.1",
		Reason:        "manual",
		PacketLossPct: 100,
		Stability:     models.StabilityInsufficient,
		Errors:        []string{"latency: timeout"},
	})

	out := buf.String()
	for _, want := range []string{
		"Diagnostics for 10.0.0.1 (manual): FAILED",
		"DNS resolution: FAILED",
		"Ping to 10.0.0.1 failed",
		"Packet loss to 10.0.0.1: 100.00%",
		"Connection stability: insufficient_data",
		"Diagnostics error: latency: timeout",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %q", want, out)
		}
	}
}

func TestLogger_SuccessfulDiagnostics(t *testing.T) {
	l, buf := newTestLogger(t, Options{})
	latency, down, up := 11.5, 94.25, 12.5
	l.PublishDiagnostics(models.DiagnosticsResult{
		Target:         "example.com",
		Reason:         "scheduled",
		DNSOK:          true,
		LatencyMs:      &latency,
		HTTPStatus:     200,
		ThroughputMbps: &down,
		UploadMbps:     &up,
		Stability:      models.StabilityStable,
	})

	out := buf.String()
	for _, want := range []string{
		"Diagnostics for example.com (scheduled): OK",
		"DNS resolution: OK",
		"Latency to example.com: 11.50 ms",
		"HTTP response: 200",
		"Download speed: 94.25 Mbps",
		"Upload speed: 12.50 Mbps",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %q", want, out)
		}
	}
}

func TestLogger_AppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "netpulse.log")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("existing\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	l, _ := newTestLogger(t, Options{FilePath: path})
	l.Write("appended")
	if err := l.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "existing\n2026-03-04 05:06:07: appended\n" {
		t.Errorf("unexpected file content: %q", data)
	}
}
