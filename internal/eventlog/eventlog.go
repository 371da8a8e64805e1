package eventlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"netpulse/internal/models"
)

const timeLayout = "2006-01-02 15:04:05"

// Logger пишет строки вида "2006-01-02 15:04:05: message" в поток
// и, если задан файл, дописывает их в файл (без ротации).
type Logger struct {
	mu      sync.Mutex
	out     []io.Writer
	file    *os.File
	samples bool
	now     func() time.Time
}

// Options настройки журнала
type Options struct {
	Output     io.Writer // nil - os.Stdout
	FilePath   string
	LogSamples bool
}

// New открывает журнал
func New(opts Options) (*Logger, error) {
	l := &Logger{samples: opts.LogSamples, now: time.Now}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	l.out = append(l.out, out)

	if opts.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = f
		l.out = append(l.out, f)
	}
	return l, nil
}

// Write дописывает строку с меткой времени
func (l *Logger) Write(message string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	line := fmt.Sprintf("%s: %s\n", l.now().Format(timeLayout), message)
	for _, w := range l.out {
		_, _ = io.WriteString(w, line)
	}
}

func (l *Logger) Printf(format string, args ...interface{}) {
	l.Write(fmt.Sprintf(format, args...))
}

// Close закрывает файл журнала
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.out = l.out[:1]
	return err
}

func (l *Logger) PublishSample(s models.Sample) {
	if !l.samples {
		return
	}
	l.Printf("Network activity: %.0f bytes/sec (upload %.0f, download %.0f)",
		s.TotalRate(), s.UploadRate, s.DownloadRate)
}

func (l *Logger) PublishAnomaly(ev models.AnomalyEvent) {
	l.Printf("Anomaly detected in %s rate: %s %.0f bytes/sec (mean %.0f, stddev %.1f, z=%.2f, threshold %.1f)",
		ev.Metric, strings.ToLower(ev.Kind), ev.Observed, ev.Mean, ev.StdDev, ev.ZScore, ev.Threshold)
}

func (l *Logger) PublishDiagnostics(r models.DiagnosticsResult) {
	status := "OK"
	if !r.OK() {
		status = "FAILED"
	}
	l.Printf("Diagnostics for %s (%s): %s in %s", r.Target, r.Reason, status, r.Duration.Round(time.Millisecond))

	if r.DNSOK {
		l.Write("DNS resolution: OK")
	} else {
		l.Write("DNS resolution: FAILED")
	}
	if r.LatencyMs != nil {
		l.Printf("Latency to %s: %.2f ms", r.Target, *r.LatencyMs)
	} else {
		l.Printf("Ping to %s failed", r.Target)
	}
	l.Printf("Packet loss to %s: %.2f%%", r.Target, r.PacketLossPct)
	if r.HTTPStatus != 0 {
		l.Printf("HTTP response: %d", r.HTTPStatus)
	}
	if r.ThroughputMbps != nil {
		l.Printf("Download speed: %.2f Mbps", *r.ThroughputMbps)
	}
	if r.UploadMbps != nil {
		l.Printf("Upload speed: %.2f Mbps", *r.UploadMbps)
	}
	l.Printf("Connection stability: %s", r.Stability)
	for _, e := range r.Errors {
		l.Printf("Diagnostics error: %s", e)
	}
}
