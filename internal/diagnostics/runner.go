package diagnostics

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"netpulse/internal/config"
	"netpulse/internal/models"
)

// Runner выполняет активную диагностику. Ошибок не возвращает:
// каждая неудачная проверка отражается в полях результата.
type Runner interface {
	Run(ctx context.Context, target string) models.DiagnosticsResult
}

// Resolver разрешает имена хостов (net.Resolver)
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Options параметры проверок
type Options struct {
	DNSProbeHost  string
	HTTPProbeURL  string
	ThroughputURL string
	UploadURL     string
	UploadBytes   int
	PingCount     int
	LossPingCount int
	Timeout       time.Duration
}

// OptionsFromConfig выбирает параметры проверок из конфигурации
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		DNSProbeHost:  cfg.DNSProbeHost,
		HTTPProbeURL:  cfg.HTTPProbeURL,
		ThroughputURL: cfg.ThroughputURL,
		UploadURL:     cfg.UploadURL,
		UploadBytes:   cfg.UploadBytes,
		PingCount:     cfg.PingCount,
		LossPingCount: cfg.LossPingCount,
		Timeout:       cfg.DiagnosticsTimeout,
	}
}

const defaultUploadBytes = 2000000

// ProbeRunner запускает DNS, ping, HTTP и замер пропускной способности параллельно
type ProbeRunner struct {
	opts      Options
	resolver  Resolver
	pinger    Pinger
	client    *http.Client
	stability *StabilityTracker
}

// NewProbeRunner создает runner; nil-зависимости заменяются системными
func NewProbeRunner(opts Options, resolver Resolver, pinger Pinger, client *http.Client) *ProbeRunner {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if pinger == nil {
		pinger = ExecPinger{}
	}
	if client == nil {
		client = &http.Client{}
	}
	if opts.PingCount <= 0 {
		opts.PingCount = 4
	}
	if opts.LossPingCount <= 0 {
		opts.LossPingCount = 10
	}
	if opts.UploadBytes <= 0 {
		opts.UploadBytes = defaultUploadBytes
	}
	return &ProbeRunner{
		opts:      opts,
		resolver:  resolver,
		pinger:    pinger,
		client:    client,
		stability: NewStabilityTracker(),
	}
}

// Run выполняет все проверки против target
func (r *ProbeRunner) Run(ctx context.Context, target string) models.DiagnosticsResult {
	started := time.Now()
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	result := models.DiagnosticsResult{
		Target:        target,
		StartedAt:     started,
		PacketLossPct: 100,
	}

	var (
		mu   sync.Mutex
		errs []string
	)
	fail := func(format string, args ...interface{}) {
		mu.Lock()
		errs = append(errs, fmt.Sprintf(format, args...))
		mu.Unlock()
	}

	var g errgroup.Group

	g.Go(func() error {
		addrs, ok := r.checkDNS(ctx, target, fail)
		mu.Lock()
		result.DNSOK = ok
		result.ResolvedAddrs = addrs
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		stats, err := r.pinger.Ping(ctx, target, r.opts.PingCount)
		if err != nil && !stats.HasRTT {
			fail("latency: %v", err)
			return nil
		}
		if !stats.HasRTT {
			fail("latency: no replies from %s", target)
			return nil
		}
		latency := stats.AvgRTTMs
		r.stability.Record(latency)
		mu.Lock()
		result.LatencyMs = &latency
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		stats, err := r.pinger.Ping(ctx, target, r.opts.LossPingCount)
		if err != nil && stats.Transmitted == 0 {
			fail("packet loss: %v", err)
			return nil
		}
		mu.Lock()
		result.PacketLossPct = stats.LossPct()
		mu.Unlock()
		return nil
	})

	if r.opts.HTTPProbeURL != "" {
		g.Go(func() error {
			status, err := r.checkHTTP(ctx, r.opts.HTTPProbeURL)
			if err != nil {
				fail("http: %v", err)
				return nil
			}
			mu.Lock()
			result.HTTPStatus = status
			mu.Unlock()
			return nil
		})
	}

	if r.opts.ThroughputURL != "" {
		g.Go(func() error {
			mbps, err := r.measureThroughput(ctx, r.opts.ThroughputURL)
			if err != nil {
				fail("throughput: %v", err)
				return nil
			}
			mu.Lock()
			result.ThroughputMbps = &mbps
			mu.Unlock()
			return nil
		})
	}

	if r.opts.UploadURL != "" {
		g.Go(func() error {
			mbps, err := r.measureUpload(ctx, r.opts.UploadURL, r.opts.UploadBytes)
			if err != nil {
				fail("upload: %v", err)
				return nil
			}
			mu.Lock()
			result.UploadMbps = &mbps
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()

	result.Stability = r.stability.Classify()
	result.Errors = errs
	result.Duration = time.Since(started)
	return result
}

// checkDNS проверяет работу резолвера на известном хосте и разрешает target
func (r *ProbeRunner) checkDNS(ctx context.Context, target string, fail func(string, ...interface{})) ([]string, bool) {
	if r.opts.DNSProbeHost != "" {
		if _, err := r.resolver.LookupHost(ctx, r.opts.DNSProbeHost); err != nil {
			fail("dns: %v", err)
			return nil, false
		}
	}

	if ip := net.ParseIP(target); ip != nil {
		return []string{ip.String()}, true
	}
	addrs, err := r.resolver.LookupHost(ctx, target)
	if err != nil {
		fail("dns: %v", err)
		return nil, false
	}
	return addrs, true
}

func (r *ProbeRunner) checkHTTP(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

// measureThroughput скачивает url и возвращает скорость в Mbps
func (r *ProbeRunner) measureThroughput(ctx context.Context, url string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return 0, err
	}
	elapsed := time.Since(start).Seconds()
	if n == 0 || elapsed <= 0 {
		return 0, fmt.Errorf("no data received")
	}
	return float64(n) * 8 / elapsed / 1e6, nil
}

// measureUpload отправляет size байт POST-запросом и возвращает скорость в Mbps
func (r *ProbeRunner) measureUpload(ctx context.Context, url string, size int) (float64, error) {
	payload := bytes.Repeat([]byte{'0'}, size)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	elapsed := time.Since(start).Seconds()
	if elapsed <= 0 {
		return 0, fmt.Errorf("upload finished instantly")
	}
	return float64(size) * 8 / elapsed / 1e6, nil
}
