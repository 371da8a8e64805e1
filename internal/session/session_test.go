package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"netpulse/internal/config"
	"netpulse/internal/models"
	"netpulse/internal/sampler"
)

type counterSource struct {
	mu    sync.Mutex
	sent  uint64
	recv  uint64
	step  uint64
	fail  bool
	delay time.Duration
}

func (c *counterSource) Read(ctx context.Context) (sampler.Counters, error) {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return sampler.Counters{}, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return sampler.Counters{}, errors.New("counters unavailable")
	}
	c.sent += c.step
	c.recv += c.step
	return sampler.Counters{BytesSent: c.sent, BytesRecv: c.recv}, nil
}

func (c *counterSource) setStep(step uint64) {
	c.mu.Lock()
	c.step = step
	c.mu.Unlock()
}

type fakeRunner struct {
	mu    sync.Mutex
	calls int
}

func (r *fakeRunner) Run(ctx context.Context, target string) models.DiagnosticsResult {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	latency := 10.0
	return models.DiagnosticsResult{Target: target, DNSOK: true, LatencyMs: &latency}
}

func (r *fakeRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type recorder struct {
	mu          sync.Mutex
	samples     int
	anomalies   []models.AnomalyEvent
	diagnostics []models.DiagnosticsResult
}

func (r *recorder) PublishSample(models.Sample) {
	r.mu.Lock()
	r.samples++
	r.mu.Unlock()
}

func (r *recorder) PublishAnomaly(ev models.AnomalyEvent) {
	r.mu.Lock()
	r.anomalies = append(r.anomalies, ev)
	r.mu.Unlock()
}

func (r *recorder) PublishDiagnostics(res models.DiagnosticsResult) {
	r.mu.Lock()
	r.diagnostics = append(r.diagnostics, res)
	r.mu.Unlock()
}

func (r *recorder) counts() (int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples, len(r.anomalies), len(r.diagnostics)
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.TargetHost = "192.0.2.1"
	cfg.CheckInterval = 100 * time.Millisecond
	cfg.HistorySize = 5
	cfg.DiagnosticsCooldown = 0
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.CheckInterval = 0

	s, err := New(cfg, Deps{Source: &counterSource{}, Runner: &fakeRunner{}})
	var verr *config.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if s != nil {
		t.Error("session must not be created from invalid config")
	}
}

func TestSession_HistoryBoundedAndReadableAfterStop(t *testing.T) {
	src := &counterSource{step: 1000}
	s, err := New(testConfig(), Deps{Source: src, Runner: &fakeRunner{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	waitFor(t, "history to fill", func() bool {
		if n := len(s.History()); n > 5 {
			t.Fatalf("history exceeded capacity: %d", n)
		}
		return len(s.History()) == 5
	})
	s.Stop()

	snap := s.History()
	if len(snap) != 5 {
		t.Fatalf("expected 5 samples after stop, got %d", len(snap))
	}
	for i := 1; i < len(snap); i++ {
		if snap[i].Timestamp.Before(snap[i-1].Timestamp) {
			t.Errorf("history out of order at %d", i)
		}
	}

	last := snap[len(snap)-1].Timestamp
	time.Sleep(250 * time.Millisecond)
	after := s.History()
	if !after[len(after)-1].Timestamp.Equal(last) {
		t.Error("ticks continued after Stop")
	}
}

func TestSession_FirstSampleIsZero(t *testing.T) {
	cfg := testConfig()
	cfg.CheckInterval = time.Hour
	s, err := New(cfg, Deps{Source: &counterSource{step: 5000}, Runner: &fakeRunner{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop()

	waitFor(t, "first sample", func() bool { return len(s.History()) == 1 })
	first := s.History()[0]
	if first.UploadRate != 0 || first.DownloadRate != 0 {
		t.Errorf("expected zero-rate first sample, got %+v", first)
	}
}

func TestSession_CounterFailuresDoNotStopLoop(t *testing.T) {
	rec := &recorder{}
	src := &counterSource{fail: true}
	s, err := New(testConfig(), Deps{Source: src, Runner: &fakeRunner{}, Publishers: []Publisher{rec}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop()

	waitFor(t, "several failing ticks", func() bool {
		n, _, _ := rec.counts()
		return n >= 3
	})
	for _, sample := range s.History() {
		if sample.TotalRate() != 0 {
			t.Errorf("expected zero-rate samples, got %+v", sample)
		}
	}
	if !s.Running() {
		t.Error("session should still be running")
	}
}

func TestSession_AnomalyTriggersDiagnostics(t *testing.T) {
	cfg := testConfig()
	cfg.CheckInterval = time.Hour
	cfg.HistorySize = 10

	rec := &recorder{}
	runner := &fakeRunner{}
	src := &counterSource{}
	s, err := New(cfg, Deps{Source: src, Runner: runner, Publishers: []Publisher{rec}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop()

	waitFor(t, "baseline sample", func() bool { return len(s.History()) == 1 })

	base := time.Now()
	for i, v := range []float64{10, 12, 8, 11, 9} {
		s.buffer.Push(models.Sample{Timestamp: base.Add(time.Duration(i) * time.Millisecond), UploadRate: v})
	}

	src.setStep(1 << 30)
	s.tick(context.Background())

	anomalies := s.Anomalies()
	if len(anomalies) != 1 {
		t.Fatalf("expected 1 anomaly, got %d", len(anomalies))
	}
	if anomalies[0].Metric != config.MetricTotal {
		t.Errorf("expected total metric, got %s", anomalies[0].Metric)
	}

	waitFor(t, "diagnostics result", func() bool {
		_, ok := s.LastDiagnostics()
		return ok
	})
	res, _ := s.LastDiagnostics()
	if res.Reason != "anomaly in total rate" {
		t.Errorf("unexpected reason %q", res.Reason)
	}

	_, nAnom, _ := rec.counts()
	if nAnom != 1 {
		t.Errorf("expected publisher to see 1 anomaly, got %d", nAnom)
	}
	waitFor(t, "published diagnostics", func() bool {
		_, _, nDiag := rec.counts()
		return nDiag == 1
	})
}

func TestSession_NoAutoDiagnosticsWhenDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.CheckInterval = time.Hour
	cfg.AutoDiagnostics = false

	runner := &fakeRunner{}
	src := &counterSource{}
	s, err := New(cfg, Deps{Source: src, Runner: runner})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	waitFor(t, "baseline sample", func() bool { return len(s.History()) == 1 })
	for _, v := range []float64{10, 12, 8} {
		s.buffer.Push(models.Sample{Timestamp: time.Now(), UploadRate: v})
	}
	src.setStep(1 << 30)
	s.tick(context.Background())
	s.Stop()

	if len(s.Anomalies()) == 0 {
		t.Fatal("expected an anomaly")
	}
	if runner.Calls() != 0 {
		t.Errorf("expected no diagnostics runs, got %d", runner.Calls())
	}
}

func TestSession_StopMidTickLeavesConsistentHistory(t *testing.T) {
	cfg := testConfig()
	src := &counterSource{step: 100, delay: 150 * time.Millisecond}
	s, err := New(cfg, Deps{Source: src, Runner: &fakeRunner{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	waitFor(t, "two samples", func() bool { return len(s.History()) >= 2 })
	// Следующий тик сейчас ждет счетчики
	time.Sleep(20 * time.Millisecond)
	before := len(s.History())
	s.Stop()

	snap := s.History()
	if len(snap) < before || len(snap) > before+1 {
		t.Fatalf("unexpected history length %d (was %d)", len(snap), before)
	}
	for i, sample := range snap {
		if sample.Timestamp.IsZero() {
			t.Errorf("sample %d is incomplete", i)
		}
	}
}

func TestSession_ManualAndScheduledDiagnostics(t *testing.T) {
	cfg := testConfig()
	cfg.CheckInterval = time.Hour
	cfg.DiagnosticsInterval = 10 * time.Millisecond

	runner := &fakeRunner{}
	s, err := New(cfg, Deps{Source: &counterSource{}, Runner: runner})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop()

	waitFor(t, "scheduled runs", func() bool { return runner.Calls() >= 2 })

	waitFor(t, "manual trigger accepted", func() bool { return s.RunDiagnostics() == nil })
	stats := s.Stats()
	if stats["state"] != stateRunning {
		t.Errorf("expected running state, got %v", stats["state"])
	}
}

func TestSession_Lifecycle(t *testing.T) {
	s, err := New(testConfig(), Deps{Source: &counterSource{}, Runner: &fakeRunner{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}

	s.Stop()
	s.Stop()

	if err := s.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
	if err := s.RunDiagnostics(); err == nil {
		t.Error("expected diagnostics to be rejected after stop")
	}
}
