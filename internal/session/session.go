package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"netpulse/internal/analytics"
	"netpulse/internal/config"
	"netpulse/internal/diagnostics"
	"netpulse/internal/history"
	"netpulse/internal/metrics"
	"netpulse/internal/models"
	"netpulse/internal/sampler"
)

const recentAnomalies = 100

var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrStopped        = errors.New("session stopped")
)

// Publisher получатель событий сеанса (журнал, метрики, хранилище, лента).
// Методы вызываются из тика и не должны блокироваться.
type Publisher interface {
	PublishSample(models.Sample)
	PublishAnomaly(models.AnomalyEvent)
	PublishDiagnostics(models.DiagnosticsResult)
}

// Deps внешние зависимости сеанса; nil заменяются системными реализациями
type Deps struct {
	Source     sampler.CounterSource
	Runner     diagnostics.Runner
	Publishers []Publisher
}

// Session один сеанс мониторинга с неизменяемой конфигурацией
type Session struct {
	cfg        config.Config
	sampler    *sampler.Sampler
	buffer     *history.Buffer
	detectors  []*analytics.Detector
	dispatcher *diagnostics.Dispatcher
	publishers []Publisher

	sampling *RepeatingTask
	probing  *RepeatingTask
	results  sync.WaitGroup

	mu             sync.RWMutex
	state          string
	startedAt      time.Time
	anomalies      []models.AnomalyEvent
	anomalyCount   int
	lastDiag       *models.DiagnosticsResult
	diagnosticRuns int
}

const (
	stateIdle    = "idle"
	stateRunning = "running"
	stateStopped = "stopped"
)

// New проверяет конфигурацию и собирает сеанс. Невалидная конфигурация
// возвращает *config.ValidationError, сеанс не создается.
func New(cfg config.Config, deps Deps) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	detectors, err := analytics.NewDetectors(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build detectors: %w", err)
	}

	runner := deps.Runner
	if runner == nil {
		runner = diagnostics.NewProbeRunner(diagnostics.OptionsFromConfig(cfg), nil, nil, nil)
	}

	cfg.AnomalyMetrics = append([]string(nil), cfg.AnomalyMetrics...)

	s := &Session{
		cfg:        cfg,
		sampler:    sampler.New(deps.Source),
		buffer:     history.New(cfg.HistorySize),
		detectors:  detectors,
		dispatcher: diagnostics.NewDispatcher(runner, cfg.TargetHost, cfg.DiagnosticsCooldown),
		publishers: append([]Publisher(nil), deps.Publishers...),
		state:      stateIdle,
	}
	s.sampling = NewRepeatingTask(cfg.CheckInterval, true, s.tick)
	if cfg.DiagnosticsInterval > 0 {
		s.probing = NewRepeatingTask(cfg.DiagnosticsInterval, false, s.scheduledDiagnostics)
	}
	return s, nil
}

// Start запускает тики сэмплирования (и диагностику по расписанию)
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case stateRunning:
		s.mu.Unlock()
		return ErrAlreadyStarted
	case stateStopped:
		s.mu.Unlock()
		return ErrStopped
	}
	s.state = stateRunning
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.sampler.Reset()

	s.results.Add(1)
	go s.consumeDiagnostics()

	if err := s.sampling.Start(ctx); err != nil {
		return err
	}
	if s.probing != nil {
		if err := s.probing.Start(ctx); err != nil {
			return err
		}
	}
	log.Printf("session: monitoring %s every %s (threshold %.2fσ, history %d)",
		s.cfg.TargetHost, s.cfg.CheckInterval, s.cfg.AnomalyThreshold, s.cfg.HistorySize)
	return nil
}

// Stop отменяет таймеры, бросает незавершенную диагностику и дожидается
// текущего тика. Буфер истории остается согласованным и доступным для чтения.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state != stateRunning {
		s.state = stateStopped
		s.mu.Unlock()
		s.dispatcher.Close()
		return
	}
	s.state = stateStopped
	s.mu.Unlock()

	s.sampling.Stop()
	if s.probing != nil {
		s.probing.Stop()
	}
	s.dispatcher.Close()
	s.results.Wait()
	log.Printf("session: monitoring of %s stopped", s.cfg.TargetHost)
}

func (s *Session) tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.TickLatency.Observe(time.Since(start).Seconds())
	}()

	sample := s.sampler.Sample(ctx)
	// Замер, прерванный остановкой, в историю не попадает
	if ctx.Err() != nil {
		return
	}

	s.buffer.Push(sample)
	metrics.HistoryLength.Set(float64(s.buffer.Len()))
	for _, p := range s.publishers {
		p.PublishSample(sample)
	}

	events := analytics.EvaluateAll(s.detectors, s.buffer.Snapshot())
	for _, ev := range events {
		s.recordAnomaly(ev)
		for _, p := range s.publishers {
			p.PublishAnomaly(ev)
		}
	}

	if len(events) > 0 && s.cfg.AutoDiagnostics {
		reason := fmt.Sprintf("anomaly in %s rate", events[0].Metric)
		if err := s.dispatcher.TriggerAuto(reason); err != nil && !errors.Is(err, diagnostics.ErrClosed) {
			log.Printf("session: diagnostics not started: %v", err)
		}
	}
}

func (s *Session) scheduledDiagnostics(ctx context.Context) {
	if err := s.dispatcher.Trigger("scheduled"); err != nil && !errors.Is(err, diagnostics.ErrClosed) {
		log.Printf("session: scheduled diagnostics skipped: %v", err)
	}
}

func (s *Session) consumeDiagnostics() {
	defer s.results.Done()
	for res := range s.dispatcher.Results() {
		s.mu.Lock()
		s.lastDiag = &res
		s.diagnosticRuns++
		s.mu.Unlock()

		for _, p := range s.publishers {
			p.PublishDiagnostics(res)
		}
	}
}

func (s *Session) recordAnomaly(ev models.AnomalyEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anomalyCount++
	s.anomalies = append(s.anomalies, ev)
	if len(s.anomalies) > recentAnomalies {
		s.anomalies = s.anomalies[len(s.anomalies)-recentAnomalies:]
	}
}

// RunDiagnostics запускает диагностику вручную, не дожидаясь результата
func (s *Session) RunDiagnostics() error {
	return s.dispatcher.Trigger("manual")
}

// History копия буфера истории, от старых к новым
func (s *Session) History() []models.Sample {
	return s.buffer.Snapshot()
}

// Anomalies последние аномалии, от старых к новым
func (s *Session) Anomalies() []models.AnomalyEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.AnomalyEvent(nil), s.anomalies...)
}

// LastDiagnostics последний доставленный результат диагностики
func (s *Session) LastDiagnostics() (models.DiagnosticsResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastDiag == nil {
		return models.DiagnosticsResult{}, false
	}
	return *s.lastDiag, true
}

func (s *Session) Config() config.Config {
	return s.cfg
}

func (s *Session) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == stateRunning
}

// Stats возвращает статистику сеанса
func (s *Session) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"state":            s.state,
		"target":           s.cfg.TargetHost,
		"threshold":        s.cfg.AnomalyThreshold,
		"interval_seconds": s.cfg.CheckInterval.Seconds(),
		"history_size":     s.buffer.Len(),
		"history_capacity": s.buffer.Cap(),
		"anomalies_total":  s.anomalyCount,
		"diagnostics_runs": s.diagnosticRuns,
		"diagnostics_busy": s.dispatcher.Busy(),
		"anomaly_metrics":  s.cfg.AnomalyMetrics,
		"auto_diagnostics": s.cfg.AutoDiagnostics,
	}
	if !s.startedAt.IsZero() {
		stats["started_at"] = s.startedAt
	}
	return stats
}
