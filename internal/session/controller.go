package session

import (
	"context"
	"sync"

	"netpulse/internal/config"
)

// Controller управляет сеансами: запуск с новой конфигурацией возможен
// только после остановки текущего сеанса.
type Controller struct {
	ctx  context.Context
	base config.Config
	deps Deps

	mu      sync.Mutex
	current *Session
}

// NewController создает контроллер; ctx ограничивает время жизни всех сеансов
func NewController(ctx context.Context, base config.Config, deps Deps) *Controller {
	return &Controller{ctx: ctx, base: base, deps: deps}
}

// Base конфигурация, на которую накладываются параметры нового сеанса
func (c *Controller) Base() config.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg := c.base
	cfg.AnomalyMetrics = append([]string(nil), c.base.AnomalyMetrics...)
	return cfg
}

// Start проверяет cfg и запускает новый сеанс
func (c *Controller) Start(cfg config.Config) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil && c.current.Running() {
		return nil, ErrAlreadyStarted
	}

	s, err := New(cfg, c.deps)
	if err != nil {
		return nil, err
	}
	if err := s.Start(c.ctx); err != nil {
		s.Stop()
		return nil, err
	}
	c.current = s
	c.base = cfg
	return s, nil
}

// Stop останавливает текущий сеанс; его история остается доступной
func (c *Controller) Stop() bool {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()

	if s == nil || !s.Running() {
		return false
	}
	s.Stop()
	return true
}

// Current текущий (или последний остановленный) сеанс
func (c *Controller) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}
