package diagnostics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"netpulse/internal/models"
)

var (
	ErrBusy      = errors.New("diagnostics already running")
	ErrThrottled = errors.New("diagnostics throttled")
	ErrClosed    = errors.New("dispatcher closed")
)

// Dispatcher запускает диагностику в отдельной goroutine и отдает результаты
// через канал. Одновременно выполняется не больше одного прогона;
// пересекающиеся запросы отклоняются, а не ставятся в очередь.
type Dispatcher struct {
	runner  Runner
	target  string
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	busy    bool
	closed  bool
	results chan models.DiagnosticsResult
}

// NewDispatcher создает диспетчер. cooldown ограничивает частоту
// автоматических запусков (по аномалиям); 0 снимает ограничение.
func NewDispatcher(runner Runner, target string, cooldown time.Duration) *Dispatcher {
	limit := rate.Inf
	if cooldown > 0 {
		limit = rate.Every(cooldown)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		runner:  runner,
		target:  target,
		limiter: rate.NewLimiter(limit, 1),
		ctx:     ctx,
		cancel:  cancel,
		results: make(chan models.DiagnosticsResult, 8),
	}
}

// Results канал результатов; закрывается после Close
func (d *Dispatcher) Results() <-chan models.DiagnosticsResult {
	return d.results
}

// Trigger запускает диагностику вручную (или по расписанию)
func (d *Dispatcher) Trigger(reason string) error {
	return d.dispatch(reason, false)
}

// TriggerAuto запускает диагностику по аномалии с учетом ограничения частоты
func (d *Dispatcher) TriggerAuto(reason string) error {
	return d.dispatch(reason, true)
}

// Busy сообщает, выполняется ли сейчас прогон
func (d *Dispatcher) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.busy
}

func (d *Dispatcher) dispatch(reason string, throttled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if d.busy {
		return ErrBusy
	}
	if throttled && !d.limiter.Allow() {
		return ErrThrottled
	}

	d.busy = true
	d.wg.Add(1)
	go d.run(reason)
	return nil
}

func (d *Dispatcher) run(reason string) {
	defer d.wg.Done()

	result := d.runner.Run(d.ctx, d.target)
	result.ID = uuid.NewString()
	result.Reason = reason

	d.mu.Lock()
	d.busy = false
	d.mu.Unlock()

	// Отмененный прогон не доставляется
	if d.ctx.Err() != nil {
		return
	}
	select {
	case d.results <- result:
	case <-d.ctx.Done():
	}
}

// Close отменяет текущий прогон, дожидается его и закрывает канал результатов
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
	close(d.results)
}
