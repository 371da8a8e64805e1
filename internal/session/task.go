package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrTaskRunning = errors.New("task already running")

// RepeatingTask отменяемая периодическая задача. Тики выполняются
// последовательно: следующий не начнется, пока не завершится предыдущий.
type RepeatingTask struct {
	interval  time.Duration
	fn        func(ctx context.Context)
	immediate bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRepeatingTask создает задачу; immediate запускает первый тик сразу при старте
func NewRepeatingTask(interval time.Duration, immediate bool, fn func(ctx context.Context)) *RepeatingTask {
	return &RepeatingTask{interval: interval, fn: fn, immediate: immediate}
}

// Start запускает задачу до вызова Stop или отмены ctx
func (t *RepeatingTask) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		return ErrTaskRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		if t.immediate {
			t.fn(ctx)
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// Остановка могла прийти одновременно с тиком
				if ctx.Err() != nil {
					return
				}
				t.fn(ctx)
			}
		}
	}()
	return nil
}

// Stop отменяет задачу и дожидается завершения текущего тика. Идемпотентен.
func (t *RepeatingTask) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running сообщает, запущена ли задача
func (t *RepeatingTask) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}
