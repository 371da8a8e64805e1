package history

import (
	"sync"

	"netpulse/internal/models"
)

// Buffer кольцевой буфер последних замеров фиксированной емкости.
// Один писатель (тик сэмплирования), читатели получают копии.
type Buffer struct {
	mu    sync.RWMutex
	items []models.Sample
	head  int // индекс самого старого элемента
	size  int
}

// New создает буфер емкостью capacity (минимум 1)
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{items: make([]models.Sample, capacity)}
}

// Push добавляет замер, вытесняя самый старый при переполнении
func (b *Buffer) Push(s models.Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size < len(b.items) {
		b.items[(b.head+b.size)%len(b.items)] = s
		b.size++
		return
	}
	b.items[b.head] = s
	b.head = (b.head + 1) % len(b.items)
}

// Snapshot возвращает копию содержимого от старых к новым
func (b *Buffer) Snapshot() []models.Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]models.Sample, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.head+i)%len(b.items)]
	}
	return out
}

// Latest возвращает последний замер
func (b *Buffer) Latest() (models.Sample, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return models.Sample{}, false
	}
	return b.items[(b.head+b.size-1)%len(b.items)], true
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

func (b *Buffer) Cap() int {
	return len(b.items)
}
