package sampler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/net"

	"netpulse/internal/models"
)

// Counters накопленные счетчики байтов по всем интерфейсам
type Counters struct {
	BytesSent uint64
	BytesRecv uint64
}

// CounterSource источник счетчиков сетевых интерфейсов
type CounterSource interface {
	Read(ctx context.Context) (Counters, error)
}

// PsutilSource читает счетчики ОС через gopsutil
type PsutilSource struct{}

var errNoCounters = errors.New("no network counters reported")

// Read возвращает суммарные счетчики по всем интерфейсам
func (PsutilSource) Read(ctx context.Context) (Counters, error) {
	stats, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return Counters{}, err
	}
	if len(stats) == 0 {
		return Counters{}, errNoCounters
	}
	return Counters{BytesSent: stats[0].BytesSent, BytesRecv: stats[0].BytesRecv}, nil
}

// Sampler вычисляет скорость по разнице счетчиков между вызовами
type Sampler struct {
	source CounterSource
	now    func() time.Time

	mu       sync.Mutex
	prev     Counters
	prevAt   time.Time
	baseline bool
}

// New создает сэмплер поверх источника счетчиков
func New(source CounterSource) *Sampler {
	if source == nil {
		source = PsutilSource{}
	}
	return &Sampler{source: source, now: time.Now}
}

// Reset сбрасывает базовую точку; следующий Sample вернет нулевую скорость
func (s *Sampler) Reset() {
	s.mu.Lock()
	s.baseline = false
	s.prev = Counters{}
	s.prevAt = time.Time{}
	s.mu.Unlock()
}

// Sample снимает показания. Ошибка чтения счетчиков не передается наружу:
// возвращается замер с нулевой скоростью, базовая точка сохраняется.
func (s *Sampler) Sample(ctx context.Context) models.Sample {
	now := s.now()
	sample := models.Sample{Timestamp: now}

	current, err := s.source.Read(ctx)
	if err != nil {
		log.Printf("sampler: failed to read counters: %v", err)
		return sample
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.baseline {
		s.prev, s.prevAt, s.baseline = current, now, true
		return sample
	}

	// Счетчики уменьшились (сброс интерфейса или переполнение)
	if current.BytesSent < s.prev.BytesSent || current.BytesRecv < s.prev.BytesRecv {
		s.prev, s.prevAt = current, now
		return sample
	}

	sample.BytesSentDelta = current.BytesSent - s.prev.BytesSent
	sample.BytesRecvDelta = current.BytesRecv - s.prev.BytesRecv

	if elapsed := now.Sub(s.prevAt).Seconds(); elapsed > 0 {
		sample.UploadRate = float64(sample.BytesSentDelta) / elapsed
		sample.DownloadRate = float64(sample.BytesRecvDelta) / elapsed
	}

	s.prev, s.prevAt = current, now
	return sample
}
