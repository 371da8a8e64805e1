package diagnostics

import (
	"math"
	"sync"

	"netpulse/internal/models"
)

const (
	stabilityHistory   = 10
	stabilityMinPoints = 5
	stableVariationMs  = 5.0
	moderateVariation  = 20.0
)

// StabilityTracker хранит последние измерения задержки и оценивает
// стабильность по средней разнице соседних значений.
type StabilityTracker struct {
	mu        sync.Mutex
	latencies []float64
}

func NewStabilityTracker() *StabilityTracker {
	return &StabilityTracker{latencies: make([]float64, 0, stabilityHistory)}
}

// Record добавляет измерение задержки (ms)
func (t *StabilityTracker) Record(latencyMs float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.latencies = append(t.latencies, latencyMs)
	if len(t.latencies) > stabilityHistory {
		t.latencies = t.latencies[len(t.latencies)-stabilityHistory:]
	}
}

// Classify оценивает стабильность соединения
func (t *StabilityTracker) Classify() models.Stability {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.latencies) < stabilityMinPoints {
		return models.StabilityInsufficient
	}

	var sum float64
	for i := 1; i < len(t.latencies); i++ {
		sum += math.Abs(t.latencies[i] - t.latencies[i-1])
	}
	avgVariation := sum / float64(len(t.latencies)-1)

	switch {
	case avgVariation < stableVariationMs:
		return models.StabilityStable
	case avgVariation < moderateVariation:
		return models.StabilityModerate
	default:
		return models.StabilityUnstable
	}
}
