package analytics

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"

	"netpulse/internal/config"
	"netpulse/internal/models"
)

// Metric извлекает анализируемое значение из замера
type Metric struct {
	Name  string
	Value func(models.Sample) float64
}

var (
	TotalRate    = Metric{Name: config.MetricTotal, Value: models.Sample.TotalRate}
	UploadRate   = Metric{Name: config.MetricUpload, Value: func(s models.Sample) float64 { return s.UploadRate }}
	DownloadRate = Metric{Name: config.MetricDownload, Value: func(s models.Sample) float64 { return s.DownloadRate }}
)

// MetricByName возвращает метрику по имени из конфигурации
func MetricByName(name string) (Metric, error) {
	switch name {
	case config.MetricTotal:
		return TotalRate, nil
	case config.MetricUpload:
		return UploadRate, nil
	case config.MetricDownload:
		return DownloadRate, nil
	}
	return Metric{}, fmt.Errorf("unknown metric %q", name)
}

// Detector z-score детектор: сравнивает новейший замер со средним
// и стандартным отклонением остальных замеров окна. Состояния не хранит.
type Detector struct {
	threshold float64
	metric    Metric
}

// NewDetector создает детектор с порогом threshold (в сигмах)
func NewDetector(threshold float64, metric Metric) *Detector {
	return &Detector{threshold: threshold, metric: metric}
}

// NewDetectors создает по детектору на каждую метрику из конфигурации
func NewDetectors(cfg config.Config) ([]*Detector, error) {
	detectors := make([]*Detector, 0, len(cfg.AnomalyMetrics))
	for _, name := range cfg.AnomalyMetrics {
		metric, err := MetricByName(name)
		if err != nil {
			return nil, err
		}
		detectors = append(detectors, NewDetector(cfg.AnomalyThreshold, metric))
	}
	return detectors, nil
}

func (d *Detector) Metric() string {
	return d.metric.Name
}

// Evaluate возвращает событие, если последний замер отклоняется от среднего
// больше чем на threshold·σ. Нужно минимум 2 замера; при σ == 0 аномалий нет.
func (d *Detector) Evaluate(samples []models.Sample) *models.AnomalyEvent {
	if len(samples) < 2 {
		return nil
	}

	newest := samples[len(samples)-1]
	baseline := make([]float64, 0, len(samples)-1)
	for _, s := range samples[:len(samples)-1] {
		baseline = append(baseline, d.metric.Value(s))
	}

	mean, err := stats.Mean(baseline)
	if err != nil {
		return nil
	}
	stdDev, err := stats.StandardDeviationPopulation(baseline)
	if err != nil || stdDev == 0 || math.IsNaN(stdDev) {
		return nil
	}

	value := d.metric.Value(newest)
	deviation := value - mean
	if math.Abs(deviation) <= d.threshold*stdDev {
		return nil
	}

	kind := models.AnomalySpike
	if deviation < 0 {
		kind = models.AnomalyDrop
	}

	return &models.AnomalyEvent{
		Timestamp: newest.Timestamp,
		Metric:    d.metric.Name,
		Observed:  value,
		Mean:      mean,
		StdDev:    stdDev,
		Threshold: d.threshold,
		ZScore:    deviation / stdDev,
		Kind:      kind,
	}
}

// EvaluateAll прогоняет все детекторы по одному окну
func EvaluateAll(detectors []*Detector, samples []models.Sample) []models.AnomalyEvent {
	var events []models.AnomalyEvent
	for _, d := range detectors {
		if ev := d.Evaluate(samples); ev != nil {
			events = append(events, *ev)
		}
	}
	return events
}
