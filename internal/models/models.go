package models

import "time"

// Sample один замер скорости сетевых интерфейсов
type Sample struct {
	Timestamp      time.Time `json:"timestamp"`
	BytesSentDelta uint64    `json:"bytes_sent_delta"`
	BytesRecvDelta uint64    `json:"bytes_recv_delta"`
	UploadRate     float64   `json:"upload_rate"`
	DownloadRate   float64   `json:"download_rate"`
}

// TotalRate суммарная скорость (bytes/sec)
func (s Sample) TotalRate() float64 {
	return s.UploadRate + s.DownloadRate
}

const (
	AnomalySpike = "SPIKE"
	AnomalyDrop  = "DROP"
)

// AnomalyEvent зафиксированная аномалия
type AnomalyEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Metric    string    `json:"metric"`
	Observed  float64   `json:"observed"`
	Mean      float64   `json:"mean"`
	StdDev    float64   `json:"stddev"`
	Threshold float64   `json:"threshold"`
	ZScore    float64   `json:"zscore"`
	Kind      string    `json:"kind"`
}

// Stability оценка стабильности соединения по истории задержек
type Stability string

const (
	StabilityInsufficient Stability = "insufficient_data"
	StabilityStable       Stability = "stable"
	StabilityModerate     Stability = "moderate"
	StabilityUnstable     Stability = "unstable"
)

// DiagnosticsResult результат активной диагностики.
// nil / false означают, что соответствующая проверка не прошла.
type DiagnosticsResult struct {
	ID             string        `json:"id"`
	Target         string        `json:"target"`
	Reason         string        `json:"reason"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	DNSOK          bool          `json:"dns_ok"`
	ResolvedAddrs  []string      `json:"resolved_addrs,omitempty"`
	LatencyMs      *float64      `json:"latency_ms"`
	PacketLossPct  float64       `json:"packet_loss_pct"`
	HTTPStatus     int           `json:"http_status,omitempty"`
	ThroughputMbps *float64      `json:"throughput_mbps"`
	UploadMbps     *float64      `json:"upload_mbps"`
	Stability      Stability     `json:"stability"`
	Errors         []string      `json:"errors,omitempty"`
}

// OK true если DNS отработал и задержка измерена
func (r DiagnosticsResult) OK() bool {
	return r.DNSOK && r.LatencyMs != nil
}
