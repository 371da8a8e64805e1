package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"netpulse/internal/metrics"
	"netpulse/internal/models"
)

const (
	anomalyListKey     = "netpulse:anomaly_list"
	diagnosticsListKey = "netpulse:diagnostics_list"
	storeTimeout       = 5 * time.Second
)

// RedisStore хранит аномалии и результаты диагностики с TTL.
// Замеры сюда не пишутся: хранилищем временных рядов он не является.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

// NewRedisStore подключается к Redis и проверяет соединение
func NewRedisStore(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		MinIdleConns: 1,
		MaxRetries:   3,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

// StoreAnomaly сохраняет аномалию и индексирует ее в sorted set по времени
func (r *RedisStore) StoreAnomaly(ctx context.Context, ev models.AnomalyEvent) error {
	key := fmt.Sprintf("netpulse:anomaly:%s:%d", ev.Metric, ev.Timestamp.UnixNano())
	return r.storeIndexed(ctx, key, anomalyListKey, ev.Timestamp, ev)
}

// StoreDiagnostics сохраняет результат диагностики
func (r *RedisStore) StoreDiagnostics(ctx context.Context, res models.DiagnosticsResult) error {
	id := res.ID
	if id == "" {
		id = strconv.FormatInt(res.StartedAt.UnixNano(), 10)
	}
	key := "netpulse:diagnostics:" + id
	return r.storeIndexed(ctx, key, diagnosticsListKey, res.StartedAt, res)
}

func (r *RedisStore) storeIndexed(ctx context.Context, key, listKey string, ts time.Time, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, key, jsonData, r.ttl)
	pipe.ZAdd(ctx, listKey, redis.Z{Score: float64(ts.UnixNano()), Member: key})
	// Индекс живет столько же, сколько записи; устаревшие ссылки вычищаем
	pipe.ZRemRangeByScore(ctx, listKey, "-inf", fmt.Sprintf("(%d", ts.Add(-r.ttl).UnixNano()))
	pipe.Expire(ctx, listKey, r.ttl)

	_, err = pipe.Exec(ctx)
	return err
}

// RecentAnomalies возвращает последние аномалии, новые первыми
func (r *RedisStore) RecentAnomalies(ctx context.Context, limit int) ([]models.AnomalyEvent, error) {
	raw, err := r.recent(ctx, anomalyListKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get anomalies: %w", err)
	}

	events := make([]models.AnomalyEvent, 0, len(raw))
	for _, data := range raw {
		var ev models.AnomalyEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("failed to decode anomaly: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// RecentDiagnostics возвращает последние результаты диагностики
func (r *RedisStore) RecentDiagnostics(ctx context.Context, limit int) ([]models.DiagnosticsResult, error) {
	raw, err := r.recent(ctx, diagnosticsListKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get diagnostics: %w", err)
	}

	results := make([]models.DiagnosticsResult, 0, len(raw))
	for _, data := range raw {
		var res models.DiagnosticsResult
		if err := json.Unmarshal(data, &res); err != nil {
			return nil, fmt.Errorf("failed to decode diagnostics: %w", err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (r *RedisStore) recent(ctx context.Context, listKey string, limit int) ([][]byte, error) {
	if limit <= 0 {
		return nil, nil
	}
	keys, err := r.client.ZRevRange(ctx, listKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([][]byte, 0, len(values))
	for _, v := range values {
		// Запись могла истечь раньше индекса
		s, ok := v.(string)
		if !ok {
			continue
		}
		out = append(out, []byte(s))
	}
	return out, nil
}

// Ping проверяет доступность Redis
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close дожидается незавершенных асинхронных записей и закрывает соединение.
// Публикации после Close отбрасываются.
func (r *RedisStore) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.pending.Wait()
	return r.client.Close()
}

// async запускает fn в фоне, если хранилище еще не закрыто
func (r *RedisStore) async(fn func(ctx context.Context)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// GetStats возвращает статистику пула соединений
func (r *RedisStore) GetStats() map[string]interface{} {
	stats := r.client.PoolStats()

	return map[string]interface{}{
		"hits":        stats.Hits,
		"misses":      stats.Misses,
		"timeouts":    stats.Timeouts,
		"total_conns": stats.TotalConns,
		"idle_conns":  stats.IdleConns,
		"stale_conns": stats.StaleConns,
	}
}

func (r *RedisStore) PublishSample(models.Sample) {}

// PublishAnomaly сохраняет асинхронно, не задерживая тик
func (r *RedisStore) PublishAnomaly(ev models.AnomalyEvent) {
	r.async(func(ctx context.Context) {
		if err := r.StoreAnomaly(ctx, ev); err != nil {
			metrics.RedisOperations.WithLabelValues("store_anomaly", "error").Inc()
			log.Printf("redis: failed to store anomaly: %v", err)
			return
		}
		metrics.RedisOperations.WithLabelValues("store_anomaly", "success").Inc()
	})
}

func (r *RedisStore) PublishDiagnostics(res models.DiagnosticsResult) {
	r.async(func(ctx context.Context) {
		if err := r.StoreDiagnostics(ctx, res); err != nil {
			metrics.RedisOperations.WithLabelValues("store_diagnostics", "error").Inc()
			log.Printf("redis: failed to store diagnostics: %v", err)
			return
		}
		metrics.RedisOperations.WithLabelValues("store_diagnostics", "success").Inc()
	})
}
