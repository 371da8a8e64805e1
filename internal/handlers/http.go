package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"netpulse/internal/config"
	"netpulse/internal/diagnostics"
	"netpulse/internal/metrics"
	"netpulse/internal/models"
	"netpulse/internal/session"
)

const (
	defaultStoreLimit = 20
	maxStoreLimit     = 500
	storeTimeout      = 3 * time.Second
)

// EventStore хранилище событий (Redis)
type EventStore interface {
	RecentAnomalies(ctx context.Context, limit int) ([]models.AnomalyEvent, error)
	RecentDiagnostics(ctx context.Context, limit int) ([]models.DiagnosticsResult, error)
	Ping(ctx context.Context) error
	GetStats() map[string]interface{}
}

// Handler обработчик HTTP запросов
type Handler struct {
	ctrl  *session.Controller
	store EventStore
}

// NewHandler создает новый обработчик; store может быть nil
func NewHandler(ctrl *session.Controller, store EventStore) *Handler {
	return &Handler{
		ctrl:  ctrl,
		store: store,
	}
}

// Register регистрирует маршруты API
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/history", h.GetHistory)
	mux.HandleFunc("/anomalies", h.GetAnomalies)
	mux.HandleFunc("/diagnostics", h.Diagnostics)
	mux.HandleFunc("/session/start", h.StartSession)
	mux.HandleFunc("/session/stop", h.StopSession)
	mux.HandleFunc("/health", h.HealthCheck)
	mux.HandleFunc("/stats", h.GetStats)
}

// GetHistory обрабатывает GET /history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/history"
	defer observe(r, endpoint, time.Now())

	if r.Method != http.MethodGet {
		fail(w, r, endpoint, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s := h.ctrl.Current()
	if s == nil {
		fail(w, r, endpoint, http.StatusServiceUnavailable, "No monitoring session")
		return
	}

	samples := s.History()
	respond(w, r, endpoint, http.StatusOK, map[string]interface{}{
		"target":  s.Config().TargetHost,
		"running": s.Running(),
		"count":   len(samples),
		"samples": samples,
	})
}

// GetAnomalies обрабатывает GET /anomalies[?source=store&limit=N]
func (h *Handler) GetAnomalies(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/anomalies"
	defer observe(r, endpoint, time.Now())

	if r.Method != http.MethodGet {
		fail(w, r, endpoint, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if r.URL.Query().Get("source") == "store" {
		if h.store == nil {
			fail(w, r, endpoint, http.StatusBadRequest, "Event store is not configured")
			return
		}
		limit, ok := parseLimit(r)
		if !ok {
			fail(w, r, endpoint, http.StatusBadRequest, "limit must be a positive integer")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
		defer cancel()
		events, err := h.store.RecentAnomalies(ctx, limit)
		if err != nil {
			metrics.RedisOperations.WithLabelValues("get_anomalies", "error").Inc()
			fail(w, r, endpoint, http.StatusInternalServerError, "Failed to retrieve anomalies")
			return
		}
		metrics.RedisOperations.WithLabelValues("get_anomalies", "success").Inc()
		respond(w, r, endpoint, http.StatusOK, map[string]interface{}{
			"source":        "store",
			"anomaly_count": len(events),
			"anomalies":     events,
		})
		return
	}

	s := h.ctrl.Current()
	if s == nil {
		fail(w, r, endpoint, http.StatusServiceUnavailable, "No monitoring session")
		return
	}
	events := s.Anomalies()
	respond(w, r, endpoint, http.StatusOK, map[string]interface{}{
		"source":        "memory",
		"anomaly_count": len(events),
		"anomalies":     events,
	})
}

// Diagnostics обрабатывает POST /diagnostics (ручной запуск) и
// GET /diagnostics (последний результат или история из хранилища)
func (h *Handler) Diagnostics(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/diagnostics"
	defer observe(r, endpoint, time.Now())

	switch r.Method {
	case http.MethodPost:
		s := h.ctrl.Current()
		if s == nil || !s.Running() {
			fail(w, r, endpoint, http.StatusConflict, "Monitoring session is not running")
			return
		}
		err := s.RunDiagnostics()
		switch {
		case err == nil:
			respond(w, r, endpoint, http.StatusAccepted, map[string]string{
				"status": "started",
				"target": s.Config().TargetHost,
			})
		case errors.Is(err, diagnostics.ErrBusy):
			fail(w, r, endpoint, http.StatusConflict, "Diagnostics already running")
		default:
			fail(w, r, endpoint, http.StatusConflict, err.Error())
		}

	case http.MethodGet:
		if r.URL.Query().Get("source") == "store" {
			h.storedDiagnostics(w, r, endpoint)
			return
		}
		s := h.ctrl.Current()
		if s == nil {
			fail(w, r, endpoint, http.StatusServiceUnavailable, "No monitoring session")
			return
		}
		res, ok := s.LastDiagnostics()
		if !ok {
			fail(w, r, endpoint, http.StatusNotFound, "No diagnostics results yet")
			return
		}
		respond(w, r, endpoint, http.StatusOK, map[string]interface{}{
			"ok":     res.OK(),
			"result": res,
		})

	default:
		fail(w, r, endpoint, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *Handler) storedDiagnostics(w http.ResponseWriter, r *http.Request, endpoint string) {
	if h.store == nil {
		fail(w, r, endpoint, http.StatusBadRequest, "Event store is not configured")
		return
	}
	limit, ok := parseLimit(r)
	if !ok {
		fail(w, r, endpoint, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	results, err := h.store.RecentDiagnostics(ctx, limit)
	if err != nil {
		metrics.RedisOperations.WithLabelValues("get_diagnostics", "error").Inc()
		fail(w, r, endpoint, http.StatusInternalServerError, "Failed to retrieve diagnostics")
		return
	}
	metrics.RedisOperations.WithLabelValues("get_diagnostics", "success").Inc()
	respond(w, r, endpoint, http.StatusOK, map[string]interface{}{
		"source":  "store",
		"count":   len(results),
		"results": results,
	})
}

// startRequest параметры нового сеанса; отсутствующие поля берутся
// из текущей базовой конфигурации
type startRequest struct {
	TargetHost           *string  `json:"target_host"`
	AnomalyThreshold     *float64 `json:"anomaly_threshold"`
	CheckIntervalSeconds *float64 `json:"check_interval_seconds"`
	HistorySize          *int     `json:"history_size"`
	AnomalyMetrics       []string `json:"anomaly_metrics"`
	AutoDiagnostics      *bool    `json:"auto_diagnostics"`
}

func (req startRequest) apply(cfg config.Config) (config.Config, error) {
	if req.TargetHost != nil {
		cfg.TargetHost = *req.TargetHost
	}
	if req.AnomalyThreshold != nil {
		cfg.AnomalyThreshold = *req.AnomalyThreshold
	}
	if req.CheckIntervalSeconds != nil {
		interval, err := config.Seconds(*req.CheckIntervalSeconds)
		if err != nil {
			return cfg, &config.ValidationError{Fields: []config.FieldError{
				{Field: "CheckInterval", Message: err.Error()},
			}}
		}
		cfg.CheckInterval = interval
	}
	if req.HistorySize != nil {
		cfg.HistorySize = *req.HistorySize
	}
	if req.AnomalyMetrics != nil {
		cfg.AnomalyMetrics = config.NormalizeMetrics(req.AnomalyMetrics)
	}
	if req.AutoDiagnostics != nil {
		cfg.AutoDiagnostics = *req.AutoDiagnostics
	}
	return cfg, nil
}

// StartSession обрабатывает POST /session/start
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/session/start"
	defer observe(r, endpoint, time.Now())

	if r.Method != http.MethodPost {
		fail(w, r, endpoint, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(w, r, endpoint, http.StatusBadRequest, "Invalid JSON")
		return
	}

	var s *session.Session
	cfg, err := req.apply(h.ctrl.Base())
	if err == nil {
		s, err = h.ctrl.Start(cfg)
	}
	var verr *config.ValidationError
	switch {
	case errors.As(err, &verr):
		fields := make(map[string]string, len(verr.Fields))
		for _, f := range verr.Fields {
			fields[f.Field] = f.Message
		}
		respond(w, r, endpoint, http.StatusBadRequest, map[string]interface{}{
			"error":  "invalid configuration",
			"fields": fields,
		})
		return
	case errors.Is(err, session.ErrAlreadyStarted):
		fail(w, r, endpoint, http.StatusConflict, "Monitoring session already running")
		return
	case err != nil:
		fail(w, r, endpoint, http.StatusInternalServerError, err.Error())
		return
	}

	respond(w, r, endpoint, http.StatusCreated, s.Stats())
}

// StopSession обрабатывает POST /session/stop
func (h *Handler) StopSession(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/session/stop"
	defer observe(r, endpoint, time.Now())

	if r.Method != http.MethodPost {
		fail(w, r, endpoint, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	respond(w, r, endpoint, http.StatusOK, map[string]bool{
		"stopped": h.ctrl.Stop(),
	})
}

// HealthCheck обрабатывает GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK

	body := map[string]interface{}{
		"timestamp": time.Now(),
	}

	s := h.ctrl.Current()
	body["session_running"] = s != nil && s.Running()

	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
		defer cancel()
		redisOK := h.store.Ping(ctx) == nil
		body["redis"] = redisOK
		if !redisOK {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
		}
	}
	body["status"] = status

	writeJSON(w, httpStatus, body)
}

// GetStats обрабатывает GET /stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/stats"
	defer observe(r, endpoint, time.Now())

	body := map[string]interface{}{
		"timestamp": time.Now(),
	}
	if s := h.ctrl.Current(); s != nil {
		body["session"] = s.Stats()
	}
	if h.store != nil {
		body["redis"] = h.store.GetStats()
	}

	respond(w, r, endpoint, http.StatusOK, body)
}

func parseLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultStoreLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, false
	}
	if limit > maxStoreLimit {
		limit = maxStoreLimit
	}
	return limit, true
}

func observe(r *http.Request, endpoint string, start time.Time) {
	metrics.RequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
}

func respond(w http.ResponseWriter, r *http.Request, endpoint string, status int, body interface{}) {
	metrics.RequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(status)).Inc()
	writeJSON(w, status, body)
}

func fail(w http.ResponseWriter, r *http.Request, endpoint string, status int, message string) {
	respond(w, r, endpoint, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
