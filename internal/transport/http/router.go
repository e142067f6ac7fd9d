package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/appshare1603/VanLive/internal/domain"
	"github.com/appshare1603/VanLive/internal/metrics"
	"github.com/appshare1603/VanLive/internal/pipeline"
)

const (
	defaultMaxBodyBytes = 64 << 10
	healthCheckTimeout  = 2 * time.Second
	requestIDHeader     = "X-Request-ID"
)

// HealthCheck reports whether an optional backend is reachable.
type HealthCheck func(ctx context.Context) error

type Options struct {
	Ingestor   *pipeline.Ingestor
	Query      *pipeline.Query
	Dispatcher *pipeline.Dispatcher
	Auth       *AuthMiddleware
	Limiter    RateLimiter
	Logger     *slog.Logger

	RateLimitPerMinute int
	MaxBodyBytes       int64
	WriteTimeout       time.Duration
	HeartbeatInterval  time.Duration
	HealthChecks       map[string]HealthCheck
}

// Router wires HTTP endpoints to the ingestion pipeline.
type Router struct {
	mux        *http.ServeMux
	logger     *slog.Logger
	ingestor   *pipeline.Ingestor
	query      *pipeline.Query
	dispatcher *pipeline.Dispatcher
	auth       *AuthMiddleware
	limiter    RateLimiter
	upgrader   websocket.Upgrader

	rateLimit    int
	maxBody      int64
	writeTimeout time.Duration
	heartbeat    time.Duration
	health       map[string]HealthCheck
}

func NewRouter(opts Options) *Router {
	r := &Router{
		mux:        http.NewServeMux(),
		logger:     opts.Logger.With("component", "http"),
		ingestor:   opts.Ingestor,
		query:      opts.Query,
		dispatcher: opts.Dispatcher,
		auth:       opts.Auth,
		limiter:    opts.Limiter,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		rateLimit:    opts.RateLimitPerMinute,
		maxBody:      opts.MaxBodyBytes,
		writeTimeout: opts.WriteTimeout,
		heartbeat:    opts.HeartbeatInterval,
		health:       opts.HealthChecks,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if r.maxBody <= 0 {
		r.maxBody = defaultMaxBodyBytes
	}
	if r.writeTimeout <= 0 {
		r.writeTimeout = 5 * time.Second
	}
	if r.heartbeat <= 0 {
		r.heartbeat = 20 * time.Second
	}
	r.register()
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) register() {
	r.handle("GET /healthz", r.handleHealthz)
	r.mux.Handle("GET /metrics", metrics.Handler())

	r.handle("POST /v1/vehicles/{vehicleID}/samples",
		r.auth.Wrap(r.withRateLimit(r.handleIngest)))
	r.handle("GET /v1/vehicles", r.auth.Wrap(r.handleFleet))
	r.handle("GET /v1/vehicles/{vehicleID}/latest", r.auth.Wrap(r.handleLatest))
	r.handle("GET /v1/vehicles/{vehicleID}/history", r.auth.Wrap(r.handleHistory))
	r.handle("GET /v1/vehicles/{vehicleID}/window", r.auth.Wrap(r.handleWindow))
	r.handle("DELETE /v1/vehicles/{vehicleID}", r.auth.Wrap(r.handleRemove))
	r.handle("GET /v1/vehicles/{vehicleID}/stream", r.auth.Wrap(r.handleStream))
	r.handle("GET /v1/vehicles/{vehicleID}/ws", r.auth.Wrap(r.handleWS))
}

func (r *Router) handle(pattern string, h http.HandlerFunc) {
	route := pattern
	if i := strings.IndexByte(pattern, ' '); i >= 0 {
		route = pattern[i+1:]
	}
	r.mux.HandleFunc(pattern, r.audit(route, h))
}

func (r *Router) handleIngest(w http.ResponseWriter, req *http.Request) {
	body := http.MaxBytesReader(w, req.Body, r.maxBody)
	var sample domain.Sample
	if err := json.NewDecoder(body).Decode(&sample); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeServiceError(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	// the path is authoritative
	sample.VehicleID = req.PathValue("vehicleID")

	accepted, err := r.ingestor.Submit(req.Context(), pipeline.TransportHTTP, sample)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"sample": accepted.Sample,
		"alerts": alertsOrEmpty(accepted.Alerts),
	})
}

type snapshotResponse struct {
	Sample              domain.Sample   `json:"sample"`
	Alerts              domain.AlertSet `json:"alerts"`
	PollIntervalSeconds float64         `json:"poll_interval_seconds"`
}

func toSnapshotResponse(s pipeline.Snapshot) snapshotResponse {
	return snapshotResponse{
		Sample:              s.Sample,
		Alerts:              alertsOrEmpty(s.Alerts),
		PollIntervalSeconds: s.PollInterval.Seconds(),
	}
}

func (r *Router) handleLatest(w http.ResponseWriter, req *http.Request) {
	snap, err := r.query.Latest(req.PathValue("vehicleID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, toSnapshotResponse(snap))
}

func (r *Router) handleFleet(w http.ResponseWriter, req *http.Request) {
	fleet := r.query.Fleet()
	out := make([]snapshotResponse, len(fleet))
	for i, snap := range fleet {
		out[i] = toSnapshotResponse(snap)
	}
	writeJSON(w, http.StatusOK, map[string]any{"vehicles": out})
}

func (r *Router) handleHistory(w http.ResponseWriter, req *http.Request) {
	limit := 0
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	vehicleID := req.PathValue("vehicleID")
	samples, err := r.query.History(vehicleID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"vehicle_id": vehicleID,
		"samples":    samples,
	})
}

func (r *Router) handleWindow(w http.ResponseWriter, req *http.Request) {
	d, err := time.ParseDuration(req.URL.Query().Get("duration"))
	if err != nil || d < 0 {
		writeError(w, http.StatusBadRequest, "duration must be a non-negative Go duration such as 5m")
		return
	}
	vehicleID := req.PathValue("vehicleID")
	samples, err := r.query.Window(vehicleID, d)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"vehicle_id": vehicleID,
		"duration":   d.String(),
		"samples":    samples,
	})
}

func (r *Router) handleRemove(w http.ResponseWriter, req *http.Request) {
	vehicleID := req.PathValue("vehicleID")
	if !r.query.Remove(vehicleID) {
		writeServiceError(w, domain.ErrNotFound)
		return
	}
	r.logger.Info("vehicle deregistered", "vehicle_id", vehicleID)
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	components := make(map[string]any, len(r.health))
	status := "ok"
	for name, check := range r.health {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			status = "degraded"
			components[name] = map[string]any{"status": "down", "error": err.Error()}
			continue
		}
		components[name] = map[string]any{"status": "up"}
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		reqID := strings.TrimSpace(req.Header.Get(requestIDHeader))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, reqID)

		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		metrics.HTTPRequests.WithLabelValues(req.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPLatency.WithLabelValues(req.Method, route).Observe(duration.Seconds())

		fields := []any{
			"method", req.Method,
			"route", route,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
			"request_id", reqID,
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Debug("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		sr.status = http.StatusSwitchingProtocols
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		if ip := strings.TrimSpace(strings.Split(forwarded, ",")[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}
