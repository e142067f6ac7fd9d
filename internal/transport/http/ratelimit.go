package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/appshare1603/VanLive/internal/metrics"
)

const (
	// RATE_LIMIT_PER_MINUTE counts samples per vehicle in fixed one-minute windows.
	rateWindow      = time.Minute
	redisRatePrefix = "vanlive:ratelimit:vehicle:"
	redisRateBudget = 250 * time.Millisecond
)

// RateLimiter counts ingest requests per vehicle.
type RateLimiter interface {
	Allow(vehicleID string, limit int) rateDecision
}

type rateDecision struct {
	allowed bool
	count   int
	resetAt time.Time
}

// memoryRateLimiter keeps one window per vehicle in process. Expired windows
// are swept on the first call after each window boundary.
type memoryRateLimiter struct {
	mu        sync.Mutex
	windows   map[string]rateWindowState
	nextSweep time.Time
	now       func() time.Time
}

type rateWindowState struct {
	count   int
	resetAt time.Time
}

func NewMemoryRateLimiter() RateLimiter {
	return &memoryRateLimiter{
		windows: make(map[string]rateWindowState),
		now:     time.Now,
	}
}

func (rl *memoryRateLimiter) Allow(vehicleID string, limit int) rateDecision {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.After(rl.nextSweep) {
		for id, w := range rl.windows {
			if now.After(w.resetAt) {
				delete(rl.windows, id)
			}
		}
		rl.nextSweep = now.Add(rateWindow)
	}

	w, ok := rl.windows[vehicleID]
	if !ok || now.After(w.resetAt) {
		w = rateWindowState{resetAt: now.Add(rateWindow)}
	}
	if w.count >= limit {
		return rateDecision{count: w.count, resetAt: w.resetAt}
	}
	w.count++
	rl.windows[vehicleID] = w
	return rateDecision{allowed: true, count: w.count, resetAt: w.resetAt}
}

// redisRateLimiter shares windows across replicas. Redis failures fail open
// so a cache outage never stops ingestion.
type redisRateLimiter struct {
	client redis.Cmdable
	logger *slog.Logger
}

// NewRedisRateLimiter uses an existing client and never closes it.
func NewRedisRateLimiter(client redis.Cmdable, logger *slog.Logger) RateLimiter {
	return &redisRateLimiter{
		client: client,
		logger: logger.With("component", "rate_limiter"),
	}
}

// Allow counts and arms the window in one round trip. EXPIRE NX needs Redis 7.
func (rl *redisRateLimiter) Allow(vehicleID string, limit int) rateDecision {
	ctx, cancel := context.WithTimeout(context.Background(), redisRateBudget)
	defer cancel()

	key := redisRatePrefix + vehicleID
	pipe := rl.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, rateWindow)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		rl.logger.Error("redis rate limiter failed, allowing request", "vehicle_id", vehicleID, "error", err)
		return rateDecision{allowed: true}
	}

	remaining := ttl.Val()
	if remaining <= 0 {
		remaining = rateWindow
	}
	count := int(incr.Val())
	return rateDecision{
		allowed: count <= limit,
		count:   count,
		resetAt: time.Now().Add(remaining),
	}
}

// withRateLimit applies the per-vehicle ingest budget. A budget of zero
// disables limiting.
func (r *Router) withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	if r.rateLimit <= 0 {
		return next
	}
	return func(w http.ResponseWriter, req *http.Request) {
		decision := r.limiter.Allow(req.PathValue("vehicleID"), r.rateLimit)

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(r.rateLimit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(max(r.rateLimit-decision.count, 0)))
		if !decision.resetAt.IsZero() {
			h.Set("X-RateLimit-Reset", strconv.FormatInt(decision.resetAt.Unix(), 10))
		}
		if !decision.allowed {
			metrics.RateLimitHits.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, req)
	}
}
