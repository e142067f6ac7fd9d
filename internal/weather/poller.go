package weather

import (
	"context"
	"log/slog"
	"time"

	"github.com/appshare1603/VanLive/internal/metrics"
)

// Poller refreshes a Cache from a Provider on a fixed interval.
type Poller struct {
	provider Provider
	cache    *Cache
	interval time.Duration
	logger   *slog.Logger
}

func NewPoller(provider Provider, cache *Cache, interval time.Duration, logger *slog.Logger) *Poller {
	return &Poller{
		provider: provider,
		cache:    cache,
		interval: interval,
		logger:   logger.With("component", "weather_poller", "provider", provider.Name()),
	}
}

func (p *Poller) Run(ctx context.Context) {
	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.poll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	w, err := p.provider.Fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.WeatherFetches.WithLabelValues("error").Inc()
		p.logger.Warn("weather fetch failed", "error", err)
		return
	}
	metrics.WeatherFetches.WithLabelValues("ok").Inc()
	p.cache.Set(w)
	p.logger.Debug("weather updated", "condition", w.Condition, "forecast", w.ForecastText)
}
