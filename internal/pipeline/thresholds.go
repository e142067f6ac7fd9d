package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/appshare1603/VanLive/internal/domain"
)

// Override layers, lowest precedence first.
const (
	SourceFile     = "file"
	SourceDatabase = "postgres"
)

var overrideOrder = []string{SourceFile, SourceDatabase}

// ThresholdSet resolves alert thresholds per vehicle: global defaults, then
// per-vehicle overrides from each source in overrideOrder.
type ThresholdSet struct {
	mu        sync.RWMutex
	defaults  domain.Thresholds
	overrides map[string]map[string]map[string]float64 // source -> vehicle -> name -> value
}

func NewThresholdSet(defaults domain.Thresholds) (*ThresholdSet, error) {
	if err := defaults.Validate(); err != nil {
		return nil, err
	}
	return &ThresholdSet{
		defaults:  defaults,
		overrides: make(map[string]map[string]map[string]float64),
	}, nil
}

func (s *ThresholdSet) Defaults() domain.Thresholds {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaults
}

func (s *ThresholdSet) SetDefaults(t domain.Thresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.defaults = t
	s.mu.Unlock()
	return nil
}

// SetOverrides replaces every override from source. The whole batch is
// rejected if any vehicle carries an unknown name or an invalid value.
func (s *ThresholdSet) SetOverrides(source string, byVehicle map[string]map[string]float64) error {
	copied := make(map[string]map[string]float64, len(byVehicle))
	for vehicleID, named := range byVehicle {
		if _, err := domain.DefaultThresholds.With(named); err != nil {
			return fmt.Errorf("%s overrides for %s: %w", source, vehicleID, err)
		}
		m := make(map[string]float64, len(named))
		for k, v := range named {
			m[k] = v
		}
		copied[vehicleID] = m
	}

	s.mu.Lock()
	s.overrides[source] = copied
	s.mu.Unlock()
	return nil
}

func (s *ThresholdSet) For(vehicleID string) domain.Thresholds {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := s.defaults
	for _, source := range overrideOrder {
		named, ok := s.overrides[source][vehicleID]
		if !ok {
			continue
		}
		// names were checked in SetOverrides
		if applied, err := t.With(named); err == nil {
			t = applied
		}
	}
	return t
}

type OverrideLoader interface {
	LoadOverrides(ctx context.Context) (map[string]map[string]float64, error)
}

// ThresholdRefresher periodically reloads database overrides into a
// ThresholdSet. A failed load keeps the previous overrides.
type ThresholdRefresher struct {
	loader   OverrideLoader
	set      *ThresholdSet
	interval time.Duration
	logger   *slog.Logger
}

func NewThresholdRefresher(loader OverrideLoader, set *ThresholdSet, interval time.Duration, logger *slog.Logger) *ThresholdRefresher {
	return &ThresholdRefresher{
		loader:   loader,
		set:      set,
		interval: interval,
		logger:   logger.With("component", "threshold_refresher"),
	}
}

func (r *ThresholdRefresher) Run(ctx context.Context) {
	r.refresh(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.refresh(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (r *ThresholdRefresher) refresh(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.interval)
	defer cancel()

	overrides, err := r.loader.LoadOverrides(ctx)
	if err != nil {
		r.logger.Warn("threshold reload failed, keeping previous overrides", "error", err)
		return
	}
	if err := r.set.SetOverrides(SourceDatabase, overrides); err != nil {
		r.logger.Warn("threshold overrides rejected", "error", err)
		return
	}
	r.logger.Debug("thresholds reloaded", "vehicles", len(overrides))
}
