package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/appshare1603/VanLive/internal/domain"
	"github.com/appshare1603/VanLive/internal/metrics"
	"github.com/appshare1603/VanLive/internal/store"
)

// maxClockSkew bounds how far ahead of server time a node-supplied timestamp may be.
const maxClockSkew = 5 * time.Minute

const (
	TransportHTTP = "http"
	TransportMQTT = "mqtt"
)

// WeatherSource supplies the latest weather snapshot, if one is fresh enough.
type WeatherSource interface {
	Current() (*domain.Weather, bool)
}

type Accepted struct {
	Sample domain.Sample   `json:"sample"`
	Alerts domain.AlertSet `json:"alerts"`
}

// Ingestor is the single entry point for samples from every transport.
type Ingestor struct {
	store      *store.RingStore
	evaluator  *AlertEvaluator
	dispatcher *Dispatcher
	weather    WeatherSource
	logger     *slog.Logger
	now        func() time.Time
}

func NewIngestor(
	st *store.RingStore,
	evaluator *AlertEvaluator,
	dispatcher *Dispatcher,
	weather WeatherSource,
	logger *slog.Logger,
) *Ingestor {
	return &Ingestor{
		store:      st,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		weather:    weather,
		logger:     logger.With("component", "ingestor"),
		now:        time.Now,
	}
}

// Submit validates s, appends it and notifies subscribers. On any error
// nothing is stored.
func (i *Ingestor) Submit(ctx context.Context, transport string, s domain.Sample) (Accepted, error) {
	if err := ctx.Err(); err != nil {
		return Accepted{}, err
	}

	now := i.now().UTC()
	s.VehicleID = strings.TrimSpace(s.VehicleID)
	s.ReceivedAt = now

	if err := domain.Validate(&s); err != nil {
		i.reject(transport, s.VehicleID, err)
		return Accepted{}, err
	}

	serverAssigned := s.Timestamp.IsZero()
	if serverAssigned {
		s.Timestamp = now
	} else {
		s.Timestamp = s.Timestamp.UTC()
		if s.Timestamp.After(now.Add(maxClockSkew)) {
			err := domain.NewValidationError("timestamp", "too far in the future")
			i.reject(transport, s.VehicleID, err)
			return Accepted{}, err
		}
	}

	if s.Weather == nil && i.weather != nil {
		if w, ok := i.weather.Current(); ok {
			s.Weather = w
		}
	}

	var alerts domain.AlertSet
	stored, err := i.store.AppendFunc(s.VehicleID,
		func(tail *domain.Sample) (domain.Sample, error) {
			if tail != nil && s.Timestamp.Before(tail.Timestamp) {
				if !serverAssigned {
					return domain.Sample{}, domain.NewValidationError("timestamp", "precedes latest sample")
				}
				// node clock ahead of ours: keep the history non-decreasing
				s.Timestamp = tail.Timestamp
			}
			return s, nil
		},
		func(stored domain.Sample) {
			alerts = i.evaluator.Evaluate(&stored)
			i.dispatcher.Publish(domain.Event{
				Kind:      domain.EventSample,
				VehicleID: stored.VehicleID,
				Sample:    &stored,
				Alerts:    alerts,
			})
		},
	)
	if err != nil {
		i.reject(transport, s.VehicleID, err)
		return Accepted{}, err
	}

	metrics.SamplesAccepted.WithLabelValues(transport).Inc()
	for _, a := range alerts {
		metrics.AlertsRaised.WithLabelValues(string(a.Type)).Inc()
	}
	if len(alerts) > 0 {
		i.logger.Info("alerts active", "vehicle_id", stored.VehicleID, "alerts", alerts.Types())
	}
	return Accepted{Sample: stored, Alerts: alerts}, nil
}

func (i *Ingestor) reject(transport, vehicleID string, err error) {
	reason := "error"
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		reason = "validation"
	}
	metrics.SamplesRejected.WithLabelValues(transport, reason).Inc()
	i.logger.Warn("sample rejected", "transport", transport, "vehicle_id", vehicleID, "error", err)
}
