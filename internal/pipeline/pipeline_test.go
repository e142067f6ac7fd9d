package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/appshare1603/VanLive/internal/domain"
	"github.com/appshare1603/VanLive/internal/logger"
	"github.com/appshare1603/VanLive/internal/store"
)

type harness struct {
	store      *store.RingStore
	thresholds *ThresholdSet
	dispatcher *Dispatcher
	ingestor   *Ingestor
	query      *Query
}

func newHarness(t *testing.T, capacity, queueSize int, weather WeatherSource) *harness {
	t.Helper()
	st, err := store.NewRingStore(capacity)
	require.NoError(t, err)
	thresholds, err := NewThresholdSet(domain.DefaultThresholds)
	require.NoError(t, err)

	log := logger.Discard()
	eval := NewAlertEvaluator(thresholds)
	disp := NewDispatcher(queueSize, log)
	t.Cleanup(disp.Close)

	ing := NewIngestor(st, eval, disp, weather, log)
	return &harness{
		store:      st,
		thresholds: thresholds,
		dispatcher: disp,
		ingestor:   ing,
		query:      NewQuery(st, eval, 15*time.Second),
	}
}

func (h *harness) freezeClock(at time.Time) {
	h.ingestor.now = func() time.Time { return at }
}

type stubWeather struct {
	w  *domain.Weather
	ok bool
}

func (s stubWeather) Current() (*domain.Weather, bool) { return s.w, s.ok }
