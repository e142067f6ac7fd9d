package pipeline

import (
	"time"

	"github.com/appshare1603/VanLive/internal/domain"
	"github.com/appshare1603/VanLive/internal/store"
)

// Snapshot is the pull-mode view of a vehicle. PollInterval is a hint for
// the client's refresh cadence, not a freshness guarantee.
type Snapshot struct {
	Sample       domain.Sample   `json:"sample"`
	Alerts       domain.AlertSet `json:"alerts"`
	PollInterval time.Duration   `json:"-"`
}

// Query serves pull requests. Alerts are recomputed on every read.
type Query struct {
	store        *store.RingStore
	evaluator    *AlertEvaluator
	pollInterval time.Duration
}

func NewQuery(st *store.RingStore, evaluator *AlertEvaluator, pollInterval time.Duration) *Query {
	return &Query{store: st, evaluator: evaluator, pollInterval: pollInterval}
}

func (q *Query) Latest(vehicleID string) (Snapshot, error) {
	s, err := q.store.Latest(vehicleID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Sample:       s,
		Alerts:       q.evaluator.Evaluate(&s),
		PollInterval: q.pollInterval,
	}, nil
}

func (q *Query) History(vehicleID string, limit int) ([]domain.Sample, error) {
	return q.store.History(vehicleID, limit)
}

func (q *Query) Window(vehicleID string, d time.Duration) ([]domain.Sample, error) {
	return q.store.Window(vehicleID, d)
}

// Fleet returns the latest snapshot of every vehicle that has reported.
func (q *Query) Fleet() []Snapshot {
	ids := q.store.Vehicles()
	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := q.Latest(id)
		if err != nil {
			// removed between listing and reading
			continue
		}
		out = append(out, snap)
	}
	return out
}

func (q *Query) Remove(vehicleID string) bool {
	return q.store.Remove(vehicleID)
}

func (q *Query) PollInterval() time.Duration {
	return q.pollInterval
}
