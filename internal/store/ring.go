package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/appshare1603/VanLive/internal/domain"
)

// RingStore keeps a bounded, insertion-ordered history per vehicle. Each
// vehicle is its own shard: appends for one vehicle never wait on another.
type RingStore struct {
	mu       sync.RWMutex
	shards   map[string]*ring
	capacity int
}

type ring struct {
	mu   sync.RWMutex
	buf  []domain.Sample
	head int
	size int
}

func NewRingStore(capacity int) (*RingStore, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ring capacity must be positive, got %d", capacity)
	}
	return &RingStore{
		shards:   make(map[string]*ring),
		capacity: capacity,
	}, nil
}

func (s *RingStore) Capacity() int {
	return s.capacity
}

// Append stores a copy of sample. A timestamp older than the vehicle's latest
// sample is rejected.
func (s *RingStore) Append(sample domain.Sample) (domain.Sample, error) {
	return s.AppendFunc(sample.VehicleID, func(tail *domain.Sample) (domain.Sample, error) {
		if tail != nil && sample.Timestamp.Before(tail.Timestamp) {
			return domain.Sample{}, domain.NewValidationError("timestamp", "precedes latest sample")
		}
		return sample, nil
	}, nil)
}

// AppendFunc holds the vehicle's write lock while build inspects the current
// tail (nil when empty) and produces the sample to append. committed, if set,
// runs under the same lock right after the append, so callers observe appends
// in order. Nothing is appended when build fails.
func (s *RingStore) AppendFunc(
	vehicleID string,
	build func(tail *domain.Sample) (domain.Sample, error),
	committed func(stored domain.Sample),
) (domain.Sample, error) {
	r := s.shard(vehicleID)

	r.mu.Lock()
	defer r.mu.Unlock()

	var tail *domain.Sample
	if r.size > 0 {
		t := r.at(r.size - 1)
		tail = &t
	}

	sample, err := build(tail)
	if err != nil {
		return domain.Sample{}, err
	}
	sample.VehicleID = vehicleID

	r.push(sample, s.capacity)
	if committed != nil {
		committed(r.at(r.size - 1))
	}
	return r.at(r.size - 1), nil
}

func (s *RingStore) Latest(vehicleID string) (domain.Sample, error) {
	r, ok := s.lookup(vehicleID)
	if !ok {
		return domain.Sample{}, domain.ErrNotFound
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.size == 0 {
		return domain.Sample{}, domain.ErrNotFound
	}
	return r.at(r.size - 1), nil
}

// History returns up to limit of the most recent samples, oldest first.
// limit <= 0 returns everything retained.
func (s *RingStore) History(vehicleID string, limit int) ([]domain.Sample, error) {
	r, ok := s.lookup(vehicleID)
	if !ok {
		return nil, domain.ErrNotFound
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.size == 0 {
		return nil, domain.ErrNotFound
	}
	if limit <= 0 || limit > r.size {
		limit = r.size
	}
	out := make([]domain.Sample, 0, limit)
	for i := r.size - limit; i < r.size; i++ {
		out = append(out, r.at(i))
	}
	return out, nil
}

// Window returns the samples whose timestamp lies within d of the latest
// sample's timestamp, oldest first.
func (s *RingStore) Window(vehicleID string, d time.Duration) ([]domain.Sample, error) {
	r, ok := s.lookup(vehicleID)
	if !ok {
		return nil, domain.ErrNotFound
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.size == 0 {
		return nil, domain.ErrNotFound
	}
	if d < 0 {
		d = 0
	}
	cutoff := r.at(r.size - 1).Timestamp.Add(-d)

	// timestamps are non-decreasing, so the first match starts the window
	start := sort.Search(r.size, func(i int) bool {
		return !r.at(i).Timestamp.Before(cutoff)
	})
	out := make([]domain.Sample, 0, r.size-start)
	for i := start; i < r.size; i++ {
		out = append(out, r.at(i))
	}
	return out, nil
}

func (s *RingStore) Len(vehicleID string) int {
	r, ok := s.lookup(vehicleID)
	if !ok {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Vehicles lists every vehicle with at least one sample, sorted.
func (s *RingStore) Vehicles() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.shards))
	for id, r := range s.shards {
		r.mu.RLock()
		if r.size > 0 {
			ids = append(ids, id)
		}
		r.mu.RUnlock()
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Remove drops a vehicle and its history. It reports whether the vehicle existed.
func (s *RingStore) Remove(vehicleID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shards[vehicleID]; !ok {
		return false
	}
	delete(s.shards, vehicleID)
	return true
}

func (s *RingStore) lookup(vehicleID string) (*ring, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.shards[vehicleID]
	return r, ok
}

func (s *RingStore) shard(vehicleID string) *ring {
	if r, ok := s.lookup(vehicleID); ok {
		return r
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.shards[vehicleID]; ok {
		return r
	}
	r := &ring{}
	s.shards[vehicleID] = r
	return r
}

// at returns a private copy; stored samples never leave the ring by pointer.
func (r *ring) at(i int) domain.Sample {
	return r.buf[(r.head+i)%len(r.buf)].Clone()
}

func (r *ring) push(sample domain.Sample, capacity int) {
	sample = sample.Clone()
	if r.buf == nil {
		r.buf = make([]domain.Sample, capacity)
	}
	if r.size < capacity {
		r.buf[(r.head+r.size)%capacity] = sample
		r.size++
		return
	}
	// full: overwrite the oldest and advance the head
	r.buf[r.head] = sample
	r.head = (r.head + 1) % capacity
}
