package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/appshare1603/VanLive/internal/domain"
	"github.com/appshare1603/VanLive/internal/metrics"
)

var ErrSubscriptionClosed = errors.New("subscription closed")

// Dispatcher fans accepted samples out to per-vehicle subscribers. Publish
// never blocks: each subscriber owns a bounded queue that drops its oldest
// entry on overflow and reports the loss as a missed event.
type Dispatcher struct {
	mu        sync.RWMutex
	subs      map[string]map[string]*Subscription
	queueSize int
	closed    bool
	logger    *slog.Logger
}

func NewDispatcher(queueSize int, logger *slog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Dispatcher{
		subs:      make(map[string]map[string]*Subscription),
		queueSize: queueSize,
		logger:    logger.With("component", "dispatcher"),
	}
}

func (d *Dispatcher) Subscribe(vehicleID string) (*Subscription, error) {
	sub := &Subscription{
		ID:        uuid.NewString(),
		VehicleID: vehicleID,
		size:      d.queueSize,
		queue:     make([]domain.Event, 0, d.queueSize),
		ready:     make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrSubscriptionClosed
	}
	if d.subs[vehicleID] == nil {
		d.subs[vehicleID] = make(map[string]*Subscription)
	}
	d.subs[vehicleID][sub.ID] = sub
	metrics.Subscribers.Inc()
	d.logger.Debug("subscriber added", "vehicle_id", vehicleID, "subscriber_id", sub.ID)
	return sub, nil
}

// Unsubscribe detaches sub and discards its queue. Safe to call twice.
func (d *Dispatcher) Unsubscribe(sub *Subscription) {
	d.mu.Lock()
	if subs, ok := d.subs[sub.VehicleID]; ok {
		if _, ok := subs[sub.ID]; ok {
			delete(subs, sub.ID)
			metrics.Subscribers.Dec()
		}
		if len(subs) == 0 {
			delete(d.subs, sub.VehicleID)
		}
	}
	d.mu.Unlock()
	sub.close()
}

func (d *Dispatcher) Publish(ev domain.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, sub := range d.subs[ev.VehicleID] {
		if sub.offer(ev.Clone()) {
			metrics.DispatchDropped.Inc()
		}
	}
}

func (d *Dispatcher) SubscriberCount(vehicleID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs[vehicleID])
}

// Close releases every subscriber; later Subscribe calls fail.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	all := d.subs
	d.subs = make(map[string]map[string]*Subscription)
	d.closed = true
	d.mu.Unlock()

	for _, subs := range all {
		for _, sub := range subs {
			metrics.Subscribers.Dec()
			sub.close()
		}
	}
}

type Subscription struct {
	ID        string
	VehicleID string

	mu     sync.Mutex
	queue  []domain.Event
	size   int
	missed int
	closed bool
	ready  chan struct{}
	done   chan struct{}
}

// Ready is signalled whenever events may be waiting; drain with Next.
func (s *Subscription) Ready() <-chan struct{} { return s.ready }

// Done is closed once the subscription is released.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Next pops without blocking. A pending loss signal is returned before any
// queued sample.
func (s *Subscription) Next() (domain.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.missed > 0 {
		ev := domain.Event{Kind: domain.EventMissed, VehicleID: s.VehicleID, Missed: s.missed}
		s.missed = 0
		return ev, true
	}
	if len(s.queue) == 0 {
		return domain.Event{}, false
	}
	ev := s.queue[0]
	copy(s.queue, s.queue[1:])
	s.queue[len(s.queue)-1] = domain.Event{}
	s.queue = s.queue[:len(s.queue)-1]
	return ev, true
}

// Recv blocks until an event is available, the subscription is closed or
// ctx is done.
func (s *Subscription) Recv(ctx context.Context) (domain.Event, error) {
	for {
		if ev, ok := s.Next(); ok {
			return ev, nil
		}
		select {
		case <-s.ready:
		case <-s.done:
			return domain.Event{}, ErrSubscriptionClosed
		case <-ctx.Done():
			return domain.Event{}, ctx.Err()
		}
	}
}

// Pending reports queued events, counting a pending loss signal as one.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queue)
	if s.missed > 0 {
		n++
	}
	return n
}

func (s *Subscription) offer(ev domain.Event) (dropped bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if len(s.queue) >= s.size {
		copy(s.queue, s.queue[1:])
		s.queue = s.queue[:len(s.queue)-1]
		s.missed++
		dropped = true
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
	return dropped
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.queue = nil
	s.missed = 0
	close(s.done)
}
