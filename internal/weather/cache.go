package weather

import (
	"sync"
	"time"

	"github.com/appshare1603/VanLive/internal/domain"
)

// Cache keeps the last good snapshot. Snapshots older than maxAge are
// treated as absent rather than served stale.
type Cache struct {
	mu        sync.RWMutex
	weather   domain.Weather
	fetchedAt time.Time
	set       bool
	maxAge    time.Duration
	now       func() time.Time
}

func NewCache(maxAge time.Duration) *Cache {
	return &Cache{maxAge: maxAge, now: time.Now}
}

func (c *Cache) Set(w domain.Weather) {
	c.mu.Lock()
	c.weather = w
	c.fetchedAt = c.now()
	c.set = true
	c.mu.Unlock()
}

// Current returns a private copy of the cached snapshot, if still fresh.
func (c *Cache) Current() (*domain.Weather, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.set || c.now().Sub(c.fetchedAt) > c.maxAge {
		return nil, false
	}
	w := c.weather
	if w.ExternalTempC != nil {
		w.ExternalTempC = domain.Float(*w.ExternalTempC)
	}
	return &w, true
}
