package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrMissingKey = errors.New("missing X-API-Key header")
	ErrInvalidKey = errors.New("invalid API key")
	ErrForbidden  = errors.New("API key not valid for this vehicle")
)

// KeyLookup resolves a sensor-node API key to the vehicle it is bound to.
// An unknown key yields "" and no error.
type KeyLookup interface {
	GetDeviceVehicle(ctx context.Context, apiKey string) (string, error)
}

type cacheEntry struct {
	vehicleID string
	expiresAt time.Time
}

// Authenticator checks keys against static operator keys, then a local
// TTL cache, then the KeyLookup. Static keys may report for any vehicle.
type Authenticator struct {
	localCache sync.Map
	lookup     KeyLookup
	ttl        time.Duration
	staticKeys map[string]bool
	now        func() time.Time
}

// NewAuthenticator accepts a nil lookup when only static keys are used.
func NewAuthenticator(staticKeys []string, lookup KeyLookup, ttl time.Duration) *Authenticator {
	keys := make(map[string]bool, len(staticKeys))
	for _, k := range staticKeys {
		if k != "" {
			keys[k] = true
		}
	}

	return &Authenticator{
		lookup:     lookup,
		ttl:        ttl,
		staticKeys: keys,
		now:        time.Now,
	}
}

// Validate reports whether apiKey is known and the vehicle it is bound to.
// An empty binding means the key is not restricted to one vehicle.
func (a *Authenticator) Validate(ctx context.Context, apiKey string) (string, bool) {
	if apiKey == "" {
		return "", false
	}

	// Level 0: static config keys
	if a.staticKeys[apiKey] {
		return "", true
	}

	// Level 1: in-memory cache
	if raw, ok := a.localCache.Load(apiKey); ok {
		entry := raw.(cacheEntry)
		if a.now().Before(entry.expiresAt) {
			return entry.vehicleID, true
		}
		a.localCache.Delete(apiKey)
	}

	// Level 2: device key lookup
	if a.lookup == nil {
		return "", false
	}
	vehicleID, err := a.lookup.GetDeviceVehicle(ctx, apiKey)
	if err != nil || vehicleID == "" {
		return "", false
	}

	a.localCache.Store(apiKey, cacheEntry{
		vehicleID: vehicleID,
		expiresAt: a.now().Add(a.ttl),
	})

	return vehicleID, true
}

// Authorize checks that apiKey may act on vehicleID.
func (a *Authenticator) Authorize(ctx context.Context, apiKey, vehicleID string) error {
	if apiKey == "" {
		return ErrMissingKey
	}
	bound, ok := a.Validate(ctx, apiKey)
	if !ok {
		return ErrInvalidKey
	}
	if bound != "" && bound != vehicleID {
		return ErrForbidden
	}
	return nil
}
