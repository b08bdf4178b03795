package ratelimit

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore implements Store for single-process deployments and tests.
// A mutex serializes increments; expiry is delegated to go-cache so stale
// windows disappear without a reaper of our own.
type MemoryStore struct {
	mu    sync.Mutex
	cache *gocache.Cache
}

// NewMemoryStore creates an in-process bucket store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache: gocache.New(gocache.NoExpiration, time.Minute),
	}
}

// Increment adds amount under the lock. The window deadline set on first
// increment is preserved across subsequent increments.
func (s *MemoryStore) Increment(_ context.Context, key string, amount int64, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, exp, ok := s.cache.GetWithExpiration(key); ok && (exp.IsZero() || exp.After(time.Now())) {
		n := v.(int64) + amount
		s.cache.Set(key, n, time.Until(exp))
		return n, nil
	}

	s.cache.Set(key, amount, window)
	return amount, nil
}

// Get returns the count and remaining window TTL.
func (s *MemoryStore) Get(_ context.Context, key string) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, exp, ok := s.cache.GetWithExpiration(key)
	if !ok {
		return 0, 0, nil
	}

	ttl := time.Duration(0)
	if !exp.IsZero() {
		ttl = time.Until(exp)
		if ttl < 0 {
			return 0, 0, nil
		}
	}
	return v.(int64), ttl, nil
}

// Delete clears the bucket.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Delete(key)
	return nil
}
