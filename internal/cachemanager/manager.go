// Package cachemanager exposes the single façade upstream clients depend on
// for caching and rate limiting. It composes the key generator, compression,
// the cache repository, and the rate-limit service.
package cachemanager

import (
	"context"
	"time"

	"github.com/seolytics/apicache/internal/cachekey"
	"github.com/seolytics/apicache/internal/cachestore"
	"github.com/seolytics/apicache/internal/metrics"
	"github.com/seolytics/apicache/internal/observability"
	"github.com/seolytics/apicache/internal/ratelimit"
	"github.com/seolytics/apicache/pkg/types"
)

// Manager is safe for concurrent use by multiple goroutines.
type Manager struct {
	keygen  cachekey.Generator
	repo    *cachestore.Repository
	limiter *ratelimit.Service
	logger  *observability.Logger
}

// New creates a cache manager. Construct one per process and pass it
// explicitly to clients.
func New(repo *cachestore.Repository, limiter *ratelimit.Service, logger *observability.Logger) *Manager {
	if logger == nil {
		logger = observability.NewNop()
	}
	return &Manager{repo: repo, limiter: limiter, logger: logger}
}

// GenerateCacheKey returns the deterministic 64-hex fingerprint for a request.
func (m *Manager) GenerateCacheKey(client, endpoint string, params map[string]any, method, version string) string {
	return m.keygen.Generate(client, endpoint, params, method, version)
}

// GetCachedResponse returns the stored entry or nil on miss/expiry.
func (m *Manager) GetCachedResponse(ctx context.Context, client, key string) (*types.CachedResult, error) {
	res, err := m.repo.GetCachedResponse(ctx, client, key)
	if err != nil {
		return nil, err
	}
	if res != nil {
		metrics.CacheHits.WithLabelValues(client).Inc()
	} else {
		metrics.CacheMisses.WithLabelValues(client).Inc()
	}
	return res, nil
}

// StoreResponse writes or updates the entry for (client, key).
func (m *Manager) StoreResponse(ctx context.Context, p types.StoreParams) error {
	return m.repo.StoreResponse(ctx, p)
}

// LogError appends to the shared error log.
func (m *Manager) LogError(ctx context.Context, e types.ErrorEntry) error {
	return m.repo.LogError(ctx, e)
}

// AllowRequest reports whether the client's bucket has at least one credit.
func (m *Manager) AllowRequest(ctx context.Context, client string) (bool, error) {
	return m.limiter.AllowRequest(ctx, client)
}

// IncrementAttempts consumes amount credits from the client's bucket.
func (m *Manager) IncrementAttempts(ctx context.Context, client string, amount int) error {
	return m.limiter.IncrementAttempts(ctx, client, amount)
}

// RemainingAttempts returns the credits left in the current window.
func (m *Manager) RemainingAttempts(ctx context.Context, client string) (int, error) {
	return m.limiter.RemainingAttempts(ctx, client)
}

// AvailableIn returns the time until the client's window resets.
func (m *Manager) AvailableIn(ctx context.Context, client string) (time.Duration, error) {
	return m.limiter.AvailableIn(ctx, client)
}

// ClearRateLimit resets the client's bucket.
func (m *Manager) ClearRateLimit(ctx context.Context, client string) error {
	return m.limiter.Clear(ctx, client)
}

// Repository exposes the underlying store for processors and admin tooling.
func (m *Manager) Repository() *cachestore.Repository { return m.repo }
