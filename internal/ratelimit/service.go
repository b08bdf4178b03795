package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/seolytics/apicache/internal/metrics"
	"github.com/seolytics/apicache/internal/observability"
)

// KeyPrefix namespaces bucket keys in the shared store.
const KeyPrefix = "api-cache:rate-limit:"

// UnlimitedAttempts is the sentinel returned for clients with no configured
// ceiling.
const UnlimitedAttempts = math.MaxInt

// ConfigSource resolves per-client rate-limit settings.
type ConfigSource interface {
	// RateLimitMaxAttempts returns (max, true), or (_, false) when unlimited.
	RateLimitMaxAttempts(client string) (int, bool)
	// RateLimitDecay returns the fixed window length.
	RateLimitDecay(client string) time.Duration
}

// Service enforces the per-client fixed-window credit bucket. All operations
// are no-ops returning the unlimited sentinel for clients without a ceiling.
type Service struct {
	store  Store
	source ConfigSource
	logger *observability.Logger
}

// NewService creates the rate-limit service.
func NewService(store Store, source ConfigSource, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.NewNop()
	}
	return &Service{store: store, source: source, logger: logger}
}

// Key returns the bucket key for a client.
func (s *Service) Key(client string) string {
	return KeyPrefix + client
}

// MaxAttempts returns the configured ceiling; ok is false when unlimited.
func (s *Service) MaxAttempts(client string) (int, bool) {
	return s.source.RateLimitMaxAttempts(client)
}

// RemainingAttempts returns max - used for the current window, or the
// UnlimitedAttempts sentinel for unlimited clients. Never negative.
func (s *Service) RemainingAttempts(ctx context.Context, client string) (int, error) {
	max, ok := s.MaxAttempts(client)
	if !ok {
		return UnlimitedAttempts, nil
	}

	used, _, err := s.store.Get(ctx, s.Key(client))
	if err != nil {
		return 0, err
	}

	remaining := max - int(used)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// AvailableIn returns the time until the current window resets, or zero when
// attempts remain.
func (s *Service) AvailableIn(ctx context.Context, client string) (time.Duration, error) {
	remaining, err := s.RemainingAttempts(ctx, client)
	if err != nil {
		return 0, err
	}
	if remaining > 0 {
		return 0, nil
	}

	_, ttl, err := s.store.Get(ctx, s.Key(client))
	if err != nil {
		return 0, err
	}
	return ttl, nil
}

// AllowRequest reports whether at least one attempt remains. A refusal emits
// a warning with the seconds until the window resets.
func (s *Service) AllowRequest(ctx context.Context, client string) (bool, error) {
	remaining, err := s.RemainingAttempts(ctx, client)
	if err != nil {
		return false, err
	}
	if remaining >= 1 {
		return true, nil
	}

	availableIn, err := s.AvailableIn(ctx, client)
	if err != nil {
		return false, err
	}

	metrics.RateLimitRejections.WithLabelValues(client).Inc()
	s.logger.Warn("rate limit exceeded",
		"client", client,
		"available_in_seconds", int(availableIn/time.Second),
	)
	return false, nil
}

// IncrementAttempts atomically consumes amount credits. The window expiry is
// armed on the first increment of a new window.
func (s *Service) IncrementAttempts(ctx context.Context, client string, amount int) error {
	if _, ok := s.MaxAttempts(client); !ok {
		return nil
	}
	if amount <= 0 {
		amount = 1
	}

	_, err := s.store.Increment(ctx, s.Key(client), int64(amount), s.source.RateLimitDecay(client))
	if err != nil {
		return err
	}

	metrics.CreditsConsumed.WithLabelValues(client).Add(float64(amount))
	return nil
}

// Clear deletes the bucket; the next request starts a fresh window.
func (s *Service) Clear(ctx context.Context, client string) error {
	return s.store.Delete(ctx, s.Key(client))
}
