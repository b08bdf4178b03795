// Package ratelimit implements the per-client fixed-window credit bucket
// backed by atomic counters in a shared store.
package ratelimit

import (
	"context"
	"time"
)

// Store is the atomic counter backend for rate-limit buckets. Implementations
// must make Increment atomic across concurrent callers; the expiry is armed
// on the first increment of a new window and left untouched afterwards.
type Store interface {
	// Increment atomically adds amount to the bucket and returns the new
	// count. A bucket created by this call expires after window.
	Increment(ctx context.Context, key string, amount int64, window time.Duration) (int64, error)

	// Get returns the current count and the remaining time until the window
	// resets. A missing bucket reports (0, 0, nil).
	Get(ctx context.Context, key string) (int64, time.Duration, error)

	// Delete removes the bucket so the next increment starts a fresh window.
	Delete(ctx context.Context, key string) error
}
