package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	max   map[string]int
	decay time.Duration
}

func (f *fakeSource) RateLimitMaxAttempts(client string) (int, bool) {
	n, ok := f.max[client]
	return n, ok
}

func (f *fakeSource) RateLimitDecay(string) time.Duration {
	if f.decay > 0 {
		return f.decay
	}
	return time.Minute
}

func newRedisService(t *testing.T, source ConfigSource) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewService(NewRedisStore(client), source, nil), mr
}

func TestKeyNamespacing(t *testing.T) {
	svc, _ := newRedisService(t, &fakeSource{})
	assert.Equal(t, "api-cache:rate-limit:serp", svc.Key("serp"))
}

func TestRemainingAttemptsCountsDown(t *testing.T) {
	ctx := context.Background()
	svc, _ := newRedisService(t, &fakeSource{max: map[string]int{"serp": 5}})

	remaining, err := svc.RemainingAttempts(ctx, "serp")
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)

	require.NoError(t, svc.IncrementAttempts(ctx, "serp", 2))

	remaining, err = svc.RemainingAttempts(ctx, "serp")
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)
}

func TestRemainingAttemptsNeverNegative(t *testing.T) {
	ctx := context.Background()
	svc, _ := newRedisService(t, &fakeSource{max: map[string]int{"serp": 2}})

	require.NoError(t, svc.IncrementAttempts(ctx, "serp", 5))

	remaining, err := svc.RemainingAttempts(ctx, "serp")
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}

func TestUnlimitedClient(t *testing.T) {
	ctx := context.Background()
	svc, mr := newRedisService(t, &fakeSource{})

	remaining, err := svc.RemainingAttempts(ctx, "serp")
	require.NoError(t, err)
	assert.Equal(t, UnlimitedAttempts, remaining)

	allowed, err := svc.AllowRequest(ctx, "serp")
	require.NoError(t, err)
	assert.True(t, allowed)

	// Unlimited clients never touch the store.
	require.NoError(t, svc.IncrementAttempts(ctx, "serp", 3))
	assert.False(t, mr.Exists(svc.Key("serp")))
}

func TestAllowRequestRefusesExhaustedBucket(t *testing.T) {
	ctx := context.Background()
	svc, _ := newRedisService(t, &fakeSource{max: map[string]int{"serp": 2}})

	for i := 0; i < 2; i++ {
		allowed, err := svc.AllowRequest(ctx, "serp")
		require.NoError(t, err)
		assert.True(t, allowed)
		require.NoError(t, svc.IncrementAttempts(ctx, "serp", 1))
	}

	allowed, err := svc.AllowRequest(ctx, "serp")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestAvailableIn(t *testing.T) {
	ctx := context.Background()
	svc, _ := newRedisService(t, &fakeSource{max: map[string]int{"serp": 1}, decay: time.Minute})

	availableIn, err := svc.AvailableIn(ctx, "serp")
	require.NoError(t, err)
	assert.Zero(t, availableIn)

	require.NoError(t, svc.IncrementAttempts(ctx, "serp", 1))

	availableIn, err = svc.AvailableIn(ctx, "serp")
	require.NoError(t, err)
	assert.Greater(t, availableIn, time.Duration(0))
	assert.LessOrEqual(t, availableIn, time.Minute)
}

func TestWindowExpiryResetsBucket(t *testing.T) {
	ctx := context.Background()
	svc, mr := newRedisService(t, &fakeSource{max: map[string]int{"serp": 1}, decay: time.Minute})

	require.NoError(t, svc.IncrementAttempts(ctx, "serp", 1))
	allowed, err := svc.AllowRequest(ctx, "serp")
	require.NoError(t, err)
	assert.False(t, allowed)

	mr.FastForward(61 * time.Second)

	allowed, err = svc.AllowRequest(ctx, "serp")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestIncrementPreservesWindowDeadline(t *testing.T) {
	ctx := context.Background()
	svc, mr := newRedisService(t, &fakeSource{max: map[string]int{"serp": 10}, decay: time.Minute})

	require.NoError(t, svc.IncrementAttempts(ctx, "serp", 1))
	mr.FastForward(30 * time.Second)
	require.NoError(t, svc.IncrementAttempts(ctx, "serp", 1))

	// The second increment must not extend the window armed by the first.
	assert.LessOrEqual(t, mr.TTL(svc.Key("serp")), 30*time.Second)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	svc, _ := newRedisService(t, &fakeSource{max: map[string]int{"serp": 1}})

	require.NoError(t, svc.IncrementAttempts(ctx, "serp", 1))
	require.NoError(t, svc.Clear(ctx, "serp"))

	remaining, err := svc.RemainingAttempts(ctx, "serp")
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
}

func TestBucketsIsolatedPerClient(t *testing.T) {
	ctx := context.Background()
	svc, _ := newRedisService(t, &fakeSource{max: map[string]int{"serp": 1, "backlinks": 1}})

	require.NoError(t, svc.IncrementAttempts(ctx, "serp", 1))

	allowed, err := svc.AllowRequest(ctx, "backlinks")
	require.NoError(t, err)
	assert.True(t, allowed)
}
