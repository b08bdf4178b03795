package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotCached is returned by standard deferred-task lookups when no cached
// result exists and posting a task was not requested.
var ErrNotCached = errors.New("no cached response and task posting disabled")

// RateLimitError is returned when a client's credit bucket is exhausted.
// AvailableIn reports how long until the current window resets.
type RateLimitError struct {
	Client      string
	AvailableIn time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for client %q, available in %s", e.Client, e.AvailableIn)
}

// HTTPStatusError describes an upstream response with status >= 400. It is
// logged and stored but returned to the caller as a result, not an error;
// the type exists for hooks and webhooks that need to raise it.
type HTTPStatusError struct {
	Status     int
	Body       []byte
	APIMessage string
}

func (e *HTTPStatusError) Error() string {
	if e.APIMessage != "" {
		return fmt.Sprintf("upstream returned status %d: %s", e.Status, e.APIMessage)
	}
	return fmt.Sprintf("upstream returned status %d", e.Status)
}

// NetworkError wraps transport-level failures (DNS, connect, timeout).
// Neither cache nor credits are touched when one occurs.
type NetworkError struct {
	Err     error
	Timeout bool
}

func (e *NetworkError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("network timeout: %v", e.Err)
	}
	return fmt.Sprintf("network failure: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// InvalidArgumentError reports a validation failure at the public boundary.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Field, e.Reason)
}
