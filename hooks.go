package apicache

import (
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"
)

// Hooks is the capability interface vendor clients plug into the base
// client. DefaultHooks provides the behavior most vendors need; embed it and
// override individual methods.
type Hooks interface {
	// AuthHeaders returns headers attached to every upstream request.
	AuthHeaders() http.Header

	// AuthParams returns query parameters attached to every upstream request.
	AuthParams() url.Values

	// ShouldCache decides whether a completed response is written to the
	// cache.
	ShouldCache(statusCode int, body []byte) bool

	// CalculateCost extracts the provider-reported cost from a response
	// body, nil when the vendor reports none.
	CalculateCost(body []byte) *float64

	// APIMessage extracts a human-readable vendor detail from an error
	// response body, empty when the body carries no recognizable envelope.
	APIMessage(statusCode int, body []byte) string

	// CalculateCredits returns the credit amount an endpoint consumes.
	// Most endpoints consume the requested default.
	CalculateCredits(endpoint string, requested int) int
}

// DefaultHooks implements Hooks for vendors using bearer or basic
// authentication and the common tasks-array response envelope.
type DefaultHooks struct {
	// APIKey, when set, is sent as a bearer token. Otherwise Login/Password
	// select basic auth.
	APIKey   string
	Login    string
	Password string
}

var _ Hooks = (*DefaultHooks)(nil)

// AuthHeaders returns the Authorization header for the configured
// credentials.
func (h *DefaultHooks) AuthHeaders() http.Header {
	headers := http.Header{}
	if h.APIKey != "" {
		headers.Set("Authorization", "Bearer "+h.APIKey)
	} else if h.Login != "" {
		req := http.Request{Header: http.Header{}}
		req.SetBasicAuth(h.Login, h.Password)
		headers.Set("Authorization", req.Header.Get("Authorization"))
	}
	return headers
}

// AuthParams returns no extra query parameters.
func (h *DefaultHooks) AuthParams() url.Values { return url.Values{} }

// ShouldCache declines error statuses, and declines success bodies only when
// every provider sub-task errored (tasks_error == tasks_count > 0).
func (h *DefaultHooks) ShouldCache(statusCode int, body []byte) bool {
	if statusCode >= 400 {
		return false
	}

	count := gjson.GetBytes(body, "tasks_count")
	errored := gjson.GetBytes(body, "tasks_error")
	if count.Exists() && errored.Exists() && count.Int() > 0 && count.Int() == errored.Int() {
		return false
	}
	return true
}

// CalculateCost reads the top-level cost field when present.
func (h *DefaultHooks) CalculateCost(body []byte) *float64 {
	v := gjson.GetBytes(body, "cost")
	if !v.Exists() {
		return nil
	}
	cost := v.Float()
	return &cost
}

// APIMessage tries the common error-envelope fields in order.
func (h *DefaultHooks) APIMessage(_ int, body []byte) string {
	for _, path := range []string{"detail", "status_message", "error.message", "message"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// CalculateCredits returns the requested amount unchanged.
func (h *DefaultHooks) CalculateCredits(_ string, requested int) int {
	if requested <= 0 {
		return 1
	}
	return requested
}
