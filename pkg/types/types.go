// Package types defines the shared data structures exchanged between the
// cache manager, the base HTTP client, and the response processors.
package types

import (
	"time"
)

// Error types recorded in the api_errors table.
const (
	ErrorTypeHTTP          = "http_error"
	ErrorTypeCacheRejected = "cache_rejected"
	ErrorTypeProcessing    = "processing_error"
)

// Processed status values stored alongside processed_at.
const (
	ProcessedOK    = "OK"
	ProcessedError = "ERROR"
)

// CachedResult is the uniform result returned for every request, whether it
// was served from the cache or dispatched upstream.
type CachedResult struct {
	Key      string `json:"key"`
	Client   string `json:"client"`
	Endpoint string `json:"endpoint"`
	Method   string `json:"method"`
	BaseURL  string `json:"base_url"`
	FullURL  string `json:"full_url"`
	Version  string `json:"version,omitempty"`

	// Free-form application tags. The core never filters on these.
	Attributes  string `json:"attributes,omitempty"`
	Attributes2 string `json:"attributes2,omitempty"`
	Attributes3 string `json:"attributes3,omitempty"`

	Credits int      `json:"credits"`
	Cost    *float64 `json:"cost,omitempty"`

	RequestHeaders  map[string][]string `json:"request_headers,omitempty"`
	RequestBody     []byte              `json:"request_body,omitempty"`
	ResponseHeaders map[string][]string `json:"response_headers,omitempty"`
	ResponseBody    []byte              `json:"response_body,omitempty"`

	StatusCode   int     `json:"response_status_code"`
	ResponseSize int64   `json:"response_size"`
	ResponseTime float64 `json:"response_time"`

	IsCached  bool       `json:"is_cached"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// StoreParams carries everything needed to insert or update a cache entry.
type StoreParams struct {
	Client   string
	Key      string
	Endpoint string
	Method   string
	Version  string
	BaseURL  string
	FullURL  string

	Attributes  string
	Attributes2 string
	Attributes3 string

	Credits int
	Cost    *float64

	RequestHeaders  map[string][]string
	RequestBody     []byte
	ResponseHeaders map[string][]string
	ResponseBody    []byte

	StatusCode   int
	ResponseSize int64
	ResponseTime float64

	// TTL of nil means the entry never expires.
	TTL *time.Duration
}

// ErrorEntry is an append-only row in the shared errors table.
type ErrorEntry struct {
	APIClient    string
	ErrorType    string
	ErrorMessage string
	// APIMessage holds the vendor-extracted detail, empty when the body
	// carried no recognizable error envelope.
	APIMessage string
	Context    map[string]any
}

// ResponseRow is the slice of a cache entry handed to processors.
// The body is already decompressed.
type ResponseRow struct {
	ID           int64
	Client       string
	Key          string
	Endpoint     string
	BaseURL      string
	ResponseBody []byte
	StatusCode   int
	CreatedAt    time.Time
}

// ProcessedStatus is serialized into the processed_status column.
type ProcessedStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Counts int    `json:"counts"`
}
