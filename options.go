package apicache

import (
	"net/http"
	"time"

	"github.com/seolytics/apicache/internal/config"
	"github.com/seolytics/apicache/internal/httputil"
	"github.com/seolytics/apicache/internal/observability"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxParallel = 10
)

type clientConfig struct {
	baseURL      string
	version      string
	httpClient   *http.Client
	timeout      time.Duration
	hooks        Hooks
	logger       *observability.Logger
	useCache     bool
	cacheTTL     *time.Duration
	maxParallel  int
	maxBodyBytes int64
}

func defaultClientConfig() *clientConfig {
	return &clientConfig{
		timeout:      defaultTimeout,
		hooks:        &DefaultHooks{},
		logger:       observability.NewNop(),
		useCache:     true,
		maxParallel:  defaultMaxParallel,
		maxBodyBytes: httputil.DefaultMaxResponseBodyBytes,
	}
}

// Option configures a Client.
type Option func(*clientConfig)

// WithBaseURL sets the upstream base URL.
func WithBaseURL(u string) Option {
	return func(c *clientConfig) { c.baseURL = u }
}

// WithVersion sets the optional API version segment inserted between the
// base URL and the endpoint.
func WithVersion(v string) Option {
	return func(c *clientConfig) { c.version = v }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *clientConfig) { c.httpClient = hc }
}

// WithTimeout sets the per-request dispatch timeout. Default 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) { c.timeout = d }
}

// WithHooks installs the vendor capability hooks.
func WithHooks(h Hooks) Option {
	return func(c *clientConfig) { c.hooks = h }
}

// WithLogger sets the structured logger.
func WithLogger(l *observability.Logger) Option {
	return func(c *clientConfig) { c.logger = l }
}

// WithCacheDisabled turns off cache lookups for this client; responses are
// still stored.
func WithCacheDisabled() Option {
	return func(c *clientConfig) { c.useCache = false }
}

// WithCacheTTL sets the default TTL applied to stored entries.
func WithCacheTTL(d time.Duration) Option {
	return func(c *clientConfig) { c.cacheTTL = &d }
}

// WithMaxParallel bounds concurrent fan-out in SendCachedRequestsParallel.
// Default 10.
func WithMaxParallel(n int) Option {
	return func(c *clientConfig) {
		if n > 0 {
			c.maxParallel = n
		}
	}
}

// WithMaxBodyBytes caps upstream response bodies. Default 10MB.
func WithMaxBodyBytes(n int64) Option {
	return func(c *clientConfig) { c.maxBodyBytes = n }
}

// FromConfig applies a client's configuration block: base URL, version,
// credentials, and cache TTL. Options given after FromConfig override it.
func FromConfig(cfg config.ClientConfig) Option {
	return func(c *clientConfig) {
		c.baseURL = cfg.BaseURL
		c.version = cfg.Version
		c.cacheTTL = cfg.CacheTTL()
		if cfg.Timeout > 0 {
			c.timeout = cfg.Timeout
		}
		if cfg.APIKey != "" || cfg.Login != "" {
			c.hooks = &DefaultHooks{
				APIKey:   cfg.APIKey,
				Login:    cfg.Login,
				Password: cfg.Password,
			}
		}
	}
}
