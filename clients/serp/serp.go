// Package serp wraps a search-results provider behind the cached base
// client. It validates request parameters, plugs in the provider's error
// envelope, and exposes the deferred-task flow for the slower task-based
// endpoints.
package serp

import (
	"context"
	"net/http"

	apicache "github.com/seolytics/apicache"
	"github.com/seolytics/apicache/internal/cachemanager"
	"github.com/seolytics/apicache/internal/observability"
	"github.com/seolytics/apicache/internal/task"
	"github.com/seolytics/apicache/pkg/types"
)

const (
	liveEndpoint     = "serp/google/organic/live/advanced"
	taskPostEndpoint = "serp/google/organic/task_post"
	resultEndpoint   = "serp/google/organic/task_get/advanced"
)

// SearchParams describes one SERP lookup.
type SearchParams struct {
	Keyword      string
	LocationCode int
	LanguageCode string
	Device       string

	// Depth caps how many results the provider returns; zero keeps the
	// provider default.
	Depth int
}

func (p SearchParams) validate() error {
	if p.Keyword == "" {
		return &types.InvalidArgumentError{Field: "keyword", Reason: "must not be empty"}
	}
	if p.LocationCode <= 0 {
		return &types.InvalidArgumentError{Field: "location_code", Reason: "must be positive"}
	}
	if p.LanguageCode == "" {
		return &types.InvalidArgumentError{Field: "language_code", Reason: "must not be empty"}
	}
	switch p.Device {
	case "", "desktop", "mobile":
	default:
		return &types.InvalidArgumentError{Field: "device", Reason: "must be desktop or mobile"}
	}
	return nil
}

func (p SearchParams) toMap() map[string]any {
	m := map[string]any{
		"keyword":       p.Keyword,
		"location_code": p.LocationCode,
		"language_code": p.LanguageCode,
	}
	if p.Device != "" {
		m["device"] = p.Device
	}
	if p.Depth > 0 {
		m["depth"] = p.Depth
	}
	return m
}

// Client is the SERP vendor wrapper.
type Client struct {
	base *apicache.Client

	postbackURL  string
	postbackData string
	pingbackURL  string
}

// Option configures the wrapper beyond the base client.
type Option func(*Client)

// WithPostback sets the webhook delivery target for task-based fetches.
func WithPostback(url, data string) Option {
	return func(c *Client) {
		c.postbackURL = url
		c.postbackData = data
	}
}

// WithPingback sets the lightweight completion-ping target.
func WithPingback(url string) Option {
	return func(c *Client) { c.pingbackURL = url }
}

// New creates the wrapper. Base client options (credentials, base URL, TTL)
// are passed through unchanged.
func New(name string, manager *cachemanager.Manager, baseOpts []apicache.Option, opts ...Option) (*Client, error) {
	base, err := apicache.NewClient(name, manager, baseOpts...)
	if err != nil {
		return nil, err
	}
	c := &Client{base: base}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Base exposes the underlying cached client for callers needing the generic
// surface.
func (c *Client) Base() *apicache.Client { return c.base }

// Search runs a live SERP lookup through the cache. Upstream error statuses
// come back as both the raw result and a *types.HTTPStatusError.
func (c *Client) Search(ctx context.Context, params SearchParams) (*types.CachedResult, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	res, err := c.base.SendCachedRequest(ctx, liveEndpoint, params.toMap(), &apicache.RequestOptions{
		Method: http.MethodPost,
	})
	if err != nil {
		return nil, err
	}
	return res, c.base.HTTPError(res)
}

// SearchBatch fans out several live lookups in parallel, preserving input
// order.
func (c *Client) SearchBatch(ctx context.Context, batch []SearchParams) ([]apicache.JobResult, error) {
	jobs := make([]apicache.Job, 0, len(batch))
	for _, params := range batch {
		if err := params.validate(); err != nil {
			return nil, err
		}
		jobs = append(jobs, apicache.Job{
			Endpoint: liveEndpoint,
			Params:   params.toMap(),
			Options:  &apicache.RequestOptions{Method: http.MethodPost},
		})
	}
	return c.base.SendCachedRequestsParallel(ctx, jobs)
}

// StandardSearch returns the cached result for the parameters or posts a
// deferred provider task tagged so its webhook delivery lands under the same
// cache key. With postTask false a cache miss returns types.ErrNotCached.
func (c *Client) StandardSearch(ctx context.Context, params SearchParams, postTask bool) (*types.CachedResult, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	return task.StandardFetch(ctx, c.base, params.toMap(), task.StandardOptions{
		ResultEndpoint:      resultEndpoint,
		TaskPostEndpoint:    taskPostEndpoint,
		PostTaskIfNotCached: postTask,
		PostbackURL:         c.postbackURL,
		PostbackData:        c.postbackData,
		PingbackURL:         c.pingbackURL,
	})
}

// Reconciler returns a webhook reconciler storing deliveries under this
// client's result endpoint.
func (c *Client) Reconciler(logger *observability.Logger) *Reconciler {
	return &Reconciler{
		inner:  task.NewReconciler(c.base.Manager(), logger),
		client: c.base.Name(),
	}
}

// Reconciler binds the generic tag reconciler to the SERP result endpoint.
type Reconciler struct {
	inner  *task.Reconciler
	client string
}

// Reconcile stores one webhook payload under its tag.
func (r *Reconciler) Reconcile(ctx context.Context, tag string, payload []byte) error {
	return r.inner.Reconcile(ctx, r.client, tag, resultEndpoint, payload)
}
