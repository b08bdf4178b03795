package apicache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/seolytics/apicache/internal/cachemanager"
	"github.com/seolytics/apicache/internal/httputil"
	"github.com/seolytics/apicache/internal/metrics"
	"github.com/seolytics/apicache/internal/observability"
	"github.com/seolytics/apicache/pkg/types"
)

// Client is the base HTTP client every vendor wrapper builds on. One call to
// SendCachedRequest runs the full lifecycle: cache lookup, rate-limit
// reservation, dispatch, credit accounting, error routing, and storage.
//
// Client is safe for concurrent use by multiple goroutines.
type Client struct {
	name       string
	baseURL    string
	version    string
	manager    *cachemanager.Manager
	httpClient *http.Client
	hooks      Hooks
	logger     *observability.Logger
	redactor   *observability.Redactor

	useCache     bool
	cacheTTL     *time.Duration
	maxParallel  int
	maxBodyBytes int64
}

// RequestOptions tunes a single request. The zero value means POST, one
// credit, cache enabled, client-default TTL.
type RequestOptions struct {
	// Method is GET or POST; default POST.
	Method string

	// Free-form application tags stored on the cache entry.
	Attributes  string
	Attributes2 string
	Attributes3 string

	// Amount of credits this call consumes; default 1. Hooks may adjust it
	// per endpoint.
	Amount int

	// UseCache overrides the client-level cache toggle for this call.
	UseCache *bool

	// TTL overrides the client-level cache TTL for this call.
	TTL *time.Duration
}

// NewClient creates a vendor client bound to the shared cache manager.
func NewClient(name string, manager *cachemanager.Manager, opts ...Option) (*Client, error) {
	if name == "" {
		return nil, &types.InvalidArgumentError{Field: "name", Reason: "must not be empty"}
	}
	if manager == nil {
		return nil, &types.InvalidArgumentError{Field: "manager", Reason: "must not be nil"}
	}

	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.baseURL == "" {
		return nil, &types.InvalidArgumentError{Field: "base_url", Reason: "must not be empty"}
	}

	httpClient := cfg.httpClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	redactor := cfg.logger.Redactor()
	if redactor == nil {
		redactor = observability.NewRedactor()
	}

	c := &Client{
		name:         name,
		baseURL:      strings.TrimRight(cfg.baseURL, "/"),
		version:      cfg.version,
		manager:      manager,
		httpClient:   httpClient,
		hooks:        cfg.hooks,
		logger:       cfg.logger,
		redactor:     redactor,
		useCache:     cfg.useCache,
		cacheTTL:     cfg.cacheTTL,
		maxParallel:  cfg.maxParallel,
		maxBodyBytes: cfg.maxBodyBytes,
	}
	if cfg.timeout > 0 {
		c.httpClient.Timeout = cfg.timeout
	}

	return c, nil
}

// Name returns the client's short name.
func (c *Client) Name() string { return c.name }

// Version returns the configured API version, possibly empty.
func (c *Client) Version() string { return c.version }

// Manager returns the shared cache manager façade.
func (c *Client) Manager() *cachemanager.Manager { return c.manager }

// CacheKey computes the fingerprint this client would use for a request.
func (c *Client) CacheKey(endpoint string, params map[string]any, method string) string {
	if method == "" {
		method = http.MethodPost
	}
	return c.manager.GenerateCacheKey(c.name, endpoint, params, method, c.version)
}

// CachedResponse looks up a key directly, bypassing dispatch.
func (c *Client) CachedResponse(ctx context.Context, key string) (*types.CachedResult, error) {
	return c.manager.GetCachedResponse(ctx, c.name, key)
}

// HTTPError returns a *types.HTTPStatusError describing res when it carries
// an upstream error status, nil otherwise. SendCachedRequest itself hands
// error statuses back as results; wrappers that prefer raising use this.
func (c *Client) HTTPError(res *types.CachedResult) error {
	if res == nil || res.StatusCode < 400 {
		return nil
	}
	return &types.HTTPStatusError{
		Status:     res.StatusCode,
		Body:       res.ResponseBody,
		APIMessage: c.hooks.APIMessage(res.StatusCode, res.ResponseBody),
	}
}

// SendCachedRequest runs the full request lifecycle for one endpoint call.
//
// Cache hits return with IsCached set and no HTTP traffic. On a miss the
// client reserves credits, dispatches, consumes the credits on any
// HTTP-reachable completion, routes status >= 400 through the error log, and
// stores the response when the hooks allow it. Network-level failures return
// a *types.NetworkError and touch neither cache nor credits.
func (c *Client) SendCachedRequest(ctx context.Context, endpoint string, params map[string]any, opts *RequestOptions) (*types.CachedResult, error) {
	if endpoint == "" {
		return nil, &types.InvalidArgumentError{Field: "endpoint", Reason: "must not be empty"}
	}

	ro := c.normalizeOptions(opts)
	key := c.manager.GenerateCacheKey(c.name, endpoint, params, ro.Method, c.version)

	useCache := c.useCache
	if ro.UseCache != nil {
		useCache = *ro.UseCache
	}
	if useCache {
		cached, err := c.manager.GetCachedResponse(ctx, c.name, key)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			return cached, nil
		}
	}

	amount := c.hooks.CalculateCredits(endpoint, ro.Amount)
	if err := c.reserve(ctx, amount); err != nil {
		return nil, err
	}

	return c.dispatch(ctx, key, endpoint, params, ro, amount)
}

// reserve verifies the bucket holds enough credits for the call. Credits are
// consumed after dispatch, not here; see the package concurrency notes.
func (c *Client) reserve(ctx context.Context, amount int) error {
	allowed, err := c.manager.AllowRequest(ctx, c.name)
	if err != nil {
		return err
	}
	remaining := 0
	if allowed {
		remaining, err = c.manager.RemainingAttempts(ctx, c.name)
		if err != nil {
			return err
		}
	}
	if !allowed || remaining < amount {
		availableIn, aerr := c.manager.AvailableIn(ctx, c.name)
		if aerr != nil {
			return aerr
		}
		return &types.RateLimitError{Client: c.name, AvailableIn: availableIn}
	}
	return nil
}

func (c *Client) normalizeOptions(opts *RequestOptions) RequestOptions {
	ro := RequestOptions{}
	if opts != nil {
		ro = *opts
	}
	if ro.Method == "" {
		ro.Method = http.MethodPost
	}
	ro.Method = strings.ToUpper(ro.Method)
	if ro.Amount <= 0 {
		ro.Amount = 1
	}
	if ro.TTL == nil {
		ro.TTL = c.cacheTTL
	}
	return ro
}

// dispatch performs the upstream call and all post-dispatch bookkeeping.
func (c *Client) dispatch(ctx context.Context, key, endpoint string, params map[string]any, ro RequestOptions, amount int) (*types.CachedResult, error) {
	fullURL := c.buildURL(endpoint)

	var reqBody []byte
	req, err := c.buildRequest(ctx, ro.Method, fullURL, params, &reqBody)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.networkError(err)
	}

	body, err := httputil.ReadLimitedBody(resp.Body, c.maxBodyBytes)
	_ = resp.Body.Close()
	if err != nil {
		return nil, c.networkError(err)
	}
	elapsed := time.Since(start)

	// Credits are consumed on any HTTP-reachable completion, success or not.
	if err := c.manager.IncrementAttempts(ctx, c.name, amount); err != nil {
		return nil, err
	}

	metrics.UpstreamRequests.WithLabelValues(c.name, strconv.Itoa(resp.StatusCode)).Inc()
	metrics.UpstreamLatency.WithLabelValues(c.name, endpoint).Observe(elapsed.Seconds())

	if resp.StatusCode >= 400 {
		c.logHTTPError(ctx, endpoint, req.URL.String(), resp.StatusCode, reqBody, body)
	}

	result := &types.CachedResult{
		Key:             key,
		Client:          c.name,
		Endpoint:        endpoint,
		Method:          ro.Method,
		BaseURL:         c.baseURL,
		FullURL:         req.URL.String(),
		Version:         c.version,
		Attributes:      ro.Attributes,
		Attributes2:     ro.Attributes2,
		Attributes3:     ro.Attributes3,
		Credits:         amount,
		Cost:            c.hooks.CalculateCost(body),
		RequestHeaders:  c.redactor.RedactHeaders(req.Header),
		RequestBody:     reqBody,
		ResponseHeaders: resp.Header,
		ResponseBody:    body,
		StatusCode:      resp.StatusCode,
		ResponseSize:    int64(len(body)),
		ResponseTime:    elapsed.Seconds(),
		IsCached:        false,
		CreatedAt:       time.Now().UTC(),
	}

	if c.hooks.ShouldCache(resp.StatusCode, body) {
		if err := c.manager.StoreResponse(ctx, types.StoreParams{
			Client:          c.name,
			Key:             key,
			Endpoint:        endpoint,
			Method:          ro.Method,
			Version:         c.version,
			BaseURL:         c.baseURL,
			FullURL:         result.FullURL,
			Attributes:      ro.Attributes,
			Attributes2:     ro.Attributes2,
			Attributes3:     ro.Attributes3,
			Credits:         amount,
			Cost:            result.Cost,
			RequestHeaders:  result.RequestHeaders,
			RequestBody:     reqBody,
			ResponseHeaders: resp.Header,
			ResponseBody:    body,
			StatusCode:      resp.StatusCode,
			ResponseSize:    result.ResponseSize,
			ResponseTime:    result.ResponseTime,
			TTL:             ro.TTL,
		}); err != nil {
			// A failed cache write must not fail the request the caller is
			// still holding a valid response for.
			c.logger.RedactedError("store response failed",
				"client", c.name, "endpoint", endpoint, "error", err)
		}
	}

	return result, nil
}

func (c *Client) buildURL(endpoint string) string {
	parts := []string{c.baseURL}
	if c.version != "" {
		parts = append(parts, c.version)
	}
	parts = append(parts, strings.TrimLeft(endpoint, "/"))
	return strings.Join(parts, "/")
}

func (c *Client) buildRequest(ctx context.Context, method, fullURL string, params map[string]any, reqBody *[]byte) (*http.Request, error) {
	query := c.hooks.AuthParams()

	var bodyReader *bytes.Reader
	switch method {
	case http.MethodGet:
		for k, v := range params {
			query.Set(k, fmt.Sprint(v))
		}
		bodyReader = bytes.NewReader(nil)
	case http.MethodPost:
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		*reqBody = encoded
		bodyReader = bytes.NewReader(encoded)
	default:
		return nil, &types.InvalidArgumentError{Field: "method", Reason: "must be GET or POST"}
	}

	u, err := url.Parse(fullURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if encoded := query.Encode(); encoded != "" {
		u.RawQuery = encoded
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	for k, vs := range c.hooks.AuthHeaders() {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

func (c *Client) networkError(err error) error {
	timeout := errors.Is(err, context.DeadlineExceeded)
	var netErr net.Error
	if !timeout && errors.As(err, &netErr) && netErr.Timeout() {
		timeout = true
	}
	return &types.NetworkError{Err: err, Timeout: timeout}
}

// logHTTPError records an upstream error response, letting the hooks extract
// the vendor-specific detail. Context excerpts are truncated and redacted
// before persistence.
func (c *Client) logHTTPError(ctx context.Context, endpoint, fullURL string, status int, reqBody, respBody []byte) {
	apiMessage := c.hooks.APIMessage(status, respBody)

	entry := types.ErrorEntry{
		APIClient:    c.name,
		ErrorType:    types.ErrorTypeHTTP,
		ErrorMessage: fmt.Sprintf("HTTP %d from %s", status, endpoint),
		APIMessage:   apiMessage,
		Context: map[string]any{
			"status_code":      status,
			"endpoint":         endpoint,
			"full_url":         fullURL,
			"request_excerpt":  excerpt(reqBody, 512),
			"response_excerpt": excerpt(respBody, 512),
		},
	}
	if err := c.manager.LogError(ctx, entry); err != nil {
		c.logger.RedactedError("write error log failed", "client", c.name, "error", err)
	}

	c.logger.RedactedWarn("upstream http error",
		"client", c.name,
		"endpoint", endpoint,
		"status", status,
		"api_message", apiMessage,
	)
}

func excerpt(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
