// Package task implements the deferred-task pattern for asynchronous
// upstream APIs: a task is posted tagged with the cache key computed from
// the search parameters, and the webhook delivery is later reconciled under
// that same key so the next identical call hits the cache.
package task

import (
	"context"
	"net/http"

	apicache "github.com/seolytics/apicache"
	"github.com/seolytics/apicache/pkg/types"
)

// Control parameters are stripped before key generation so that a future
// plain fetch with the same search parameters computes the same key the
// webhook delivery was stored under.
var controlParams = map[string]bool{
	"postback_url":            true,
	"postback_data":           true,
	"pingback_url":            true,
	"post_task_if_not_cached": true,
	"tag":                     true,
}

// StandardOptions configures one standard fetch.
type StandardOptions struct {
	// ResultEndpoint is the endpoint the final result is cached under.
	ResultEndpoint string

	// TaskPostEndpoint is the provider's task-submission endpoint.
	TaskPostEndpoint string

	// PostTaskIfNotCached posts a provider task on cache miss. When false a
	// miss returns types.ErrNotCached.
	PostTaskIfNotCached bool

	// PostbackURL, PostbackData, and PingbackURL are forwarded to the
	// provider so it can deliver the finished task.
	PostbackURL  string
	PostbackData string
	PingbackURL  string

	// Request carries the usual per-request tuning for the task post.
	Request *apicache.RequestOptions
}

// StandardFetch returns the cached result for the search parameters, or
// posts a deferred task tagged with the would-be cache key.
//
// The returned result is either the cached payload (IsCached true) or the
// task-post acknowledgment, which is cached under its own separate key.
func StandardFetch(ctx context.Context, c *apicache.Client, params map[string]any, opts StandardOptions) (*types.CachedResult, error) {
	if opts.ResultEndpoint == "" {
		return nil, &types.InvalidArgumentError{Field: "result_endpoint", Reason: "must not be empty"}
	}

	search := stripControlParams(params)
	key := c.CacheKey(opts.ResultEndpoint, search, http.MethodPost)

	cached, err := c.CachedResponse(ctx, key)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	if !opts.PostTaskIfNotCached {
		return nil, types.ErrNotCached
	}
	if opts.TaskPostEndpoint == "" {
		return nil, &types.InvalidArgumentError{Field: "task_post_endpoint", Reason: "must not be empty"}
	}

	taskParams := make(map[string]any, len(search)+4)
	for k, v := range search {
		taskParams[k] = v
	}
	taskParams["tag"] = key
	if opts.PostbackURL != "" {
		taskParams["postback_url"] = opts.PostbackURL
		if opts.PostbackData != "" {
			taskParams["postback_data"] = opts.PostbackData
		}
	}
	if opts.PingbackURL != "" {
		taskParams["pingback_url"] = opts.PingbackURL
	}

	return c.SendCachedRequest(ctx, opts.TaskPostEndpoint, taskParams, opts.Request)
}

func stripControlParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		if controlParams[k] {
			continue
		}
		out[k] = v
	}
	return out
}
