// Package apicache is a multi-tenant caching and rate-limiting gateway for
// third-party HTTP APIs. Applications call upstream vendors through a Client
// instead of issuing raw HTTP requests: identical requests are served from a
// persistent response cache, each dispatch reserves credits from a per-client
// fixed-window bucket, stored payloads are optionally compressed, and errors
// are logged with vendor-specific enrichment.
//
// A minimal setup wires the shared services once and hands the resulting
// manager to each client:
//
//	mgr := cachemanager.New(repo, limiter, logger)
//	client, err := apicache.NewClient("serp", mgr,
//	    apicache.WithBaseURL("https://api.example.com"),
//	    apicache.WithVersion("v3"),
//	)
//	res, err := client.SendCachedRequest(ctx, "search",
//	    map[string]any{"keyword": "cats"}, nil)
package apicache

import (
	"github.com/seolytics/apicache/pkg/types"
)

// Re-exported result and error types, so callers rarely need pkg/types
// directly.
type (
	Result          = types.CachedResult
	StoreParams     = types.StoreParams
	ErrorEntry      = types.ErrorEntry
	RateLimitError  = types.RateLimitError
	HTTPStatusError = types.HTTPStatusError
	NetworkError    = types.NetworkError
	InvalidArgument = types.InvalidArgumentError
)

// ErrNotCached is returned by standard deferred-task fetches when nothing is
// cached and task posting was not requested.
var ErrNotCached = types.ErrNotCached
