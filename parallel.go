package apicache

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/seolytics/apicache/pkg/types"
)

// Job is one request in a parallel batch.
type Job struct {
	Endpoint string
	Params   map[string]any
	Options  *RequestOptions
}

// JobResult pairs a batch slot with its outcome. Upstream error statuses are
// carried in Result; Err is set only for network failures and cancellation.
type JobResult struct {
	Result *types.CachedResult
	Err    error
}

// SendCachedRequestsParallel fans out a batch of requests concurrently while
// honoring the same cache and rate-limit contracts as SendCachedRequest.
// Results are returned in job order regardless of completion order.
//
// Capacity for all live jobs is verified against the remaining credits
// before anything is dispatched; an exhausted bucket fails the whole batch
// with *types.RateLimitError. The check and the per-job increments are not
// one atomic reservation, so a concurrent caller can consume credits in
// between; such overruns are tolerated.
//
// Canceling ctx aborts outstanding jobs; completed slots keep their results
// and aborted slots surface the cancellation error.
func (c *Client) SendCachedRequestsParallel(ctx context.Context, jobs []Job) ([]JobResult, error) {
	results := make([]JobResult, len(jobs))
	if len(jobs) == 0 {
		return results, nil
	}

	type liveJob struct {
		idx    int
		key    string
		ro     RequestOptions
		amount int
	}

	// Phase one: resolve cache hits and collect the live set.
	var live []liveJob
	needed := 0
	for i, job := range jobs {
		if job.Endpoint == "" {
			results[i].Err = &types.InvalidArgumentError{Field: "endpoint", Reason: "must not be empty"}
			continue
		}

		ro := c.normalizeOptions(job.Options)
		key := c.manager.GenerateCacheKey(c.name, job.Endpoint, job.Params, ro.Method, c.version)

		useCache := c.useCache
		if ro.UseCache != nil {
			useCache = *ro.UseCache
		}
		if useCache {
			cached, err := c.manager.GetCachedResponse(ctx, c.name, key)
			if err != nil {
				// Lookup failures, including cancellation, stay in their
				// slot; sibling jobs proceed.
				results[i].Err = err
				continue
			}
			if cached != nil {
				results[i].Result = cached
				continue
			}
		}

		amount := c.hooks.CalculateCredits(job.Endpoint, ro.Amount)
		live = append(live, liveJob{idx: i, key: key, ro: ro, amount: amount})
		needed += amount
	}

	if len(live) == 0 {
		return results, nil
	}

	// Phase two: verify capacity before any dispatch.
	remaining, err := c.manager.RemainingAttempts(ctx, c.name)
	if err != nil {
		return nil, err
	}
	if remaining < needed {
		availableIn, aerr := c.manager.AvailableIn(ctx, c.name)
		if aerr != nil {
			return nil, aerr
		}
		return nil, &types.RateLimitError{Client: c.name, AvailableIn: availableIn}
	}

	// Phase three: bounded fan-out. Individual failures stay in their slot
	// and never abort sibling jobs.
	bound := c.maxParallel
	if len(live) < bound {
		bound = len(live)
	}

	g := &errgroup.Group{}
	g.SetLimit(bound)
	for _, lj := range live {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[lj.idx].Err = err
				return nil
			}
			job := jobs[lj.idx]
			res, err := c.dispatch(ctx, lj.key, job.Endpoint, job.Params, lj.ro, lj.amount)
			results[lj.idx] = JobResult{Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}
