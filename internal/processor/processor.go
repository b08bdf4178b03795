// Package processor turns raw stored responses into normalized relational
// rows. Each extractor targets one endpoint family; the runner scans
// unprocessed cache entries, hands them to the extractor, and stamps each
// response processed exactly once.
package processor

import (
	"context"

	"github.com/seolytics/apicache/internal/cachestore"
	"github.com/seolytics/apicache/internal/metrics"
	"github.com/seolytics/apicache/internal/observability"
	"github.com/seolytics/apicache/pkg/types"
)

// Policy holds the per-runner switches. Setters on the runner mutate it
// between runs.
type Policy struct {
	// SkipSandbox excludes rows whose base_url identifies the provider's
	// sandbox environment. Default true.
	SkipSandbox bool

	// UpdateIfNewer overwrites an existing destination row only when the new
	// response is strictly newer; on an exact timestamp tie the existing row
	// wins. Default true.
	UpdateIfNewer bool

	// SkipNestedItems suppresses descent into nested structures such as
	// People-Also-Ask blocks. Default false.
	SkipNestedItems bool
}

// DefaultPolicy returns the documented defaults.
func DefaultPolicy() Policy {
	return Policy{SkipSandbox: true, UpdateIfNewer: true, SkipNestedItems: false}
}

// Extractor parses one response body and writes destination rows.
type Extractor interface {
	// Name identifies the processor in logs and metrics.
	Name() string

	// Client names the upstream client whose responses are scanned.
	Client() string

	// EndpointPatterns returns the SQL LIKE patterns selecting this
	// processor's endpoint family.
	EndpointPatterns() []string

	// Extract parses the body and upserts destination rows, returning how
	// many were written. A parse failure returns an error; the runner marks
	// the response ERROR-processed and moves on.
	Extract(ctx context.Context, row types.ResponseRow, policy Policy) (int, error)

	// ClearTables truncates the destination tables. Counts are collected
	// only when withCount is set; otherwise the map is nil, signaling "not
	// measured".
	ClearTables(ctx context.Context, withCount bool) (map[string]int64, error)
}

// Stats accumulates the outcome of one or more processing batches.
type Stats struct {
	Scanned   int `json:"scanned"`
	Processed int `json:"processed"`
	Extracted int `json:"extracted"`
	Errors    int `json:"errors"`
}

func (s *Stats) add(other Stats) {
	s.Scanned += other.Scanned
	s.Processed += other.Processed
	s.Extracted += other.Extracted
	s.Errors += other.Errors
}

// Runner drives one extractor over the cache repository.
type Runner struct {
	repo      *cachestore.Repository
	extractor Extractor
	logger    *observability.Logger
	policy    Policy
}

// NewRunner creates a runner with the default policy.
func NewRunner(repo *cachestore.Repository, extractor Extractor, logger *observability.Logger) *Runner {
	if logger == nil {
		logger = observability.NewNop()
	}
	return &Runner{
		repo:      repo,
		extractor: extractor,
		logger:    logger,
		policy:    DefaultPolicy(),
	}
}

// SetSkipSandbox toggles sandbox-row exclusion.
func (r *Runner) SetSkipSandbox(v bool) { r.policy.SkipSandbox = v }

// SetUpdateIfNewer toggles newer-wins overwriting on key collisions.
func (r *Runner) SetUpdateIfNewer(v bool) { r.policy.UpdateIfNewer = v }

// SetSkipNestedItems toggles descent into nested structures.
func (r *Runner) SetSkipNestedItems(v bool) { r.policy.SkipNestedItems = v }

// ProcessResponses scans up to limit unprocessed rows matching the
// extractor's endpoint patterns, extracts entities, and marks each response
// processed. Parse failures mark the single response ERROR-processed and do
// not stop the batch.
func (r *Runner) ProcessResponses(ctx context.Context, limit int) (Stats, error) {
	var stats Stats
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.repo.UnprocessedResponses(ctx,
		r.extractor.Client(), r.extractor.EndpointPatterns(), r.policy.SkipSandbox, limit)
	if err != nil {
		return stats, err
	}
	stats.Scanned = len(rows)

	for _, row := range rows {
		count, err := r.extractor.Extract(ctx, row, r.policy)
		if err != nil {
			stats.Errors++
			metrics.ProcessorErrors.WithLabelValues(r.extractor.Name()).Inc()

			if markErr := r.repo.MarkProcessed(ctx, row.ID, types.ProcessedStatus{
				Status: types.ProcessedError,
				Error:  err.Error(),
			}); markErr != nil {
				return stats, markErr
			}

			_ = r.repo.LogError(ctx, types.ErrorEntry{
				APIClient:    row.Client,
				ErrorType:    types.ErrorTypeProcessing,
				ErrorMessage: err.Error(),
				Context: map[string]any{
					"processor":   r.extractor.Name(),
					"response_id": row.ID,
					"endpoint":    row.Endpoint,
				},
			})
			continue
		}

		if err := r.repo.MarkProcessed(ctx, row.ID, types.ProcessedStatus{
			Status: types.ProcessedOK,
			Counts: count,
		}); err != nil {
			return stats, err
		}

		stats.Processed++
		stats.Extracted += count
		metrics.ProcessorRows.WithLabelValues(r.extractor.Name()).Add(float64(count))
	}

	return stats, nil
}

// ProcessResponsesAll loops ProcessResponses until no unprocessed rows
// remain, accumulating stats across batches.
func (r *Runner) ProcessResponsesAll(ctx context.Context, batchSize int) (Stats, error) {
	var total Stats
	if batchSize <= 0 {
		batchSize = 100
	}

	for {
		batch, err := r.ProcessResponses(ctx, batchSize)
		total.add(batch)
		if err != nil {
			return total, err
		}
		if batch.Scanned == 0 {
			return total, nil
		}
	}
}

// ResetProcessed clears the processed markers for this extractor's endpoint
// patterns only, making the rows eligible for reprocessing.
func (r *Runner) ResetProcessed(ctx context.Context) (int64, error) {
	return r.repo.ResetProcessed(ctx, r.extractor.Client(), r.extractor.EndpointPatterns())
}

// ClearProcessedTables truncates the extractor's destination tables.
func (r *Runner) ClearProcessedTables(ctx context.Context, withCount bool) (map[string]int64, error) {
	return r.extractor.ClearTables(ctx, withCount)
}
