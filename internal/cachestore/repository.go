// Package cachestore persists cached upstream responses and the shared error
// log. A single api_responses table with a client column plays the role of
// the per-client response tables; (client, key) is unique and writes to an
// existing key update the row in place.
package cachestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/seolytics/apicache/internal/compression"
	"github.com/seolytics/apicache/internal/metrics"
	"github.com/seolytics/apicache/internal/observability"
	"github.com/seolytics/apicache/pkg/types"
)

// Repository is the cache table I/O layer. Bodies pass through the
// compression service on both paths; headers are stored as plain JSON.
type Repository struct {
	db         *sql.DB
	dialect    Dialect
	compressor *compression.Service
	logger     *observability.Logger
	now        func() time.Time
}

// New creates a repository over an open database handle.
func New(db *sql.DB, dialect Dialect, compressor *compression.Service, logger *observability.Logger) *Repository {
	if logger == nil {
		logger = observability.NewNop()
	}
	return &Repository{
		db:         db,
		dialect:    dialect,
		compressor: compressor,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// DB exposes the underlying handle for processor destination tables.
func (r *Repository) DB() *sql.DB { return r.db }

// Dialect reports the SQL flavor in use.
func (r *Repository) Dialect() Dialect { return r.dialect }

const resultColumns = `key, client, endpoint, method, base_url, full_url, version,
	attributes, attributes2, attributes3, credits, cost,
	request_headers, request_body, response_headers, response_body,
	response_status_code, response_size, response_time, expires_at, created_at`

// GetCachedResponse returns the cached entry for (client, key), or nil when
// absent, expired, or unreadable. When multiple rows could match the newest
// by created_at wins. A row whose body fails decompression is treated as a
// miss and logged as cache_rejected.
func (r *Repository) GetCachedResponse(ctx context.Context, client, key string) (*types.CachedResult, error) {
	query := r.dialect.Rebind(`SELECT ` + resultColumns + `
		FROM api_responses
		WHERE client = ? AND key = ?
		ORDER BY created_at DESC
		LIMIT 1`)

	row := r.db.QueryRowContext(ctx, query, client, key)

	var (
		res           types.CachedResult
		cost          sql.NullFloat64
		reqHeaders    []byte
		respHeaders   []byte
		expiresAtUnix sql.NullInt64
		createdUnix   int64
	)

	err := row.Scan(
		&res.Key, &res.Client, &res.Endpoint, &res.Method, &res.BaseURL, &res.FullURL, &res.Version,
		&res.Attributes, &res.Attributes2, &res.Attributes3, &res.Credits, &cost,
		&reqHeaders, &res.RequestBody, &respHeaders, &res.ResponseBody,
		&res.StatusCode, &res.ResponseSize, &res.ResponseTime, &expiresAtUnix, &createdUnix,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query cached response: %w", err)
	}

	if cost.Valid {
		res.Cost = &cost.Float64
	}
	res.CreatedAt = time.Unix(createdUnix, 0).UTC()
	if expiresAtUnix.Valid {
		t := time.Unix(expiresAtUnix.Int64, 0).UTC()
		res.ExpiresAt = &t

		// Expired entries are treated as absent; deletion is left to the
		// operator.
		if t.Before(r.now()) {
			return nil, nil
		}
	}

	if len(reqHeaders) > 0 {
		if err := json.Unmarshal(reqHeaders, &res.RequestHeaders); err != nil {
			return nil, fmt.Errorf("decode request headers: %w", err)
		}
	}
	if len(respHeaders) > 0 {
		if err := json.Unmarshal(respHeaders, &res.ResponseHeaders); err != nil {
			return nil, fmt.Errorf("decode response headers: %w", err)
		}
	}

	res.RequestBody, err = r.decompressOrReject(ctx, client, key, res.RequestBody)
	if err != nil {
		return nil, nil
	}
	res.ResponseBody, err = r.decompressOrReject(ctx, client, key, res.ResponseBody)
	if err != nil {
		return nil, nil
	}

	res.IsCached = true
	return &res, nil
}

func (r *Repository) decompressOrReject(ctx context.Context, client, key string, body []byte) ([]byte, error) {
	out, err := r.compressor.Decompress(client, body)
	if err == nil {
		return out, nil
	}

	var derr *compression.DecompressionError
	if errors.As(err, &derr) {
		metrics.CacheRejected.WithLabelValues(client).Inc()
		_ = r.LogError(ctx, types.ErrorEntry{
			APIClient:    client,
			ErrorType:    types.ErrorTypeCacheRejected,
			ErrorMessage: err.Error(),
			Context:      map[string]any{"key": key},
		})
	}
	return nil, err
}

// StoreResponse inserts or updates the entry identified by (client, key).
// The caller passes decompressed bodies; compression is applied here per the
// client's current flag. An update resets the processed markers so the new
// payload is picked up by processors again.
func (r *Repository) StoreResponse(ctx context.Context, p types.StoreParams) error {
	reqBody, err := r.compressor.Compress(p.Client, p.RequestBody)
	if err != nil {
		return err
	}
	respBody, err := r.compressor.Compress(p.Client, p.ResponseBody)
	if err != nil {
		return err
	}

	reqHeaders, err := json.Marshal(p.RequestHeaders)
	if err != nil {
		return fmt.Errorf("encode request headers: %w", err)
	}
	respHeaders, err := json.Marshal(p.ResponseHeaders)
	if err != nil {
		return fmt.Errorf("encode response headers: %w", err)
	}

	now := r.now().Unix()
	var expiresAt sql.NullInt64
	if p.TTL != nil {
		expiresAt = sql.NullInt64{Int64: r.now().Add(*p.TTL).Unix(), Valid: true}
	}
	var cost sql.NullFloat64
	if p.Cost != nil {
		cost = sql.NullFloat64{Float64: *p.Cost, Valid: true}
	}
	credits := p.Credits
	if credits <= 0 {
		credits = 1
	}

	query := r.dialect.Rebind(`INSERT INTO api_responses (
		client, key, endpoint, method, base_url, full_url, version,
		attributes, attributes2, attributes3, credits, cost,
		request_headers, request_body, response_headers, response_body,
		response_status_code, response_size, response_time,
		expires_at, processed_at, processed_status, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, ?, ?)
	ON CONFLICT (client, key) DO UPDATE SET
		endpoint = excluded.endpoint,
		method = excluded.method,
		base_url = excluded.base_url,
		full_url = excluded.full_url,
		version = excluded.version,
		attributes = excluded.attributes,
		attributes2 = excluded.attributes2,
		attributes3 = excluded.attributes3,
		credits = excluded.credits,
		cost = excluded.cost,
		request_headers = excluded.request_headers,
		request_body = excluded.request_body,
		response_headers = excluded.response_headers,
		response_body = excluded.response_body,
		response_status_code = excluded.response_status_code,
		response_size = excluded.response_size,
		response_time = excluded.response_time,
		expires_at = excluded.expires_at,
		processed_at = NULL,
		processed_status = NULL,
		updated_at = excluded.updated_at`)

	_, err = r.db.ExecContext(ctx, query,
		p.Client, p.Key, p.Endpoint, p.Method, p.BaseURL, p.FullURL, p.Version,
		p.Attributes, p.Attributes2, p.Attributes3, credits, cost,
		reqHeaders, reqBody, respHeaders, respBody,
		p.StatusCode, p.ResponseSize, p.ResponseTime,
		expiresAt, now, now,
	)
	if err != nil {
		return fmt.Errorf("store response: %w", err)
	}

	metrics.CacheStores.WithLabelValues(p.Client).Inc()
	return nil
}

// LogError appends to the shared errors table. Context data is redacted
// before it is persisted so credentials never reach the table.
func (r *Repository) LogError(ctx context.Context, e types.ErrorEntry) error {
	contextData := e.Context
	if redactor := r.logger.Redactor(); redactor != nil && contextData != nil {
		contextData = redactor.RedactMap(contextData)
	}
	blob, err := json.Marshal(contextData)
	if err != nil {
		blob = []byte("{}")
	}

	query := r.dialect.Rebind(`INSERT INTO api_errors
		(api_client, error_type, error_message, api_message, context_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)

	if _, err := r.db.ExecContext(ctx, query,
		e.APIClient, e.ErrorType, e.ErrorMessage, e.APIMessage, string(blob), r.now().Unix(),
	); err != nil {
		return fmt.Errorf("log error: %w", err)
	}
	return nil
}

// UnprocessedResponses returns up to limit rows awaiting processing for the
// given client whose endpoint matches any of the LIKE patterns. Rows with
// non-200 status codes are never returned; sandbox rows are excluded when
// requested. Bodies are decompressed before return.
func (r *Repository) UnprocessedResponses(ctx context.Context, client string, patterns []string, excludeSandbox bool, limit int) ([]types.ResponseRow, error) {
	if len(patterns) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	sb.WriteString(`SELECT id, client, key, endpoint, base_url, response_body, response_status_code, created_at
		FROM api_responses
		WHERE client = ? AND processed_at IS NULL AND response_status_code = 200 AND (`)
	args := []any{client}
	for i, p := range patterns {
		if i > 0 {
			sb.WriteString(" OR ")
		}
		sb.WriteString("endpoint LIKE ?")
		args = append(args, p)
	}
	sb.WriteString(")")
	if excludeSandbox {
		sb.WriteString(" AND base_url NOT LIKE ?")
		args = append(args, "%sandbox%")
	}
	sb.WriteString(" ORDER BY id LIMIT ?")
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(sb.String()), args...)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed responses: %w", err)
	}
	defer rows.Close()

	var scanned []types.ResponseRow
	for rows.Next() {
		var (
			row         types.ResponseRow
			createdUnix int64
		)
		if err := rows.Scan(&row.ID, &row.Client, &row.Key, &row.Endpoint, &row.BaseURL,
			&row.ResponseBody, &row.StatusCode, &createdUnix); err != nil {
			return nil, fmt.Errorf("scan unprocessed response: %w", err)
		}
		row.CreatedAt = time.Unix(createdUnix, 0).UTC()
		scanned = append(scanned, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Decompression failures write to the errors table and stamp the row,
	// each on its own connection. The cursor must be released first or a
	// single-connection pool deadlocks waiting on itself.
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close unprocessed responses: %w", err)
	}

	out := make([]types.ResponseRow, 0, len(scanned))
	for _, row := range scanned {
		body, err := r.decompressOrReject(ctx, row.Client, row.Key, row.ResponseBody)
		if err != nil {
			// Unreadable rows are marked so the scan loop terminates.
			_ = r.MarkProcessed(ctx, row.ID, types.ProcessedStatus{
				Status: types.ProcessedError,
				Error:  err.Error(),
			})
			continue
		}
		row.ResponseBody = body
		out = append(out, row)
	}
	return out, nil
}

// MarkProcessed stamps processed_at and records the outcome. Reprocessing a
// stamped row requires an explicit reset.
func (r *Repository) MarkProcessed(ctx context.Context, id int64, status types.ProcessedStatus) error {
	blob, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("encode processed status: %w", err)
	}

	query := r.dialect.Rebind(`UPDATE api_responses
		SET processed_at = ?, processed_status = ?
		WHERE id = ?`)
	if _, err := r.db.ExecContext(ctx, query, r.now().Unix(), string(blob), id); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// ResetProcessed clears the processed markers for rows matching the given
// endpoint patterns only; other endpoints are never touched.
func (r *Repository) ResetProcessed(ctx context.Context, client string, patterns []string) (int64, error) {
	if len(patterns) == 0 {
		return 0, nil
	}

	var sb strings.Builder
	sb.WriteString(`UPDATE api_responses
		SET processed_at = NULL, processed_status = NULL
		WHERE client = ? AND (`)
	args := []any{client}
	for i, p := range patterns {
		if i > 0 {
			sb.WriteString(" OR ")
		}
		sb.WriteString("endpoint LIKE ?")
		args = append(args, p)
	}
	sb.WriteString(")")

	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(sb.String()), args...)
	if err != nil {
		return 0, fmt.Errorf("reset processed: %w", err)
	}
	return res.RowsAffected()
}

// ProcessedStatusFor returns the stored markers for one row; used by tests
// and operational tooling.
func (r *Repository) ProcessedStatusFor(ctx context.Context, id int64) (*time.Time, *types.ProcessedStatus, error) {
	query := r.dialect.Rebind(`SELECT processed_at, processed_status FROM api_responses WHERE id = ?`)

	var (
		processedAt sql.NullInt64
		statusBlob  sql.NullString
	)
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&processedAt, &statusBlob); err != nil {
		return nil, nil, fmt.Errorf("query processed status: %w", err)
	}

	var at *time.Time
	if processedAt.Valid {
		t := time.Unix(processedAt.Int64, 0).UTC()
		at = &t
	}
	var status *types.ProcessedStatus
	if statusBlob.Valid && statusBlob.String != "" {
		status = &types.ProcessedStatus{}
		if err := json.Unmarshal([]byte(statusBlob.String), status); err != nil {
			return at, nil, fmt.Errorf("decode processed status: %w", err)
		}
	}
	return at, status, nil
}
