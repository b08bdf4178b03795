package cachestore

import (
	"context"
	"fmt"
)

// Timestamps are stored as epoch seconds so the same queries run unchanged
// on both backends.
func (r *Repository) schema() []string {
	d := r.dialect
	return []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS api_responses (
	id %s,
	client TEXT NOT NULL,
	key TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	method TEXT NOT NULL,
	base_url TEXT NOT NULL DEFAULT '',
	full_url TEXT NOT NULL DEFAULT '',
	version TEXT NOT NULL DEFAULT '',
	attributes TEXT NOT NULL DEFAULT '',
	attributes2 TEXT NOT NULL DEFAULT '',
	attributes3 TEXT NOT NULL DEFAULT '',
	credits INTEGER NOT NULL DEFAULT 1,
	cost DOUBLE PRECISION,
	request_headers %s,
	request_body %s,
	response_headers %s,
	response_body %s,
	response_status_code INTEGER NOT NULL DEFAULT 0,
	response_size BIGINT NOT NULL DEFAULT 0,
	response_time DOUBLE PRECISION NOT NULL DEFAULT 0,
	expires_at BIGINT,
	processed_at BIGINT,
	processed_status TEXT,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	UNIQUE (client, key)
)`, d.pkType(), d.blobType(), d.blobType(), d.blobType(), d.blobType()),
		`CREATE INDEX IF NOT EXISTS idx_api_responses_endpoint_processed
			ON api_responses (endpoint, processed_at)`,
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS api_errors (
	id %s,
	api_client TEXT NOT NULL,
	error_type TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	api_message TEXT NOT NULL DEFAULT '',
	context_data TEXT NOT NULL DEFAULT '{}',
	created_at BIGINT NOT NULL
)`, d.pkType()),
	}
}

// Migrate creates the response and error tables when missing.
func (r *Repository) Migrate(ctx context.Context) error {
	for _, stmt := range r.schema() {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate cache schema: %w", err)
		}
	}
	return nil
}
