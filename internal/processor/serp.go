package processor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/seolytics/apicache/internal/cachestore"
	"github.com/seolytics/apicache/pkg/types"
)

// taskOKStatus is the provider's per-task success code.
const taskOKStatus = 20000

// serpDatetimeLayout matches the provider's result datetime field.
const serpDatetimeLayout = "2006-01-02 15:04:05 -07:00"

// SERPExtractor normalizes organic search results (and, unless suppressed,
// nested People-Also-Ask elements) into the serp_results table. The natural
// key is (keyword, location_code, language_code, device, item_type,
// rank_absolute, title).
type SERPExtractor struct {
	db      *sql.DB
	dialect cachestore.Dialect
	client  string
}

var _ Extractor = (*SERPExtractor)(nil)

// NewSERPExtractor creates the extractor over the repository's database.
func NewSERPExtractor(repo *cachestore.Repository, client string) *SERPExtractor {
	return &SERPExtractor{db: repo.DB(), dialect: repo.Dialect(), client: client}
}

// Name implements Extractor.
func (e *SERPExtractor) Name() string { return "serp" }

// Client implements Extractor.
func (e *SERPExtractor) Client() string { return e.client }

// EndpointPatterns selects both live and task-based SERP endpoints.
func (e *SERPExtractor) EndpointPatterns() []string {
	return []string{"serp/%", "search"}
}

// Migrate creates the destination table when missing.
func (e *SERPExtractor) Migrate(ctx context.Context) error {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if e.dialect == cachestore.DialectPostgres {
		pk = "BIGSERIAL PRIMARY KEY"
	}
	stmts := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS serp_results (
	id %s,
	response_id BIGINT NOT NULL,
	keyword TEXT NOT NULL,
	location_code BIGINT NOT NULL DEFAULT 0,
	language_code TEXT NOT NULL DEFAULT '',
	device TEXT NOT NULL DEFAULT '',
	item_type TEXT NOT NULL,
	rank_group INTEGER NOT NULL DEFAULT 0,
	rank_absolute INTEGER NOT NULL DEFAULT 0,
	title TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	domain TEXT NOT NULL DEFAULT '',
	fetched_at BIGINT NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	UNIQUE (keyword, location_code, language_code, device, item_type, rank_absolute, title)
)`, pk),
		`CREATE INDEX IF NOT EXISTS idx_serp_results_response ON serp_results (response_id)`,
	}
	for _, stmt := range stmts {
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate serp_results: %w", err)
		}
	}
	return nil
}

type serpRow struct {
	responseID   int64
	keyword      string
	locationCode int64
	languageCode string
	device       string
	itemType     string
	rankGroup    int64
	rankAbsolute int64
	title        string
	description  string
	url          string
	domain       string
	fetchedAt    time.Time
}

// Extract implements Extractor. A body without a tasks array is a parse
// failure; tasks with non-success status codes are skipped.
func (e *SERPExtractor) Extract(ctx context.Context, row types.ResponseRow, policy Policy) (int, error) {
	if !gjson.ValidBytes(row.ResponseBody) {
		return 0, fmt.Errorf("response %d: invalid JSON", row.ID)
	}

	tasks := gjson.GetBytes(row.ResponseBody, "tasks")
	if !tasks.Exists() || !tasks.IsArray() {
		return 0, fmt.Errorf("response %d: missing tasks array", row.ID)
	}

	written := 0
	var walkErr error
	tasks.ForEach(func(_, task gjson.Result) bool {
		if task.Get("status_code").Int() != taskOKStatus {
			return true
		}

		data := task.Get("data")
		base := serpRow{
			responseID:   row.ID,
			keyword:      data.Get("keyword").String(),
			locationCode: data.Get("location_code").Int(),
			languageCode: data.Get("language_code").String(),
			device:       data.Get("device").String(),
			fetchedAt:    row.CreatedAt,
		}

		result := task.Get("result.0")
		if dt := result.Get("datetime"); dt.Exists() {
			if t, err := time.Parse(serpDatetimeLayout, dt.String()); err == nil {
				base.fetchedAt = t.UTC()
			}
		}

		result.Get("items").ForEach(func(_, item gjson.Result) bool {
			n, err := e.extractItem(ctx, base, item, policy)
			if err != nil {
				walkErr = err
				return false
			}
			written += n
			return true
		})
		return walkErr == nil
	})
	if walkErr != nil {
		return written, walkErr
	}
	return written, nil
}

func (e *SERPExtractor) extractItem(ctx context.Context, base serpRow, item gjson.Result, policy Policy) (int, error) {
	switch item.Get("type").String() {
	case "organic":
		r := base
		r.itemType = "organic"
		r.rankGroup = item.Get("rank_group").Int()
		r.rankAbsolute = item.Get("rank_absolute").Int()
		r.title = item.Get("title").String()
		r.description = item.Get("description").String()
		r.url = item.Get("url").String()
		r.domain = item.Get("domain").String()
		return e.upsert(ctx, r, policy)

	case "people_also_ask":
		if policy.SkipNestedItems {
			return 0, nil
		}
		written := 0
		var err error
		item.Get("items").ForEach(func(_, nested gjson.Result) bool {
			r := base
			r.itemType = "people_also_ask_element"
			r.rankGroup = item.Get("rank_group").Int()
			r.rankAbsolute = item.Get("rank_absolute").Int()
			r.title = nested.Get("title").String()
			r.description = nested.Get("expanded_element.0.description").String()
			r.url = nested.Get("expanded_element.0.url").String()
			r.domain = nested.Get("expanded_element.0.domain").String()

			var n int
			n, err = e.upsert(ctx, r, policy)
			written += n
			return err == nil
		})
		return written, err

	default:
		// Unrecognized item types are not this processor's concern.
		return 0, nil
	}
}

// upsert writes one destination row. With UpdateIfNewer an existing row is
// overwritten only when the new response is strictly newer, so an exact
// timestamp tie keeps the existing row; otherwise collisions are left
// untouched and not counted.
func (e *SERPExtractor) upsert(ctx context.Context, r serpRow, policy Policy) (int, error) {
	now := time.Now().UTC().Unix()

	conflictAction := `DO NOTHING`
	if policy.UpdateIfNewer {
		conflictAction = `DO UPDATE SET
			response_id = excluded.response_id,
			rank_group = excluded.rank_group,
			description = excluded.description,
			url = excluded.url,
			domain = excluded.domain,
			fetched_at = excluded.fetched_at,
			updated_at = excluded.updated_at
		WHERE excluded.fetched_at > serp_results.fetched_at`
	}

	query := e.dialect.Rebind(`INSERT INTO serp_results (
		response_id, keyword, location_code, language_code, device,
		item_type, rank_group, rank_absolute, title, description, url, domain,
		fetched_at, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (keyword, location_code, language_code, device, item_type, rank_absolute, title) ` + conflictAction)

	res, err := e.db.ExecContext(ctx, query,
		r.responseID, r.keyword, r.locationCode, r.languageCode, r.device,
		r.itemType, r.rankGroup, r.rankAbsolute, r.title, r.description, r.url, r.domain,
		r.fetchedAt.Unix(), now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("upsert serp result: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// ClearTables implements Extractor.
func (e *SERPExtractor) ClearTables(ctx context.Context, withCount bool) (map[string]int64, error) {
	var counts map[string]int64
	if withCount {
		var n int64
		if err := e.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM serp_results`).Scan(&n); err != nil {
			return nil, fmt.Errorf("count serp_results: %w", err)
		}
		counts = map[string]int64{"serp_results": n}
	}

	if _, err := e.db.ExecContext(ctx, `DELETE FROM serp_results`); err != nil {
		return nil, fmt.Errorf("clear serp_results: %w", err)
	}
	return counts, nil
}
