package processor

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/seolytics/apicache/internal/cachestore"
	"github.com/seolytics/apicache/internal/compression"
	"github.com/seolytics/apicache/internal/config"
	"github.com/seolytics/apicache/pkg/types"
)

func newTestRepo(t *testing.T) *cachestore.Repository {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	repo := cachestore.New(db, cachestore.DialectSQLite,
		compression.NewService(config.NewStatic(config.DefaultConfig())), nil)
	require.NoError(t, repo.Migrate(context.Background()))
	return repo
}

func newSERPRunner(t *testing.T, repo *cachestore.Repository) (*Runner, *SERPExtractor) {
	t.Helper()
	extractor := NewSERPExtractor(repo, "serp")
	require.NoError(t, extractor.Migrate(context.Background()))
	return NewRunner(repo, extractor, nil), extractor
}

func storeSERPResponse(t *testing.T, repo *cachestore.Repository, key, baseURL string, body string) {
	t.Helper()
	require.NoError(t, repo.StoreResponse(context.Background(), types.StoreParams{
		Client:       "serp",
		Key:          key,
		Endpoint:     "serp/google/organic/live/advanced",
		Method:       "POST",
		BaseURL:      baseURL,
		ResponseBody: []byte(body),
		StatusCode:   200,
	}))
}

func serpBody(keyword, datetime string, items string) string {
	return fmt.Sprintf(`{
		"tasks_count": 1,
		"tasks_error": 0,
		"tasks": [{
			"status_code": 20000,
			"data": {"keyword": %q, "location_code": 2840, "language_code": "en", "device": "desktop"},
			"result": [{"datetime": %q, "items": [%s]}]
		}]
	}`, keyword, datetime, items)
}

const twoOrganicItems = `
	{"type":"organic","rank_group":1,"rank_absolute":1,"title":"Cats","description":"All about cats","url":"https://cats.example.com/","domain":"cats.example.com"},
	{"type":"organic","rank_group":2,"rank_absolute":2,"title":"More cats","description":"Even more","url":"https://felines.example.com/","domain":"felines.example.com"}`

func countRows(t *testing.T, repo *cachestore.Repository, table string) int {
	t.Helper()
	var n int
	require.NoError(t, repo.DB().QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestProcessResponsesExtractsOrganicItems(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	runner, _ := newSERPRunner(t, repo)

	storeSERPResponse(t, repo, "k1", "https://api.example.com",
		serpBody("cats", "2025-08-01 10:00:00 +00:00", twoOrganicItems))

	stats, err := runner.ProcessResponses(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, Stats{Scanned: 1, Processed: 1, Extracted: 2}, stats)

	assert.Equal(t, 2, countRows(t, repo, "serp_results"))

	var title, url string
	require.NoError(t, repo.DB().QueryRow(
		`SELECT title, url FROM serp_results WHERE rank_absolute = 1`).Scan(&title, &url))
	assert.Equal(t, "Cats", title)
	assert.Equal(t, "https://cats.example.com/", url)
}

func TestProcessResponsesIdempotentRerun(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	runner, _ := newSERPRunner(t, repo)

	storeSERPResponse(t, repo, "k1", "https://api.example.com",
		serpBody("cats", "2025-08-01 10:00:00 +00:00", twoOrganicItems))

	_, err := runner.ProcessResponses(ctx, 0)
	require.NoError(t, err)

	stats, err := runner.ProcessResponses(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
	assert.Equal(t, 2, countRows(t, repo, "serp_results"))
}

func TestProcessResponsesMarksBadRowAndContinues(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	runner, _ := newSERPRunner(t, repo)

	storeSERPResponse(t, repo, "bad", "https://api.example.com", `{"no_tasks_here": true}`)
	storeSERPResponse(t, repo, "good", "https://api.example.com",
		serpBody("cats", "2025-08-01 10:00:00 +00:00", twoOrganicItems))

	stats, err := runner.ProcessResponses(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, Stats{Scanned: 2, Processed: 1, Extracted: 2, Errors: 1}, stats)

	// The bad row is stamped ERROR so the next batch skips it.
	stats, err = runner.ProcessResponses(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)

	// And the failure is visible in the error log.
	var errType string
	require.NoError(t, repo.DB().QueryRow(
		`SELECT error_type FROM api_errors LIMIT 1`).Scan(&errType))
	assert.Equal(t, types.ErrorTypeProcessing, errType)
}

func TestProcessResponsesSkipsSandboxRows(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	runner, _ := newSERPRunner(t, repo)

	storeSERPResponse(t, repo, "sandbox", "https://sandbox.example.com",
		serpBody("cats", "2025-08-01 10:00:00 +00:00", twoOrganicItems))

	stats, err := runner.ProcessResponses(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)

	runner.SetSkipSandbox(false)
	stats, err = runner.ProcessResponses(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
}

func TestNestedItemsFollowPolicy(t *testing.T) {
	ctx := context.Background()

	const itemsWithPAA = twoOrganicItems + `,
		{"type":"people_also_ask","rank_group":3,"rank_absolute":3,"items":[
			{"type":"people_also_ask_element","title":"Why do cats purr?",
			 "expanded_element":[{"description":"They just do","url":"https://purr.example.com/","domain":"purr.example.com"}]},
			{"type":"people_also_ask_element","title":"Do cats dream?",
			 "expanded_element":[{"description":"Probably","url":"https://dream.example.com/","domain":"dream.example.com"}]}
		]}`

	t.Run("descends by default", func(t *testing.T) {
		repo := newTestRepo(t)
		runner, _ := newSERPRunner(t, repo)
		storeSERPResponse(t, repo, "k1", "https://api.example.com",
			serpBody("cats", "2025-08-01 10:00:00 +00:00", itemsWithPAA))

		stats, err := runner.ProcessResponses(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, 4, stats.Extracted)

		var n int
		require.NoError(t, repo.DB().QueryRow(
			`SELECT COUNT(*) FROM serp_results WHERE item_type = 'people_also_ask_element'`).Scan(&n))
		assert.Equal(t, 2, n)
	})

	t.Run("skipNestedItems suppresses descent", func(t *testing.T) {
		repo := newTestRepo(t)
		runner, _ := newSERPRunner(t, repo)
		runner.SetSkipNestedItems(true)
		storeSERPResponse(t, repo, "k1", "https://api.example.com",
			serpBody("cats", "2025-08-01 10:00:00 +00:00", itemsWithPAA))

		stats, err := runner.ProcessResponses(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Extracted)
	})
}

func TestUpdateIfNewerSemantics(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	runner, _ := newSERPRunner(t, repo)

	const oldItem = `{"type":"organic","rank_group":1,"rank_absolute":1,"title":"Cats","description":"old","url":"https://old.example.com/","domain":"old.example.com"}`
	const newItem = `{"type":"organic","rank_group":1,"rank_absolute":1,"title":"Cats","description":"new","url":"https://new.example.com/","domain":"new.example.com"}`

	storeSERPResponse(t, repo, "k1", "https://api.example.com",
		serpBody("cats", "2025-08-01 10:00:00 +00:00", oldItem))
	_, err := runner.ProcessResponses(ctx, 0)
	require.NoError(t, err)

	// A strictly newer response for the same natural key wins.
	storeSERPResponse(t, repo, "k2", "https://api.example.com",
		serpBody("cats", "2025-08-02 10:00:00 +00:00", newItem))
	stats, err := runner.ProcessResponses(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Extracted)

	var url string
	require.NoError(t, repo.DB().QueryRow(
		`SELECT url FROM serp_results WHERE keyword = 'cats' AND rank_absolute = 1`).Scan(&url))
	assert.Equal(t, "https://new.example.com/", url)
	assert.Equal(t, 1, countRows(t, repo, "serp_results"))

	// An older response never rolls the row back, and counts nothing.
	storeSERPResponse(t, repo, "k3", "https://api.example.com",
		serpBody("cats", "2025-07-01 10:00:00 +00:00", oldItem))
	stats, err = runner.ProcessResponses(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Extracted)
	assert.Equal(t, 1, stats.Processed)

	require.NoError(t, repo.DB().QueryRow(
		`SELECT url FROM serp_results WHERE keyword = 'cats' AND rank_absolute = 1`).Scan(&url))
	assert.Equal(t, "https://new.example.com/", url)
}

func TestUpdateIfNewerDisabledKeepsFirstWrite(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	runner, _ := newSERPRunner(t, repo)
	runner.SetUpdateIfNewer(false)

	const oldItem = `{"type":"organic","rank_group":1,"rank_absolute":1,"title":"Cats","description":"old","url":"https://old.example.com/","domain":"old.example.com"}`
	const newItem = `{"type":"organic","rank_group":1,"rank_absolute":1,"title":"Cats","description":"new","url":"https://new.example.com/","domain":"new.example.com"}`

	storeSERPResponse(t, repo, "k1", "https://api.example.com",
		serpBody("cats", "2025-08-01 10:00:00 +00:00", oldItem))
	storeSERPResponse(t, repo, "k2", "https://api.example.com",
		serpBody("cats", "2025-08-02 10:00:00 +00:00", newItem))

	_, err := runner.ProcessResponses(ctx, 0)
	require.NoError(t, err)

	var url string
	require.NoError(t, repo.DB().QueryRow(
		`SELECT url FROM serp_results WHERE keyword = 'cats'`).Scan(&url))
	assert.Equal(t, "https://old.example.com/", url)
}

func TestProcessResponsesAllDrainsBacklog(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	runner, _ := newSERPRunner(t, repo)

	for i := 0; i < 5; i++ {
		storeSERPResponse(t, repo, fmt.Sprintf("k%d", i), "https://api.example.com",
			serpBody(fmt.Sprintf("kw%d", i), "2025-08-01 10:00:00 +00:00", twoOrganicItems))
	}

	stats, err := runner.ProcessResponsesAll(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Processed)
	assert.Equal(t, 10, stats.Extracted)
	assert.Equal(t, 10, countRows(t, repo, "serp_results"))
}

func TestResetProcessedAllowsRerun(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	runner, _ := newSERPRunner(t, repo)

	storeSERPResponse(t, repo, "k1", "https://api.example.com",
		serpBody("cats", "2025-08-01 10:00:00 +00:00", twoOrganicItems))
	_, err := runner.ProcessResponses(ctx, 0)
	require.NoError(t, err)

	n, err := runner.ResetProcessed(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	stats, err := runner.ProcessResponses(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	// Same fetched_at reprocessed: the tie keeps existing rows, no duplicates.
	assert.Equal(t, 2, countRows(t, repo, "serp_results"))
}

func TestClearProcessedTables(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	runner, _ := newSERPRunner(t, repo)

	storeSERPResponse(t, repo, "k1", "https://api.example.com",
		serpBody("cats", "2025-08-01 10:00:00 +00:00", twoOrganicItems))
	_, err := runner.ProcessResponses(ctx, 0)
	require.NoError(t, err)

	counts, err := runner.ClearProcessedTables(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"serp_results": 2}, counts)
	assert.Equal(t, 0, countRows(t, repo, "serp_results"))

	// Without counting the map is nil, meaning "not measured".
	counts, err = runner.ClearProcessedTables(ctx, false)
	require.NoError(t, err)
	assert.Nil(t, counts)
}

func TestFailedTaskSkipped(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	runner, _ := newSERPRunner(t, repo)

	storeSERPResponse(t, repo, "k1", "https://api.example.com", `{
		"tasks": [{"status_code": 40501, "data": {"keyword": "cats"}, "result": null}]
	}`)

	stats, err := runner.ProcessResponses(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, Stats{Scanned: 1, Processed: 1, Extracted: 0}, stats)
	assert.Equal(t, 0, countRows(t, repo, "serp_results"))
}
