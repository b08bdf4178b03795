package serp

import (
	"context"
	"database/sql"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	_ "modernc.org/sqlite"

	apicache "github.com/seolytics/apicache"
	"github.com/seolytics/apicache/internal/cachemanager"
	"github.com/seolytics/apicache/internal/cachestore"
	"github.com/seolytics/apicache/internal/compression"
	"github.com/seolytics/apicache/internal/config"
	"github.com/seolytics/apicache/internal/ratelimit"
	"github.com/seolytics/apicache/pkg/types"
)

func newTestManager(t *testing.T) *cachemanager.Manager {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	cfgManager := config.NewStatic(config.DefaultConfig())
	repo := cachestore.New(db, cachestore.DialectSQLite, compression.NewService(cfgManager), nil)
	require.NoError(t, repo.Migrate(context.Background()))

	return cachemanager.New(repo, ratelimit.NewService(ratelimit.NewMemoryStore(), cfgManager, nil), nil)
}

func validParams() SearchParams {
	return SearchParams{
		Keyword:      "cats",
		LocationCode: 2840,
		LanguageCode: "en",
		Device:       "desktop",
	}
}

func TestSearchParamsValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SearchParams)
	}{
		{"empty keyword", func(p *SearchParams) { p.Keyword = "" }},
		{"zero location", func(p *SearchParams) { p.LocationCode = 0 }},
		{"empty language", func(p *SearchParams) { p.LanguageCode = "" }},
		{"bad device", func(p *SearchParams) { p.Device = "tablet" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)

			var invalid *types.InvalidArgumentError
			assert.ErrorAs(t, p.validate(), &invalid)
		})
	}

	p := validParams()
	p.Device = ""
	assert.NoError(t, p.validate())
}

func TestSearchSendsExpectedPayload(t *testing.T) {
	var body []byte
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		body, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"tasks_count":1,"tasks_error":0}`))
	}))
	defer srv.Close()

	client, err := New("serp", newTestManager(t),
		[]apicache.Option{apicache.WithBaseURL(srv.URL), apicache.WithVersion("v3")})
	require.NoError(t, err)

	p := validParams()
	p.Depth = 20
	res, err := client.Search(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 200, res.StatusCode)

	assert.Equal(t, "/v3/"+liveEndpoint, path)
	assert.Equal(t, "cats", gjson.GetBytes(body, "keyword").String())
	assert.EqualValues(t, 2840, gjson.GetBytes(body, "location_code").Int())
	assert.EqualValues(t, 20, gjson.GetBytes(body, "depth").Int())
}

func TestSearchRaisesOnUpstreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"status_message":"Not enough money"}`))
	}))
	defer srv.Close()

	client, err := New("serp", newTestManager(t),
		[]apicache.Option{apicache.WithBaseURL(srv.URL)})
	require.NoError(t, err)

	res, err := client.Search(context.Background(), validParams())
	require.Error(t, err)

	var herr *types.HTTPStatusError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, http.StatusPaymentRequired, herr.Status)
	assert.Equal(t, "Not enough money", herr.APIMessage)

	// The raw result still accompanies the error.
	require.NotNil(t, res)
	assert.Equal(t, http.StatusPaymentRequired, res.StatusCode)
}

func TestSearchBatchValidatesBeforeDispatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no request should reach upstream")
	}))
	defer srv.Close()

	client, err := New("serp", newTestManager(t),
		[]apicache.Option{apicache.WithBaseURL(srv.URL)})
	require.NoError(t, err)

	_, err = client.SearchBatch(context.Background(), []SearchParams{
		validParams(),
		{Keyword: ""},
	})
	var invalid *types.InvalidArgumentError
	require.ErrorAs(t, err, &invalid)
}

func TestStandardSearchRoundTripViaWebhook(t *testing.T) {
	ctx := context.Background()
	var tagSeen string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		tagSeen = gjson.GetBytes(body, "tag").String()
		_, _ = w.Write([]byte(`{"tasks":[{"status_code":20100}]}`))
	}))
	defer srv.Close()

	client, err := New("serp", newTestManager(t),
		[]apicache.Option{apicache.WithBaseURL(srv.URL)},
		WithPostback("https://gw.example.com/webhook/serp", "advanced"))
	require.NoError(t, err)

	// Cache miss without task posting.
	_, err = client.StandardSearch(ctx, validParams(), false)
	assert.ErrorIs(t, err, types.ErrNotCached)

	// Miss with posting returns the ack and tags the task.
	ack, err := client.StandardSearch(ctx, validParams(), true)
	require.NoError(t, err)
	assert.False(t, ack.IsCached)
	require.Len(t, tagSeen, 64)

	// Webhook delivery lands under the tag; the next search is a hit.
	payload := []byte(`{"tasks":[{"status_code":20000,"result":[{"items":[]}]}]}`)
	require.NoError(t, client.Reconciler(nil).Reconcile(ctx, tagSeen, payload))

	res, err := client.StandardSearch(ctx, validParams(), false)
	require.NoError(t, err)
	assert.True(t, res.IsCached)
	assert.Equal(t, payload, res.ResponseBody)
}
