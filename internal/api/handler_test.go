package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewlake/reviewlake/internal/blob"
	"github.com/reviewlake/reviewlake/internal/metadata"
	"github.com/reviewlake/reviewlake/internal/promotion"
	"github.com/reviewlake/reviewlake/internal/scheduler"
	"github.com/reviewlake/reviewlake/pkg/review"
)

const metaKey = "metadata/ios_apps.json"

type fixture struct {
	mux    *http.ServeMux
	bronze blob.Bucket
	h      *Handler
}

func newFixture(t *testing.T, jobs map[string]scheduler.Job) *fixture {
	t.Helper()
	mem := blob.NewMemory()
	landing, bronze := mem.Bucket("landing"), mem.Bucket("bronze")
	store := metadata.NewStore(review.IOS,
		metadata.Location{Bucket: landing, Key: metaKey},
		metadata.Location{Bucket: bronze, Key: metaKey},
		zerolog.Nop())

	active := false
	data, err := metadata.Encode([]review.TrackedApp{
		{ID: "1", Name: "One", Country: "us"},
		{ID: "2", Name: "Two", Country: "ar", Active: &active},
	})
	require.NoError(t, err)
	require.NoError(t, bronze.Put(context.Background(), metaKey, data, blob.ContentTypeJSON))

	var runner *scheduler.Runner
	if jobs != nil {
		runner = scheduler.NewRunner(context.Background(), jobs, zerolog.Nop())
	}
	h := NewHandler(Options{
		Zones: map[review.Platform]Zone{
			review.IOS: {Metadata: store, Bronze: bronze, Prefix: "ios_reviews"},
		},
		Runner: runner,
		Next:   func() map[string]time.Time { return map[string]time.Time{"ingest-ios": time.Unix(0, 0).UTC()} },
		Logger: zerolog.Nop(),
	})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	h.RegisterInternalRoutes(mux)
	return &fixture{mux: mux, bronze: bronze, h: h}
}

func (f *fixture) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status": "ok"`)
	assert.Contains(t, rec.Body.String(), "ingest-ios")
}

func TestListApps(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/apps/ios")
	require.Equal(t, http.StatusOK, rec.Code)

	var apps []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apps))
	require.Len(t, apps, 2)
	assert.Equal(t, true, apps[0]["active"])
	assert.Equal(t, false, apps[1]["active"])

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/apps/android").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/apps/web").Code)
}

func TestArtifactsAndReviews(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	rating := 4.0
	data, err := promotion.EncodeParquet([]review.Review{{ReviewID: "r1", Content: "nice", Rating: &rating, AppID: "1", Country: "us", Platform: "ios"}})
	require.NoError(t, err)
	key := "ios_reviews/1_us_20240110_080000.parquet"
	require.NoError(t, f.bronze.Put(ctx, key, data, blob.ContentTypeParquet))

	rec := f.do(t, http.MethodGet, "/api/artifacts/ios")
	require.Equal(t, http.StatusOK, rec.Code)
	var keys []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &keys))
	assert.Equal(t, []string{key}, keys)

	for i := 0; i < 2; i++ {
		rec = f.do(t, http.MethodGet, "/api/reviews/ios/"+key)
		require.Equal(t, http.StatusOK, rec.Code)
		var rows []review.Review
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
		require.Len(t, rows, 1)
		assert.Equal(t, "nice", rows[0].Content)
	}
	assert.Equal(t, 1, f.h.cache.Len())

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/reviews/ios/ios_reviews/missing.parquet").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/reviews/ios/"+metaKey).Code, "metadata is not served as an artifact")
}

func TestRunJob(t *testing.T) {
	done := make(chan struct{})
	f := newFixture(t, map[string]scheduler.Job{
		"promote-ios": func(context.Context) error { close(done); return nil },
	})

	rec := f.do(t, http.MethodPost, "/internal/run/promote-ios")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "run_id")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}
	f.h.runner.Wait()

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/internal/run/unknown").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodGet, "/internal/run/promote-ios").Code)

	rec = f.do(t, http.MethodGet, "/internal/jobs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "promote-ios")
}

func TestRunWithoutRunner(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodPost, "/internal/run/promote-ios").Code)
}

func TestAPIKeyAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name   string
		key    string
		header string
		want   int
	}{
		{name: "no key configured", key: "", header: "", want: http.StatusNoContent},
		{name: "matching key", key: "s3cret", header: "s3cret", want: http.StatusNoContent},
		{name: "missing header", key: "s3cret", header: "", want: http.StatusUnauthorized},
		{name: "wrong key", key: "s3cret", header: "nope", want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/internal/run/x", nil)
			if tt.header != "" {
				req.Header.Set("X-API-Key", tt.header)
			}
			rec := httptest.NewRecorder()
			APIKeyAuth(tt.key)(ok).ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	called := false
	h := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/apps/ios", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, called)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestArtifactCacheEvicts(t *testing.T) {
	c := NewArtifactCache(2)
	c.Put("a", nil)
	c.Put("b", nil)
	_, _ = c.Get("a")
	c.Put("c", nil)

	_, ok := c.Get("b")
	assert.False(t, ok, "least recently used entry is evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}
