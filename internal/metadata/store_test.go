package metadata

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewlake/reviewlake/internal/blob"
	"github.com/reviewlake/reviewlake/pkg/review"
)

const metaKey = "metadata/android_apps.json"

func newStore(t *testing.T, p review.Platform) (*Store, blob.Bucket, blob.Bucket) {
	t.Helper()
	mem := blob.NewMemory()
	landing, bronze := mem.Bucket("landing"), mem.Bucket("bronze")
	s := NewStore(p, Location{Bucket: landing, Key: metaKey}, Location{Bucket: bronze, Key: metaKey}, zerolog.Nop())
	return s, landing, bronze
}

func wm(t *testing.T, s string) *review.Watermark {
	t.Helper()
	w, err := review.ParseWatermark(s)
	require.NoError(t, err)
	return w
}

func put(t *testing.T, b blob.Bucket, apps []review.TrackedApp) {
	t.Helper()
	data, err := Encode(apps)
	require.NoError(t, err)
	require.NoError(t, b.Put(context.Background(), metaKey, data, blob.ContentTypeJSON))
}

func TestLoadWorkingSetMissing(t *testing.T) {
	s, _, _ := newStore(t, review.Android)
	ws, err := s.LoadWorkingSet(context.Background())
	require.NoError(t, err)
	assert.False(t, ws.Found)
	assert.Empty(t, ws.Apps)
}

func TestLoadWorkingSetMalformed(t *testing.T) {
	s, landing, _ := newStore(t, review.Android)
	require.NoError(t, landing.Put(context.Background(), metaKey, []byte(`{"not": "an array"}`), blob.ContentTypeJSON))
	_, err := s.LoadWorkingSet(context.Background())
	assert.Error(t, err)
}

func TestMerge(t *testing.T) {
	a := review.TrackedApp{ID: "A", Name: "App A", Country: "us", Lang: "en", LastIngestion: wm(t, "2024-01-01")}
	aRenamed := review.TrackedApp{ID: "A", Name: "App A v2", Country: "US", Lang: "en"}
	aOtherLang := review.TrackedApp{ID: "A", Name: "App A", Country: "us", Lang: "es"}
	b := review.TrackedApp{ID: "B", Name: "App B", Country: "br", Lang: "pt"}

	tests := []struct {
		name    string
		p       review.Platform
		bronze  []review.TrackedApp
		landing []review.TrackedApp
		check   func(t *testing.T, got []review.TrackedApp)
	}{
		{
			name:   "bronze only",
			p:      review.Android,
			bronze: []review.TrackedApp{a},
			check: func(t *testing.T, got []review.TrackedApp) {
				require.Len(t, got, 1)
				assert.Equal(t, "A", got[0].ID)
			},
		},
		{
			name:    "same app in both zones is processed once",
			p:       review.Android,
			bronze:  []review.TrackedApp{a},
			landing: []review.TrackedApp{aRenamed, b},
			check: func(t *testing.T, got []review.TrackedApp) {
				require.Len(t, got, 2)
				assert.Equal(t, "App A v2", got[0].Name, "landing attributes override")
				require.NotNil(t, got[0].LastIngestion, "bronze watermark is kept")
				assert.Equal(t, "2024-01-01", got[0].LastIngestion.Format("2006-01-02"))
				assert.Equal(t, "B", got[1].ID)
			},
		},
		{
			name:    "android identity includes lang",
			p:       review.Android,
			bronze:  []review.TrackedApp{a},
			landing: []review.TrackedApp{aOtherLang},
			check: func(t *testing.T, got []review.TrackedApp) {
				assert.Len(t, got, 2)
			},
		},
		{
			name:    "ios identity ignores lang",
			p:       review.IOS,
			bronze:  []review.TrackedApp{a},
			landing: []review.TrackedApp{aOtherLang},
			check: func(t *testing.T, got []review.TrackedApp) {
				require.Len(t, got, 1)
				assert.Equal(t, "es", got[0].Lang)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, Merge(tt.p, tt.bronze, tt.landing))
		})
	}
}

func TestCommitBronzeOnlyScenario(t *testing.T) {
	ctx := context.Background()
	s, landing, bronze := newStore(t, review.Android)

	appA := review.TrackedApp{ID: "A", Name: "App A", Country: "us", Lang: "en", LastIngestion: wm(t, "2024-01-01")}
	put(t, landing, []review.TrackedApp{})
	put(t, bronze, []review.TrackedApp{appA})

	ws, err := s.LoadWorkingSet(ctx)
	require.NoError(t, err)
	require.Len(t, ws.Apps, 1)
	assert.Equal(t, "A", ws.Apps[0].ID)

	runAt := time.Date(2024, 2, 1, 9, 30, 0, 0, time.FixedZone("UTC-3", -3*3600))
	n, err := s.Commit(ctx, ws.Apps, map[string]bool{appA.Key(review.Android): true}, runAt)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, found, err := s.Bronze(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, got, 1)
	assert.True(t, got[0].LastIngestion.Equal(runAt))

	ok, err := landing.Exists(ctx, metaKey)
	require.NoError(t, err)
	assert.False(t, ok, "landing metadata deleted after commit")
}

func TestCommitWatermarkPolicy(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newStore(t, review.IOS)
	runAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	inactive := false
	apps := []review.TrackedApp{
		{ID: "ok", Country: "us", LastIngestion: wm(t, "2024-02-01")},
		{ID: "failed", Country: "us", LastIngestion: wm(t, "2024-02-01")},
		{ID: "future", Country: "us", LastIngestion: wm(t, "2024-06-01T00:00:00Z")},
		{ID: "new", Country: "us"},
		{ID: "off", Country: "us", Active: &inactive, LastIngestion: wm(t, "2023-01-01")},
	}
	advance := map[string]bool{
		apps[0].Key(review.IOS): true,
		apps[2].Key(review.IOS): true,
		apps[3].Key(review.IOS): true,
	}

	n, err := s.Commit(ctx, apps, advance, runAt)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, _, err := s.Bronze(ctx)
	require.NoError(t, err)
	require.Len(t, got, 5, "inactive apps are retained")
	assert.True(t, got[0].LastIngestion.Equal(runAt))
	assert.Equal(t, "2024-02-01", got[1].LastIngestion.Format("2006-01-02"), "failed app keeps its watermark")
	assert.Equal(t, "2024-06-01", got[2].LastIngestion.Format("2006-01-02"), "watermark never moves backwards")
	assert.True(t, got[3].LastIngestion.Equal(runAt))
	assert.Equal(t, "2023-01-01", got[4].LastIngestion.Format("2006-01-02"))
	assert.False(t, got[4].IsActive())
}

func TestEncodePreservesNonASCII(t *testing.T) {
	data, err := Encode([]review.TrackedApp{{ID: "X", Name: "Órbita & Cia", Country: "br"}})
	require.NoError(t, err)
	assert.Contains(t, string(data), "Órbita & Cia")
	assert.Contains(t, string(data), "\n    {")
	assert.Contains(t, string(data), `"last_ingestion": null`)
}

func TestPutLandingRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newStore(t, review.Android)
	require.NoError(t, s.PutLanding(ctx, []review.TrackedApp{{ID: "N", Country: "us", Lang: "en"}}))

	apps, found, err := s.Landing(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	require.Len(t, apps, 1)
	assert.Nil(t, apps[0].LastIngestion)
}
