package registry

import (
	"context"
	"strings"
	"testing"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewlake/reviewlake/internal/blob"
	"github.com/reviewlake/reviewlake/internal/metadata"
	"github.com/reviewlake/reviewlake/internal/platform"
	"github.com/reviewlake/reviewlake/pkg/review"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := platform.Open(context.Background(), platform.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewService(db)
}

func boolPtr(b bool) *bool { return &b }

func TestUpsertAndList(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	last := review.NewWatermark(time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC))
	require.NoError(t, svc.UpsertApp(ctx, review.Android, review.TrackedApp{ID: "com.b", Name: "B", Country: "br", Lang: "pt", LastIngestion: last}))
	require.NoError(t, svc.UpsertApp(ctx, review.Android, review.TrackedApp{ID: "com.a", Name: "A", Country: "us", Lang: "en"}))

	// Renaming keeps the stored watermark.
	require.NoError(t, svc.UpsertApp(ctx, review.Android, review.TrackedApp{ID: "com.b", Name: "B v2", Country: "br", Lang: "pt"}))

	apps, err := svc.ListApps(ctx, review.Android)
	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.Equal(t, "com.a", apps[0].ID)
	assert.Nil(t, apps[0].Active, "active android apps carry no flag")
	assert.Nil(t, apps[0].LastIngestion)
	assert.Equal(t, "B v2", apps[1].Name)
	require.NotNil(t, apps[1].LastIngestion)
	assert.True(t, last.Time.Equal(apps[1].LastIngestion.Time))
}

func TestPlaceholdersFollowDriver(t *testing.T) {
	for driver, want := range map[string]string{
		platform.DriverPostgres: "WHERE id = $1",
		platform.DriverSQLite:   "WHERE id = ?",
	} {
		s := NewService(sqlx.NewDb(nil, driver))
		query, _, err := s.sb.Select("id").From("android_apps").Where(sq.Eq{"id": "X"}).ToSql()
		require.NoError(t, err)
		assert.Contains(t, query, want, driver)
	}
}

func TestUpsertValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	assert.Error(t, svc.UpsertApp(ctx, review.IOS, review.TrackedApp{ID: "1"}))
	assert.Error(t, svc.UpsertApp(ctx, review.Android, review.TrackedApp{ID: "com.a", Country: "us"}))
	assert.NoError(t, svc.UpsertApp(ctx, review.IOS, review.TrackedApp{ID: "1", Country: "us"}))
}

func TestImportIOS(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	n, err := svc.Import(ctx, review.IOS, strings.NewReader(`[
		{"id": "1", "name": "One", "country": "US", "active": true},
		{"id": "2", "name": "Two", "country": "ar", "active": false}
	]`))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	apps, err := svc.ListApps(ctx, review.IOS)
	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.Equal(t, "us", apps[0].Country)
	require.NotNil(t, apps[1].Active)
	assert.False(t, *apps[1].Active)

	_, err = svc.Import(ctx, review.IOS, strings.NewReader(`{"id": "1"}`))
	assert.Error(t, err)
}

func newMetadataStore(p review.Platform) (*metadata.Store, blob.Bucket, blob.Bucket) {
	mem := blob.NewMemory()
	landing, bronze := mem.Bucket("landing"), mem.Bucket("bronze")
	key := "metadata/apps.json"
	return metadata.NewStore(p, metadata.Location{Bucket: landing, Key: key}, metadata.Location{Bucket: bronze, Key: key}, zerolog.Nop()), landing, bronze
}

func TestOnboard(t *testing.T) {
	ctx := context.Background()
	store, _, bronze := newMetadataStore(review.IOS)

	tracked := review.TrackedApp{ID: "1", Name: "One", Country: "us", Active: boolPtr(true),
		LastIngestion: review.NewWatermark(time.Date(2024, 1, 9, 8, 0, 0, 0, time.UTC))}
	data, err := metadata.Encode([]review.TrackedApp{tracked})
	require.NoError(t, err)
	require.NoError(t, bronze.Put(ctx, "metadata/apps.json", data, blob.ContentTypeJSON))

	registryApps := []review.TrackedApp{
		{ID: "1", Name: "One", Country: "us", Active: boolPtr(true)},
		{ID: "2", Name: "Two", Country: "ar", Active: boolPtr(true)},
	}
	n, err := Onboard(ctx, review.IOS, registryApps, store)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "unchanged tracked app is not staged")

	landing, found, err := store.Landing(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, landing, 1)
	assert.Equal(t, "2", landing[0].ID)
	assert.Nil(t, landing[0].LastIngestion)

	// Running again stages nothing new.
	n, err = Onboard(ctx, review.IOS, registryApps, store)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Deactivating a tracked app stages an override; the merge keeps its watermark.
	registryApps[0].Active = boolPtr(false)
	n, err = Onboard(ctx, review.IOS, registryApps, store)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ws, err := store.LoadWorkingSet(ctx)
	require.NoError(t, err)
	require.Len(t, ws.Apps, 2)
	assert.False(t, ws.Apps[0].IsActive())
	require.NotNil(t, ws.Apps[0].LastIngestion)
	assert.Equal(t, 9, ws.Apps[0].LastIngestion.Day().Day())
}

func TestOnboardWithoutMetadata(t *testing.T) {
	ctx := context.Background()
	store, landing, _ := newMetadataStore(review.Android)

	n, err := Onboard(ctx, review.Android, []review.TrackedApp{{ID: "com.a", Name: "A", Country: "us", Lang: "en"}}, store)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ok, err := landing.Exists(ctx, "metadata/apps.json")
	require.NoError(t, err)
	assert.True(t, ok)
}
