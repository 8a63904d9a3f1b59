package promotion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewlake/reviewlake/internal/blob"
	"github.com/reviewlake/reviewlake/internal/ingestion"
	"github.com/reviewlake/reviewlake/internal/lease"
	"github.com/reviewlake/reviewlake/internal/metadata"
	"github.com/reviewlake/reviewlake/pkg/review"
)

func rating(v float64) *float64 { return &v }

func sampleReviews() []review.Review {
	return []review.Review{
		{ReviewID: "1", Title: "Ótimo", Content: "Funciona — muito bem", Rating: rating(5), CreatedAt: "2024-01-05T10:00:00Z", FetchedAt: "2024-01-10T08:00:00-03:00", AppID: "X", Lang: "pt", Country: "br", Platform: "phone", Provider: "acme", PeerGroup: "banks"},
		{ReviewID: "2", Title: "", Content: "", CreatedAt: "2024-01-06T10:00:00Z", AppID: "X", Lang: "pt", Country: "br", Platform: "tablet"},
	}
}

func TestParquetRoundTrip(t *testing.T) {
	in := sampleReviews()
	data, err := EncodeParquet(in)
	require.NoError(t, err)
	assert.Equal(t, "PAR1", string(data[:4]))

	out, err := DecodeParquet(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeParquetRejectsGarbage(t *testing.T) {
	_, err := DecodeParquet(context.Background(), []byte(`[{"review_id": "1"}]`))
	assert.Error(t, err)
}

type fixture struct {
	landing *blob.MemoryBucket
	bronze  *blob.MemoryBucket
	meta    *metadata.Store
	p       *Promoter
}

func newFixture(t *testing.T, platform review.Platform, prefix string) *fixture {
	t.Helper()
	mem := blob.NewMemory()
	f := &fixture{landing: mem.MemoryBucket("landing"), bronze: mem.MemoryBucket("bronze")}
	f.meta = metadata.NewStore(platform,
		metadata.Location{Bucket: f.landing, Key: "metadata/apps.json"},
		metadata.Location{Bucket: f.bronze, Key: "metadata/apps.json"},
		zerolog.Nop())
	f.p = NewPromoter(Options{
		Platform: platform,
		Landing:  f.landing,
		Bronze:   f.bronze,
		Prefix:   prefix,
		Metadata: f.meta,
		Locker:   lease.NewLocker(f.landing, "_leases", time.Hour, zerolog.Nop()),
		Logger:   zerolog.Nop(),
	})
	return f
}

func (f *fixture) registry(t *testing.T, apps ...review.TrackedApp) {
	t.Helper()
	data, err := metadata.Encode(apps)
	require.NoError(t, err)
	require.NoError(t, f.bronze.Put(context.Background(), "metadata/apps.json", data, blob.ContentTypeJSON))
}

func (f *fixture) land(t *testing.T, key string, reviews []review.Review) {
	t.Helper()
	data, err := ingestion.EncodeReviews(reviews)
	require.NoError(t, err)
	require.NoError(t, f.landing.Put(context.Background(), key, data, blob.ContentTypeJSON))
}

var runAt = time.Date(2024, 1, 10, 8, 0, 0, 0, time.FixedZone("UTC-3", -3*3600))

func TestPromoteAndroid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, review.Android, "android_reviews")

	ok := review.TrackedApp{ID: "X", Name: "X", Country: "br", Lang: "pt", LastIngestion: review.NewWatermark(runAt)}
	missing := review.TrackedApp{ID: "M", Name: "M", Country: "us", Lang: "en", LastIngestion: review.NewWatermark(runAt)}
	empty := review.TrackedApp{ID: "E", Name: "E", Country: "us", Lang: "en", LastIngestion: review.NewWatermark(runAt)}
	broken := review.TrackedApp{ID: "B", Name: "B", Country: "us", Lang: "en", LastIngestion: review.NewWatermark(runAt)}
	never := review.TrackedApp{ID: "N", Name: "N", Country: "us", Lang: "en"}
	f.registry(t, ok, missing, empty, broken, never)

	f.land(t, "android_reviews/2024-01-10/X_br_pt.json", sampleReviews())
	f.land(t, "android_reviews/2024-01-10/E_us_en.json", nil)
	require.NoError(t, f.landing.Put(ctx, "android_reviews/2024-01-10/B_us_en.json", []byte("{broken"), blob.ContentTypeJSON))
	f.land(t, "android_reviews/2024-01-09/orphan_us_en.json", sampleReviews())

	report, err := f.p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Promoted)
	assert.Equal(t, 2, report.Rows)
	assert.Equal(t, 1, report.Missing)
	assert.Equal(t, 1, report.Empty)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []string{"android_reviews/2024-01-10/X_br_pt.parquet"}, report.Artifacts)
	assert.Equal(t, []string{
		"android_reviews/2024-01-09/orphan_us_en.json",
		"android_reviews/2024-01-10/B_us_en.json",
	}, report.Leftover, "only promoted keys are deleted")

	data, err := f.bronze.Get(ctx, "android_reviews/2024-01-10/X_br_pt.parquet")
	require.NoError(t, err)
	got, err := DecodeParquet(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, sampleReviews(), got)

	keys, err := f.bronze.List(ctx, "android_reviews/")
	require.NoError(t, err)
	assert.Len(t, keys, 1, "empty and missing landing blobs leave bronze unchanged")
}

func TestPromoteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, review.IOS, "ios_reviews")
	app := review.TrackedApp{ID: "123", Name: "A", Country: "us", LastIngestion: review.NewWatermark(runAt)}
	f.registry(t, app)
	f.land(t, "ios_reviews/123_us_20240110_080000.json", sampleReviews())

	first, err := f.p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Promoted)
	assert.Empty(t, first.Leftover)

	puts := f.bronze.Puts
	second, err := f.p.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Promoted)
	assert.Equal(t, 1, second.Missing)
	assert.Equal(t, puts, f.bronze.Puts)
}

func TestPromoteMergesSameDayArtifact(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, review.Android, "android_reviews")
	f.registry(t, review.TrackedApp{ID: "X", Country: "br", Lang: "pt", LastIngestion: review.NewWatermark(runAt)})

	reviews := sampleReviews()
	f.land(t, "android_reviews/2024-01-10/X_br_pt.json", reviews[:1])
	_, err := f.p.Run(ctx)
	require.NoError(t, err)

	f.land(t, "android_reviews/2024-01-10/X_br_pt.json", reviews)
	report, err := f.p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Rows)

	data, err := f.bronze.Get(ctx, "android_reviews/2024-01-10/X_br_pt.parquet")
	require.NoError(t, err)
	got, err := DecodeParquet(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, reviews, got)
}

func TestPromoteCatchesUpOlderLandingBlobs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, review.Android, "android_reviews")
	reviews := sampleReviews()

	// The first promotion fails, then ingestion runs again three days later.
	f.registry(t, review.TrackedApp{ID: "A", Country: "us", Lang: "en", LastIngestion: review.NewWatermark(runAt)})
	require.NoError(t, f.landing.Put(ctx, "android_reviews/2024-01-10/A_us_en.json", []byte("{broken"), blob.ContentTypeJSON))
	first, err := f.p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Failed)
	assert.Equal(t, []string{"android_reviews/2024-01-10/A_us_en.json"}, first.Leftover)

	f.land(t, "android_reviews/2024-01-10/A_us_en.json", reviews[:1])
	f.land(t, "android_reviews/2024-01-13/A_us_en.json", reviews[1:])
	f.registry(t, review.TrackedApp{ID: "A", Country: "us", Lang: "en", LastIngestion: review.NewWatermark(runAt.AddDate(0, 0, 3))})

	second, err := f.p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Promoted)
	assert.Equal(t, 2, second.Rows)
	assert.Zero(t, second.Missing)
	assert.Empty(t, second.Leftover)
	assert.Equal(t, []string{
		"android_reviews/2024-01-10/A_us_en.parquet",
		"android_reviews/2024-01-13/A_us_en.parquet",
	}, second.Artifacts)
}

func TestPromoteIOSPartialRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, review.IOS, "ios_reviews")
	// A partly failed fetch landed reviews without advancing the watermark.
	f.registry(t, review.TrackedApp{ID: "123", Country: "us", LastIngestion: review.NewWatermark(runAt)})
	f.land(t, "ios_reviews/123_us_20240110_080000.json", sampleReviews()[:1])
	f.land(t, "ios_reviews/123_us_20240111_080000.json", sampleReviews()[1:])

	report, err := f.p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Promoted)
	assert.Empty(t, report.Leftover)
}

func TestPromoteWithoutRegistry(t *testing.T) {
	f := newFixture(t, review.Android, "android_reviews")
	report, err := f.p.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Promoted)
	assert.Zero(t, f.bronze.Puts)
}

func TestPromoteLeaseHeld(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, review.Android, "android_reviews")
	held, err := lease.NewLocker(f.landing, "_leases", time.Hour, zerolog.Nop()).Acquire(ctx, "android")
	require.NoError(t, err)
	defer held.Release(ctx)

	_, err = f.p.Run(ctx)
	assert.True(t, errors.Is(err, lease.ErrHeld))
}
