// Package promotion moves landed review blobs into the bronze zone as
// Parquet. Landing blobs are matched to the apps of the bronze registry by
// key; the app's watermark names the blob of its latest ingestion.
package promotion

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/reviewlake/reviewlake/internal/blob"
	"github.com/reviewlake/reviewlake/internal/ingestion"
	"github.com/reviewlake/reviewlake/internal/lease"
	"github.com/reviewlake/reviewlake/internal/metadata"
	"github.com/reviewlake/reviewlake/pkg/review"
)

// Options configures a Promoter.
type Options struct {
	Platform review.Platform
	Landing  blob.Bucket
	Bronze   blob.Bucket
	Prefix   string
	Metadata *metadata.Store
	Locker   *lease.Locker
	Logger   zerolog.Logger
}

// Promoter runs the landing to bronze promotion of one platform.
type Promoter struct {
	platform review.Platform
	landing  blob.Bucket
	bronze   blob.Bucket
	prefix   string
	meta     *metadata.Store
	locker   *lease.Locker
	log      zerolog.Logger
}

// NewPromoter creates a Promoter.
func NewPromoter(opts Options) *Promoter {
	return &Promoter{
		platform: opts.Platform,
		landing:  opts.Landing,
		bronze:   opts.Bronze,
		prefix:   strings.TrimSuffix(opts.Prefix, "/"),
		meta:     opts.Metadata,
		locker:   opts.Locker,
		log:      opts.Logger.With().Str("component", "promotion").Str("platform", string(opts.Platform)).Logger(),
	}
}

// Report summarizes a promotion run. Promoted, Empty and Failed count
// landing blobs; Missing counts apps whose latest landing blob is absent.
type Report struct {
	Promoted int
	Empty    int
	Missing  int
	Failed   int
	Rows     int
	// Artifacts are the bronze keys written.
	Artifacts []string
	// Leftover are landing keys still present after cleanup.
	Leftover []string
}

// Run promotes every landing blob that belongs to an app of the bronze
// registry: the one written by the app's last ingestion and any older one
// a failed promotion or an earlier run left behind. Only landing blobs that
// were promoted (or found empty) are deleted; a failed blob stays for the
// next run.
func (p *Promoter) Run(ctx context.Context) (*Report, error) {
	if p.locker != nil {
		held, err := p.locker.Acquire(ctx, string(p.platform))
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := held.Release(context.WithoutCancel(ctx)); err != nil {
				p.log.Error().Err(err).Msg("Releasing lease")
			}
		}()
	}

	report := &Report{}
	apps, found, err := p.meta.Bronze(ctx)
	if err != nil {
		return nil, fmt.Errorf("load bronze metadata: %w", err)
	}
	if !found {
		p.log.Info().Msg("No data of previous ingestions found, exiting")
		return report, nil
	}
	p.log.Info().Msgf("Found %d apps in the bronze metadata", len(apps))

	landed, err := p.landing.List(ctx, p.prefix+"/")
	if err != nil {
		return nil, fmt.Errorf("list landing prefix: %w", err)
	}
	sort.Strings(landed)

	var done []string
	for _, app := range apps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var keys []string
		for _, key := range landed {
			if review.IsLandingKeyOf(p.platform, p.prefix, app, key) {
				keys = append(keys, key)
			}
		}
		if app.LastIngestion != nil {
			latest := review.LandingKey(p.platform, p.prefix, app, app.LastIngestion.Time)
			if !slices.Contains(keys, latest) {
				p.log.Info().Msgf("No landing blob for %s at %s", app, latest)
				report.Missing++
			}
		}

		for _, key := range keys {
			n, err := p.promote(ctx, app, key)
			switch {
			case errors.Is(err, blob.ErrNotExist):
				p.log.Info().Msgf("Landing blob %s of %s disappeared", key, app)
			case err != nil:
				p.log.Error().Err(err).Str("key", key).Msgf("Promoting %s", app)
				report.Failed++
			case n == 0:
				p.log.Info().Msgf("No reviews found for %s in %s", app, key)
				report.Empty++
				done = append(done, key)
			default:
				report.Promoted++
				report.Rows += n
				report.Artifacts = append(report.Artifacts, review.BronzeKey(key))
				done = append(done, key)
			}
		}
	}

	for _, key := range done {
		if err := p.landing.Delete(ctx, key); err != nil {
			p.log.Error().Err(err).Str("key", key).Msg("Deleting promoted landing blob")
		}
	}

	leftover, err := p.landing.List(ctx, p.prefix+"/")
	if err != nil {
		return report, fmt.Errorf("list landing prefix: %w", err)
	}
	report.Leftover = leftover
	if len(leftover) > 0 {
		p.log.Warn().Strs("keys", leftover).Msgf("%d landing blobs remain under %s/", len(leftover), p.prefix)
	}

	p.log.Info().
		Int("promoted", report.Promoted).
		Int("rows", report.Rows).
		Int("failed", report.Failed).
		Msg("Promotion to bronze completed")
	return report, nil
}

// promote converts one landing blob and writes it to bronze at the mirrored
// key. It returns the number of rows written.
func (p *Promoter) promote(ctx context.Context, app review.TrackedApp, key string) (int, error) {
	data, err := p.landing.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	reviews, err := ingestion.DecodeReviews(data)
	if err != nil {
		return 0, fmt.Errorf("landing blob %s: %w", key, err)
	}
	if len(reviews) == 0 {
		return 0, nil
	}
	p.log.Info().Msgf("Found %d reviews for %s in %s", len(reviews), app, key)

	bronzeKey := review.BronzeKey(key)
	existing, err := p.bronze.Get(ctx, bronzeKey)
	switch {
	case err == nil:
		// A second run on the same day lands under the same key.
		prev, err := DecodeParquet(ctx, existing)
		if err != nil {
			return 0, fmt.Errorf("existing artifact %s: %w", bronzeKey, err)
		}
		reviews = ingestion.MergeReviews(prev, reviews)
	case !errors.Is(err, blob.ErrNotExist):
		return 0, fmt.Errorf("read existing artifact %s: %w", bronzeKey, err)
	}

	out, err := EncodeParquet(reviews)
	if err != nil {
		return 0, err
	}
	if err := p.bronze.Put(ctx, bronzeKey, out, blob.ContentTypeParquet); err != nil {
		return 0, fmt.Errorf("upload %s: %w", bronzeKey, err)
	}
	p.log.Info().Msgf("Uploaded %d reviews for %s to %s/%s", len(reviews), app, p.bronze.Name(), bronzeKey)
	return len(reviews), nil
}
