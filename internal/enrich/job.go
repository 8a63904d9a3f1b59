package enrich

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/reviewlake/reviewlake/internal/blob"
	"github.com/reviewlake/reviewlake/internal/promotion"
	"github.com/reviewlake/reviewlake/pkg/review"
)

// Sink receives enriched rows. Artifacts are identified by bronze key and
// content checksum, so a rewritten artifact is loaded again.
type Sink interface {
	Loaded(ctx context.Context, artifact, checksum string) (bool, error)
	Load(ctx context.Context, platform review.Platform, artifact, checksum string, rows []review.Enriched) (int, error)
}

// Job enriches every bronze artifact of a platform not yet loaded.
type Job struct {
	platform review.Platform
	bronze   blob.Bucket
	prefix   string
	enricher *Enricher
	sink     Sink
	log      zerolog.Logger
}

// NewJob creates a Job.
func NewJob(platform review.Platform, bronze blob.Bucket, prefix string, enricher *Enricher, sink Sink, log zerolog.Logger) *Job {
	return &Job{
		platform: platform,
		bronze:   bronze,
		prefix:   strings.TrimSuffix(prefix, "/"),
		enricher: enricher,
		sink:     sink,
		log:      log.With().Str("component", "enrich").Str("platform", string(platform)).Logger(),
	}
}

// Report summarizes an enrichment run.
type Report struct {
	Artifacts int
	Skipped   int
	Failed    int
	Rows      int
	Inserted  int
}

// Run processes the artifacts in key order. A failing artifact is logged
// and left for the next run.
func (j *Job) Run(ctx context.Context) (*Report, error) {
	keys, err := j.bronze.List(ctx, j.prefix+"/")
	if err != nil {
		return nil, fmt.Errorf("list bronze artifacts: %w", err)
	}

	report := &Report{}
	for _, key := range keys {
		if !strings.HasSuffix(key, ".parquet") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		rows, inserted, skipped, err := j.process(ctx, key)
		switch {
		case err != nil:
			j.log.Error().Err(err).Str("artifact", key).Msg("Enriching artifact")
			report.Failed++
		case skipped:
			report.Skipped++
		default:
			report.Artifacts++
			report.Rows += rows
			report.Inserted += inserted
			j.log.Info().Msgf("Loaded %d of %d enriched reviews from %s", inserted, rows, key)
		}
	}
	j.log.Info().
		Int("artifacts", report.Artifacts).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Int("inserted", report.Inserted).
		Msg("Enrichment finished")
	return report, nil
}

func (j *Job) process(ctx context.Context, key string) (rows, inserted int, skipped bool, err error) {
	data, err := j.bronze.Get(ctx, key)
	if err != nil {
		return 0, 0, false, err
	}
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	loaded, err := j.sink.Loaded(ctx, key, checksum)
	if err != nil {
		return 0, 0, false, err
	}
	if loaded {
		return 0, 0, true, nil
	}

	reviews, err := promotion.DecodeParquet(ctx, data)
	if err != nil {
		return 0, 0, false, err
	}
	enriched, err := j.enricher.Enrich(ctx, reviews)
	if err != nil {
		return 0, 0, false, err
	}
	inserted, err = j.sink.Load(ctx, j.platform, key, checksum, enriched)
	if err != nil {
		return 0, 0, false, err
	}
	return len(enriched), inserted, false, nil
}
