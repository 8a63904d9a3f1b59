// Package ingestion runs one incremental ingestion of a platform: it merges
// the tracked-app registry, fetches each app's reviews since its watermark,
// lands them as JSON blobs and commits the advanced watermarks.
package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/reviewlake/reviewlake/internal/lease"
	"github.com/reviewlake/reviewlake/internal/metadata"
	"github.com/reviewlake/reviewlake/pkg/review"
)

// Options configures a Service.
type Options struct {
	Platform review.Platform
	// DeviceKinds are the Google Play platforms fetched per Android app.
	DeviceKinds []string
	Metadata    *metadata.Store
	Fetcher     *Fetcher
	Writer      *Writer
	// Locker is optional; without it runs are not serialized.
	Locker   *lease.Locker
	Location *time.Location
	Logger   zerolog.Logger
}

// Service orchestrates an ingestion run.
type Service struct {
	platform    review.Platform
	deviceKinds []string
	meta        *metadata.Store
	fetcher     *Fetcher
	writer      *Writer
	locker      *lease.Locker
	loc         *time.Location
	now         func() time.Time
	log         zerolog.Logger
}

// NewService creates a new ingestion Service.
func NewService(opts Options) *Service {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	kinds := opts.DeviceKinds
	if len(kinds) == 0 {
		kinds = []string{"phone"}
	}
	return &Service{
		platform:    opts.Platform,
		deviceKinds: kinds,
		meta:        opts.Metadata,
		fetcher:     opts.Fetcher,
		writer:      opts.Writer,
		locker:      opts.Locker,
		loc:         loc,
		now:         time.Now,
		log:         opts.Logger.With().Str("component", "ingestion").Str("platform", string(opts.Platform)).Logger(),
	}
}

// Report summarizes a run.
type Report struct {
	RunID    string
	RunAt    time.Time
	Apps     int
	Skipped  int
	Failed   int
	Reviews  int
	Keys     []string
	Advanced int
}

// Run executes one ingestion. Per-app failures are logged and counted; the
// returned error is reserved for failures that stop the whole run, such as
// an unreadable registry or a lease held by another run.
func (s *Service) Run(ctx context.Context) (report *Report, err error) {
	report = &Report{
		RunID: uuid.NewString(),
		RunAt: s.now().In(s.loc).Truncate(time.Second),
	}
	log := s.log.With().Str("run_id", report.RunID).Logger()
	log.Info().Msgf("Starting ingestion at %s", report.RunAt.Format("2006-01-02 15:04:05"))

	if s.locker != nil {
		held, err := s.locker.Acquire(ctx, string(s.platform))
		if err != nil {
			return nil, err
		}
		defer func() {
			if relErr := held.Release(context.WithoutCancel(ctx)); relErr != nil {
				log.Error().Err(relErr).Msg("Releasing lease")
			}
		}()
	}

	ws, err := s.meta.LoadWorkingSet(ctx)
	if err != nil {
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	if !ws.Found {
		log.Warn().Msg("No metadata found in either zone, nothing to ingest")
		return report, nil
	}
	if len(ws.Apps) == 0 {
		log.Info().Msg("No apps to process, exiting")
		return report, nil
	}

	advance := make(map[string]bool, len(ws.Apps))
	for _, app := range ws.Apps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !app.IsActive() {
			log.Info().Msgf("Skipping inactive app %s", app)
			report.Skipped++
			continue
		}
		report.Apps++

		reviews, ok := s.fetch(ctx, log, app, report.RunAt)
		key, n, err := s.writer.Write(ctx, app, reviews, report.RunAt)
		if err != nil {
			log.Error().Err(err).Msgf("Uploading reviews for %s", app)
			ok = false
		}
		if key != "" {
			report.Keys = append(report.Keys, key)
			report.Reviews += n
		}
		if !ok {
			report.Failed++
			continue
		}
		advance[app.Key(s.platform)] = true
	}

	report.Advanced, err = s.meta.Commit(ctx, ws.Apps, advance, report.RunAt)
	if err != nil {
		return report, fmt.Errorf("commit metadata: %w", err)
	}
	log.Info().
		Int("apps", report.Apps).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Int("reviews", report.Reviews).
		Msg("Ingestion finished")
	return report, nil
}

// fetch gathers an app's reviews over every device kind (Android) or the
// single store listing (iOS). ok is false when any fetch hit an error; the
// reviews gathered before the error are still returned.
func (s *Service) fetch(ctx context.Context, log zerolog.Logger, app review.TrackedApp, runAt time.Time) ([]review.Review, bool) {
	if s.platform == review.IOS {
		reviews, err := s.fetcher.FetchIOS(ctx, app, runAt)
		if err != nil {
			log.Error().Err(err).Msgf("Error fetching data for %s", app)
			return reviews, false
		}
		return reviews, true
	}

	var all []review.Review
	ok := true
	for _, kind := range s.deviceKinds {
		reviews, err := s.fetcher.FetchAndroid(ctx, app, kind, runAt)
		all = append(all, reviews...)
		if err != nil {
			log.Error().Err(err).Msgf("Error fetching data for %s on %s", app, kind)
			ok = false
		}
	}
	return all, ok
}
