// Package metadata maintains the two-zone registry of tracked apps. The
// landing zone holds apps onboarded since the last run; the bronze zone is
// the durable registry carrying every app's ingestion watermark.
package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/reviewlake/reviewlake/internal/blob"
	"github.com/reviewlake/reviewlake/pkg/review"
)

// Location names one metadata blob.
type Location struct {
	Bucket blob.Bucket
	Key    string
}

// Store reads and writes the metadata blobs of one platform.
type Store struct {
	platform review.Platform
	landing  Location
	bronze   Location
	log      zerolog.Logger
}

// NewStore creates a Store.
func NewStore(platform review.Platform, landing, bronze Location, log zerolog.Logger) *Store {
	return &Store{
		platform: platform,
		landing:  landing,
		bronze:   bronze,
		log:      log.With().Str("component", "metadata").Str("platform", string(platform)).Logger(),
	}
}

// WorkingSet is the merged set of apps one run processes.
type WorkingSet struct {
	Apps []review.TrackedApp
	// Found is false when neither metadata blob exists.
	Found   bool
	Landing int
	Bronze  int
}

// Landing reads the landing registry. A missing blob yields (nil, false, nil).
func (s *Store) Landing(ctx context.Context) ([]review.TrackedApp, bool, error) {
	return read(ctx, s.landing)
}

// Bronze reads the bronze registry. A missing blob yields (nil, false, nil).
func (s *Store) Bronze(ctx context.Context) ([]review.TrackedApp, bool, error) {
	return read(ctx, s.bronze)
}

// PutLanding overwrites the landing registry.
func (s *Store) PutLanding(ctx context.Context, apps []review.TrackedApp) error {
	data, err := Encode(apps)
	if err != nil {
		return err
	}
	if err := s.landing.Bucket.Put(ctx, s.landing.Key, data, blob.ContentTypeJSON); err != nil {
		return fmt.Errorf("write landing metadata: %w", err)
	}
	return nil
}

// LoadWorkingSet reads both zones and merges them by app key.
func (s *Store) LoadWorkingSet(ctx context.Context) (*WorkingSet, error) {
	landing, landingFound, err := s.Landing(ctx)
	if err != nil {
		return nil, err
	}
	if landingFound {
		s.log.Info().Msgf("Found %d apps in the landing metadata", len(landing))
	} else {
		s.log.Info().Msg("No new apps found in the landing metadata")
	}

	bronze, bronzeFound, err := s.Bronze(ctx)
	if err != nil {
		return nil, err
	}
	if bronzeFound {
		s.log.Info().Msgf("Found %d apps in the bronze metadata", len(bronze))
	} else {
		s.log.Info().Msg("No apps found in the bronze metadata, starting fresh ingestion")
	}

	return &WorkingSet{
		Apps:    Merge(s.platform, bronze, landing),
		Found:   landingFound || bronzeFound,
		Landing: len(landing),
		Bronze:  len(bronze),
	}, nil
}

// Merge folds landing entries onto bronze entries keyed by app identity.
// Landing attributes win, except that a landing entry without a watermark
// keeps the bronze one. Bronze order is preserved and new apps are appended
// in landing order.
func Merge(p review.Platform, bronze, landing []review.TrackedApp) []review.TrackedApp {
	out := make([]review.TrackedApp, 0, len(bronze)+len(landing))
	index := make(map[string]int, len(bronze)+len(landing))

	add := func(app review.TrackedApp) {
		key := app.Key(p)
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, app)
			return
		}
		if app.LastIngestion == nil {
			app.LastIngestion = out[i].LastIngestion
		}
		out[i] = app
	}
	for _, app := range bronze {
		add(app)
	}
	for _, app := range landing {
		add(app)
	}
	return out
}

// Commit advances the watermark of every app whose key is in advance to
// runAt, writes the full set to the bronze registry, verifies the write by
// reading it back, and only then clears the landing registry. A watermark
// never moves backwards. It returns the number of advanced apps.
func (s *Store) Commit(ctx context.Context, apps []review.TrackedApp, advance map[string]bool, runAt time.Time) (int, error) {
	updated := make([]review.TrackedApp, len(apps))
	advanced := 0
	for i, app := range apps {
		if advance[app.Key(s.platform)] && app.LastIngestion.NotAfter(runAt) {
			app.LastIngestion = review.NewWatermark(runAt)
			advanced++
		}
		updated[i] = app
	}

	data, err := Encode(updated)
	if err != nil {
		return 0, err
	}
	if err := s.bronze.Bucket.Put(ctx, s.bronze.Key, data, blob.ContentTypeJSON); err != nil {
		return 0, fmt.Errorf("write bronze metadata: %w", err)
	}
	stored, err := s.bronze.Bucket.Get(ctx, s.bronze.Key)
	if err != nil {
		return 0, fmt.Errorf("verify bronze metadata: %w", err)
	}
	if !bytes.Equal(stored, data) {
		return 0, fmt.Errorf("verify bronze metadata: stored content differs from written content")
	}
	s.log.Info().Msgf("Updated bronze metadata with %d apps (%d advanced)", len(updated), advanced)

	if err := s.landing.Bucket.Delete(ctx, s.landing.Key); err != nil {
		return advanced, fmt.Errorf("clear landing metadata: %w", err)
	}
	s.log.Info().Msg("Cleared landing metadata after successful ingestion")
	return advanced, nil
}

// Encode serializes a registry as an indented JSON array. Non-ASCII text is
// written as is.
func Encode(apps []review.TrackedApp) ([]byte, error) {
	if apps == nil {
		apps = []review.TrackedApp{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(apps); err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return buf.Bytes(), nil
}

func read(ctx context.Context, loc Location) ([]review.TrackedApp, bool, error) {
	data, err := loc.Bucket.Get(ctx, loc.Key)
	if errors.Is(err, blob.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read metadata %s/%s: %w", loc.Bucket.Name(), loc.Key, err)
	}
	var apps []review.TrackedApp
	if len(bytes.TrimSpace(data)) == 0 {
		return apps, true, nil
	}
	if err := json.Unmarshal(data, &apps); err != nil {
		return nil, true, fmt.Errorf("parse metadata %s/%s: %w", loc.Bucket.Name(), loc.Key, err)
	}
	return apps, true, nil
}
