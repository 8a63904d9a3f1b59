package ingestion

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/araddon/dateparse"
	"github.com/rs/zerolog"

	"github.com/reviewlake/reviewlake/internal/source"
	"github.com/reviewlake/reviewlake/pkg/review"
)

// Fetcher paginates the review source for one app and keeps the reviews
// newer than the app's watermark.
type Fetcher struct {
	src      source.Source
	params   source.Params
	maxPages int
	log      zerolog.Logger
}

// NewFetcher creates a Fetcher. params is the per-call template that app
// identity and the continuation are added to. maxPages <= 0 means no limit.
func NewFetcher(src source.Source, params map[string]string, maxPages int, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		src:      src,
		params:   source.Params(params),
		maxPages: maxPages,
		log:      log.With().Str("component", "fetcher").Logger(),
	}
}

// FetchAndroid pages through an app's Google Play reviews for one device
// kind. Pagination stops when the source returns no continuation token or a
// page leaves nothing after filtering. A review is kept when its timestamp
// is strictly after the watermark.
//
// On a source error the reviews gathered so far are returned with the error.
func (f *Fetcher) FetchAndroid(ctx context.Context, app review.TrackedApp, platform string, runAt time.Time) ([]review.Review, error) {
	f.log.Info().Msgf("Fetching data for %s (%s) in %s-%s on %s since %s", app.Name, app.ID, app.Country, app.Lang, platform, since(app.LastIngestion))

	var (
		all   []review.Review
		token string
	)
	for page := 1; ; page++ {
		if f.maxPages > 0 && page > f.maxPages {
			f.log.Warn().Str("app", app.ID).Msgf("Stopping pagination after %d pages", f.maxPages)
			return all, nil
		}
		params := f.params.Clone()
		params["product_id"] = app.ID
		params["gl"] = app.Country
		params["hl"] = app.Lang
		params["platform"] = platform
		if token != "" {
			params["next_page_token"] = token
		}

		result, err := f.src.Search(ctx, params)
		if err != nil {
			return all, fmt.Errorf("fetch %s page %d: %w", app.ID, page, err)
		}

		kept := 0
		for _, raw := range result.Reviews {
			created, err := parseReviewTime(raw.ISODate)
			if err != nil {
				f.log.Error().Err(err).Str("app", app.ID).Str("review", string(raw.ID)).Msg("Dropping review with unparseable date")
				continue
			}
			if app.LastIngestion != nil && !created.After(app.LastIngestion.Time) {
				continue
			}
			all = append(all, newReview(app, raw, raw.ISODate, platform, runAt))
			kept++
		}
		if kept == 0 {
			f.log.Info().Msgf("No reviews found for %s (%s) in %s-%s after last ingestion", app.Name, app.ID, app.Country, app.Lang)
			return all, nil
		}
		f.log.Info().Msgf("Fetched %d reviews for %s (%s)", kept, app.Name, app.ID)

		token = result.NextPageToken
		if token == "" {
			return all, nil
		}
	}
}

// FetchIOS pages through an app's App Store reviews by page number. A
// review is kept when its calendar date is on or after the watermark's.
// Results are assumed newest first, so pagination stops on the first page
// where any review was filtered out.
//
// On a source error the reviews gathered so far are returned with the error.
func (f *Fetcher) FetchIOS(ctx context.Context, app review.TrackedApp, runAt time.Time) ([]review.Review, error) {
	f.log.Info().Msgf("Fetching data for %s (%s) in %q since %s", app.Name, app.ID, app.Country, since(app.LastIngestion))

	var all []review.Review
	for page := 1; ; page++ {
		if f.maxPages > 0 && page > f.maxPages {
			f.log.Warn().Str("app", app.ID).Msgf("Stopping pagination after %d pages", f.maxPages)
			return all, nil
		}
		params := f.params.Clone()
		params["product_id"] = app.ID
		params["country"] = app.Country
		params["page"] = strconv.Itoa(page)

		result, err := f.src.Search(ctx, params)
		if err != nil {
			return all, fmt.Errorf("fetch %s page %d: %w", app.ID, page, err)
		}
		if len(result.Reviews) == 0 {
			f.log.Info().Msgf("No more reviews found for %s (%s) in %s on page %d", app.Name, app.ID, app.Country, page)
			return all, nil
		}

		kept := 0
		for _, raw := range result.Reviews {
			created, err := parseReviewTime(raw.ReviewDate)
			if err != nil {
				f.log.Error().Err(err).Str("app", app.ID).Str("review", string(raw.ID)).Msg("Dropping review with unparseable date")
				continue
			}
			if app.LastIngestion != nil && dayOf(created).Before(app.LastIngestion.Day()) {
				continue
			}
			all = append(all, newReview(app, raw, raw.ReviewDate, string(review.IOS), runAt))
			kept++
		}
		f.log.Info().Msgf("Fetched %d reviews, %d new since last ingestion, total collected: %d", len(result.Reviews), kept, len(all))

		if kept < len(result.Reviews) {
			f.log.Info().Msgf("Stopping pagination for %s (%s) as older reviews were encountered", app.Name, app.ID)
			return all, nil
		}
	}
}

func newReview(app review.TrackedApp, raw source.RawReview, createdAt, platform string, runAt time.Time) review.Review {
	return review.Review{
		ReviewID:  string(raw.ID),
		Title:     raw.Title,
		Content:   raw.Body(),
		Rating:    raw.Rating,
		CreatedAt: createdAt,
		FetchedAt: runAt.Format(review.FetchedAtLayout),
		AppID:     app.ID,
		Lang:      app.Lang,
		Country:   app.Country,
		Platform:  platform,
		Provider:  app.Provider,
		PeerGroup: app.PeerGroup,
	}
}

// parseReviewTime parses a store-reported timestamp. Values without a zone
// are taken as UTC.
func parseReviewTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty review date")
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse review date %q: %w", s, err)
	}
	return t, nil
}

// dayOf returns the calendar date of t in its own location as a UTC
// midnight, the form Watermark.Day uses.
func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func since(w *review.Watermark) string {
	if w == nil {
		return "the beginning"
	}
	return w.Format(time.RFC3339)
}
