package ingestion

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

// Writer uploads the reviews of one app and run as one landing blob.
type Writer struct {
	platform review.Platform
	bucket   blob.Bucket
	prefix   string
	log      zerolog.Logger
}

// NewWriter creates a Writer for the landing bucket.
func NewWriter(platform review.Platform, bucket blob.Bucket, prefix string, log zerolog.Logger) *Writer {
	return &Writer{
		platform: platform,
		bucket:   bucket,
		prefix:   prefix,
		log:      log.With().Str("component", "landing-writer").Logger(),
	}
}

// Write uploads reviews under the app's landing key for runAt and returns
// the key and the number of reviews in the blob. Nothing is written for an
// empty set. If an unpromoted blob already sits at the key, its reviews are
// kept and the new ones appended, skipping review ids already present.
func (w *Writer) Write(ctx context.Context, app review.TrackedApp, reviews []review.Review, runAt time.Time) (string, int, error) {
	if len(reviews) == 0 {
		w.log.Info().Msgf("No new reviews to upload for %s (%s)", app.Name, app.ID)
		return "", 0, nil
	}
	key := review.LandingKey(w.platform, w.prefix, app, runAt)

	existing, err := w.read(ctx, key)
	if err != nil {
		return "", 0, err
	}
	merged := MergeReviews(existing, reviews)
	if len(existing) > 0 {
		w.log.Warn().Str("key", key).Msgf("Merging %d new reviews into %d unpromoted ones", len(merged)-len(existing), len(existing))
	}

	data, err := EncodeReviews(merged)
	if err != nil {
		return "", 0, err
	}
	if err := w.bucket.Put(ctx, key, data, blob.ContentTypeJSON); err != nil {
		return "", 0, fmt.Errorf("upload %s: %w", key, err)
	}
	w.log.Info().Msgf("Uploaded %d reviews for %s (%s) to %s", len(merged), app.Name, app.ID, key)
	return key, len(merged), nil
}

func (w *Writer) read(ctx context.Context, key string) ([]review.Review, error) {
	data, err := w.bucket.Get(ctx, key)
	if errors.Is(err, blob.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read existing landing blob: %w", err)
	}
	reviews, err := DecodeReviews(data)
	if err != nil {
		return nil, fmt.Errorf("existing landing blob %s: %w", key, err)
	}
	return reviews, nil
}

// MergeReviews appends fresh to existing, skipping reviews whose platform
// and review id are already present.
func MergeReviews(existing, fresh []review.Review) []review.Review {
	if len(existing) == 0 {
		return fresh
	}
	seen := make(map[string]bool, len(existing))
	for _, r := range existing {
		seen[r.Platform+"|"+r.ReviewID] = true
	}
	out := append([]review.Review(nil), existing...)
	for _, r := range fresh {
		if k := r.Platform + "|" + r.ReviewID; !seen[k] {
			seen[k] = true
			out = append(out, r)
		}
	}
	return out
}

// EncodeReviews serializes reviews as an indented JSON array with non-ASCII
// text written as is.
func EncodeReviews(reviews []review.Review) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(reviews); err != nil {
		return nil, fmt.Errorf("encode reviews: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeReviews parses a landing blob. Blank content decodes to no reviews.
func DecodeReviews(data []byte) ([]review.Review, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var reviews []review.Review
	if err := json.Unmarshal(data, &reviews); err != nil {
		return nil, fmt.Errorf("decode reviews: %w", err)
	}
	return reviews, nil
}
