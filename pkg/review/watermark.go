package review

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// watermarkLayouts are the forms a persisted watermark may take. Older
// registries store a bare date, newer ones a full timestamp.
var watermarkLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Watermark is the timestamp of an app's last successful ingestion.
type Watermark struct {
	time.Time
}

// NewWatermark wraps t.
func NewWatermark(t time.Time) *Watermark {
	return &Watermark{Time: t}
}

// ParseWatermark parses any of the accepted watermark layouts.
func ParseWatermark(s string) (*Watermark, error) {
	for _, layout := range watermarkLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &Watermark{Time: t}, nil
		}
	}
	return nil, fmt.Errorf("parse watermark %q: unsupported layout", s)
}

// Day returns the watermark's calendar date, read in its own location, as
// a UTC midnight.
func (w Watermark) Day() time.Time {
	y, m, d := w.Time.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MarshalJSON writes the watermark as RFC 3339.
func (w Watermark) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.Time.Format(time.RFC3339))
}

// UnmarshalJSON accepts null, a date, or a timestamp.
func (w *Watermark) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("watermark must be a string: %w", err)
	}
	parsed, err := ParseWatermark(s)
	if err != nil {
		return err
	}
	*w = *parsed
	return nil
}

// NotAfter reports whether w is at or before t, that is whether moving the
// watermark to t keeps it monotonic. A nil watermark is before everything.
func (w *Watermark) NotAfter(t time.Time) bool {
	return w == nil || !w.Time.After(t)
}
