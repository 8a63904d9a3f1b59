// Package review defines the data model shared by every pipeline stage:
// tracked apps, their ingestion watermarks, and harvested reviews.
package review

import (
	"fmt"
	"strings"
	"time"
)

// Platform identifies an app store.
type Platform string

const (
	Android Platform = "android"
	IOS     Platform = "ios"
)

// ParsePlatform converts a user-supplied name into a Platform.
func ParsePlatform(s string) (Platform, error) {
	switch Platform(strings.ToLower(strings.TrimSpace(s))) {
	case Android:
		return Android, nil
	case IOS:
		return IOS, nil
	}
	return "", fmt.Errorf("unknown platform %q (want android or ios)", s)
}

// Platforms returns every supported platform.
func Platforms() []Platform {
	return []Platform{Android, IOS}
}

// TrackedApp is one (store, app id, country, language) tuple to monitor.
type TrackedApp struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Country       string     `json:"country"`
	Lang          string     `json:"lang,omitempty"`
	PeerGroup     string     `json:"peer_group,omitempty"`
	Provider      string     `json:"provider,omitempty"`
	Active        *bool      `json:"active,omitempty"`
	LastIngestion *Watermark `json:"last_ingestion"`
}

// IsActive reports whether the app should be fetched. Apps without an
// explicit flag (every Android app) are active.
func (a TrackedApp) IsActive() bool {
	return a.Active == nil || *a.Active
}

// Key returns the identity of an app on the given platform: (id, country,
// lang) for Android and (id, country) for iOS.
func (a TrackedApp) Key(p Platform) string {
	if p == IOS {
		return a.ID + "|" + strings.ToLower(a.Country)
	}
	return a.ID + "|" + strings.ToLower(a.Country) + "|" + strings.ToLower(a.Lang)
}

// String is used in log lines.
func (a TrackedApp) String() string {
	if a.Lang == "" {
		return fmt.Sprintf("%s (%s) in %s", a.Name, a.ID, a.Country)
	}
	return fmt.Sprintf("%s (%s) in %s-%s", a.Name, a.ID, a.Country, a.Lang)
}

// Review is one review harvested for a TrackedApp during one ingestion run.
type Review struct {
	ReviewID  string   `json:"review_id"`
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	Rating    *float64 `json:"rating"`
	CreatedAt string   `json:"created_at"`
	FetchedAt string   `json:"fetched_at"`
	AppID     string   `json:"app_id"`
	Lang      string   `json:"lang"`
	Country   string   `json:"country"`
	Platform  string   `json:"platform"`
	Provider  string   `json:"provider"`
	PeerGroup string   `json:"peer_group"`
}

// FetchedAtLayout is the serialized form of Review.FetchedAt.
const FetchedAtLayout = time.RFC3339

// Enriched is a bronze review with its classification and translation.
// Empty enrichment fields mean the model call failed for that review.
type Enriched struct {
	Review
	Sentiment string `json:"sentiment"`
	Cause     string `json:"cause"`
	EnContent string `json:"en_content"`
	// CreatedTime is CreatedAt normalized to UTC; zero when unparseable.
	CreatedTime time.Time `json:"created_time"`
}
