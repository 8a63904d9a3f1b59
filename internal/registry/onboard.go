package registry

import (
	"context"
	"fmt"

	"github.com/reviewlake/reviewlake/pkg/review"
)

// MetadataStore is the part of metadata.Store onboarding needs.
type MetadataStore interface {
	Bronze(ctx context.Context) ([]review.TrackedApp, bool, error)
	Landing(ctx context.Context) ([]review.TrackedApp, bool, error)
	PutLanding(ctx context.Context, apps []review.TrackedApp) error
}

// Onboard stages registry apps into the landing metadata: apps bronze does
// not track yet, and tracked apps whose attributes changed in the registry.
// Staged entries carry no watermark, so the bronze one survives the merge.
// It returns the number of entries staged by this call.
func Onboard(ctx context.Context, p review.Platform, apps []review.TrackedApp, store MetadataStore) (int, error) {
	bronze, _, err := store.Bronze(ctx)
	if err != nil {
		return 0, fmt.Errorf("read bronze metadata: %w", err)
	}
	landing, _, err := store.Landing(ctx)
	if err != nil {
		return 0, fmt.Errorf("read landing metadata: %w", err)
	}

	tracked := make(map[string]review.TrackedApp, len(bronze))
	for _, a := range bronze {
		tracked[a.Key(p)] = a
	}
	staged := make(map[string]int, len(landing))
	for i, a := range landing {
		staged[a.Key(p)] = i
	}

	added := 0
	for _, app := range apps {
		key := app.Key(p)
		if cur, ok := tracked[key]; ok && sameAttributes(cur, app) {
			continue
		}
		entry := app
		entry.LastIngestion = nil
		if i, ok := staged[key]; ok {
			if sameAttributes(landing[i], entry) {
				continue
			}
			landing[i] = entry
		} else {
			staged[key] = len(landing)
			landing = append(landing, entry)
		}
		added++
	}

	if added == 0 {
		return 0, nil
	}
	if err := store.PutLanding(ctx, landing); err != nil {
		return 0, fmt.Errorf("write landing metadata: %w", err)
	}
	return added, nil
}

func sameAttributes(a, b review.TrackedApp) bool {
	return a.Name == b.Name &&
		a.PeerGroup == b.PeerGroup &&
		a.Provider == b.Provider &&
		a.IsActive() == b.IsActive()
}
