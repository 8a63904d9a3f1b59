// Package lease implements a single-run lock as a blob with an expiry. A
// lease is taken with a create-if-absent write, so two runs racing for the
// same name cannot both win.
package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/reviewlake/reviewlake/internal/blob"
)

// ErrHeld is returned by Acquire when another owner holds an unexpired lease.
var ErrHeld = errors.New("lease held by another run")

// Record is the persisted lease.
type Record struct {
	Owner      string    `json:"owner"`
	Name       string    `json:"name"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Locker hands out leases stored under a prefix of one bucket.
type Locker struct {
	bucket blob.Bucket
	prefix string
	ttl    time.Duration
	now    func() time.Time
	log    zerolog.Logger
}

// NewLocker creates a Locker.
func NewLocker(bucket blob.Bucket, prefix string, ttl time.Duration, log zerolog.Logger) *Locker {
	return &Locker{
		bucket: bucket,
		prefix: prefix,
		ttl:    ttl,
		now:    time.Now,
		log:    log.With().Str("component", "lease").Logger(),
	}
}

// Lease is a held lock.
type Lease struct {
	Record
	locker *Locker
	key    string
}

func (l *Locker) key(name string) string {
	return path.Join(l.prefix, name+".json")
}

// Acquire takes the named lease. An expired lease left behind by a crashed
// run is taken over.
func (l *Locker) Acquire(ctx context.Context, name string) (*Lease, error) {
	key := l.key(name)
	now := l.now().UTC()
	rec := Record{
		Owner:      uuid.NewString(),
		Name:       name,
		AcquiredAt: now,
		ExpiresAt:  now.Add(l.ttl),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode lease: %w", err)
	}

	err = l.bucket.Create(ctx, key, data, blob.ContentTypeJSON)
	if errors.Is(err, blob.ErrExists) {
		current, readErr := l.read(ctx, key)
		if readErr != nil && !errors.Is(readErr, blob.ErrNotExist) {
			return nil, readErr
		}
		if current != nil && now.Before(current.ExpiresAt) {
			return nil, fmt.Errorf("%w: %s owned by %s until %s", ErrHeld, name, current.Owner, current.ExpiresAt.Format(time.RFC3339))
		}
		l.log.Warn().Str("lease", name).Msg("Taking over expired lease")
		if err := l.bucket.Delete(ctx, key); err != nil {
			return nil, fmt.Errorf("remove expired lease: %w", err)
		}
		err = l.bucket.Create(ctx, key, data, blob.ContentTypeJSON)
		if errors.Is(err, blob.ErrExists) {
			return nil, fmt.Errorf("%w: %s", ErrHeld, name)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", name, err)
	}

	l.log.Debug().Str("lease", name).Str("owner", rec.Owner).Msg("Lease acquired")
	return &Lease{Record: rec, locker: l, key: key}, nil
}

// Release deletes the lease if this run still owns it.
func (le *Lease) Release(ctx context.Context) error {
	current, err := le.locker.read(ctx, le.key)
	if errors.Is(err, blob.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if current != nil && current.Owner != le.Owner {
		le.locker.log.Warn().Str("lease", le.Name).Str("owner", current.Owner).Msg("Lease was taken over, not releasing")
		return nil
	}
	if err := le.locker.bucket.Delete(ctx, le.key); err != nil {
		return fmt.Errorf("release lease %s: %w", le.Name, err)
	}
	return nil
}

// read returns the stored record; a corrupt record is reported as nil so it
// can be taken over.
func (l *Locker) read(ctx context.Context, key string) (*Record, error) {
	data, err := l.bucket.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read lease: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		l.log.Warn().Err(err).Str("key", key).Msg("Ignoring unreadable lease")
		return nil, nil
	}
	return &rec, nil
}
