// Package warehouse appends enriched reviews to the analytical tables and
// remembers which bronze artifacts have been loaded.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/reviewlake/reviewlake/internal/platform"
	"github.com/reviewlake/reviewlake/pkg/review"
)

// batchSize bounds the rows per INSERT so the Postgres parameter limit is
// never reached.
const batchSize = 500

var reviewColumns = []string{
	"app_id", "country", "review_id", "lang", "platform", "provider", "peer_group",
	"title", "content", "rating", "created_at", "fetched_at",
	"sentiment", "cause", "en_content", "artifact", "loaded_at",
}

// Loader writes enriched rows into android_reviews / ios_reviews.
type Loader struct {
	db  *sqlx.DB
	sb  sq.StatementBuilderType
	now func() time.Time
	log zerolog.Logger
}

// New wraps an open database. The placeholder style follows the driver.
func New(db *sqlx.DB, log zerolog.Logger) *Loader {
	var ph sq.PlaceholderFormat = sq.Dollar
	if db.DriverName() == platform.DriverSQLite {
		ph = sq.Question
	}
	return &Loader{
		db:  db,
		sb:  sq.StatementBuilder.PlaceholderFormat(ph),
		now: time.Now,
		log: log.With().Str("component", "warehouse").Logger(),
	}
}

// Open connects to the warehouse and migrates it.
func Open(ctx context.Context, driver, dsn string, log zerolog.Logger) (*Loader, error) {
	db, err := platform.Open(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}
	return New(db, log), nil
}

// Close closes the underlying database.
func (l *Loader) Close() error {
	return l.db.Close()
}

// Table returns the review table of a platform.
func Table(p review.Platform) string {
	if p == review.IOS {
		return "ios_reviews"
	}
	return "android_reviews"
}

// Loaded reports whether this exact artifact content was loaded before.
func (l *Loader) Loaded(ctx context.Context, artifact, checksum string) (bool, error) {
	query, args, err := l.sb.Select("COUNT(*)").From("loaded_artifacts").
		Where(sq.Eq{"path": artifact, "checksum": checksum}).ToSql()
	if err != nil {
		return false, fmt.Errorf("build loaded query: %w", err)
	}
	var n int
	if err := l.db.GetContext(ctx, &n, query, args...); err != nil {
		return false, fmt.Errorf("query loaded artifacts: %w", err)
	}
	return n > 0, nil
}

// Load inserts rows that are not in the table yet and records the artifact,
// all in one transaction. It returns the number of rows actually inserted.
func (l *Loader) Load(ctx context.Context, p review.Platform, artifact, checksum string, rows []review.Enriched) (int, error) {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin load: %w", err)
	}
	defer tx.Rollback()

	loadedAt := l.now().UTC()
	inserted := 0
	for start := 0; start < len(rows); start += batchSize {
		end := min(start+batchSize, len(rows))
		n, err := l.insertBatch(ctx, tx, Table(p), artifact, loadedAt, rows[start:end])
		if err != nil {
			return 0, err
		}
		inserted += n
	}

	query, args, err := l.sb.Insert("loaded_artifacts").
		Columns("path", "checksum", "platform", "row_count", "loaded_at").
		Values(artifact, checksum, string(p), len(rows), loadedAt).
		Suffix("ON CONFLICT (path, checksum) DO NOTHING").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build artifact insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return 0, fmt.Errorf("record artifact %s: %w", artifact, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit load: %w", err)
	}
	l.log.Debug().Str("artifact", artifact).Int("rows", len(rows)).Int("inserted", inserted).Msg("artifact loaded")
	return inserted, nil
}

func (l *Loader) insertBatch(ctx context.Context, tx *sqlx.Tx, table, artifact string, loadedAt time.Time, rows []review.Enriched) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	ins := l.sb.Insert(table).Columns(reviewColumns...)
	for _, r := range rows {
		var created sql.NullTime
		if !r.CreatedTime.IsZero() {
			created = sql.NullTime{Time: r.CreatedTime.UTC(), Valid: true}
		}
		var rating sql.NullFloat64
		if r.Rating != nil {
			rating = sql.NullFloat64{Float64: *r.Rating, Valid: true}
		}
		ins = ins.Values(
			r.AppID, r.Country, r.ReviewID, r.Lang, r.Platform, r.Provider, r.PeerGroup,
			r.Title, r.Content, rating, created, r.FetchedAt,
			r.Sentiment, r.Cause, r.EnContent, artifact, loadedAt,
		)
	}
	query, args, err := ins.Suffix("ON CONFLICT (app_id, country, review_id) DO NOTHING").ToSql()
	if err != nil {
		return 0, fmt.Errorf("build %s insert: %w", table, err)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// Count returns the number of rows loaded for a platform.
func (l *Loader) Count(ctx context.Context, p review.Platform) (int, error) {
	query, args, err := l.sb.Select("COUNT(*)").From(Table(p)).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}
	var n int
	if err := l.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, fmt.Errorf("count %s: %w", Table(p), err)
	}
	return n, nil
}
