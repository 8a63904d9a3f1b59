// Package registry manages the relational registry of tracked apps and
// onboards registry changes into the landing metadata zone.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/reviewlake/reviewlake/internal/platform"
	"github.com/reviewlake/reviewlake/pkg/review"
)

// Service provides app registry management backed by Postgres (or SQLite
// for local runs).
type Service struct {
	db  *sqlx.DB
	sb  sq.StatementBuilderType
	now func() time.Time
}

// NewService creates a new registry Service.
func NewService(db *sqlx.DB) *Service {
	var ph sq.PlaceholderFormat = sq.Dollar
	if db.DriverName() == platform.DriverSQLite {
		ph = sq.Question
	}
	return &Service{db: db, sb: sq.StatementBuilder.PlaceholderFormat(ph), now: time.Now}
}

// Close closes the underlying database.
func (s *Service) Close() error {
	return s.db.Close()
}

func table(p review.Platform) string {
	if p == review.IOS {
		return "ios_apps"
	}
	return "android_apps"
}

func conflictKey(p review.Platform) string {
	if p == review.IOS {
		return "(id, country)"
	}
	return "(id, lang, country)"
}

// UpsertApp creates or updates an app. An existing last_ingestion is kept
// when app carries none.
func (s *Service) UpsertApp(ctx context.Context, p review.Platform, app review.TrackedApp) error {
	if app.ID == "" || app.Country == "" {
		return fmt.Errorf("upsert app: id and country are required")
	}
	if p == review.Android && app.Lang == "" {
		return fmt.Errorf("upsert app %s: android apps require a lang", app.ID)
	}

	var last sql.NullTime
	if app.LastIngestion != nil {
		last = sql.NullTime{Time: app.LastIngestion.Time, Valid: true}
	}
	t := table(p)
	query, args, err := s.sb.Insert(t).
		Columns("id", "lang", "country", "name", "peer_group", "provider", "active", "last_ingestion", "created_at").
		Values(app.ID, app.Lang, app.Country, app.Name, app.PeerGroup, app.Provider, app.IsActive(), last, s.now().UTC()).
		Suffix(upsertSuffix(p, t)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert app %s: %w", app.ID, err)
	}
	return nil
}

func upsertSuffix(p review.Platform, t string) string {
	return fmt.Sprintf("ON CONFLICT %s DO UPDATE SET "+
		"name = EXCLUDED.name, peer_group = EXCLUDED.peer_group, provider = EXCLUDED.provider, "+
		"active = EXCLUDED.active, last_ingestion = COALESCE(EXCLUDED.last_ingestion, %s.last_ingestion)",
		conflictKey(p), t)
}

type appRow struct {
	ID            string         `db:"id"`
	Lang          string         `db:"lang"`
	Country       string         `db:"country"`
	Name          string         `db:"name"`
	PeerGroup     string         `db:"peer_group"`
	Provider      string         `db:"provider"`
	Active        bool           `db:"active"`
	LastIngestion sql.NullString `db:"last_ingestion"`
}

// ListApps returns every registered app of a platform ordered by key.
func (s *Service) ListApps(ctx context.Context, p review.Platform) ([]review.TrackedApp, error) {
	query, args, err := s.sb.
		Select("id", "lang", "country", "name", "peer_group", "provider", "active", "last_ingestion").
		From(table(p)).
		OrderBy("id", "country", "lang").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	var rows []appRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list apps: %w", err)
	}

	apps := make([]review.TrackedApp, 0, len(rows))
	for _, r := range rows {
		app := review.TrackedApp{
			ID:        r.ID,
			Name:      r.Name,
			Country:   r.Country,
			Lang:      r.Lang,
			PeerGroup: r.PeerGroup,
			Provider:  r.Provider,
		}
		if p == review.IOS || !r.Active {
			active := r.Active
			app.Active = &active
		}
		if r.LastIngestion.Valid && r.LastIngestion.String != "" {
			w, err := review.ParseWatermark(r.LastIngestion.String)
			if err != nil {
				return nil, fmt.Errorf("app %s: %w", r.ID, err)
			}
			app.LastIngestion = w
		}
		apps = append(apps, app)
	}
	return apps, nil
}

// Import upserts every app of a JSON array and returns how many were read.
func (s *Service) Import(ctx context.Context, p review.Platform, r io.Reader) (int, error) {
	var apps []review.TrackedApp
	if err := json.NewDecoder(r).Decode(&apps); err != nil {
		return 0, fmt.Errorf("decode apps: %w", err)
	}
	for i, app := range apps {
		app.Country = strings.ToLower(app.Country)
		app.Lang = strings.ToLower(app.Lang)
		if err := s.UpsertApp(ctx, p, app); err != nil {
			return i, err
		}
	}
	return len(apps), nil
}
