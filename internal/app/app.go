// Package app builds the pipeline components from configuration. Adapters
// are constructed once here and injected; nothing below reads globals.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/reviewlake/reviewlake/internal/api"
	"github.com/reviewlake/reviewlake/internal/blob"
	"github.com/reviewlake/reviewlake/internal/enrich"
	"github.com/reviewlake/reviewlake/internal/ingestion"
	"github.com/reviewlake/reviewlake/internal/lease"
	"github.com/reviewlake/reviewlake/internal/metadata"
	"github.com/reviewlake/reviewlake/internal/platform"
	"github.com/reviewlake/reviewlake/internal/promotion"
	"github.com/reviewlake/reviewlake/internal/registry"
	"github.com/reviewlake/reviewlake/internal/source"
	"github.com/reviewlake/reviewlake/internal/warehouse"
	"github.com/reviewlake/reviewlake/pkg/config"
	"github.com/reviewlake/reviewlake/pkg/review"
)

// Pipeline holds the storage handles of one platform.
type Pipeline struct {
	Platform review.Platform
	Config   config.PipelineConfig
	Landing  blob.Bucket
	Bronze   blob.Bucket
	Metadata *metadata.Store
	Locker   *lease.Locker
}

// App is the assembled application.
type App struct {
	cfg       *config.Config
	log       zerolog.Logger
	backend   blob.Backend
	pipelines map[review.Platform]*Pipeline
	source    source.Source
	llm       enrich.Completer

	mu        sync.Mutex
	warehouse *warehouse.Loader
	registry  *registry.Service
}

// Option customizes New.
type Option func(*App)

// WithBackend replaces the configured blob backend.
func WithBackend(b blob.Backend) Option {
	return func(a *App) { a.backend = b }
}

// WithSource replaces the SerpApi client.
func WithSource(s source.Source) Option {
	return func(a *App) { a.source = s }
}

// WithCompleter replaces the LLM client.
func WithCompleter(c enrich.Completer) Option {
	return func(a *App) { a.llm = c }
}

// WithWarehouse injects an open warehouse loader.
func WithWarehouse(l *warehouse.Loader) Option {
	return func(a *App) { a.warehouse = l }
}

// WithRegistry injects an open registry service.
func WithRegistry(r *registry.Service) Option {
	return func(a *App) { a.registry = r }
}

// New resolves the runtime's buckets and builds the per-platform handles.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, log: log, pipelines: make(map[review.Platform]*Pipeline)}
	for _, opt := range opts {
		opt(a)
	}

	if a.backend == nil {
		b, err := blob.Open(ctx, blob.Options{
			Backend:  cfg.Storage.Backend,
			LocalDir: cfg.Storage.LocalDir,
			S3:       blob.S3Config(cfg.Storage.S3),
		})
		if err != nil {
			return nil, fmt.Errorf("open blob backend: %w", err)
		}
		a.backend = b
	}

	for _, p := range review.Platforms() {
		pc := cfg.Pipelines.For(p)
		landingName, err := pc.LandingBucket.For(cfg.Runtime)
		if err != nil {
			a.backend.Close()
			return nil, fmt.Errorf("pipelines.%s.landing_bucket: %w", p, err)
		}
		bronzeName, err := pc.BronzeBucket.For(cfg.Runtime)
		if err != nil {
			a.backend.Close()
			return nil, fmt.Errorf("pipelines.%s.bronze_bucket: %w", p, err)
		}

		landing, bronze := a.backend.Bucket(landingName), a.backend.Bucket(bronzeName)
		a.pipelines[p] = &Pipeline{
			Platform: p,
			Config:   pc,
			Landing:  landing,
			Bronze:   bronze,
			Metadata: metadata.NewStore(p,
				metadata.Location{Bucket: landing, Key: pc.LandingMetadata},
				metadata.Location{Bucket: bronze, Key: pc.BronzeMetadata},
				log),
			Locker: lease.NewLocker(landing, cfg.Lease.Prefix, cfg.Lease.ParseTTL(), log),
		}
	}

	if a.source == nil {
		a.source = source.NewClient(cfg.SerpApi.BaseURL, cfg.SerpApi.APIKey, seconds(cfg.SerpApi.Timeout))
	}
	return a, nil
}

// Close releases the backend and any open databases.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	if a.warehouse != nil {
		errs = append(errs, a.warehouse.Close())
		a.warehouse = nil
	}
	if a.registry != nil {
		errs = append(errs, a.registry.Close())
		a.registry = nil
	}
	if a.backend != nil {
		errs = append(errs, a.backend.Close())
	}
	return errors.Join(errs...)
}

// Config returns the configuration the app was built from.
func (a *App) Config() *config.Config { return a.cfg }

// Pipeline returns the handles of platform p.
func (a *App) Pipeline(p review.Platform) *Pipeline { return a.pipelines[p] }

// Ingestion builds the ingestion service of platform p.
func (a *App) Ingestion(p review.Platform) *ingestion.Service {
	pl := a.pipelines[p]
	return ingestion.NewService(ingestion.Options{
		Platform:    p,
		DeviceKinds: pl.Config.Platforms,
		Metadata:    pl.Metadata,
		Fetcher:     ingestion.NewFetcher(a.source, pl.Config.SerpApiParams, pl.Config.MaxPages, a.log),
		Writer:      ingestion.NewWriter(p, pl.Landing, pl.Config.BucketPrefix, a.log),
		Locker:      pl.Locker,
		Location:    a.cfg.Location(),
		Logger:      a.log,
	})
}

// Promoter builds the promotion stage of platform p.
func (a *App) Promoter(p review.Platform) *promotion.Promoter {
	pl := a.pipelines[p]
	return promotion.NewPromoter(promotion.Options{
		Platform: p,
		Landing:  pl.Landing,
		Bronze:   pl.Bronze,
		Prefix:   pl.Config.BucketPrefix,
		Metadata: pl.Metadata,
		Locker:   pl.Locker,
		Logger:   a.log,
	})
}

// EnrichJob builds the enrichment job of platform p, opening the warehouse
// on first use.
func (a *App) EnrichJob(ctx context.Context, p review.Platform) (*enrich.Job, error) {
	llm, err := a.completer()
	if err != nil {
		return nil, err
	}
	sink, err := a.Warehouse(ctx)
	if err != nil {
		return nil, err
	}
	ec := a.cfg.Enrichment
	pl := a.pipelines[p]
	enricher := enrich.NewEnricher(llm, ec.Workers, ec.TargetLanguage, a.log)
	return enrich.NewJob(p, pl.Bronze, pl.Config.BucketPrefix, enricher, sink, a.log), nil
}

func (a *App) completer() (enrich.Completer, error) {
	if a.llm != nil {
		return a.llm, nil
	}
	ec := a.cfg.Enrichment
	llm, err := enrich.NewLLM(ec.Provider, ec.Model, ec.APIKey, ec.BaseURL, seconds(ec.Timeout))
	if err != nil {
		return nil, fmt.Errorf("build llm client: %w", err)
	}
	a.llm = llm
	return llm, nil
}

// Warehouse opens (once) the warehouse of the configured runtime.
func (a *App) Warehouse(ctx context.Context) (*warehouse.Loader, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.warehouse != nil {
		return a.warehouse, nil
	}
	dsn, err := a.cfg.Warehouse.DSN.For(a.cfg.Runtime)
	if err != nil {
		return nil, fmt.Errorf("warehouse.dsn: %w", err)
	}
	l, err := warehouse.Open(ctx, a.cfg.Warehouse.Driver, dsn, a.log)
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}
	a.warehouse = l
	return l, nil
}

// Registry opens (once) the app registry of the configured runtime.
func (a *App) Registry(ctx context.Context) (*registry.Service, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.registry != nil {
		return a.registry, nil
	}
	dsn, err := a.cfg.Registry.DSN.For(a.cfg.Runtime)
	if err != nil {
		return nil, fmt.Errorf("registry.dsn: %w", err)
	}
	db, err := platform.Open(ctx, a.cfg.Registry.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	a.registry = registry.NewService(db)
	return a.registry, nil
}

// Onboard stages the registry apps of platform p into landing metadata.
func (a *App) Onboard(ctx context.Context, p review.Platform) (int, error) {
	reg, err := a.Registry(ctx)
	if err != nil {
		return 0, err
	}
	apps, err := reg.ListApps(ctx, p)
	if err != nil {
		return 0, err
	}
	return a.stage(ctx, p, apps)
}

// Register upserts apps into the registry and stages them for the next
// ingestion. Without a configured registry, apps are staged directly.
// Staging fails with lease.ErrHeld while a run of the platform is in
// progress; registry rows written before that are kept.
func (a *App) Register(ctx context.Context, p review.Platform, apps []review.TrackedApp) (int, error) {
	if a.hasRegistry() {
		reg, err := a.Registry(ctx)
		if err != nil {
			return 0, err
		}
		for _, app := range apps {
			if err := reg.UpsertApp(ctx, p, app); err != nil {
				return 0, err
			}
		}
	}
	return a.stage(ctx, p, apps)
}

// stage writes the landing registry under the platform lease, since an
// ingestion commit deletes the landing registry it loaded.
func (a *App) stage(ctx context.Context, p review.Platform, apps []review.TrackedApp) (n int, err error) {
	pl := a.pipelines[p]
	if pl.Locker != nil {
		held, acqErr := pl.Locker.Acquire(ctx, string(p))
		if acqErr != nil {
			return 0, acqErr
		}
		defer func() {
			if relErr := held.Release(context.WithoutCancel(ctx)); relErr != nil && err == nil {
				err = relErr
			}
		}()
	}
	return registry.Onboard(ctx, p, apps, pl.Metadata)
}

func (a *App) hasRegistry() bool {
	a.mu.Lock()
	injected := a.registry != nil
	a.mu.Unlock()
	if injected {
		return true
	}
	_, err := a.cfg.Registry.DSN.For(a.cfg.Runtime)
	return err == nil
}

// Zones returns the read-only bronze views served by the API.
func (a *App) Zones() map[review.Platform]api.Zone {
	zones := make(map[review.Platform]api.Zone, len(a.pipelines))
	for p, pl := range a.pipelines {
		zones[p] = api.Zone{Metadata: pl.Metadata, Bronze: pl.Bronze, Prefix: pl.Config.BucketPrefix}
	}
	return zones
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 60 * time.Second
	}
	return time.Duration(n) * time.Second
}
