// Command reviewlaked is the long-running reviewlake service. It runs the
// pipeline jobs on their cron schedules and serves health, read-only bronze
// views, manual job triggers and the signed webhook endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/reviewlake/reviewlake/internal/api"
	"github.com/reviewlake/reviewlake/internal/app"
	"github.com/reviewlake/reviewlake/internal/logging"
	"github.com/reviewlake/reviewlake/internal/scheduler"
	"github.com/reviewlake/reviewlake/internal/webhook"
	"github.com/reviewlake/reviewlake/pkg/config"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("reviewlaked failed")
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	sched := scheduler.New(cfg.Location(), log)
	if err := a.Schedule(sched); err != nil {
		return err
	}
	runner := scheduler.NewRunner(ctx, a.Jobs(), log)
	dlog := logging.Component(log, "daemon")

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           newMux(a, runner, sched, cfg, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sched.Start(ctx)
	errc := make(chan error, 1)
	go func() {
		dlog.Info().Msgf("starting reviewlaked on %s (runtime %s)", srv.Addr, cfg.Runtime)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		sched.Stop()
		return fmt.Errorf("listen: %w", err)
	}

	dlog.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		dlog.Error().Err(err).Msg("shutdown error")
	}
	sched.Stop()
	runner.Wait()
	return nil
}

func newMux(a *app.App, runner *scheduler.Runner, sched *scheduler.Scheduler, cfg *config.Config, log zerolog.Logger) http.Handler {
	h := api.NewHandler(api.Options{
		Zones:     a.Zones(),
		Runner:    runner,
		Next:      sched.Next,
		CacheSize: cfg.Server.CacheSize,
		Logger:    log,
	})

	public := http.NewServeMux()
	h.RegisterRoutes(public)

	internal := http.NewServeMux()
	h.RegisterInternalRoutes(internal)
	if cfg.Server.APIKey == "" {
		log.Warn().Msg("server.api_key is empty; internal routes are unauthenticated")
	}

	mux := http.NewServeMux()
	mux.Handle("/", api.CORS(public))
	mux.Handle("/internal/", api.APIKeyAuth(cfg.Server.APIKey)(internal))
	mux.Handle("POST /v1/webhooks/reviewlake", webhook.NewHandler([]byte(cfg.Server.WebhookSecret), runner, a, log))

	return api.RequestLogger(log)(mux)
}
