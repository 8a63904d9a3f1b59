package main

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"github.com/reviewlake/reviewlake/internal/app"
	"github.com/reviewlake/reviewlake/internal/logging"
	"github.com/reviewlake/reviewlake/pkg/config"
	"github.com/reviewlake/reviewlake/pkg/review"
)

type globalOpts struct {
	configPath string
	runtime    string
	logLevel   string
	output     string
}

// load reads the configuration and applies flag overrides.
func (g *globalOpts) load() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.runtime != "" {
		cfg.Runtime = g.runtime
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	return cfg, nil
}

func (g *globalOpts) setup(ctx context.Context, w io.Writer) (*app.App, zerolog.Logger, error) {
	cfg, err := g.load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	log := logging.NewWithWriter(w, cfg.Log.Level, cfg.Log.Format)
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, log, err
	}
	return a, log, nil
}

func parsePlatforms(args []string) ([]review.Platform, error) {
	if len(args) == 0 || args[0] == "all" {
		return review.Platforms(), nil
	}
	p, err := review.ParsePlatform(args[0])
	if err != nil {
		return nil, err
	}
	return []review.Platform{p}, nil
}
