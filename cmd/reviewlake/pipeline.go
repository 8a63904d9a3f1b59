package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reviewlake/reviewlake/internal/app"
)

const platformArgs = "[android|ios|all]"

func newIngestCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest " + platformArgs,
		Short: "Fetch new reviews into the landing zone and advance watermarks",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			platforms, err := parsePlatforms(args)
			if err != nil {
				return err
			}
			a, _, err := g.setup(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			for _, p := range platforms {
				report, err := a.Ingestion(p).Run(cmd.Context())
				if err != nil {
					return fmt.Errorf("ingest %s: %w", p, err)
				}
				if err := render(cmd.OutOrStdout(), g.output, ingestionSummary(app.JobName(app.StageIngest, p), report)); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newPromoteCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "promote " + platformArgs,
		Short: "Convert the last run's landing JSON into bronze Parquet",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			platforms, err := parsePlatforms(args)
			if err != nil {
				return err
			}
			a, _, err := g.setup(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			for _, p := range platforms {
				report, err := a.Promoter(p).Run(cmd.Context())
				if err != nil {
					return fmt.Errorf("promote %s: %w", p, err)
				}
				if err := render(cmd.OutOrStdout(), g.output, promotionSummary(app.JobName(app.StagePromote, p), report)); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newEnrichCmd(g *globalOpts) *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "enrich " + platformArgs,
		Short: "Classify and translate bronze reviews and load them into the warehouse",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			platforms, err := parsePlatforms(args)
			if err != nil {
				return err
			}
			a, _, err := g.setup(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			if workers > 0 {
				a.Config().Enrichment.Workers = workers
			}

			for _, p := range platforms {
				job, err := a.EnrichJob(cmd.Context(), p)
				if err != nil {
					return err
				}
				report, err := job.Run(cmd.Context())
				if err != nil {
					return fmt.Errorf("enrich %s: %w", p, err)
				}
				if err := render(cmd.OutOrStdout(), g.output, enrichmentSummary(app.JobName(app.StageEnrich, p), report)); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent LLM workers (default: enrichment.workers)")
	return cmd
}

func newOnboardCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "onboard " + platformArgs,
		Short: "Stage registry apps that bronze does not track yet into landing metadata",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			platforms, err := parsePlatforms(args)
			if err != nil {
				return err
			}
			a, _, err := g.setup(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			for _, p := range platforms {
				n, err := a.Onboard(cmd.Context(), p)
				if err != nil {
					return fmt.Errorf("onboard %s: %w", p, err)
				}
				if err := render(cmd.OutOrStdout(), g.output, onboardSummary(app.JobName(app.StageOnboard, p), n)); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
