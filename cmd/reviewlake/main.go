// Package main provides the reviewlake CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var g globalOpts

	rootCmd := &cobra.Command{
		Use:   "reviewlake",
		Short: "App store review ingestion into a landing/bronze data lake",
		Long: `Reviewlake harvests Google Play and App Store reviews for tracked apps,
lands them as JSON, promotes them to Parquet, and enriches them into a warehouse.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := rootCmd.PersistentFlags()
	f.StringVar(&g.configPath, "config", "config.yaml", "Path to the configuration file")
	f.StringVar(&g.runtime, "runtime", "", "Runtime (dev, staging, prod); overrides config and RUNTIME")
	f.StringVar(&g.logLevel, "log-level", "", "Log level override")
	f.StringVar(&g.output, "output", "text", "Report format: text or json")

	rootCmd.AddCommand(
		newIngestCmd(&g),
		newPromoteCmd(&g),
		newEnrichCmd(&g),
		newOnboardCmd(&g),
		newRegistryCmd(&g),
		newMigrateCmd(&g),
	)
	return rootCmd
}
