package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd(g *globalOpts) *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the warehouse and registry schemas",
		RunE: func(cmd *cobra.Command, args []string) error {
			warehouse, registry := target == "warehouse" || target == "all", target == "registry" || target == "all"
			if !warehouse && !registry {
				return fmt.Errorf("unknown migrate target %q (want warehouse, registry or all)", target)
			}

			a, log, err := g.setup(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if warehouse {
				if _, err := a.Warehouse(cmd.Context()); err != nil {
					return err
				}
				log.Info().Msg("warehouse schema is current")
			}
			if registry {
				if _, err := a.Registry(cmd.Context()); err != nil {
					return err
				}
				log.Info().Msg("registry schema is current")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "all", "Schema to migrate: warehouse, registry or all")
	return cmd
}
