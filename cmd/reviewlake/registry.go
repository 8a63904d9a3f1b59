package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/reviewlake/reviewlake/pkg/review"
)

func newRegistryCmd(g *globalOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Manage the relational app registry",
	}
	cmd.AddCommand(newRegistryImportCmd(g), newRegistryListCmd(g))
	return cmd
}

func newRegistryImportCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "import <android|ios> <apps.json>",
		Short: "Upsert apps from a JSON array into the registry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := review.ParsePlatform(args[0])
			if err != nil {
				return err
			}
			f, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("open apps file: %w", err)
			}
			defer f.Close()

			a, _, err := g.setup(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			reg, err := a.Registry(cmd.Context())
			if err != nil {
				return err
			}
			n, err := reg.Import(cmd.Context(), p, f)
			if err != nil {
				return fmt.Errorf("import after %d apps: %w", n, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d %s apps\n", n, p)
			return nil
		},
	}
}

func newRegistryListCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "list <android|ios>",
		Short: "Print the registered apps as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := review.ParsePlatform(args[0])
			if err != nil {
				return err
			}
			a, _, err := g.setup(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			reg, err := a.Registry(cmd.Context())
			if err != nil {
				return err
			}
			apps, err := reg.ListApps(cmd.Context(), p)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(apps)
		},
	}
}
