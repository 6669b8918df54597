package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/janfasnacht/stacy/internal/lockfile"
	"github.com/janfasnacht/stacy/internal/runner"
)

func newListCmd(cliCtx *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List locked packages and whether each is present in the global cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := discoverProject()
			if err != nil {
				return err
			}
			lf, err := lockfile.Load(filepath.Join(project.Root, runner.LockfileFilename))
			if err != nil {
				if err == lockfile.ErrNotFound {
					fmt.Fprintln(cmd.OutOrStdout(), "no lockfile present; nothing is locked")
					return nil
				}
				return err
			}

			entries := runner.ListPackages(lf, cliCtx.cache)
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no locked packages")
				return nil
			}
			for _, e := range entries {
				cached := "not cached"
				if e.Cached {
					cached = "cached"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-12s %-10s %s\n", e.Name, e.Version, e.Group, cached)
			}
			return nil
		},
	}
}
