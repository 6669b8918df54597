package main

import (
	"github.com/spf13/cobra"

	"github.com/janfasnacht/stacy/internal/runner"
)

func newOutdatedCmd(cliCtx *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "outdated",
		Short: "Check locked packages against their latest available version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runner.ErrOutdatedRequiresNetwork
		},
	}
}
