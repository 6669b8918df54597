package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/janfasnacht/stacy/internal/errormap"
)

func newExplainCmd(cliCtx *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "explain <r-code>",
		Short: "Explain what an engine r(N) error code means and its exit-code category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("%q is not a numeric r-code: %w", args[0], err)
			}
			category := errormap.CategoryForCode(code)
			exitCode := errormap.ExitCodeForCode(code, errormap.Global())
			fmt.Fprintf(cmd.OutOrStdout(), "r(%d): %s\ncategory: %s\nexit code: %d\n", code, errormap.Explain(code), category, exitCode)
			return nil
		},
	}
}
