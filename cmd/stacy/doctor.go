package main

import (
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/janfasnacht/stacy/internal/runner"
)

func newDoctorCmd(cliCtx *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose engine discoverability, project and lockfile health, and cache reachability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			project, _ := discoverProject()

			locate := runner.EngineLocator(func() (string, error) {
				if cliCtx.engineBinary != "" {
					return exec.LookPath(cliCtx.engineBinary)
				}
				return "", fmt.Errorf("no engine binary configured (set --engine, STATA_BINARY, or stata_binary in user config)")
			})

			report := runner.Doctor(project, cliCtx.cache, locate)
			for _, c := range report.Checks {
				line := fmt.Sprintf("[%s] %s: %s", c.Status, c.Name, c.Message)
				if c.Suggestion != "" {
					line += " (" + c.Suggestion + ")"
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d passed, %d warned, %d failed\n", report.Passed, report.Warned, report.Failed)
			if !report.Ready {
				cmd.SilenceUsage = true
				return fmt.Errorf("one or more checks failed")
			}
			return nil
		},
	}
}
