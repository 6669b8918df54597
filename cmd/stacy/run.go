package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/janfasnacht/stacy/internal/errormap"
	"github.com/janfasnacht/stacy/internal/runner"
	"github.com/janfasnacht/stacy/internal/signals"
	"github.com/janfasnacht/stacy/internal/taskgraph"
)

func newRunCmd(cliCtx *cliContext) *cobra.Command {
	var force bool
	var allowGlobal bool
	var frozen bool
	var argFlags []string

	cmd := &cobra.Command{
		Use:   "run <task-or-script>",
		Short: "Run a named script task, or a single .do file directly",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]

			project, err := discoverProject()
			if err != nil {
				return err
			}

			scriptArgs, err := parseArgFlags(argFlags)
			if err != nil {
				return err
			}

			watcher := signals.NewEngineRunWatcher()
			ctx, cancel := context.WithCancel(cmd.Context())
			watcher.CancelOnSignal(cancel)
			defer watcher.Stop()

			runOne := func(ctx context.Context, taskName, scriptPath string) (int, bool, error) {
				out, err := runner.Run(ctx, cliCtx.cache, runner.Input{
					Project:      project,
					ScriptPath:   resolveScriptPath(project.Root, scriptPath),
					Args:         scriptArgs,
					EngineBinary: cliCtx.engineBinary,
					Timeout:      cliCtx.timeout,
					Force:        force,
					AllowGlobal:  allowGlobal,
					Frozen:       frozen,
					Logger:       cliCtx.logger,
					ErrorDB:      errormap.Global(),
				})
				if err != nil {
					return 0, false, err
				}
				reportOutcome(cmd, taskName, out)
				return out.ExitCode, out.Success, nil
			}

			if _, ok := project.Manifest.Scripts[target]; ok {
				graph, err := taskgraph.Build(project.Manifest.Scripts)
				if err != nil {
					return fmt.Errorf("building task graph: %w", err)
				}
				result, err := graph.Execute(ctx, target, runOne)
				if err != nil {
					return err
				}
				if result.FailureCount > 0 {
					cmd.SilenceUsage = true
					// A runner.Outcome carries the real computed exit code
					// even on failure (spec §6); surface the first failing
					// task's, matching the "surface the first error"
					// principle §4.11 already applies to execution errors.
					cliCtx.setExitCode(firstFailureExitCode(result))
					return fmt.Errorf("%d of %d tasks failed", result.FailureCount, result.FailureCount+result.SuccessCount)
				}
				return nil
			}

			exitCode, success, err := runOne(ctx, target, target)
			if err != nil {
				return err
			}
			if !success {
				cmd.SilenceUsage = true
				cliCtx.setExitCode(exitCode)
				return fmt.Errorf("script failed with exit code %d", exitCode)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "bypass the build cache and always re-run the engine")
	cmd.Flags().BoolVar(&allowGlobal, "allow-global", false, "allow the engine to see globally installed packages outside the lockfile")
	cmd.Flags().BoolVar(&frozen, "frozen", false, "abort instead of running if the lockfile is out of sync with the manifest")
	cmd.Flags().StringArrayVar(&argFlags, "arg", nil, "script argument in key=value form, repeatable")
	return cmd
}

func parseArgFlags(flags []string) (map[string]string, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(flags))
	for _, f := range flags {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("malformed --arg %q: want key=value", f)
		}
		out[k] = v
	}
	return out, nil
}

// resolveScriptPath lets manifest script entries and direct script
// arguments both use project-root-relative paths, the same way the
// teacher's turbopath resolves task working directories against the
// workspace root.
func resolveScriptPath(projectRoot, scriptPath string) string {
	if filepath.IsAbs(scriptPath) {
		return scriptPath
	}
	return filepath.Join(projectRoot, scriptPath)
}

// firstFailureExitCode returns the exit code of the first failed outcome in
// result, in the order taskgraph.Graph.Execute recorded them (sequential
// order for a sequence, name order for a parallel group). 0 if none failed.
func firstFailureExitCode(result *taskgraph.Result) int {
	for _, o := range result.Outcomes {
		if !o.Success {
			return o.ExitCode
		}
	}
	return 0
}

func reportOutcome(cmd *cobra.Command, name string, out *runner.Outcome) {
	if out.FromCache {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: cached (exit %d)\n", name, out.ExitCode)
		return
	}
	if out.Success {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%s)\n", name, out.Duration)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: failed r(%d): %s\n", name, out.RCode, out.Message)
}
