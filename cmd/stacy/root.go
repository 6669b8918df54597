// Package main implements stacy's command-line surface: a thin cobra tree
// wiring internal/runner's control flow, internal/config's manifest/user
// config layers, and internal/pkgsource+installer's package install path
// together, the way cli/internal/cmd.RunWithArgs wires turbo's own
// subcommands atop cmdutil.Helper. stacy's surface is deliberately smaller
// than the teacher's (no daemon, no remote cache), so it skips
// cmdutil.Helper and builds its cobra tree directly.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/janfasnacht/stacy/internal/config"
	"github.com/janfasnacht/stacy/internal/logging"
	"github.com/janfasnacht/stacy/internal/pkgcache"
	"github.com/janfasnacht/stacy/internal/runner"
)

// cliContext bundles the state every subcommand needs, resolved once by
// the root command's PersistentPreRunE.
type cliContext struct {
	logger       hclog.Logger
	userCfg      *config.UserConfig
	cache        *pkgcache.Cache
	engineBinary string
	timeout      time.Duration

	// exitCode and exitCodeSet let a subcommand hand main() the real exit
	// code computed from a runner.Outcome/taskgraph.Result, instead of
	// main() falling back to errormap.ExitCodeInternal for every RunE
	// error regardless of what actually failed (spec §6's stable exit-code
	// contract, confirmed regression vs.
	// original_source/src/cli/task.rs:251's process::exit(result.exit_code)).
	exitCode    int
	exitCodeSet bool
}

// setExitCode records the exit code main() should use once root.Execute()
// returns an error for this invocation. Only the first call wins, so a
// task graph's aggregate code (set once, after every task has run) isn't
// overwritten by a later, unrelated RunE error.
func (c *cliContext) setExitCode(code int) {
	if c.exitCodeSet {
		return
	}
	c.exitCode = code
	c.exitCodeSet = true
}

func newRootCmd() (*cobra.Command, *cliContext) {
	cliCtx := &cliContext{}
	var engineFlag string
	var timeoutFlag time.Duration
	var logLevelFlag string

	root := &cobra.Command{
		Use:           "stacy",
		Short:         "Reproducible builds and package management for Stata analysis projects",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevelFlag != "" {
				os.Setenv(logging.EnvLogLevel, logLevelFlag)
			}
			cliCtx.logger = logging.New("stacy")

			userCfgPath, err := config.UserConfigPath()
			if err != nil {
				return err
			}
			userCfg, err := config.ReadUserConfigFile(afero.NewOsFs(), userCfgPath)
			if err != nil {
				return fmt.Errorf("reading user config: %w", err)
			}
			cliCtx.userCfg = userCfg
			cliCtx.engineBinary = config.EngineBinary(engineFlag, userCfg)
			cliCtx.timeout = timeoutFlag

			cacheRoot, err := pkgcache.DefaultRoot()
			if err != nil {
				return fmt.Errorf("resolving global package cache root: %w", err)
			}
			cliCtx.cache = pkgcache.New(afero.NewOsFs(), cacheRoot)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&engineFlag, "engine", "", "path to the engine binary (overrides STATA_BINARY and user config)")
	root.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 0, "maximum duration to let the engine run before it is killed (0 = no timeout)")
	root.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "overrides "+logging.EnvLogLevel+" for this invocation (trace, debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(cliCtx),
		newListCmd(cliCtx),
		newOutdatedCmd(cliCtx),
		newExplainCmd(cliCtx),
		newDoctorCmd(cliCtx),
		newInstallCmd(cliCtx),
	)
	return root, cliCtx
}

// discoverProject wraps runner.DiscoverProject with the cwd the user
// actually invoked stacy from, the same "start from the working directory"
// discipline the teacher's workspace root-finding uses.
func discoverProject() (*runner.Project, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return runner.DiscoverProject(cwd)
}
