package main

import (
	"fmt"
	"os"

	"github.com/janfasnacht/stacy/internal/errormap"
)

func main() {
	root, cliCtx := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "stacy:", err)
		// A subcommand that reached a runner.Outcome or taskgraph.Result
		// reports the exit code that contract actually computed; anything
		// that failed before getting that far (bad flags, no project found,
		// a network error fetching a package) falls back to the "stacy
		// itself failed" code rather than the generic engine-error code 1
		// (original_source/src/cli/task.rs:251: process::exit(result.exit_code)).
		code := errormap.ExitCodeInternal
		if cliCtx.exitCodeSet {
			code = cliCtx.exitCode
		}
		os.Exit(code)
	}
}
