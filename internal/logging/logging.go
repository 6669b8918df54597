// Package logging constructs the single root structured logger shared by
// every subsystem, the way cli/internal/config.Config carries one
// hclog.Logger that subcommands name sub-loggers from (see, e.g.,
// cli/internal/process.newChild naming its logger after the command label).
package logging

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/hashicorp/go-hclog"
	"github.com/mattn/go-isatty"
)

// EnvLogLevel is the environment variable that sets the root log level,
// named with the tool's own STACY_ prefix.
const EnvLogLevel = "STACY_LOG_LEVEL"

// IsTTY reports whether stdout is an interactive terminal. Used to decide
// default color/verbosity, mirroring cli/internal/logger.IsTTY.
var IsTTY = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

// New constructs the root logger. Level comes from STACY_LOG_LEVEL if set,
// else defaults to hclog.Warn so normal runs stay quiet and only surface
// warnings/errors, matching the teacher's "default output is nowhere unless
// we enable logging" posture in cli/internal/config.ParseAndValidate.
func New(name string) hclog.Logger {
	level := hclog.Warn
	if v := os.Getenv(EnvLogLevel); v != "" {
		if parsed := hclog.LevelFromString(v); parsed != hclog.NoLevel {
			level = parsed
		}
	}

	colorOpt := hclog.ColorOff
	var output io.Writer = os.Stderr
	if IsTTY {
		colorOpt = hclog.AutoColor
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:   name,
		Level:  level,
		Color:  colorOpt,
		Output: output,
	})
}

// HighlightRCode renders an r(N); line the way the human-facing error
// report highlights it (spec §7: "the offending r(N); line highlighted").
func HighlightRCode(line string) string {
	return color.New(color.Bold, color.FgRed).Sprint(line)
}
