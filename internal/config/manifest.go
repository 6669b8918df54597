// Package config implements the project manifest (stacy.toml) and
// user-level configuration (spec §6). Grounded on the teacher's
// cli/internal/config/config_file.go (afero + xdg for the user-config
// path) and cli/internal/config/config.go (env/flag precedence), adapted
// from JSON-over-turborepo.com-account settings to TOML-over-project
// manifest and TOML-over-engine-binary-override.
package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/mapstructure"

	"github.com/janfasnacht/stacy/internal/lockfile"
	"github.com/janfasnacht/stacy/internal/taskgraph"
)

// ProjectInfo is the `[project]` table (spec §6).
type ProjectInfo struct {
	Name        string   `toml:"name"`
	Authors     []string `toml:"authors"`
	Description string   `toml:"description"`
	URL         string   `toml:"url"`
}

// RunConfig is the `[run]` table (spec §6).
type RunConfig struct {
	ShowProgress            bool   `toml:"show_progress"`
	ProgressIntervalSeconds int    `toml:"progress_interval_seconds"`
	MaxLogSizeMB            int    `toml:"max_log_size_mb"`
	LogDir                  string `toml:"log_dir"`
}

// DefaultRunConfig mirrors the original implementation's defaults, applied
// when the `[run]` table (or a field within it) is absent.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		ShowProgress:            true,
		ProgressIntervalSeconds: 2,
		MaxLogSizeMB:            50,
		LogDir:                  ".",
	}
}

// DependencySpec is one resolved `[packages.*]` entry: a source and an
// optional version pin, tagged with the group it came from.
type DependencySpec struct {
	Source  string       `mapstructure:"source"`
	Version string       `mapstructure:"version"`
	Group   lockfile.Group
}

// Manifest is the parsed project manifest (spec §6 "Project manifest
// file").
type Manifest struct {
	Project      ProjectInfo
	Run          RunConfig
	Dependencies map[string]DependencySpec
	Scripts      map[string]taskgraph.Def
}

// rawManifest mirrors the TOML shape before polymorphic fields (dependency
// sources, script definitions) are resolved into typed values.
type rawManifest struct {
	Project ProjectInfo `toml:"project"`
	Run     RunConfig   `toml:"run"`
	Packages struct {
		Dependencies map[string]interface{} `toml:"dependencies"`
		Dev          map[string]interface{} `toml:"dev"`
		Test         map[string]interface{} `toml:"test"`
	} `toml:"packages"`
	Scripts map[string]interface{} `toml:"scripts"`
}

// ParseManifest parses stacy.toml content into a Manifest.
func ParseManifest(content string) (*Manifest, error) {
	var raw rawManifest
	md, err := toml.Decode(content, &raw)
	if err != nil {
		return nil, fmt.Errorf("parsing project manifest: %w", err)
	}

	run := DefaultRunConfig()
	if raw.Run.ProgressIntervalSeconds != 0 {
		run.ProgressIntervalSeconds = raw.Run.ProgressIntervalSeconds
	}
	if raw.Run.MaxLogSizeMB != 0 {
		run.MaxLogSizeMB = raw.Run.MaxLogSizeMB
	}
	if raw.Run.LogDir != "" {
		run.LogDir = raw.Run.LogDir
	}
	if md.IsDefined("run", "show_progress") {
		run.ShowProgress = raw.Run.ShowProgress
	}

	deps := make(map[string]DependencySpec)
	if err := mergeDependencyGroup(deps, raw.Packages.Dependencies, lockfile.Production); err != nil {
		return nil, err
	}
	if err := mergeDependencyGroup(deps, raw.Packages.Dev, lockfile.Dev); err != nil {
		return nil, err
	}
	if err := mergeDependencyGroup(deps, raw.Packages.Test, lockfile.Test); err != nil {
		return nil, err
	}

	scripts, err := decodeScripts(raw.Scripts)
	if err != nil {
		return nil, err
	}

	return &Manifest{
		Project:      raw.Project,
		Run:          run,
		Dependencies: deps,
		Scripts:      scripts,
	}, nil
}

func mergeDependencyGroup(into map[string]DependencySpec, group map[string]interface{}, g lockfile.Group) error {
	for name, raw := range group {
		spec, err := decodeDependencySpec(raw)
		if err != nil {
			return fmt.Errorf("dependency %q: %w", name, err)
		}
		spec.Group = g
		into[strings.ToLower(name)] = spec
	}
	return nil
}

func decodeDependencySpec(raw interface{}) (DependencySpec, error) {
	switch v := raw.(type) {
	case string:
		return DependencySpec{Source: v}, nil
	case map[string]interface{}:
		var spec DependencySpec
		if err := mapstructure.Decode(v, &spec); err != nil {
			return DependencySpec{}, fmt.Errorf("decoding dependency table: %w", err)
		}
		return spec, nil
	default:
		return DependencySpec{}, fmt.Errorf("unsupported dependency shape %T", raw)
	}
}

// ParseSourceSpec resolves a DependencySpec's source string into a
// lockfile.Source (spec §3 "Package source variants").
func ParseSourceSpec(raw string) (lockfile.Source, error) {
	switch {
	case raw == "registry" || raw == "":
		return lockfile.Source{Type: lockfile.SourceRegistry}, nil
	case strings.HasPrefix(raw, "source-host:"):
		rest := strings.TrimPrefix(raw, "source-host:")
		ref := ""
		if idx := strings.Index(rest, "@"); idx != -1 {
			ref = rest[idx+1:]
			rest = rest[:idx]
		}
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 {
			return lockfile.Source{}, fmt.Errorf("malformed source-host spec %q: want user/repo[@ref]", raw)
		}
		return lockfile.Source{Type: lockfile.SourceHost, User: parts[0], Repo: parts[1], Ref: ref}, nil
	case strings.HasPrefix(raw, "url:"):
		return lockfile.Source{Type: lockfile.SourceURL, BaseURL: strings.TrimPrefix(raw, "url:")}, nil
	case strings.HasPrefix(raw, "local:"):
		return lockfile.Source{Type: lockfile.SourceLocalDir, Dir: strings.TrimPrefix(raw, "local:")}, nil
	default:
		return lockfile.Source{}, fmt.Errorf("unrecognized source spec %q", raw)
	}
}

// scriptTable is the typed shape mapstructure decodes a `[scripts.X]` table
// entry into — the table variant of a polymorphic script definition (spec
// §6: "a table {parallel=[names]} or {script=path, description=…}").
type scriptTable struct {
	Parallel    []string          `mapstructure:"parallel"`
	Script      string            `mapstructure:"script"`
	Description string            `mapstructure:"description"`
	Args        map[string]string `mapstructure:"args"`
}

func decodeScripts(raw map[string]interface{}) (map[string]taskgraph.Def, error) {
	out := make(map[string]taskgraph.Def, len(raw))
	for name, entry := range raw {
		def, err := decodeScriptEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("script %q: %w", name, err)
		}
		out[name] = def
	}
	return out, nil
}

func decodeScriptEntry(raw interface{}) (taskgraph.Def, error) {
	switch v := raw.(type) {
	case string:
		return taskgraph.Def{Kind: taskgraph.KindSimple, Path: v}, nil

	case []interface{}:
		names := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return taskgraph.Def{}, fmt.Errorf("sequential task list must contain only strings")
			}
			names = append(names, s)
		}
		return taskgraph.Def{Kind: taskgraph.KindSequential, Sequence: names}, nil

	case map[string]interface{}:
		var table scriptTable
		if err := mapstructure.Decode(v, &table); err != nil {
			return taskgraph.Def{}, fmt.Errorf("decoding script table: %w", err)
		}
		if len(table.Parallel) > 0 {
			return taskgraph.Def{Kind: taskgraph.KindParallel, Parallel: table.Parallel, Description: table.Description}, nil
		}
		if table.Script != "" {
			return taskgraph.Def{Kind: taskgraph.KindScript, Path: table.Script, Description: table.Description, Args: table.Args}, nil
		}
		return taskgraph.Def{}, fmt.Errorf("script table must set either parallel or script")

	default:
		return taskgraph.Def{}, fmt.Errorf("unsupported script definition shape %T", raw)
	}
}
