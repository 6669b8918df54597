// Package runner implements the "execute this script" control flow of
// spec §2: config → project discovery → optional build-cache lookup →
// dependency-tree scan → lockfile → search-path construction → subprocess
// supervision → log parse → error map → exit-code return → on-success
// build-cache update. It is the domain glue composing every leaf subsystem;
// it owns no invariants of its own beyond sequencing them correctly.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/janfasnacht/stacy/internal/buildcache"
	"github.com/janfasnacht/stacy/internal/config"
	"github.com/janfasnacht/stacy/internal/deptree"
	"github.com/janfasnacht/stacy/internal/errormap"
	"github.com/janfasnacht/stacy/internal/hashutil"
	"github.com/janfasnacht/stacy/internal/lockfile"
	"github.com/janfasnacht/stacy/internal/logparser"
	"github.com/janfasnacht/stacy/internal/pkgcache"
	"github.com/janfasnacht/stacy/internal/searchpath"
	"github.com/janfasnacht/stacy/internal/stacyerr"
	"github.com/janfasnacht/stacy/internal/supervisor"
)

// ManifestFilename and LockfileFilename are the project-root filenames
// project discovery looks for (spec §6 "Filesystem layout (produced)").
const (
	ManifestFilename  = "stacy.toml"
	LockfileFilename  = "stacy.lock"
	buildCacheRelPath = ".stacy/cache/build.json"
)

// Project is the result of project discovery: the resolved root directory
// plus its parsed manifest.
type Project struct {
	Root     string
	Manifest *config.Manifest
}

// DiscoverProject walks upward from startDir looking for ManifestFilename,
// the same "nearest ancestor with a marker file" discipline the teacher's
// workspace root-finding uses.
func DiscoverProject(startDir string) (*Project, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, stacyerr.Wrap(stacyerr.KindIO, "resolving start directory", err)
	}
	for {
		manifestPath := filepath.Join(dir, ManifestFilename)
		if _, statErr := os.Stat(manifestPath); statErr == nil {
			content, readErr := os.ReadFile(manifestPath)
			if readErr != nil {
				return nil, stacyerr.Wrap(stacyerr.KindIO, "reading project manifest", readErr)
			}
			m, parseErr := config.ParseManifest(string(content))
			if parseErr != nil {
				return nil, stacyerr.Wrap(stacyerr.KindParse, "parsing project manifest", parseErr)
			}
			return &Project{Root: dir, Manifest: m}, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, stacyerr.New(stacyerr.KindProjectNotFound, fmt.Sprintf("no %s found above %s", ManifestFilename, startDir))
		}
		dir = parent
	}
}

// Input configures one "execute this script" invocation.
type Input struct {
	Project      *Project
	ScriptPath   string
	Args         map[string]string
	EngineBinary string
	WorkDir      string
	Timeout      time.Duration
	Force        bool
	AllowGlobal  bool
	// Frozen requires the lockfile to be in sync with the manifest before
	// running, aborting otherwise. Matches original_source/src/cli/task.rs's
	// `args.frozen`-gated check: absent the flag, a drifted lockfile is
	// tolerated and the run proceeds (distinct from doctor's always-on,
	// Fail-class lockfile-sync check, which only ever reports, never aborts).
	Frozen       bool
	Logger       hclog.Logger
	OnLogLine    func(string)
	ErrorDB      *errormap.Database
}

// Outcome is the full result of one execution, enough for the caller to
// derive a shell exit code and a human-facing report.
type Outcome struct {
	ExitCode  int
	Success   bool
	RCode     int
	Message   string
	LogPath   string
	Duration  time.Duration
	FromCache bool
}

// Run implements the control flow named in spec §2. It never returns a nil
// Outcome on a nil error.
func Run(ctx context.Context, cache *pkgcache.Cache, in Input) (*Outcome, error) {
	logger := in.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("runner")

	workDir := in.WorkDir
	if workDir == "" {
		workDir = in.Project.Root
	}

	lockfilePath := filepath.Join(in.Project.Root, LockfileFilename)
	lf, lfErr := lockfile.Load(lockfilePath)
	var lockfileHashPtr *string
	var sp string
	switch {
	case lfErr == nil:
		if in.Frozen {
			if err := lf.CheckSync(manifestDependencyNames(in.Project.Manifest)); err != nil {
				return nil, stacyerr.Wrap(stacyerr.KindProjectNotFound, "lockfile out of sync with manifest", err)
			}
		}
		h := hashutil.HashOrSentinel(lockfilePath)
		lockfileHashPtr = &h
		sp = searchpath.Build(lf, cache, in.AllowGlobal)
	case lfErr == lockfile.ErrNotFound:
		// A missing lockfile is fine: no isolation applies (spec §4.5).
	default:
		return nil, stacyerr.Wrap(stacyerr.KindParse, "loading lockfile", lfErr)
	}

	tree, err := deptree.Build(in.ScriptPath)
	if err != nil {
		return nil, stacyerr.Wrap(stacyerr.KindIO, "building dependency tree", err)
	}

	bcPath := filepath.Join(in.Project.Root, buildCacheRelPath)
	bc, err := buildcache.Load(bcPath)
	if err != nil {
		return nil, stacyerr.Wrap(stacyerr.KindIO, "loading build cache", err)
	}

	closure, closureErr := hashutil.BuildClosure(tree)
	if closureErr != nil {
		return nil, stacyerr.Wrap(stacyerr.KindIO, "hashing dependency closure", closureErr)
	}

	// The working-dir hash is over the directory path itself, not its
	// contents (original_source/src/cache/detect.rs hash_working_dir): a
	// cached outcome is invalidated if the caller runs the same script from
	// a different working directory, independent of what that directory
	// contains.
	var workDirHashPtr *string
	if workDir != "" {
		h := hashutil.HashString(workDir)
		workDirHashPtr = &h
	}

	lookup := buildcache.Lookup(bc, buildcache.LookupInput{
		ScriptPath:   in.ScriptPath,
		Closure:      closure,
		LockfileHash: lockfileHashPtr,
		WorkDirHash:  workDirHashPtr,
		Force:        in.Force,
	})
	if lookup.Hit {
		logger.Debug("build cache hit", "script", in.ScriptPath)
		return &Outcome{
			ExitCode:  lookup.Entry.ExitCode,
			Success:   lookup.Entry.Success,
			LogPath:   "",
			Duration:  time.Duration(lookup.Entry.DurationMS) * time.Millisecond,
			FromCache: true,
		}, nil
	}
	logger.Debug("build cache miss", "reason", lookup.MissReason, "dependency", lookup.ChangedDependency)

	supRes, err := supervisor.Run(ctx, supervisor.Input{
		EngineBinary: in.EngineBinary,
		ScriptPath:   in.ScriptPath,
		Args:         in.Args,
		SearchPath:   sp,
		WorkDir:      workDir,
		Timeout:      in.Timeout,
		Logger:       logger,
		OnLogLine:    in.OnLogLine,
	})
	if err != nil {
		return nil, stacyerr.Wrap(stacyerr.KindEngineExecution, "spawning engine", err)
	}

	outcome := &Outcome{LogPath: supRes.LogPath, Duration: supRes.Duration}

	if !supRes.Completed {
		outcome.ExitCode = supRes.ExitCode
		outcome.Success = false
		outcome.Message = "engine process did not complete within its deadline"
		return outcome, nil
	}

	logContent, err := os.ReadFile(supRes.LogPath)
	if err != nil {
		return nil, stacyerr.Wrap(stacyerr.KindIO, "reading engine log", err)
	}

	parsed, err := logparser.ParseWithDatabase(string(logContent), in.ErrorDB)
	if err != nil {
		return nil, stacyerr.Wrap(stacyerr.KindIO, "parsing engine log", err)
	}

	if parsed.Success {
		outcome.Success = true
		outcome.ExitCode = 0
	} else {
		outcome.RCode = parsed.RCode
		outcome.Message = parsed.Message
		outcome.ExitCode = errormap.ExitCodeForCode(parsed.RCode, in.ErrorDB)
	}

	if !outcome.Success {
		// Control flow only updates the build cache on success (spec §2); a
		// failing script must always be re-examined on the next run rather
		// than silently replaying a cached failure.
		return outcome, nil
	}

	bc.Update(in.ScriptPath, closure, lockfileHashPtr, workDirHashPtr, outcome.ExitCode, outcome.Success, outcome.Duration, time.Now())
	if err := bc.Save(); err != nil {
		logger.Warn("failed to persist build cache", "error", err)
	}

	return outcome, nil
}

func manifestDependencyNames(m *config.Manifest) []string {
	names := make([]string, 0, len(m.Dependencies))
	for name := range m.Dependencies {
		names = append(names, name)
	}
	return names
}
