// Package installer implements the atomic install critical section of spec
// §4.8: stage files into a uniquely named directory, then rename into place,
// adopting a concurrent winner's result rather than failing. It is kept
// separate from internal/pkgcache because the cache package owns read-side
// queries (is_cached/list/gc) while this package owns the one mutating
// operation, matching the teacher's split between `cache.fsCache` (reads)
// and its `Fetch`/`Put` write path.
package installer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	nflock "github.com/nightlyone/lockfile"
	"github.com/spf13/afero"

	"github.com/janfasnacht/stacy/internal/pkgcache"
)

// Installer performs atomic installs into a pkgcache.Cache.
type Installer struct {
	cache  *pkgcache.Cache
	logger hclog.Logger
	pid    int
}

// New returns an Installer writing into cache.
func New(cache *pkgcache.Cache, logger hclog.Logger) *Installer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Installer{cache: cache, logger: logger.Named("installer"), pid: os.Getpid()}
}

// Result is what a successful Install reports.
type Result struct {
	// Dir is the final, content-addressed-by-(name,version) directory.
	Dir string
	// Adopted is true when another process/thread won the race and this
	// call observed and accepted its result instead of writing its own
	// (spec §4.8 step 5, idempotence).
	Adopted bool
}

// Install writes files (keyed by filename; any leading path components are
// stripped per spec §4.8) into the cache entry for (name, version),
// following the staging-directory + rename-or-adopt sequence.
func (in *Installer) Install(name, version string, files map[string][]byte) (*Result, error) {
	nameDir := in.cache.NameDir(name)
	finalDir := in.cache.VersionDir(name, version)
	fs := in.cache.Fs()

	if err := fs.MkdirAll(nameDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating package dir %s: %w", nameDir, err)
	}

	if err := in.sweepStaleStaging(nameDir); err != nil {
		in.logger.Warn("stale staging sweep failed, continuing", "error", err)
	}

	stagingDir := filepath.Join(nameDir, stagingName(version, in.pid))
	if err := fs.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating staging dir: %w", err)
	}

	if err := in.writeFiles(fs, stagingDir, files); err != nil {
		fs.RemoveAll(stagingDir)
		return nil, err
	}

	if err := fs.Rename(stagingDir, finalDir); err != nil {
		if in.cache.IsCached(name, version) {
			fs.RemoveAll(stagingDir)
			in.logger.Debug("adopted concurrently installed package", "name", name, "version", version)
			return &Result{Dir: finalDir, Adopted: true}, nil
		}
		fs.RemoveAll(stagingDir)
		return nil, fmt.Errorf("publishing %s@%s into cache: %w", name, version, err)
	}

	return &Result{Dir: finalDir}, nil
}

func (in *Installer) writeFiles(fs afero.Fs, stagingDir string, files map[string][]byte) error {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		// Paths stripped of any leading path components (spec §4.8: "e.g.,
		// ../e/file.ado becomes file.ado").
		flat := filepath.Base(filepath.Clean(name))
		if err := afero.WriteFile(fs, filepath.Join(stagingDir, flat), files[name], 0o644); err != nil {
			return fmt.Errorf("writing staged file %s: %w", flat, err)
		}
	}
	return nil
}

// sweepStaleStaging removes `*.downloading.*` directories under nameDir
// that are not tagged with our own PID (spec §4.8 step 3). The sweep itself
// is guarded by a short-lived advisory file lock so two processes don't
// race the directory listing and deletion against each other; the lock is
// never held across the subsequent write (spec §5: "no locks held across
// I/O").
func (in *Installer) sweepStaleStaging(nameDir string) error {
	fs := in.cache.Fs()

	// nightlyone/lockfile locks a real OS file; it only applies when the
	// cache is backed by the real filesystem (production). In-memory test
	// filesystems have no cross-process race to guard against.
	if _, ok := fs.(*afero.OsFs); ok {
		fl, err := nflock.New(nameDir + ".sweep.lock")
		if err != nil {
			return fmt.Errorf("constructing sweep lock: %w", err)
		}
		if err := fl.TryLock(); err != nil {
			// Another process is already sweeping; that's fine, skip ours.
			return nil
		}
		defer fl.Unlock()
	}
	entries, err := afero.ReadDir(fs, nameDir)
	if err != nil {
		return fmt.Errorf("listing %s for stale sweep: %w", nameDir, err)
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.Contains(e.Name(), ".downloading.") {
			continue
		}
		pid, ok := pidFromStagingName(e.Name())
		if ok && pid == in.pid {
			continue
		}
		if err := fs.RemoveAll(filepath.Join(nameDir, e.Name())); err != nil {
			in.logger.Warn("failed to remove stale staging dir", "dir", e.Name(), "error", err)
		}
	}
	return nil
}

func stagingName(version string, pid int) string {
	return fmt.Sprintf("%s.downloading.%d.%s", version, pid, uuid.NewString())
}

func pidFromStagingName(name string) (int, bool) {
	const marker = ".downloading."
	idx := strings.Index(name, marker)
	if idx == -1 {
		return 0, false
	}
	rest := name[idx+len(marker):]
	parts := strings.SplitN(rest, ".", 2)
	if len(parts) == 0 {
		return 0, false
	}
	pid, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	return pid, true
}
