package runner

import (
	"os"
	"path/filepath"

	"github.com/janfasnacht/stacy/internal/lockfile"
	"github.com/janfasnacht/stacy/internal/pkgcache"
)

// CheckStatus is a diagnostic check's verdict (original_source/src/cli/doctor.rs
// CheckStatus: Pass/Warn/Fail).
type CheckStatus string

// Check statuses.
const (
	CheckPass CheckStatus = "pass"
	CheckWarn CheckStatus = "warn"
	CheckFail CheckStatus = "fail"
)

// Check is one diagnostic result.
type Check struct {
	Name       string
	Status     CheckStatus
	Message    string
	Suggestion string
}

// DoctorReport is the aggregate of every diagnostic check (spec SPEC_FULL
// §6 item 5, supplemented from original_source/src/cli/doctor.rs).
type DoctorReport struct {
	Checks  []Check
	Passed  int
	Warned  int
	Failed  int
	Ready   bool
}

// EngineLocator resolves the engine binary path, or returns an error if it
// cannot be found. Auto-discovery of well-known install paths is an
// external collaborator's contract (spec §1 Non-goals), so Doctor takes it
// as a parameter instead of reimplementing the search.
type EngineLocator func() (string, error)

// Doctor runs the diagnostic suite: engine-binary discoverability,
// lockfile/manifest sync, and global cache reachability.
func Doctor(project *Project, cache *pkgcache.Cache, locate EngineLocator) *DoctorReport {
	report := &DoctorReport{}

	report.add(checkEngineBinary(locate))
	if project != nil {
		report.add(checkProjectManifest(project))
		report.add(checkLockfileSync(project))
	} else {
		report.add(Check{
			Name:       "project",
			Status:     CheckFail,
			Message:    "no project manifest found",
			Suggestion: "run this command from within a project directory containing " + ManifestFilename,
		})
	}
	report.add(checkGlobalCache(cache))

	report.Ready = report.Failed == 0
	return report
}

func (r *DoctorReport) add(c Check) {
	r.Checks = append(r.Checks, c)
	switch c.Status {
	case CheckPass:
		r.Passed++
	case CheckWarn:
		r.Warned++
	case CheckFail:
		r.Failed++
	}
}

func checkEngineBinary(locate EngineLocator) Check {
	if locate == nil {
		return Check{Name: "engine binary", Status: CheckWarn, Message: "no engine locator configured"}
	}
	binary, err := locate()
	if err != nil {
		return Check{
			Name:       "engine binary",
			Status:     CheckFail,
			Message:    "engine binary not found: " + err.Error(),
			Suggestion: "set STATA_BINARY or configure stata_binary in ~/.config/stacy/config.toml",
		}
	}
	return Check{Name: "engine binary", Status: CheckPass, Message: binary}
}

func checkProjectManifest(project *Project) Check {
	if project.Manifest == nil {
		return Check{Name: "project manifest", Status: CheckFail, Message: "manifest failed to parse"}
	}
	return Check{Name: "project manifest", Status: CheckPass, Message: "loaded from " + filepath.Join(project.Root, ManifestFilename)}
}

func checkLockfileSync(project *Project) Check {
	lockfilePath := filepath.Join(project.Root, LockfileFilename)
	lf, err := lockfile.Load(lockfilePath)
	if err == lockfile.ErrNotFound {
		return Check{
			Name:       "lockfile",
			Status:     CheckWarn,
			Message:    "no lockfile present",
			Suggestion: "run an install to create " + LockfileFilename,
		}
	}
	if err != nil {
		return Check{Name: "lockfile", Status: CheckFail, Message: "corrupt lockfile: " + err.Error()}
	}
	if syncErr := lf.CheckSync(manifestDependencyNames(project.Manifest)); syncErr != nil {
		return Check{Name: "lockfile", Status: CheckFail, Message: syncErr.Error()}
	}
	return Check{Name: "lockfile", Status: CheckPass, Message: "in sync with manifest"}
}

func checkGlobalCache(cache *pkgcache.Cache) Check {
	if cache == nil {
		return Check{Name: "global cache", Status: CheckWarn, Message: "no cache configured"}
	}
	if _, err := cache.List(); err != nil {
		return Check{Name: "global cache", Status: CheckFail, Message: "cache root unreachable: " + err.Error()}
	}
	if _, err := os.Stat(cache.Root()); err != nil && !os.IsNotExist(err) {
		return Check{Name: "global cache", Status: CheckWarn, Message: "cache root stat failed: " + err.Error()}
	}
	return Check{Name: "global cache", Status: CheckPass, Message: "reachable at " + cache.Root()}
}

// ListEntry is one row of "stacy list" / "stacy outdated" read-only package
// introspection (SPEC_FULL §6 item 4).
type ListEntry struct {
	Name    string
	Version string
	Group   lockfile.Group
	Cached  bool
}

// ListPackages returns every locked package, annotated with whether it is
// present in the global cache.
func ListPackages(lf *lockfile.Lockfile, cache *pkgcache.Cache) []ListEntry {
	var entries []ListEntry
	for _, name := range lf.SortedNames() {
		e, ok := lf.Get(name)
		if !ok {
			continue
		}
		entries = append(entries, ListEntry{
			Name:    name,
			Version: e.Version,
			Group:   e.Group,
			Cached:  cache != nil && cache.IsCached(name, e.Version),
		})
	}
	return entries
}

// Outdated is stubbed to "not implemented in offline mode" (SPEC_FULL §6
// item 4): determining the latest available version requires a network
// round-trip per package source, which is this package's caller's concern,
// not this package's.
var ErrOutdatedRequiresNetwork = &offlineError{}

type offlineError struct{}

func (*offlineError) Error() string {
	return "checking for outdated packages is not implemented in offline mode"
}
