// Package buildcache implements the incremental build cache of spec §4.10:
// a single versioned JSON file per project recording prior execution
// outcomes keyed by dependency-closure hash, lockfile hash, and
// working-directory hash.
package buildcache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/janfasnacht/stacy/internal/deptree"
	"github.com/janfasnacht/stacy/internal/hashutil"
)

// schemaVersion is bumped whenever the on-disk shape changes. A version
// mismatch on load returns an empty cache rather than failing (spec §4.10).
const schemaVersion = 1

// MissReason explains why a lookup was not a hit (spec §4.10).
type MissReason string

// Miss reasons, checked in the order documented at Lookup.
const (
	NotCached         MissReason = "not_cached"
	ScriptChanged     MissReason = "script_changed"
	DependencyChanged MissReason = "dependency_changed"
	DependencyAdded   MissReason = "dependency_added"
	DependencyRemoved MissReason = "dependency_removed"
	LockfileChanged   MissReason = "lockfile_changed"
	WorkingDirChanged MissReason = "working_dir_changed"
	ForceRebuild      MissReason = "force_rebuild"
)

// Entry is one cached execution outcome (spec §3 "Cache entry (build
// cache)").
type Entry struct {
	ScriptHash       string            `json:"script_hash"`
	DependencyHashes map[string]string `json:"dependency_hashes"`
	LockfileHash     *string           `json:"lockfile_hash,omitempty"`
	WorkingDirHash   *string           `json:"working_dir_hash,omitempty"`
	ExitCode         int               `json:"exit_code"`
	Success          bool              `json:"success"`
	DurationMS       int64             `json:"duration_ms"`
	CachedAt         int64             `json:"cached_at"`
}

// fileFormat is the on-disk JSON shape.
type fileFormat struct {
	Version int              `json:"version"`
	Entries map[string]Entry `json:"entries"`
}

// Cache is the in-memory, loaded build cache for one project.
type Cache struct {
	path    string
	Entries map[string]Entry
}

// Load reads path, or returns an empty cache if the file is missing or its
// schema version doesn't match the running tool's (spec §4.10: "on version
// mismatch, return empty cache rather than fail").
func Load(path string) (*Cache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Cache{path: path, Entries: make(map[string]Entry)}, nil
		}
		return nil, fmt.Errorf("reading build cache %s: %w", path, err)
	}
	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil || ff.Version != schemaVersion {
		return &Cache{path: path, Entries: make(map[string]Entry)}, nil
	}
	return &Cache{path: path, Entries: ff.Entries}, nil
}

// Save writes the cache back to its path.
func (c *Cache) Save() error {
	ff := fileFormat{Version: schemaVersion, Entries: c.Entries}
	data, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding build cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("creating build cache dir: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		return fmt.Errorf("writing build cache: %w", err)
	}
	return nil
}

// LookupInput is what the lookup algorithm compares against a stored entry.
type LookupInput struct {
	ScriptPath   string
	Closure      *hashutil.Closure
	LockfileHash *string
	WorkDirHash  *string
	Force        bool
}

// Result is either a hit carrying the stored entry, or a miss naming why.
type Result struct {
	Hit              bool
	Entry            Entry
	MissReason       MissReason
	ChangedDependency string // set for DependencyChanged/Added/Removed
}

// canonicalKey is the stored entry's map key: the canonicalized script path,
// matching spec §4.10's "canonicalized paths used as keys".
func canonicalKey(scriptPath string) string {
	abs, err := filepath.Abs(scriptPath)
	if err != nil {
		return scriptPath
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// Lookup implements spec §4.10's algorithm. Force always misses with
// ForceRebuild; absence of any entry misses with NotCached; otherwise the
// fingerprints are compared in this order and the first discrepancy wins:
// script hash, working-dir hash, lockfile hash, added dependencies, removed
// dependencies, changed dependency hashes.
func Lookup(cache *Cache, in LookupInput) Result {
	if in.Force {
		return Result{MissReason: ForceRebuild}
	}

	key := canonicalKey(in.ScriptPath)
	entry, ok := cache.Entries[key]
	if !ok {
		return Result{MissReason: NotCached}
	}

	if entry.ScriptHash != in.Closure.RootHash {
		return Result{MissReason: ScriptChanged}
	}

	if optionalMismatch(entry.WorkingDirHash, in.WorkDirHash) {
		return Result{MissReason: WorkingDirChanged}
	}

	if optionalMismatch(entry.LockfileHash, in.LockfileHash) {
		return Result{MissReason: LockfileChanged}
	}

	for path := range in.Closure.Deps {
		if _, ok := entry.DependencyHashes[path]; !ok {
			return Result{MissReason: DependencyAdded, ChangedDependency: path}
		}
	}
	for path := range entry.DependencyHashes {
		if _, ok := in.Closure.Deps[path]; !ok {
			return Result{MissReason: DependencyRemoved, ChangedDependency: path}
		}
	}
	for path, hash := range in.Closure.Deps {
		if entry.DependencyHashes[path] != hash {
			return Result{MissReason: DependencyChanged, ChangedDependency: path}
		}
	}

	return Result{Hit: true, Entry: entry}
}

// optionalMismatch reports a fingerprint change including a None↔Some
// transition (spec §4.3/§4.10: "a missing lockfile hashes to the sentinel
// None; transitions None↔Some trigger cache invalidation").
func optionalMismatch(stored, current *string) bool {
	if (stored == nil) != (current == nil) {
		return true
	}
	if stored == nil {
		return false
	}
	return *stored != *current
}

// Update records a fresh outcome for scriptPath, keyed canonically, stamped
// with now as Unix seconds (spec §6: "cached_at as Unix seconds").
func (c *Cache) Update(scriptPath string, closure *hashutil.Closure, lockfileHash, workDirHash *string, exitCode int, success bool, duration time.Duration, now time.Time) {
	c.Entries[canonicalKey(scriptPath)] = Entry{
		ScriptHash:       closure.RootHash,
		DependencyHashes: closure.Deps,
		LockfileHash:     lockfileHash,
		WorkingDirHash:   workDirHash,
		ExitCode:         exitCode,
		Success:          success,
		DurationMS:       duration.Milliseconds(),
		CachedAt:         now.Unix(),
	}
}

// BuildClosureOrFallback delegates to hashutil.BuildClosure and returns its
// result and error unchanged; it does not call Lookup and has no fallback
// path of its own.
func BuildClosureOrFallback(tree *deptree.Node) (*hashutil.Closure, error) {
	return hashutil.BuildClosure(tree)
}
