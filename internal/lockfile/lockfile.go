// Package lockfile implements the project's locked package set: the
// reproducibility anchor described in spec §3/§6. A lockfile is loaded once
// per command invocation, mutated in memory by install/remove operations,
// and rewritten atomically on every mutation.
package lockfile

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Group is the dependency group a package entry belongs to.
type Group string

// Groups mirror spec §3's Package entry `group` field.
const (
	Production Group = "production"
	Dev        Group = "dev"
	Test       Group = "test"
)

// SourceType tags which of the four source variants an Entry came from.
type SourceType string

// Source type tags. Kept lowercase to match the TOML `type = "..."` field.
const (
	SourceRegistry SourceType = "registry"
	SourceHost     SourceType = "source-host"
	SourceURL      SourceType = "url"
	SourceLocalDir SourceType = "local"
)

// Source records where a locked package came from.
type Source struct {
	Type SourceType `toml:"type"`

	// Source-host fields.
	User string `toml:"user,omitempty"`
	Repo string `toml:"repo,omitempty"`
	Ref  string `toml:"ref,omitempty"`
	// CommitSHA is the best-effort fully resolved commit for a source-host
	// entry. Absence is permitted (spec §3).
	CommitSHA string `toml:"commit_sha,omitempty"`

	// URL source field.
	BaseURL string `toml:"base_url,omitempty"`

	// Local source field.
	Dir string `toml:"dir,omitempty"`
}

// Entry is a single locked package, spec §3 "Package entry (in lockfile)".
type Entry struct {
	Name     string  `toml:"-"`
	Version  string  `toml:"version"`
	Source   Source  `toml:"source"`
	Checksum *string `toml:"checksum,omitempty"`
	Group    Group   `toml:"group"`
}

const formatVersion = 1

// fileFormat is the on-disk TOML shape, spec §6 "Lockfile (TOML)".
type fileFormat struct {
	FormatVersion int               `toml:"version"`
	ToolVersion   string            `toml:"tool_version"`
	Packages      map[string]*Entry `toml:"packages"`
}

// Lockfile is the in-memory, mutable representation of a project's
// stacy.lock. Name keys are always lowercased (spec §3).
type Lockfile struct {
	ToolVersion string
	Packages    map[string]*Entry
}

// New returns an empty lockfile stamped with the running tool version.
func New(toolVersion string) *Lockfile {
	return &Lockfile{
		ToolVersion: toolVersion,
		Packages:    make(map[string]*Entry),
	}
}

// ErrNotFound is returned by Load when the lockfile does not exist. Callers
// treat a missing lockfile as "no isolation applies" (spec §4.5), not an
// error.
var ErrNotFound = fmt.Errorf("lockfile not found")

// Load reads and parses the lockfile at path. A syntactically corrupt
// lockfile is a hard error per spec §4.5 ("a corrupt lockfile is a hard
// error — isolation was intended").
func Load(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading lockfile %s: %w", path, err)
	}
	var ff fileFormat
	if _, err := toml.Decode(string(data), &ff); err != nil {
		return nil, fmt.Errorf("corrupt lockfile %s: %w", path, err)
	}
	lf := &Lockfile{
		ToolVersion: ff.ToolVersion,
		Packages:    make(map[string]*Entry, len(ff.Packages)),
	}
	for name, entry := range ff.Packages {
		entry.Name = strings.ToLower(name)
		lf.Packages[entry.Name] = entry
	}
	return lf, nil
}

// Save writes the lockfile atomically: write to a sibling temp file, then
// rename over the destination. This avoids a reader ever observing a
// half-written lockfile (spec §5, "shared mutable resources").
func (lf *Lockfile) Save(path string) error {
	ff := fileFormat{
		FormatVersion: formatVersion,
		ToolVersion:   lf.ToolVersion,
		Packages:      lf.Packages,
	}
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(ff); err != nil {
		return fmt.Errorf("encoding lockfile: %w", err)
	}
	tmp := path + fmt.Sprintf(".tmp.%d", time.Now().UnixNano())
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing lockfile: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming lockfile into place: %w", err)
	}
	return nil
}

// Put inserts or overwrites a locked entry, lowercasing the name (spec §3).
func (lf *Lockfile) Put(name string, entry Entry) {
	name = strings.ToLower(name)
	entry.Name = name
	lf.Packages[name] = &entry
}

// Remove deletes a locked entry; removal from the lockfile is always
// explicit (spec §3 lifecycles).
func (lf *Lockfile) Remove(name string) {
	delete(lf.Packages, strings.ToLower(name))
}

// Get looks up a locked entry by name.
func (lf *Lockfile) Get(name string) (*Entry, bool) {
	e, ok := lf.Packages[strings.ToLower(name)]
	return e, ok
}

// SortedNames returns the locked package names in lexicographic order. This
// underpins the search-path builder's reproducibility contract (spec §4.9).
func (lf *Lockfile) SortedNames() []string {
	names := make([]string, 0, len(lf.Packages))
	for name := range lf.Packages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SyncError describes packages the manifest declares but the lockfile does
// not lock, or vice versa.
type SyncError struct {
	MissingFromLockfile []string
	MissingFromManifest []string
}

// Error implements error; the message names every missing package (spec §8
// scenario 6).
func (e *SyncError) Error() string {
	var parts []string
	if len(e.MissingFromLockfile) > 0 {
		parts = append(parts, fmt.Sprintf("missing from lockfile: %s", strings.Join(e.MissingFromLockfile, ", ")))
	}
	if len(e.MissingFromManifest) > 0 {
		parts = append(parts, fmt.Sprintf("missing from manifest: %s", strings.Join(e.MissingFromManifest, ", ")))
	}
	return "lockfile out of sync: " + strings.Join(parts, "; ")
}

// CheckSync verifies that every manifest-declared package name is locked and
// vice versa. Used by the "lock check" operation (spec §8 scenario 6) and by
// the runner before spawning the engine in frozen mode.
func (lf *Lockfile) CheckSync(manifestNames []string) error {
	manifestSet := make(map[string]bool, len(manifestNames))
	for _, n := range manifestNames {
		manifestSet[strings.ToLower(n)] = true
	}
	var missingFromLock, missingFromManifest []string
	for n := range manifestSet {
		if _, ok := lf.Packages[n]; !ok {
			missingFromLock = append(missingFromLock, n)
		}
	}
	for n := range lf.Packages {
		if !manifestSet[n] {
			missingFromManifest = append(missingFromManifest, n)
		}
	}
	if len(missingFromLock) == 0 && len(missingFromManifest) == 0 {
		return nil
	}
	sort.Strings(missingFromLock)
	sort.Strings(missingFromManifest)
	return &SyncError{MissingFromLockfile: missingFromLock, MissingFromManifest: missingFromManifest}
}
