// Package searchpath builds the engine's package search-path environment
// variable from a lockfile (spec §4.9): the reproducibility contract that
// restricts the engine to locked packages only.
package searchpath

import (
	"strings"

	"github.com/janfasnacht/stacy/internal/lockfile"
	"github.com/janfasnacht/stacy/internal/pkgcache"
)

// Separator is the engine's conventional search-path token separator. It is
// always a semicolon, independent of the host OS path separator (spec §8:
// "the engine's search-path separator is always semicolon").
const Separator = ";"

// Reserved identifiers for non-cache locations (spec §4.9).
const (
	BuiltinCommands = "BASE"
	SiteLocation    = "SITE"
	PersonalLocation = "PERSONAL"
	PlusLocation    = "PLUS"
	OldPlaceLocation = "OLDPLACE"
)

// Build emits the search path for lf against cache. Tokens appear, in
// order: each locked package's cache directory (sorted by name), the
// built-in-commands identifier, and — iff allowGlobal — the site/personal/
// plus/legacy identifiers. Sorted order is required for the reproducibility
// contract (spec §4.9, §8).
func Build(lf *lockfile.Lockfile, cache *pkgcache.Cache, allowGlobal bool) string {
	var tokens []string
	for _, name := range lf.SortedNames() {
		entry, ok := lf.Get(name)
		if !ok {
			continue
		}
		tokens = append(tokens, cache.VersionDir(name, entry.Version))
	}
	tokens = append(tokens, BuiltinCommands)
	if allowGlobal {
		tokens = append(tokens, SiteLocation, PersonalLocation, PlusLocation, OldPlaceLocation)
	}
	return strings.Join(tokens, Separator)
}
