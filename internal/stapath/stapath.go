// Package stapath provides small path-handling helpers used across the
// project. It is a deliberately lighter-weight cousin of the teacher's
// turbopath package: stacy has no multi-package workspace concept, so a
// single Absolute string type (mirroring cli/internal/fs.AbsolutePath)
// is enough, rather than the teacher's full anchored/relative/unix/system
// path type lattice.
package stapath

import (
	"fmt"
	"path/filepath"
)

// Absolute represents a path known to be absolute on the current platform.
type Absolute string

// CheckedAbsolute validates that s is already absolute.
func CheckedAbsolute(s string) (Absolute, error) {
	if !filepath.IsAbs(s) {
		return "", fmt.Errorf("%s is not an absolute path", s)
	}
	return Absolute(s), nil
}

// Join appends path components using the OS-specific separator (spec §9:
// "Path handling across OSes": filesystem paths are OS-specific; only the
// engine's search-path separator is the fixed semicolon).
func (a Absolute) Join(parts ...string) Absolute {
	args := append([]string{string(a)}, parts...)
	return Absolute(filepath.Join(args...))
}

// String implements fmt.Stringer.
func (a Absolute) String() string {
	return string(a)
}

// Dir returns the parent directory.
func (a Absolute) Dir() Absolute {
	return Absolute(filepath.Dir(string(a)))
}

// Base returns the final path element.
func (a Absolute) Base() string {
	return filepath.Base(string(a))
}

// ResolveAgainst resolves unknown (possibly relative) against base when it
// is not already absolute. Used by the dependency scanner/tree builder to
// resolve a raw reference path against the referencing script's directory
// (spec §4.2).
func ResolveAgainst(base Absolute, unknown string) Absolute {
	if filepath.IsAbs(unknown) {
		return Absolute(unknown)
	}
	return base.Join(unknown)
}
