// Package pkgcache implements the global package cache of spec §4.8: a
// single machine-wide store laid out as
// {user_cache_root}/tool/packages/{name_lowercase}/{version}/ holding each
// locked package's flat file set. This package owns the read-side
// operations (is_cached, list, size_bytes, gc); the atomic write-side
// critical section lives in internal/installer, which composes the path
// helpers exported here.
package pkgcache

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/afero"
)

// Ref identifies one cached package by its locked (name, version) pair —
// the cache key (spec §4.8: "no per-letter partitioning — that is a
// registry quirk, not ours").
type Ref struct {
	Name    string
	Version string
}

// Cache is the on-disk package store. fs is an afero.Fs so tests run
// entirely in memory (spec §4.D test tooling).
type Cache struct {
	fs   afero.Fs
	root string
}

// New returns a Cache rooted at root, using fsys for all I/O.
func New(fsys afero.Fs, root string) *Cache {
	return &Cache{fs: fsys, root: root}
}

// Root returns the cache's root directory.
func (c *Cache) Root() string { return c.root }

// Fs returns the underlying filesystem, for internal/installer's atomic
// write-side operations.
func (c *Cache) Fs() afero.Fs { return c.fs }

// DefaultRoot returns the platform cache directory for stacy's global
// package cache (spec §6: "{user-cache}/tool/packages/...").
func DefaultRoot() (string, error) {
	dir, err := xdg.CacheFile(filepath.Join("stacy", "packages", ".keep"))
	if err != nil {
		return "", fmt.Errorf("resolving default cache root: %w", err)
	}
	return filepath.Dir(dir), nil
}

// NameDir returns the per-package directory (parent of every version dir).
func (c *Cache) NameDir(name string) string {
	return filepath.Join(c.root, strings.ToLower(name))
}

// VersionDir returns the final directory for one (name, version) pair.
func (c *Cache) VersionDir(name, version string) string {
	return filepath.Join(c.NameDir(name), version)
}

// IsCached reports whether (name, version) is present and non-empty (spec
// §4.8: "directory exists AND contains ≥ 1 entry").
func (c *Cache) IsCached(name, version string) bool {
	entries, err := afero.ReadDir(c.fs, c.VersionDir(name, version))
	return err == nil && len(entries) > 0
}

// Get returns every file stored for (name, version), keyed by filename.
func (c *Cache) Get(name, version string) (map[string][]byte, error) {
	dir := c.VersionDir(name, version)
	entries, err := afero.ReadDir(c.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("reading cache entry %s@%s: %w", name, version, err)
	}
	files := make(map[string][]byte, len(entries))
	for _, e := range entries {
		if e.IsDir() || isStagingDir(e.Name()) {
			continue
		}
		data, err := afero.ReadFile(c.fs, filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading cached file %s: %w", e.Name(), err)
		}
		files[e.Name()] = data
	}
	return files, nil
}

// List enumerates cached packages sorted by (name, version) (spec §4.8).
func (c *Cache) List() ([]Ref, error) {
	nameDirs, err := afero.ReadDir(c.fs, c.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing cache root: %w", err)
	}

	var refs []Ref
	for _, nd := range nameDirs {
		if !nd.IsDir() {
			continue
		}
		versionDirs, err := afero.ReadDir(c.fs, filepath.Join(c.root, nd.Name()))
		if err != nil {
			continue
		}
		for _, vd := range versionDirs {
			if !vd.IsDir() || isStagingDir(vd.Name()) {
				continue
			}
			refs = append(refs, Ref{Name: nd.Name(), Version: vd.Name()})
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Name != refs[j].Name {
			return refs[i].Name < refs[j].Name
		}
		return refs[i].Version < refs[j].Version
	})
	return refs, nil
}

// SizeBytes recurses over the whole cache and returns its total size (spec
// §4.8).
func (c *Cache) SizeBytes() (int64, error) {
	var total int64
	err := afero.Walk(c.fs, c.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == c.root {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("computing cache size: %w", err)
	}
	return total, nil
}

// GC removes version directories not present in inUse, then removes any
// name directory left empty (spec §4.8: "gc(in_use) removes version
// directories not referenced by any supplied in-use set; also removes empty
// parent (name) directories").
func (c *Cache) GC(inUse map[Ref]bool) (removed []Ref, err error) {
	all, err := c.List()
	if err != nil {
		return nil, err
	}
	for _, ref := range all {
		if inUse[ref] {
			continue
		}
		if err := c.fs.RemoveAll(c.VersionDir(ref.Name, ref.Version)); err != nil {
			return removed, fmt.Errorf("removing %s@%s: %w", ref.Name, ref.Version, err)
		}
		removed = append(removed, ref)
	}

	nameDirs, err := afero.ReadDir(c.fs, c.root)
	if err != nil {
		return removed, nil
	}
	for _, nd := range nameDirs {
		if !nd.IsDir() {
			continue
		}
		remaining, err := afero.ReadDir(c.fs, filepath.Join(c.root, nd.Name()))
		if err == nil && len(remaining) == 0 {
			c.fs.RemoveAll(filepath.Join(c.root, nd.Name()))
		}
	}
	return removed, nil
}

func isStagingDir(name string) bool {
	return strings.Contains(name, ".downloading.")
}
