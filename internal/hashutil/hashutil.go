// Package hashutil implements the content hasher (spec §4.3): SHA-256 of
// files, strings, and the combined closure hash used to key the incremental
// build cache.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/janfasnacht/stacy/internal/deptree"
)

// NoneSentinel is the hash used for an absent lockfile (spec §4.3). A
// transition between this sentinel and a real hash invalidates the build
// cache (spec §4.10).
const NoneSentinel = "None"

// HashBytes returns the lowercase-hex SHA-256 of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashString returns the lowercase-hex SHA-256 of s.
func HashString(s string) string {
	return HashBytes([]byte(s))
}

// HashFile returns the lowercase-hex SHA-256 of a file's contents.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return HashBytes(data), nil
}

// ErrRootMissing is returned by BuildClosure when the tree's root script
// does not exist on disk — a distinct error, not a silently-zero hash
// (supplementing spec §4.3 per original_source/src/cache/hash.rs).
var ErrRootMissing = errors.New("hashutil: root script does not exist")

// Closure is the dependency closure hash (spec §3: "Dependency closure
// hash"). Deps keys are canonical paths of every reachable, existing,
// non-cyclic dependency (the root itself is excluded from Deps — it has its
// own RootHash field).
type Closure struct {
	RootHash string
	Deps     map[string]string
}

// BuildClosure computes the per-file hashes making up a script's
// dependency closure from an already-built dependency tree.
func BuildClosure(tree *deptree.Node) (*Closure, error) {
	if tree == nil || !tree.Exists {
		return nil, ErrRootMissing
	}

	rootHash, err := HashFile(tree.Path)
	if err != nil {
		return nil, err
	}

	deps := map[string]string{}
	for _, child := range tree.Children {
		if err := collectDeps(child, deps); err != nil {
			return nil, err
		}
	}

	return &Closure{RootHash: rootHash, Deps: deps}, nil
}

func collectDeps(node *deptree.Node, deps map[string]string) error {
	if node == nil || node.IsCycle || !node.Exists {
		return nil
	}
	if _, already := deps[node.Path]; !already {
		h, err := HashFile(node.Path)
		if err != nil {
			return err
		}
		deps[node.Path] = h
	}
	for _, child := range node.Children {
		if err := collectDeps(child, deps); err != nil {
			return err
		}
	}
	return nil
}

// CombinedHash computes the combined dependency hash (spec §4.3): SHA-256
// over root_hash bytes, then, for each (path, hash) pair in path-sorted
// order, the path bytes followed by the hash bytes. Sorting makes the
// result independent of filesystem/map enumeration order — essential for
// cache correctness (spec's testable property: "combined_hash(T) is
// independent of enumeration order of its dependency map").
func (c *Closure) CombinedHash() string {
	h := sha256.New()
	h.Write([]byte(c.RootHash))

	paths := make([]string, 0, len(c.Deps))
	for p := range c.Deps {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		h.Write([]byte(p))
		h.Write([]byte(c.Deps[p]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// HashOrSentinel hashes a file if path is non-empty, else returns
// NoneSentinel; it also returns NoneSentinel when the file cannot be read
// (used for the optional lockfile hash input of spec §4.10).
func HashOrSentinel(path string) string {
	if path == "" {
		return NoneSentinel
	}
	h, err := HashFile(path)
	if err != nil {
		return NoneSentinel
	}
	return h
}
