// Package deptree builds the dependency tree for a script (spec §4.2): a
// recursive DFS over scandeps references that tolerates diamonds, marks
// missing files as non-cycle leaves, and turns any path already on the
// current DFS stack into a cycle leaf.
package deptree

import (
	"os"
	"path/filepath"

	"github.com/janfasnacht/stacy/internal/scandeps"
	"github.com/janfasnacht/stacy/internal/stapath"
)

// Node is a dependency node (spec §3: "Dependency node"). Invariant: a node
// is never both IsCycle and has Children — a cyclic node is always a leaf.
type Node struct {
	// Path is the canonical (symlink-resolved) path if the file exists,
	// else the as-supplied path.
	Path string
	// Resolved is true iff canonicalization succeeded (the file exists).
	Resolved bool
	IsCycle  bool
	Exists   bool
	Children []*Node
	// LineInParent is the 1-indexed line of the reference that produced
	// this node in its parent's source; 0 for the root.
	LineInParent int
}

// Build constructs the dependency tree rooted at rootPath (which need not
// exist — a missing root becomes a non-cycle leaf with Exists=false).
func Build(rootPath string) (*Node, error) {
	b := &builder{stack: map[string]bool{}}
	return b.visit(rootPath, 0), nil
}

type builder struct {
	stack map[string]bool
}

func (b *builder) visit(path string, lineInParent int) *Node {
	canonical, exists := canonicalize(path)

	if exists && b.stack[canonical] {
		return &Node{Path: canonical, Resolved: true, IsCycle: true, Exists: true, LineInParent: lineInParent}
	}

	if !exists {
		return &Node{Path: path, Resolved: false, Exists: false, LineInParent: lineInParent}
	}

	b.stack[canonical] = true
	defer delete(b.stack, canonical)

	content, err := os.ReadFile(canonical)
	node := &Node{Path: canonical, Resolved: true, Exists: true, LineInParent: lineInParent}
	if err != nil {
		// Exists per stat but became unreadable between check and read;
		// treat as a leaf rather than failing the whole scan.
		return node
	}

	refs, err := scandeps.Scan(string(content))
	if err != nil {
		return node
	}

	baseDir := filepath.Dir(canonical)
	for _, ref := range refs {
		childPath := string(stapath.ResolveAgainst(stapath.Absolute(baseDir), ref.RawPath))
		node.Children = append(node.Children, b.visit(childPath, ref.LineNumber))
	}
	return node
}

// canonicalize resolves symlinks and returns the absolute canonical path
// when path exists on disk; exists is false (and the original path is
// meaningless to canonicalize further) otherwise.
func canonicalize(path string) (canonical string, exists bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path, false
	}
	if _, statErr := os.Stat(abs); statErr != nil {
		return path, false
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return abs, true
	}
	return resolved, true
}

// UniqueCount returns the number of distinct canonical paths encountered in
// the tree, including the root (spec §4.2).
func (n *Node) UniqueCount() int {
	seen := map[string]bool{}
	var walk func(*Node)
	walk = func(node *Node) {
		if node == nil {
			return
		}
		seen[node.Path] = true
		for _, c := range node.Children {
			walk(c)
		}
	}
	walk(n)
	return len(seen)
}

// Walk visits every node in the tree in DFS pre-order, including cycle
// leaves and missing-file leaves.
func (n *Node) Walk(fn func(*Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}
