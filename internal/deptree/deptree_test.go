package deptree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBuildMissingDependency(t *testing.T) {
	dir := t.TempDir()
	root := write(t, dir, "main.do", `do "missing"`)

	tree, err := Build(root)
	require.NoError(t, err)
	require.Len(t, tree.Children, 1)
	assert.False(t, tree.Children[0].Exists)
	assert.False(t, tree.Children[0].IsCycle)
}

func TestBuildCycleDetection(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.do")
	b := filepath.Join(dir, "b.do")
	require.NoError(t, os.WriteFile(a, []byte(`do "b.do"`), 0o644))
	require.NoError(t, os.WriteFile(b, []byte(`do "a.do"`), 0o644))

	tree, err := Build(a)
	require.NoError(t, err)
	require.Len(t, tree.Children, 1)
	bNode := tree.Children[0]
	require.Len(t, bNode.Children, 1)
	cycleNode := bNode.Children[0]
	assert.True(t, cycleNode.IsCycle)
	assert.Empty(t, cycleNode.Children)
}

func TestBuildDiamondIsNotACycle(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "shared.do", `display 1`)
	left := write(t, dir, "left.do", `do "shared.do"`)
	right := write(t, dir, "right.do", `do "shared.do"`)
	root := write(t, dir, "main.do", `do "left.do"
do "right.do"`)
	_ = left
	_ = right

	tree, err := Build(root)
	require.NoError(t, err)
	require.Len(t, tree.Children, 2)
	assert.False(t, tree.Children[0].Children[0].IsCycle)
	assert.False(t, tree.Children[1].Children[0].IsCycle)
	// shared.do is reachable via two branches, but is one canonical path.
	assert.Equal(t, 4, tree.UniqueCount()) // main, left, right, shared
}
