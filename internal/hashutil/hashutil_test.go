package hashutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/janfasnacht/stacy/internal/deptree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashStringDeterministic(t *testing.T) {
	assert.Equal(t, HashString("display 1"), HashString("display 1"))
	assert.NotEqual(t, HashString("display 1"), HashString("display 2"))
	assert.Len(t, HashString("x"), 64)
}

func TestCombinedHashOrderIndependent(t *testing.T) {
	c1 := &Closure{RootHash: "root", Deps: map[string]string{"/a": "ha", "/b": "hb"}}
	c2 := &Closure{RootHash: "root", Deps: map[string]string{"/b": "hb", "/a": "ha"}}
	assert.Equal(t, c1.CombinedHash(), c2.CombinedHash())
}

func TestCombinedHashChangesWithDeps(t *testing.T) {
	c1 := &Closure{RootHash: "root", Deps: map[string]string{"/a": "ha"}}
	c2 := &Closure{RootHash: "root", Deps: map[string]string{"/a": "different"}}
	assert.NotEqual(t, c1.CombinedHash(), c2.CombinedHash())
}

func TestBuildClosureMissingRoot(t *testing.T) {
	dir := t.TempDir()
	tree, err := deptree.Build(filepath.Join(dir, "nope.do"))
	require.NoError(t, err)

	_, err = BuildClosure(tree)
	assert.ErrorIs(t, err, ErrRootMissing)
}

func TestBuildClosureDiamondDedupes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shared.do"), []byte("display 1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "left.do"), []byte(`do "shared.do"`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "right.do"), []byte(`do "shared.do"`), 0o644))
	root := filepath.Join(dir, "main.do")
	require.NoError(t, os.WriteFile(root, []byte("do \"left.do\"\ndo \"right.do\""), 0o644))

	tree, err := deptree.Build(root)
	require.NoError(t, err)
	closure, err := BuildClosure(tree)
	require.NoError(t, err)

	// left.do, right.do, shared.do -- three distinct canonical paths even
	// though shared.do is reachable from two branches.
	assert.Len(t, closure.Deps, 3)
}

func TestHashOrSentinel(t *testing.T) {
	assert.Equal(t, NoneSentinel, HashOrSentinel(""))
	dir := t.TempDir()
	path := filepath.Join(dir, "lock")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	assert.NotEqual(t, NoneSentinel, HashOrSentinel(path))
}
