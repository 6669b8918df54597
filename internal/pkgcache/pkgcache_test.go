package pkgcache

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache() (*Cache, afero.Fs) {
	fs := afero.NewMemMapFs()
	return New(fs, "/cache"), fs
}

func writeVersion(t *testing.T, fs afero.Fs, dir string, files map[string][]byte) {
	t.Helper()
	for name, data := range files {
		require.NoError(t, afero.WriteFile(fs, dir+"/"+name, data, 0o644))
	}
}

func TestIsCachedRequiresAtLeastOneEntry(t *testing.T) {
	c, fs := newTestCache()
	assert.False(t, c.IsCached("gtools", "1.0.0"))

	require.NoError(t, fs.MkdirAll(c.VersionDir("gtools", "1.0.0"), 0o755))
	assert.False(t, c.IsCached("gtools", "1.0.0"), "empty dir is not cached")

	writeVersion(t, fs, c.VersionDir("gtools", "1.0.0"), map[string][]byte{"gtools.ado": []byte("x")})
	assert.True(t, c.IsCached("gtools", "1.0.0"))
}

func TestGetReturnsFlatFileSet(t *testing.T) {
	c, fs := newTestCache()
	writeVersion(t, fs, c.VersionDir("gtools", "1.0.0"), map[string][]byte{
		"gtools.ado":   []byte("program gtools\nend\n"),
		"gtools.sthlp": []byte("help"),
	})

	files, err := c.Get("gtools", "1.0.0")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestListSortsByNameThenVersion(t *testing.T) {
	c, fs := newTestCache()
	writeVersion(t, fs, c.VersionDir("zeta", "1.0.0"), map[string][]byte{"a.ado": []byte("x")})
	writeVersion(t, fs, c.VersionDir("alpha", "2.0.0"), map[string][]byte{"a.ado": []byte("x")})
	writeVersion(t, fs, c.VersionDir("alpha", "1.0.0"), map[string][]byte{"a.ado": []byte("x")})

	refs, err := c.List()
	require.NoError(t, err)
	require.Len(t, refs, 3)
	assert.Equal(t, Ref{Name: "alpha", Version: "1.0.0"}, refs[0])
	assert.Equal(t, Ref{Name: "alpha", Version: "2.0.0"}, refs[1])
	assert.Equal(t, Ref{Name: "zeta", Version: "1.0.0"}, refs[2])
}

func TestListOnEmptyCacheIsEmpty(t *testing.T) {
	c, _ := newTestCache()
	refs, err := c.List()
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestSizeBytesSumsFileSizes(t *testing.T) {
	c, fs := newTestCache()
	writeVersion(t, fs, c.VersionDir("gtools", "1.0.0"), map[string][]byte{"a.ado": []byte("12345")})

	size, err := c.SizeBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)
}

func TestGCRemovesUnusedVersionsAndEmptyNameDirs(t *testing.T) {
	c, fs := newTestCache()
	writeVersion(t, fs, c.VersionDir("gtools", "1.0.0"), map[string][]byte{"a.ado": []byte("x")})
	writeVersion(t, fs, c.VersionDir("gtools", "2.0.0"), map[string][]byte{"a.ado": []byte("x")})
	writeVersion(t, fs, c.VersionDir("keepme", "1.0.0"), map[string][]byte{"a.ado": []byte("x")})

	removed, err := c.GC(map[Ref]bool{{Name: "gtools", Version: "2.0.0"}: true, {Name: "keepme", Version: "1.0.0"}: true})
	require.NoError(t, err)
	assert.Equal(t, []Ref{{Name: "gtools", Version: "1.0.0"}}, removed)
	assert.True(t, c.IsCached("gtools", "2.0.0"))
	assert.True(t, c.IsCached("keepme", "1.0.0"))
	assert.False(t, c.IsCached("gtools", "1.0.0"))
}

func TestGCRemovesEmptyNameDirEntirely(t *testing.T) {
	c, fs := newTestCache()
	writeVersion(t, fs, c.VersionDir("lonely", "1.0.0"), map[string][]byte{"a.ado": []byte("x")})

	_, err := c.GC(map[Ref]bool{})
	require.NoError(t, err)

	exists, err := afero.DirExists(fs, c.NameDir("lonely"))
	require.NoError(t, err)
	assert.False(t, exists)
}
