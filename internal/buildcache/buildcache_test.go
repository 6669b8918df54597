package buildcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janfasnacht/stacy/internal/hashutil"
)

func strPtr(s string) *string { return &s }

func writeRaw(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func TestLookupMissesWhenNotCached(t *testing.T) {
	cache, err := Load(filepath.Join(t.TempDir(), "build.json"))
	require.NoError(t, err)

	res := Lookup(cache, LookupInput{ScriptPath: "a.do", Closure: &hashutil.Closure{RootHash: "h1"}})
	assert.False(t, res.Hit)
	assert.Equal(t, NotCached, res.MissReason)
}

func TestLookupForceAlwaysMisses(t *testing.T) {
	cache, err := Load(filepath.Join(t.TempDir(), "build.json"))
	require.NoError(t, err)
	closure := &hashutil.Closure{RootHash: "h1", Deps: map[string]string{}}
	cache.Update("a.do", closure, nil, nil, 0, true, time.Second, time.Unix(0, 0))

	res := Lookup(cache, LookupInput{ScriptPath: "a.do", Closure: closure, Force: true})
	assert.False(t, res.Hit)
	assert.Equal(t, ForceRebuild, res.MissReason)
}

func TestLookupHitsOnIdenticalFingerprint(t *testing.T) {
	cache, err := Load(filepath.Join(t.TempDir(), "build.json"))
	require.NoError(t, err)
	closure := &hashutil.Closure{RootHash: "h1", Deps: map[string]string{"/dep.do": "d1"}}
	cache.Update("a.do", closure, strPtr("lock1"), strPtr("wd1"), 0, true, time.Second, time.Unix(100, 0))

	res := Lookup(cache, LookupInput{ScriptPath: "a.do", Closure: closure, LockfileHash: strPtr("lock1"), WorkDirHash: strPtr("wd1")})
	require.True(t, res.Hit)
	assert.Equal(t, 0, res.Entry.ExitCode)
}

func TestLookupMissesOnScriptChange(t *testing.T) {
	cache, err := Load(filepath.Join(t.TempDir(), "build.json"))
	require.NoError(t, err)
	closure := &hashutil.Closure{RootHash: "h1", Deps: map[string]string{}}
	cache.Update("a.do", closure, nil, nil, 0, true, time.Second, time.Unix(0, 0))

	changed := &hashutil.Closure{RootHash: "h2", Deps: map[string]string{}}
	res := Lookup(cache, LookupInput{ScriptPath: "a.do", Closure: changed})
	assert.Equal(t, ScriptChanged, res.MissReason)
}

func TestLookupDetectsLockfileNoneToSomeTransition(t *testing.T) {
	cache, err := Load(filepath.Join(t.TempDir(), "build.json"))
	require.NoError(t, err)
	closure := &hashutil.Closure{RootHash: "h1", Deps: map[string]string{}}
	cache.Update("a.do", closure, nil, nil, 0, true, time.Second, time.Unix(0, 0))

	res := Lookup(cache, LookupInput{ScriptPath: "a.do", Closure: closure, LockfileHash: strPtr("lock1")})
	assert.Equal(t, LockfileChanged, res.MissReason)
}

func TestLookupDetectsAddedAndRemovedDependencies(t *testing.T) {
	cache, err := Load(filepath.Join(t.TempDir(), "build.json"))
	require.NoError(t, err)
	closure := &hashutil.Closure{RootHash: "h1", Deps: map[string]string{"/a.do": "ha"}}
	cache.Update("a.do", closure, nil, nil, 0, true, time.Second, time.Unix(0, 0))

	added := &hashutil.Closure{RootHash: "h1", Deps: map[string]string{"/a.do": "ha", "/b.do": "hb"}}
	res := Lookup(cache, LookupInput{ScriptPath: "a.do", Closure: added})
	assert.Equal(t, DependencyAdded, res.MissReason)
	assert.Equal(t, "/b.do", res.ChangedDependency)

	removed := &hashutil.Closure{RootHash: "h1", Deps: map[string]string{}}
	res = Lookup(cache, LookupInput{ScriptPath: "a.do", Closure: removed})
	assert.Equal(t, DependencyRemoved, res.MissReason)
}

func TestLookupDetectsDependencyHashChange(t *testing.T) {
	cache, err := Load(filepath.Join(t.TempDir(), "build.json"))
	require.NoError(t, err)
	closure := &hashutil.Closure{RootHash: "h1", Deps: map[string]string{"/a.do": "ha"}}
	cache.Update("a.do", closure, nil, nil, 0, true, time.Second, time.Unix(0, 0))

	changed := &hashutil.Closure{RootHash: "h1", Deps: map[string]string{"/a.do": "ha2"}}
	res := Lookup(cache, LookupInput{ScriptPath: "a.do", Closure: changed})
	assert.Equal(t, DependencyChanged, res.MissReason)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "build.json")
	cache, err := Load(path)
	require.NoError(t, err)
	closure := &hashutil.Closure{RootHash: "h1", Deps: map[string]string{}}
	cache.Update("a.do", closure, nil, nil, 0, true, time.Second, time.Unix(42, 0))
	require.NoError(t, cache.Save())

	reloaded, err := Load(path)
	require.NoError(t, err)
	key := canonicalKey("a.do")
	require.Contains(t, reloaded.Entries, key)
	assert.Equal(t, int64(42), reloaded.Entries[key].CachedAt)
}

func TestLoadWithMismatchedVersionReturnsEmptyCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "build.json")
	require.NoError(t, writeRaw(path, `{"version": 999, "entries": {}}`))

	cache, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cache.Entries)
}
