package searchpath

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janfasnacht/stacy/internal/lockfile"
	"github.com/janfasnacht/stacy/internal/pkgcache"
)

func buildLockfile() *lockfile.Lockfile {
	lf := lockfile.New("0.0.0-test")
	lf.Put("zeta", lockfile.Entry{Version: "1.0.0", Source: lockfile.Source{Type: lockfile.SourceRegistry}, Group: lockfile.Production})
	lf.Put("alpha", lockfile.Entry{Version: "2.0.0", Source: lockfile.Source{Type: lockfile.SourceRegistry}, Group: lockfile.Production})
	return lf
}

func TestBuildOrdersPackagesLexicographically(t *testing.T) {
	cache := pkgcache.New(afero.NewMemMapFs(), "/cache")
	path := Build(buildLockfile(), cache, false)

	tokens := strings.Split(path, Separator)
	require.Len(t, tokens, 3)
	assert.True(t, strings.HasSuffix(tokens[0], "alpha/2.0.0") || strings.Contains(tokens[0], "/alpha/"))
	assert.Contains(t, tokens[1], "zeta")
	assert.Equal(t, BuiltinCommands, tokens[2])
}

func TestBuildIncludesGlobalLocationsWhenAllowed(t *testing.T) {
	cache := pkgcache.New(afero.NewMemMapFs(), "/cache")
	path := Build(buildLockfile(), cache, true)

	assert.Contains(t, path, SiteLocation)
	assert.Contains(t, path, PersonalLocation)
	assert.Contains(t, path, PlusLocation)
	assert.Contains(t, path, OldPlaceLocation)
}

func TestBuildIsDeterministic(t *testing.T) {
	cache := pkgcache.New(afero.NewMemMapFs(), "/cache")
	lf := buildLockfile()
	assert.Equal(t, Build(lf, cache, true), Build(lf, cache, true))
}

func TestBuildOnEmptyLockfileHasOnlyBuiltin(t *testing.T) {
	cache := pkgcache.New(afero.NewMemMapFs(), "/cache")
	path := Build(lockfile.New("0.0.0"), cache, false)
	assert.Equal(t, BuiltinCommands, path)
}
