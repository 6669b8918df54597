package installer

import (
	"fmt"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janfasnacht/stacy/internal/pkgcache"
)

func newTestInstaller() (*Installer, *pkgcache.Cache) {
	c := pkgcache.New(afero.NewMemMapFs(), "/cache")
	return New(c, nil), c
}

func TestInstallWritesCompleteFileSet(t *testing.T) {
	in, cache := newTestInstaller()
	files := map[string][]byte{"gtools.ado": []byte("program gtools\nend\n"), "gtools.sthlp": []byte("help")}

	res, err := in.Install("gtools", "1.0.0", files)
	require.NoError(t, err)
	assert.False(t, res.Adopted)
	assert.True(t, cache.IsCached("gtools", "1.0.0"))

	got, err := cache.Get("gtools", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, files, got)
}

func TestInstallStripsLeadingPathComponents(t *testing.T) {
	in, cache := newTestInstaller()
	files := map[string][]byte{"../e/file.ado": []byte("x")}

	_, err := in.Install("pkg", "1.0.0", files)
	require.NoError(t, err)

	got, err := cache.Get("pkg", "1.0.0")
	require.NoError(t, err)
	assert.Contains(t, got, "file.ado")
}

func TestInstallIsIdempotentWhenFinalDirAlreadyExists(t *testing.T) {
	in, cache := newTestInstaller()
	_, err := in.Install("gtools", "1.0.0", map[string][]byte{"gtools.ado": []byte("v1")})
	require.NoError(t, err)

	// A second install of the same (name, version) must still succeed even
	// though the final directory is already populated.
	_, err = in.Install("gtools", "1.0.0", map[string][]byte{"gtools.ado": []byte("v2-loses-the-race")})
	require.NoError(t, err)
	assert.True(t, cache.IsCached("gtools", "1.0.0"))
}

func TestConcurrentInstallsOfSameVersionBothSucceed(t *testing.T) {
	in, cache := newTestInstaller()
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := in.Install("gtools", "1.0.0", map[string][]byte{
				"gtools.ado": []byte(fmt.Sprintf("installer-%d", i)),
			})
			errs[i] = err
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.True(t, cache.IsCached("gtools", "1.0.0"))

	files, err := cache.Get("gtools", "1.0.0")
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestStagingNamePidRoundTrip(t *testing.T) {
	name := stagingName("1.2.3", 4242)
	pid, ok := pidFromStagingName(name)
	require.True(t, ok)
	assert.Equal(t, 4242, pid)
}

func TestPidFromStagingNameRejectsMalformed(t *testing.T) {
	_, ok := pidFromStagingName("not-a-staging-dir")
	assert.False(t, ok)
}
