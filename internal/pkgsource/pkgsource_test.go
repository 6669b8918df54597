package pkgsource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/janfasnacht/stacy/internal/lockfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testManifest = "d 'GT': test\nd\nf gt.ado\nf gt.sthlp\n"

func newTestClient() *Client {
	c := NewClient(nil)
	c.HTTP.RetryMax = 0
	c.HTTP.Logger = nil
	return c
}

func TestFetchRegistryPrimarySuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/g/gt.pkg":
			w.Write([]byte(testManifest))
		case "/g/gt.ado":
			w.Write([]byte("program gt\nend\n"))
		case "/g/gt.sthlp":
			w.Write([]byte("help"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient()
	c.RegistryBaseURL = srv.URL
	c.RegistryMirrorURL = srv.URL + "/mirror-unused"

	res, err := c.fetchRegistry(context.Background(), "gt")
	require.NoError(t, err)
	assert.False(t, res.FromMirror)
	assert.Len(t, res.Files, 2)
	assert.NotEmpty(t, res.CombinedHash)
}

func TestFetchRegistryFallsBackToMirrorOnConnectionError(t *testing.T) {
	mirror := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/g/gt.pkg":
			w.Write([]byte(testManifest))
		case "/g/gt.ado", "/g/gt.sthlp":
			w.Write([]byte("x"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer mirror.Close()

	c := newTestClient()
	// Primary points at a closed port: guaranteed connection failure.
	c.RegistryBaseURL = "http://127.0.0.1:1"
	c.RegistryMirrorURL = mirror.URL

	res, err := c.fetchRegistry(context.Background(), "gt")
	require.NoError(t, err)
	assert.True(t, res.FromMirror)
}

func TestFetchRegistry404IsNotAConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient()
	c.RegistryBaseURL = srv.URL
	c.RegistryMirrorURL = srv.URL + "/should-not-be-hit"

	_, err := c.fetchRegistry(context.Background(), "gt")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchURLClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/gt.pkg":
			w.Write([]byte(testManifest))
		case "/gt.ado", "/gt.sthlp":
			w.Write([]byte("x"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient()
	res, err := c.fetchURL(context.Background(), "gt", srv.URL)
	require.NoError(t, err)
	assert.Len(t, res.Files, 2)
}

func TestFetchSourceHostProbesCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/u/r/main/src/gt.pkg":
			w.Write([]byte(testManifest))
		case "/u/r/main/src/gt.ado", "/u/r/main/src/gt.sthlp":
			w.Write([]byte("x"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient()
	c.SourceHostRawBaseURL = srv.URL + "/u/r"
	// Strip "/u/r" prefix mismatch: rebuild base so fetchSourceHost's
	// "%s/%s/%s/%s/%s" composes correctly against this handler.
	c.SourceHostRawBaseURL = srv.URL
	res, err := c.fetchSourceHost(context.Background(), "gt", "u", "r", "")
	require.NoError(t, err)
	assert.Len(t, res.Files, 2)
}

func TestFetchLocalRequiresPrimaryFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gt.sthlp"), []byte("help"), 0o644))

	c := newTestClient()
	_, err := c.fetchLocal("gt", dir)
	require.Error(t, err)
}

func TestFetchLocalSucceeds(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gt.ado"), []byte("program gt\nend\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gt.sthlp"), []byte("help"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	c := newTestClient()
	res, err := c.fetchLocal("gt", dir)
	require.NoError(t, err)
	assert.Len(t, res.Files, 2)
	assert.Equal(t, "gt", res.Manifest.Title)
}

func TestFetchDispatchesByType(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gt.ado"), []byte("x"), 0o644))

	c := newTestClient()
	res, err := c.Fetch(context.Background(), "gt", lockfile.Source{Type: lockfile.SourceLocalDir, Dir: dir})
	require.NoError(t, err)
	assert.Len(t, res.Files, 1)

	_, err = c.Fetch(context.Background(), "gt", lockfile.Source{Type: "bogus"})
	require.Error(t, err)
}

func TestCombinedChecksumIsOrderIndependent(t *testing.T) {
	a := []FetchedFile{{Name: "a", Hash: "h1"}, {Name: "b", Hash: "h2"}}
	b := []FetchedFile{{Name: "b", Hash: "h2"}, {Name: "a", Hash: "h1"}}
	assert.Equal(t, CombinedChecksum(a), CombinedChecksum(b))
}
