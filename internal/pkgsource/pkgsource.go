// Package pkgsource implements the four package source client variants of
// spec §4.7: registry (with mirror fallback), source-host, URL, and local
// directory. Dispatch is a free function over a tagged union (the
// lockfile.Source variant), following DESIGN NOTES §9's guidance that no
// polymorphic trait object is needed at the data-model layer.
package pkgsource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/janfasnacht/stacy/internal/hashutil"
	"github.com/janfasnacht/stacy/internal/lockfile"
	"github.com/janfasnacht/stacy/internal/pkgmanifest"
	"golang.org/x/sync/errgroup"
)

// DefaultRequestTimeout bounds every network fetch (spec §5: "Network I/O
// in package downloads (30 s request timeout)").
const DefaultRequestTimeout = 30 * time.Second

// FetchedFile is one downloaded package file.
type FetchedFile struct {
	Name string
	Data []byte
	Hash string
}

// FetchResult is what every source client returns (spec §4.7).
type FetchResult struct {
	Manifest     *pkgmanifest.Manifest
	Files        []FetchedFile
	CombinedHash string
	// FromMirror is set when a registry fetch fell back to its mirror
	// (spec §4.7: "return value carries a from_mirror boolean").
	FromMirror bool
	// ResolvedCommitSHA is the best-effort fully resolved commit for a
	// source-host fetch; empty when resolution failed (spec §3/§4.7).
	ResolvedCommitSHA string
}

// ErrNotFound is returned when a manifest or file could not be located at
// any candidate location; distinct from a connection-class error (spec
// §4.7: "A 404 is not a connection error").
var ErrNotFound = fmt.Errorf("pkgsource: not found")

// Client performs the actual HTTP fetches. RegistryBaseURL/RegistryMirrorURL/
// SourceHostRawBaseURL are overridable for tests.
type Client struct {
	HTTP                 *retryablehttp.Client
	RegistryBaseURL      string
	RegistryMirrorURL    string
	SourceHostRawBaseURL string // e.g. "https://raw.githubusercontent.com"
	SourceHostAPIBaseURL string // e.g. "https://api.github.com"
	Logger               hclog.Logger
}

// NewClient returns a Client with production defaults.
func NewClient(logger hclog.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.HTTPClient.Timeout = DefaultRequestTimeout
	if logger != nil {
		rc.Logger = hclogAdapter{logger}
	} else {
		rc.Logger = nil
	}
	return &Client{
		HTTP:                 rc,
		RegistryBaseURL:      "https://fmwww.bc.edu/repec/bocode",
		RegistryMirrorURL:    "https://ideas.repec.org/pkg/bocode",
		SourceHostRawBaseURL: "https://raw.githubusercontent.com",
		SourceHostAPIBaseURL: "https://api.github.com",
		Logger:               logger,
	}
}

// hclogAdapter lets retryablehttp log through our structured logger without
// requiring retryablehttp's own LeveledLogger interface to leak elsewhere.
type hclogAdapter struct{ l hclog.Logger }

func (a hclogAdapter) Error(msg string, kv ...interface{}) { a.l.Error(msg, kv...) }
func (a hclogAdapter) Info(msg string, kv ...interface{})  { a.l.Info(msg, kv...) }
func (a hclogAdapter) Debug(msg string, kv ...interface{}) { a.l.Debug(msg, kv...) }
func (a hclogAdapter) Warn(msg string, kv ...interface{})  { a.l.Warn(msg, kv...) }

// Fetch dispatches to the client variant named by src.Type.
func (c *Client) Fetch(ctx context.Context, name string, src lockfile.Source) (*FetchResult, error) {
	switch src.Type {
	case lockfile.SourceRegistry:
		return c.fetchRegistry(ctx, name)
	case lockfile.SourceHost:
		return c.fetchSourceHost(ctx, name, src.User, src.Repo, src.Ref)
	case lockfile.SourceURL:
		return c.fetchURL(ctx, name, src.BaseURL)
	case lockfile.SourceLocalDir:
		return c.fetchLocal(name, src.Dir)
	default:
		return nil, fmt.Errorf("pkgsource: unknown source type %q", src.Type)
	}
}

func (c *Client) get(ctx context.Context, url string) (body []byte, status int, err error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		// Every transport-level failure (DNS, connection refused, TLS,
		// timeout) surfaces here after retryablehttp's own retries are
		// exhausted — this is the "connection error" class of spec §4.7.
		return nil, 0, err
	}
	defer resp.Body.Close()
	data, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, resp.StatusCode, readErr
	}
	return data, resp.StatusCode, nil
}

// --- Registry client -------------------------------------------------

func registryPrefixPath(base, name string) string {
	letter := strings.ToLower(name[:1])
	return fmt.Sprintf("%s/%s/%s.pkg", base, letter, name)
}

func (c *Client) fetchRegistry(ctx context.Context, name string) (*FetchResult, error) {
	if name == "" {
		return nil, fmt.Errorf("pkgsource: empty package name")
	}

	manifestBytes, fromMirror, baseUsed, err := c.fetchWithMirrorFallback(ctx, func(base string) string {
		return registryPrefixPath(base, name)
	})
	if err != nil {
		return nil, err
	}

	manifest, err := pkgmanifest.Parse(string(manifestBytes))
	if err != nil {
		return nil, fmt.Errorf("parsing registry manifest for %s: %w", name, err)
	}

	letter := strings.ToLower(name[:1])
	files, err := c.fetchManifestFiles(ctx, manifest, func(filename string) string {
		return fmt.Sprintf("%s/%s/%s", baseUsed, letter, filename)
	})
	if err != nil {
		return nil, err
	}

	return &FetchResult{
		Manifest:     manifest,
		Files:        files,
		CombinedHash: CombinedChecksum(files),
		FromMirror:   fromMirror,
	}, nil
}

// fetchWithMirrorFallback tries the primary registry, then the mirror only
// on a connection-class error (spec §4.7: "On connection-class error from
// primary, retry against mirror. A 404 is not a connection error.").
func (c *Client) fetchWithMirrorFallback(ctx context.Context, path func(base string) string) (data []byte, fromMirror bool, baseUsed string, err error) {
	primaryURL := path(c.RegistryBaseURL)
	body, status, err := c.get(ctx, primaryURL)
	if err == nil {
		if status == http.StatusNotFound {
			return nil, false, "", fmt.Errorf("%w: %s", ErrNotFound, primaryURL)
		}
		if status != http.StatusOK {
			return nil, false, "", fmt.Errorf("pkgsource: unexpected status %d fetching %s", status, primaryURL)
		}
		return body, false, c.RegistryBaseURL, nil
	}

	// err != nil means a connection-class failure: retry on the mirror.
	mirrorURL := path(c.RegistryMirrorURL)
	body, status, mirrErr := c.get(ctx, mirrorURL)
	if mirrErr != nil {
		return nil, false, "", fmt.Errorf("pkgsource: primary and mirror both failed: primary=%w mirror=%v", err, mirrErr)
	}
	if status == http.StatusNotFound {
		return nil, true, "", fmt.Errorf("%w: %s", ErrNotFound, mirrorURL)
	}
	if status != http.StatusOK {
		return nil, true, "", fmt.Errorf("pkgsource: unexpected status %d fetching mirror %s", status, mirrorURL)
	}
	return body, true, c.RegistryMirrorURL, nil
}

func (c *Client) fetchManifestFiles(ctx context.Context, manifest *pkgmanifest.Manifest, urlFor func(filename string) string) ([]FetchedFile, error) {
	files := make([]FetchedFile, len(manifest.Files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, entry := range manifest.Files {
		i, entry := i, entry
		g.Go(func() error {
			body, status, err := c.get(gctx, urlFor(entry.Filename))
			if err != nil {
				return fmt.Errorf("fetching %s: %w", entry.Filename, err)
			}
			if status == http.StatusNotFound {
				return fmt.Errorf("%w: %s", ErrNotFound, entry.Filename)
			}
			if status != http.StatusOK {
				return fmt.Errorf("pkgsource: unexpected status %d fetching %s", status, entry.Filename)
			}
			files[i] = FetchedFile{Name: entry.Filename, Data: body, Hash: hashutil.HashBytes(body)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

// --- Source-host client -----------------------------------------------

var manifestCandidateTemplates = []string{"%[1]s.pkg", "src/%[1]s.pkg", "pkg/%[1]s.pkg", "ado/%[1]s.pkg", "%[1]s/%[1]s.pkg"}
var fileCandidateDirs = []string{"", "src/", "ado/"}

func (c *Client) fetchSourceHost(ctx context.Context, name, user, repo, ref string) (*FetchResult, error) {
	refsToTry := []string{ref}
	if ref == "" {
		refsToTry = []string{"main", "master"}
	}

	var manifestBytes []byte
	var usedRef, usedPath string
	for _, r := range refsToTry {
		body, path, err := c.probeCandidates(ctx, manifestCandidateTemplates, func(candidate string) string {
			return fmt.Sprintf("%s/%s/%s/%s/%s", c.SourceHostRawBaseURL, user, repo, r, candidate)
		}, name)
		if err == nil {
			manifestBytes, usedRef, usedPath = body, r, path
			break
		}
	}
	if manifestBytes == nil {
		return nil, fmt.Errorf("%w: no manifest found for %s/%s@%s", ErrNotFound, user, repo, ref)
	}

	manifest, err := pkgmanifest.Parse(string(manifestBytes))
	if err != nil {
		return nil, fmt.Errorf("parsing source-host manifest for %s: %w", name, err)
	}

	manifestDir := filepath.ToSlash(filepath.Dir(usedPath))
	files, err := c.fetchFilesWithCandidates(ctx, manifest, func(filename string, dir string) string {
		if dir == "" {
			if manifestDir != "." {
				return fmt.Sprintf("%s/%s/%s/%s/%s/%s", c.SourceHostRawBaseURL, user, repo, usedRef, manifestDir, filename)
			}
			return fmt.Sprintf("%s/%s/%s/%s/%s", c.SourceHostRawBaseURL, user, repo, usedRef, filename)
		}
		return fmt.Sprintf("%s/%s/%s/%s/%s%s", c.SourceHostRawBaseURL, user, repo, usedRef, dir, filename)
	})
	if err != nil {
		return nil, err
	}

	commitSHA := c.resolveCommitSHA(ctx, user, repo, usedRef)

	return &FetchResult{
		Manifest:          manifest,
		Files:             files,
		CombinedHash:      CombinedChecksum(files),
		ResolvedCommitSHA: commitSHA,
	}, nil
}

// probeCandidates tries each templated candidate path in order and returns
// the first that resolves with HTTP 200 along with the relative path that
// matched (so the caller can derive sibling file locations).
func (c *Client) probeCandidates(ctx context.Context, templates []string, urlFor func(candidate string) string, name string) ([]byte, string, error) {
	for _, tmpl := range templates {
		candidate := fmt.Sprintf(tmpl, name)
		body, status, err := c.get(ctx, urlFor(candidate))
		if err != nil {
			continue
		}
		if status == http.StatusOK {
			return body, candidate, nil
		}
	}
	return nil, "", ErrNotFound
}

func (c *Client) fetchFilesWithCandidates(ctx context.Context, manifest *pkgmanifest.Manifest, urlFor func(filename, dir string) string) ([]FetchedFile, error) {
	files := make([]FetchedFile, len(manifest.Files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, entry := range manifest.Files {
		i, entry := i, entry
		g.Go(func() error {
			for _, dir := range fileCandidateDirs {
				body, status, err := c.get(gctx, urlFor(entry.Filename, dir))
				if err != nil {
					continue
				}
				if status == http.StatusOK {
					files[i] = FetchedFile{Name: entry.Filename, Data: body, Hash: hashutil.HashBytes(body)}
					return nil
				}
			}
			return fmt.Errorf("%w: %s", ErrNotFound, entry.Filename)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

// resolveCommitSHA is best-effort: failure yields an empty string, not an
// error (spec §4.7/§7: "source-host ref resolution to commit SHA is
// best-effort"). The source-host commits API rate-limits unauthenticated
// callers with a 403 rather than failing the connection, so it gets its
// own short exponential backoff on top of retryablehttp's transport-level
// retries, which never see a well-formed 403 response as worth retrying.
func (c *Client) resolveCommitSHA(ctx context.Context, user, repo, ref string) string {
	url := fmt.Sprintf("%s/repos/%s/%s/commits/%s", c.SourceHostAPIBaseURL, user, repo, ref)

	var body []byte
	operation := func() error {
		b, status, err := c.get(ctx, url)
		if err != nil {
			return backoff.Permanent(err)
		}
		if status == http.StatusTooManyRequests || status == http.StatusForbidden {
			return fmt.Errorf("commit lookup rate-limited (status %d)", status)
		}
		if status != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("commit lookup returned status %d", status))
		}
		body = b
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return ""
	}
	// Minimal extraction: the API returns {"sha": "..."} as the first field
	// in practice; avoid a full JSON dependency for a single best-effort
	// field by scanning for the sha key.
	const key = `"sha":"`
	idx := strings.Index(string(body), key)
	if idx == -1 {
		return ""
	}
	rest := string(body)[idx+len(key):]
	end := strings.IndexByte(rest, '"')
	if end == -1 {
		return ""
	}
	return rest[:end]
}

// --- URL client ---------------------------------------------------------

func (c *Client) fetchURL(ctx context.Context, name, baseURL string) (*FetchResult, error) {
	manifestURL := fmt.Sprintf("%s/%s.pkg", strings.TrimSuffix(baseURL, "/"), name)
	body, status, err := c.get(ctx, manifestURL)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", manifestURL, err)
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, manifestURL)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("pkgsource: unexpected status %d fetching %s", status, manifestURL)
	}

	manifest, err := pkgmanifest.Parse(string(body))
	if err != nil {
		return nil, fmt.Errorf("parsing URL manifest for %s: %w", name, err)
	}

	files, err := c.fetchManifestFiles(ctx, manifest, func(filename string) string {
		return fmt.Sprintf("%s/%s", strings.TrimSuffix(baseURL, "/"), filename)
	})
	if err != nil {
		return nil, err
	}

	return &FetchResult{Manifest: manifest, Files: files, CombinedHash: CombinedChecksum(files)}, nil
}

// --- Local client ---------------------------------------------------------

var localRecognizedExtensions = map[string]bool{
	".ado": true, ".sthlp": true, ".hlp": true, ".dlg": true, ".class": true,
}

func (c *Client) fetchLocal(name, dir string) (*FetchResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading local package dir %s: %w", dir, err)
	}

	var files []FetchedFile
	hasPrimary := false
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !localRecognizedExtensions[ext] {
			continue
		}
		if ext == ".ado" {
			hasPrimary = true
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		files = append(files, FetchedFile{Name: e.Name(), Data: data, Hash: hashutil.HashBytes(data)})
	}
	if !hasPrimary {
		return nil, fmt.Errorf("pkgsource: local dir %s has no primary (.ado) file", dir)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	manifest := &pkgmanifest.Manifest{Title: name}
	for _, f := range files {
		manifest.Files = append(manifest.Files, pkgmanifest.FileEntry{Filename: f.Name})
	}

	return &FetchResult{Manifest: manifest, Files: files, CombinedHash: CombinedChecksum(files)}, nil
}

// CombinedChecksum computes the combined checksum (spec §3/§4.7, glossary
// "Combined checksum"): sort per-file hashes, concatenate, SHA-256.
// Order-independent.
func CombinedChecksum(files []FetchedFile) string {
	hashes := make([]string, len(files))
	for i, f := range files {
		hashes[i] = f.Hash
	}
	sort.Strings(hashes)
	return hashutil.HashString(strings.Join(hashes, ""))
}
