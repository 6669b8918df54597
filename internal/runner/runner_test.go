package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janfasnacht/stacy/internal/config"
	"github.com/janfasnacht/stacy/internal/pkgcache"
)

// fakeEngine writes a script standing in for the engine binary: it writes
// logContent to the log path the supervisor will look for (workDir/{stem}.log),
// matching the real engine's own responsibility for producing that file.
func fakeEngine(t *testing.T, workDir, scriptStem, logContent string) string {
	t.Helper()
	binDir := t.TempDir()
	path := filepath.Join(binDir, "fake-engine.sh")
	logPath := filepath.Join(workDir, scriptStem+".log")
	body := fmt.Sprintf("#!/bin/sh\ncat > %s <<'ENGINELOG'\n%s\nENGINELOG\nexit 0\n", logPath, logContent)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func writeProject(t *testing.T, manifest string) (root string) {
	t.Helper()
	root = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ManifestFilename), []byte(manifest), 0o644))
	return root
}

func newTestCache(t *testing.T) *pkgcache.Cache {
	t.Helper()
	return pkgcache.New(afero.NewOsFs(), filepath.Join(t.TempDir(), "packages"))
}

func TestDiscoverProjectFindsNearestAncestor(t *testing.T) {
	root := writeProject(t, "[project]\nname = \"x\"\n")
	nested := filepath.Join(root, "sub", "dir")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	p, err := DiscoverProject(nested)
	require.NoError(t, err)
	assert.Equal(t, root, p.Root)
	assert.Equal(t, "x", p.Manifest.Project.Name)
}

func TestDiscoverProjectMissingReturnsProjectNotFound(t *testing.T) {
	_, err := DiscoverProject(t.TempDir())
	require.Error(t, err)
}

func TestRunSuccessUpdatesBuildCacheAndSecondRunHits(t *testing.T) {
	root := writeProject(t, "[project]\nname = \"x\"\n")
	scriptPath := filepath.Join(root, "analysis.do")
	require.NoError(t, os.WriteFile(scriptPath, []byte("display 1\n"), 0o644))

	engine := fakeEngine(t, root, "analysis", "(output)\nend of do-file\n")
	project := &Project{Root: root, Manifest: mustManifest(t, root)}
	cache := newTestCache(t)

	out, err := Run(context.Background(), cache, Input{
		Project:      project,
		ScriptPath:   scriptPath,
		EngineBinary: engine,
		WorkDir:      root,
	})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, 0, out.ExitCode)
	assert.False(t, out.FromCache)

	out2, err := Run(context.Background(), cache, Input{
		Project:      project,
		ScriptPath:   scriptPath,
		EngineBinary: engine,
		WorkDir:      root,
	})
	require.NoError(t, err)
	assert.True(t, out2.FromCache, "second run with unchanged script/closure should hit the build cache")
}

func TestRunDetectsEngineErrorCode(t *testing.T) {
	root := writeProject(t, "[project]\nname = \"x\"\n")
	scriptPath := filepath.Join(root, "broken.do")
	require.NoError(t, os.WriteFile(scriptPath, []byte("display 1\n"), 0o644))

	engine := fakeEngine(t, root, "broken", "regress y x\nvariable not found\nr(111);\nend of do-file\nr(111);\n")
	project := &Project{Root: root, Manifest: mustManifest(t, root)}
	cache := newTestCache(t)

	out, err := Run(context.Background(), cache, Input{
		Project:      project,
		ScriptPath:   scriptPath,
		EngineBinary: engine,
		WorkDir:      root,
		Force:        true,
	})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, 111, out.RCode)
	assert.Equal(t, 2, out.ExitCode, "r(111) falls in the Syntax/Command range, exit code 2")
}

func TestRunAbortsOnLockfileSyncMismatchWhenFrozen(t *testing.T) {
	root := writeProject(t, "[project]\nname = \"x\"\n\n[packages.dependencies]\ngtools = \"registry\"\n")
	scriptPath := filepath.Join(root, "analysis.do")
	require.NoError(t, os.WriteFile(scriptPath, []byte("display 1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, LockfileFilename), []byte("version = 1\ntool_version = \"0.1.0\"\n"), 0o644))

	engine := fakeEngine(t, root, "analysis", "end of do-file\n")
	project := &Project{Root: root, Manifest: mustManifest(t, root)}
	cache := newTestCache(t)

	_, err := Run(context.Background(), cache, Input{
		Project:      project,
		ScriptPath:   scriptPath,
		EngineBinary: engine,
		WorkDir:      root,
		Frozen:       true,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gtools")
}

func TestRunToleratesLockfileSyncMismatchWithoutFrozen(t *testing.T) {
	root := writeProject(t, "[project]\nname = \"x\"\n\n[packages.dependencies]\ngtools = \"registry\"\n")
	scriptPath := filepath.Join(root, "analysis.do")
	require.NoError(t, os.WriteFile(scriptPath, []byte("display 1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, LockfileFilename), []byte("version = 1\ntool_version = \"0.1.0\"\n"), 0o644))

	engine := fakeEngine(t, root, "analysis", "end of do-file\n")
	project := &Project{Root: root, Manifest: mustManifest(t, root)}
	cache := newTestCache(t)

	out, err := Run(context.Background(), cache, Input{
		Project:      project,
		ScriptPath:   scriptPath,
		EngineBinary: engine,
		WorkDir:      root,
	})
	require.NoError(t, err)
	assert.True(t, out.Success)
}

func TestDoctorReportsFailuresAndPasses(t *testing.T) {
	root := writeProject(t, "[project]\nname = \"x\"\n")
	project := &Project{Root: root, Manifest: mustManifest(t, root)}
	cache := newTestCache(t)

	report := Doctor(project, cache, func() (string, error) { return "/usr/local/bin/stata-mp", nil })
	assert.True(t, report.Ready)
	assert.Equal(t, 0, report.Failed)

	reportNoEngine := Doctor(project, cache, func() (string, error) { return "", fmt.Errorf("not found") })
	assert.False(t, reportNoEngine.Ready)
	assert.Equal(t, 1, reportNoEngine.Failed)
}

func TestDoctorNoProjectFails(t *testing.T) {
	report := Doctor(nil, newTestCache(t), nil)
	assert.False(t, report.Ready)
}

func mustManifest(t *testing.T, root string) *config.Manifest {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, ManifestFilename))
	require.NoError(t, err)
	m, err := config.ParseManifest(string(data))
	require.NoError(t, err)
	return m
}
