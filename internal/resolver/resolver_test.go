package resolver

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hasGit(t *testing.T) bool {
	t.Helper()
	_, err := exec.LookPath("git")
	return err == nil
}

// gitRepo creates a standalone git repository under a fresh temp dir,
// writes files, and commits them, returning the repo's absolute directory.
func gitRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init", "--quiet", "-b", "main")
	runGit(t, dir, "config", "user.email", "test@example.com")
	runGit(t, dir, "config", "user.name", "test")
	writeFiles(t, dir, files)
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "--quiet", "-m", "init")
	return dir
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		full := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
}

func commitFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	writeFiles(t, dir, files)
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "--quiet", "-m", "update")
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoErrorf(t, err, "git %v: %s", args, out)
	return strings.TrimSpace(string(out))
}

func headCommit(t *testing.T, dir string) string {
	t.Helper()
	return runGit(t, dir, "rev-parse", "HEAD")
}

func fileURL(dir string) string {
	return "file://" + dir
}

func writeRootManifest(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "numng.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunResolvesSingleGitDependencyPinnedByCommit(t *testing.T) {
	if !hasGit(t) {
		t.Skip("git not available")
	}
	greeter := gitRepo(t, map[string]string{
		"numng.json": `{"shell_config": {"use": ["greet.nu"]}}`,
		"greet.nu":   "export def greet [] { \"hi\" }",
	})
	pin := headCommit(t, greeter)

	rootManifest := writeRootManifest(t, fmt.Sprintf(`{
		"depends": [
			{"name": "greeter", "source_type": "git", "source_uri": %q, "git_ref": %q}
		]
	}`, fileURL(greeter), pin))

	outDir := t.TempDir()
	scriptPath := filepath.Join(outDir, "loader.nu")
	l := New(Options{
		NumngFilePath:  rootManifest,
		GenerateScript: scriptPath,
		GitStoreBase:   filepath.Join(outDir, "store"),
	})
	_, err := l.Run()
	require.NoError(t, err)

	content, err := os.ReadFile(scriptPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "export use ")
	assert.Contains(t, string(content), "greet.nu")
}

func TestRunDedupesSharedLibraryAcrossSiblings(t *testing.T) {
	if !hasGit(t) {
		t.Skip("git not available")
	}
	lib := gitRepo(t, map[string]string{
		"numng.json": `{"shell_config": {"use": ["l.nu"]}}`,
		"l.nu":       "export def l [] { }",
	})
	libURL := fileURL(lib)

	a := gitRepo(t, map[string]string{
		"numng.json": fmt.Sprintf(`{
			"depends": [{"name": "L", "source_type": "git", "source_uri": %q, "git_ref": "main"}],
			"shell_config": {"use": ["a.nu"]}
		}`, libURL),
		"a.nu": "export def a [] { }",
	})
	b := gitRepo(t, map[string]string{
		"numng.json": fmt.Sprintf(`{
			"depends": [{"name": "L", "source_type": "git", "source_uri": %q, "git_ref": "main"}],
			"shell_config": {"use": ["b.nu"]}
		}`, libURL),
		"b.nu": "export def b [] { }",
	})

	rootManifest := writeRootManifest(t, fmt.Sprintf(`{
		"depends": [
			{"name": "A", "source_type": "git", "source_uri": %q, "git_ref": "main"},
			{"name": "B", "source_type": "git", "source_uri": %q, "git_ref": "main"}
		]
	}`, fileURL(a), fileURL(b)))

	outDir := t.TempDir()
	scriptPath := filepath.Join(outDir, "loader.nu")
	l := New(Options{
		NumngFilePath:  rootManifest,
		GenerateScript: scriptPath,
		GitStoreBase:   filepath.Join(outDir, "store"),
	})
	_, err := l.Run()
	require.NoError(t, err)

	content, err := os.ReadFile(scriptPath)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(content), "l.nu"))
	assert.Equal(t, 1, strings.Count(string(content), "a.nu"))
	assert.Equal(t, 1, strings.Count(string(content), "b.nu"))
}

func TestRunDetectsCyclicShellConfigDependency(t *testing.T) {
	if !hasGit(t) {
		t.Skip("git not available")
	}
	a := gitRepo(t, map[string]string{
		"numng.json": `{"shell_config": {"use": ["a.nu"]}}`,
		"a.nu":       "export def a [] { }",
	})
	b := gitRepo(t, map[string]string{
		"numng.json": `{"shell_config": {"use": ["b.nu"]}}`,
		"b.nu":       "export def b [] { }",
	})

	rootManifest := writeRootManifest(t, fmt.Sprintf(`{
		"depends": [
			{
				"name": "A", "source_type": "git", "source_uri": %q, "git_ref": "main",
				"depends": [{"name": "B", "source_type": "git", "source_uri": %q, "git_ref": "main"}]
			},
			{
				"name": "B", "source_type": "git", "source_uri": %q, "git_ref": "main",
				"depends": [{"name": "A", "source_type": "git", "source_uri": %q, "git_ref": "main"}]
			}
		]
	}`, fileURL(a), fileURL(b), fileURL(b), fileURL(a)))

	outDir := t.TempDir()
	l := New(Options{
		NumngFilePath:  rootManifest,
		GenerateScript: filepath.Join(outDir, "loader.nu"),
		GitStoreBase:   filepath.Join(outDir, "store"),
	})
	_, err := l.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular dependencies")
}

func TestRunBuildCommandWithoutAllowBuildCommandsFails(t *testing.T) {
	if !hasGit(t) {
		t.Skip("git not available")
	}
	pkg := gitRepo(t, map[string]string{
		"numng.json": `{"build_command": "touch built.txt"}`,
	})

	rootManifest := writeRootManifest(t, fmt.Sprintf(`{
		"depends": [{"name": "pkg", "source_type": "git", "source_uri": %q, "git_ref": "main"}]
	}`, fileURL(pkg)))

	outDir := t.TempDir()
	l := New(Options{
		NumngFilePath:  rootManifest,
		GenerateScript: filepath.Join(outDir, "loader.nu"),
		GitStoreBase:   filepath.Join(outDir, "store"),
	})
	_, err := l.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allow_build_commands")
}

func TestRunRegistryEnrichesPartialDependency(t *testing.T) {
	if !hasGit(t) {
		t.Skip("git not available")
	}
	lib := gitRepo(t, map[string]string{
		"numng.json": `{"shell_config": {"use": ["l.nu"]}}`,
		"l.nu":       "export def l [] { }",
	})

	registryRepo := gitRepo(t, map[string]string{
		"lib.json": fmt.Sprintf(`{"1.0.0": {"source_uri": %q, "git_ref": "main"}}`, fileURL(lib)),
	})

	rootManifest := writeRootManifest(t, fmt.Sprintf(`{
		"registry": [{"name": "reg", "source_type": "git", "source_uri": %q, "git_ref": "main", "package_format": "numng"}],
		"depends": [{"name": "lib"}]
	}`, fileURL(registryRepo)))

	outDir := t.TempDir()
	scriptPath := filepath.Join(outDir, "loader.nu")
	l := New(Options{
		NumngFilePath:  rootManifest,
		GenerateScript: scriptPath,
		GitStoreBase:   filepath.Join(outDir, "store"),
	})
	_, err := l.Run()
	require.NoError(t, err)

	content, err := os.ReadFile(scriptPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "l.nu")
}

func TestRunPullUpdatesRefreshesExistingWorktree(t *testing.T) {
	if !hasGit(t) {
		t.Skip("git not available")
	}
	pkg := gitRepo(t, map[string]string{
		"numng.json": `{"shell_config": {"use": ["base.nu"]}}`,
		"base.nu":    "export def base [] { }",
	})

	rootManifest := writeRootManifest(t, fmt.Sprintf(`{
		"depends": [{"name": "pkg", "source_type": "git", "source_uri": %q, "git_ref": "main"}]
	}`, fileURL(pkg)))

	outDir := t.TempDir()
	storeDir := filepath.Join(outDir, "store")
	scriptPath := filepath.Join(outDir, "loader.nu")

	l1 := New(Options{NumngFilePath: rootManifest, GenerateScript: scriptPath, GitStoreBase: storeDir})
	_, err := l1.Run()
	require.NoError(t, err)
	first, err := os.ReadFile(scriptPath)
	require.NoError(t, err)
	assert.NotContains(t, string(first), "new.nu")

	commitFiles(t, pkg, map[string]string{
		"numng.json": `{"shell_config": {"use": ["base.nu", "new.nu"]}}`,
		"new.nu":     "export def newdef [] { }",
	})

	l2 := New(Options{NumngFilePath: rootManifest, GenerateScript: scriptPath, GitStoreBase: storeDir, PullUpdates: true})
	_, err2 := l2.Run()
	require.NoError(t, err2)
	second, err := os.ReadFile(scriptPath)
	require.NoError(t, err)
	assert.Contains(t, string(second), "new.nu")
}

func TestRunLinkinPlacesSymlinkInOwnPackageDirWithoutHome(t *testing.T) {
	if !hasGit(t) {
		t.Skip("git not available")
	}
	linked := gitRepo(t, map[string]string{
		"numng.json": `{}`,
		"payload.nu": "export def payload [] { }",
	})

	pkg := gitRepo(t, map[string]string{
		"numng.json": fmt.Sprintf(`{
			"linkin": {
				"vendor/payload": {"name": "payload", "source_type": "git", "source_uri": %q, "git_ref": "main"}
			}
		}`, fileURL(linked)),
	})

	rootManifest := writeRootManifest(t, fmt.Sprintf(`{
		"depends": [{"name": "pkg", "source_type": "git", "source_uri": %q, "git_ref": "main"}]
	}`, fileURL(pkg)))

	outDir := t.TempDir()
	l := New(Options{
		NumngFilePath: rootManifest,
		GitStoreBase:  filepath.Join(outDir, "store"),
	})
	_, err := l.Run()
	require.NoError(t, err)

	var linkTarget string
	for base := range l.loaded {
		candidate := filepath.Join(base, "vendor", "payload")
		if info, statErr := os.Lstat(candidate); statErr == nil && info.Mode()&os.ModeSymlink != 0 {
			linkTarget = candidate
			break
		}
	}
	require.NotEmpty(t, linkTarget, "expected a linkin symlink under the declaring package's own directory")
	real, err := filepath.EvalSymlinks(linkTarget)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(real, "payload.nu"))
}

func TestRunLinkinIgnoresNupmHomeForItsDestination(t *testing.T) {
	if !hasGit(t) {
		t.Skip("git not available")
	}
	linked := gitRepo(t, map[string]string{
		"numng.json": `{}`,
		"payload.nu": "export def payload [] { }",
	})

	pkg := gitRepo(t, map[string]string{
		"numng.json": fmt.Sprintf(`{
			"linkin": {
				"vendor/payload": {"name": "payload", "source_type": "git", "source_uri": %q, "git_ref": "main"}
			}
		}`, fileURL(linked)),
	})

	rootManifest := writeRootManifest(t, fmt.Sprintf(`{
		"depends": [{"name": "pkg", "source_type": "git", "source_uri": %q, "git_ref": "main"}]
	}`, fileURL(pkg)))

	outDir := t.TempDir()
	nupmHome := filepath.Join(outDir, "a", "b", "nupm_home")
	l := New(Options{
		NumngFilePath: rootManifest,
		NupmHome:      nupmHome,
		GitStoreBase:  filepath.Join(outDir, "store"),
	})
	_, err := l.Run()
	require.NoError(t, err)

	// The linkin destination must never be rerouted through the home's
	// overlays/ category - it always lands inside pkg's own directory.
	overlaysDir := filepath.Join(nupmHome, "overlays")
	entries, err := os.ReadDir(overlaysDir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, "payload", e.Name())
	}

	var linkTarget string
	for base := range l.loaded {
		candidate := filepath.Join(base, "vendor", "payload")
		if info, statErr := os.Lstat(candidate); statErr == nil && info.Mode()&os.ModeSymlink != 0 {
			linkTarget = candidate
			break
		}
	}
	require.NotEmpty(t, linkTarget, "expected a linkin symlink under the declaring package's own directory even with a nupm home configured")
}

func TestRunMaterializesNupmHome(t *testing.T) {
	if !hasGit(t) {
		t.Skip("git not available")
	}
	pkg := gitRepo(t, map[string]string{
		"numng.json": `{"bin": {"mybinary": "mybinary.nu"}}`,
		"mybinary.nu": "#!/usr/bin/env nu\n",
	})

	rootManifest := writeRootManifest(t, fmt.Sprintf(`{
		"depends": [{"name": "pkg", "source_type": "git", "source_uri": %q, "git_ref": "main"}]
	}`, fileURL(pkg)))

	outDir := t.TempDir()
	nupmHome := filepath.Join(outDir, "a", "b", "nupm_home")
	l := New(Options{
		NumngFilePath: rootManifest,
		NupmHome:      nupmHome,
		GitStoreBase:  filepath.Join(outDir, "store"),
	})
	_, err := l.Run()
	require.NoError(t, err)

	binLink := filepath.Join(nupmHome, "bin", "mybinary")
	info, err := os.Lstat(binLink)
	require.NoError(t, err)
	assert.True(t, info.Mode()&os.ModeSymlink != 0)
}
