package home

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckDepthRejectsShallowPaths(t *testing.T) {
	require.Error(t, CheckDepth("/home"))
	require.Error(t, CheckDepth("/"))
	require.NoError(t, CheckDepth("/home/user/.local/share/numng"))
}

func TestResetCreatesSkeleton(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nupm_home")
	tree := New(root)
	require.NoError(t, tree.Reset(false))
	assert.DirExists(t, filepath.Join(root, "modules"))
	assert.DirExists(t, filepath.Join(root, "bin"))
	assert.DirExists(t, filepath.Join(root, "overlays"))
}

func TestResetRefusesExistingWithoutAllowDelete(t *testing.T) {
	root := t.TempDir()
	tree := New(root)
	err := tree.Reset(false)
	require.Error(t, err)
}

func TestResetRemovesExistingWithAllowDelete(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "stale.txt"), []byte("x"), 0o644))
	tree := New(root)
	require.NoError(t, tree.Reset(true))
	assert.NoFileExists(t, filepath.Join(root, "stale.txt"))
	assert.DirExists(t, filepath.Join(root, "modules"))
}

func TestMaterializeCreatesSymlinks(t *testing.T) {
	root := filepath.Join(t.TempDir(), "home")
	tree := New(root)
	require.NoError(t, tree.Reset(false))

	srcDir := t.TempDir()
	modSrc := filepath.Join(srcDir, "mymodule")
	require.NoError(t, os.MkdirAll(modSrc, 0o755))

	require.NoError(t, tree.RegisterModule("mymodule", modSrc))
	require.NoError(t, tree.Materialize())

	link := filepath.Join(root, "modules", "mymodule")
	target, err := os.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, modSrc, target)
}

func TestMaterializeIsIdempotent(t *testing.T) {
	root := filepath.Join(t.TempDir(), "home")
	tree := New(root)
	require.NoError(t, tree.Reset(false))
	srcDir := t.TempDir()
	require.NoError(t, tree.RegisterModule("m", srcDir))
	require.NoError(t, tree.Materialize())
	require.NoError(t, tree.Materialize())
}

func TestMaterializeLinksIsHomeIndependent(t *testing.T) {
	srcDir := t.TempDir()
	pkgDir := t.TempDir()
	target := filepath.Join(pkgDir, "vendor", "thing")

	require.NoError(t, MaterializeLinks([]Link{{Source: srcDir, Target: target}}))

	got, err := os.Readlink(target)
	require.NoError(t, err)
	assert.Equal(t, srcDir, got)

	// idempotent: materializing the same plan again is a no-op, not an error.
	require.NoError(t, MaterializeLinks([]Link{{Source: srcDir, Target: target}}))
}

func TestRegisterModuleRejectsNameEscape(t *testing.T) {
	tree := New(t.TempDir())
	err := tree.RegisterModule("../../etc", "/tmp")
	require.Error(t, err)
}

func TestWriteScriptAtomicWritesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loader.nu")
	require.NoError(t, WriteScriptAtomic(path, []string{"export-env {", "}"}))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "export-env {\n}\n", string(content))
}

func TestPathListAssignNu(t *testing.T) {
	line := PathListAssignNu("NU_LIB_DIRS", "/opt/foo/modules")
	assert.Contains(t, line, "NU_LIB_DIRS")
	assert.Contains(t, line, `"/opt/foo/modules"`)
}
