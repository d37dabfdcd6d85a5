package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadManifestParsesSearchPathsAndModules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plugins.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
search_paths:
  - /opt/rayfield/plugins
modules:
  - name: phong
    path: phong.so
  - name: checker
    path: textures/checker.so
`), 0o644))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/opt/rayfield/plugins"}, m.SearchPaths)
	require.Len(t, m.Modules, 2)
	assert.Equal(t, "phong", m.Modules[0].Name)
	assert.Equal(t, "textures/checker.so", m.Modules[1].Path)
}

func TestLoadManifestMissingFile(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestResolvePathPrefersManifestPath(t *testing.T) {
	dir := t.TempDir()
	soPath := filepath.Join(dir, "phong.so")
	require.NoError(t, os.WriteFile(soPath, []byte("not a real plugin"), 0o644))

	mgr := NewManager([]string{dir})
	mgr.UseManifest(&Manifest{Modules: []ModuleEntry{{Name: "phong", Path: "phong.so"}}})

	resolved, err := mgr.resolvePath("phong")
	require.NoError(t, err)
	assert.Equal(t, soPath, resolved)
}

func TestResolvePathUnknownModule(t *testing.T) {
	mgr := NewManager([]string{t.TempDir()})
	_, err := mgr.resolvePath("nonexistent")
	assert.Error(t, err)
}

func TestDispatchBareNameWithNoModulesFails(t *testing.T) {
	mgr := NewManager([]string{t.TempDir()})
	_, err := mgr.Dispatch("phong")
	assert.Error(t, err)
}

func TestReleaseWithoutLoadIsNoop(t *testing.T) {
	mgr := NewManager(nil)
	mgr.release("never-loaded")
	assert.Empty(t, mgr.Loaded())
}
