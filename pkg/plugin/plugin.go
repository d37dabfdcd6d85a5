// Package plugin implements RayField's dynamic module system
// (spec.md §3.7/§7): a module is a Go plugin (a ".so" built with
// `go build -buildmode=plugin`) loaded by name from a configured
// search-path list, and a plugin is a named factory it exports.
// Dispatch resolves either a qualified "module.plugin" name or a bare
// "plugin" name searched across every currently loaded module.
//
// There is no third-party alternative to the stdlib plugin package
// for "load a shared object by name at runtime" - see DESIGN.md.
package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	goplugin "plugin"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/rayfield/pkg/log"
	"github.com/cuemby/rayfield/pkg/metrics"
)

// Instance is one live plugin object. Every instance, regardless of
// kind (shader, texture, volume, output driver, ...), carries a
// Close() called on release - Go's answer to the source's
// "deletethis" destructor callback.
type Instance interface {
	Close() error
}

// Factory constructs one plugin instance. A module exports its
// factories as a package-level variable named "Plugins" of type
// map[string]Factory.
type Factory func() (Instance, error)

// Manifest is the top-level plugins.yaml shape: a search-path list
// and the set of modules to make available, by name and file path
// relative to one of the search paths.
type Manifest struct {
	SearchPaths []string      `yaml:"search_paths"`
	Modules     []ModuleEntry `yaml:"modules"`
}

// ModuleEntry names one module's shared-object file.
type ModuleEntry struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// LoadManifest parses a plugins.yaml file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plugin: read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("plugin: parse manifest: %w", err)
	}
	return &m, nil
}

type module struct {
	name      string
	path      string
	handle    *goplugin.Plugin
	factories map[string]Factory
	refs      int
}

// Manager loads and dispatches plugin modules. It is safe for
// concurrent use.
type Manager struct {
	mu          sync.Mutex
	searchPaths []string
	known       map[string]string // module name -> configured path, from a manifest
	loaded      map[string]*module
	logger      zerolog.Logger
}

// NewManager creates a Manager searching searchPaths, in order, for
// modules not otherwise named by a loaded manifest.
func NewManager(searchPaths []string) *Manager {
	return &Manager{
		searchPaths: searchPaths,
		known:       make(map[string]string),
		loaded:      make(map[string]*module),
		logger:      log.WithComponent("plugin"),
	}
}

// UseManifest registers every module m names, without loading it -
// modules load lazily on first Dispatch/Open.
func (mgr *Manager) UseManifest(m *Manifest) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	mgr.searchPaths = append(mgr.searchPaths, m.SearchPaths...)
	for _, entry := range m.Modules {
		mgr.known[entry.Name] = entry.Path
	}
}

// resolvePath finds modName's shared object on disk, preferring a
// manifest-declared path, falling back to "<searchpath>/<modName>.so"
// for every configured search path in order.
func (mgr *Manager) resolvePath(modName string) (string, error) {
	if p, ok := mgr.known[modName]; ok {
		if filepath.IsAbs(p) {
			return p, nil
		}
		for _, sp := range mgr.searchPaths {
			candidate := filepath.Join(sp, p)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
		return p, nil
	}
	for _, sp := range mgr.searchPaths {
		candidate := filepath.Join(sp, modName+".so")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("plugin: module %q not found in any search path", modName)
}

// loadModule opens modName's shared object if it isn't already
// resident in this process, reading its exported "Plugins" symbol.
// Must be called with mgr.mu held.
func (mgr *Manager) loadModule(modName string) (*module, error) {
	if m, ok := mgr.loaded[modName]; ok {
		return m, nil
	}

	path, err := mgr.resolvePath(modName)
	if err != nil {
		return nil, err
	}

	handle, err := goplugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("plugin: open %s: %w", path, err)
	}
	sym, err := handle.Lookup("Plugins")
	if err != nil {
		return nil, fmt.Errorf("plugin: module %s: %w", modName, err)
	}
	factories, ok := sym.(*map[string]Factory)
	if !ok {
		return nil, fmt.Errorf("plugin: module %s: Plugins symbol has wrong type", modName)
	}

	m := &module{name: modName, path: path, handle: handle, factories: *factories}
	mgr.loaded[modName] = m
	mgr.logger.Info().Str("module", modName).Str("path", path).Int("plugins", len(m.factories)).Msg("module loaded")
	metrics.PluginsLoaded.Inc()
	return m, nil
}

// instance wraps a caller's Instance so Close also releases the
// module's reference.
type instance struct {
	Instance
	mgr    *Manager
	module string
}

func (i *instance) Close() error {
	err := i.Instance.Close()
	i.mgr.release(i.module)
	return err
}

// Dispatch resolves name, either "module.plugin" or a bare "plugin"
// name searched across every module already named by a loaded
// manifest, and constructs one instance of it.
func (mgr *Manager) Dispatch(name string) (Instance, error) {
	if modName, plugName, ok := strings.Cut(name, "."); ok {
		return mgr.Open(modName, plugName)
	}
	mgr.mu.Lock()
	candidates := make([]string, 0, len(mgr.known))
	for modName := range mgr.known {
		candidates = append(candidates, modName)
	}
	mgr.mu.Unlock()

	for _, modName := range candidates {
		inst, err := mgr.Open(modName, name)
		if err == nil {
			return inst, nil
		}
	}
	return nil, fmt.Errorf("plugin: no loaded module exports %q", name)
}

// Open loads modName if needed and constructs one instance of
// plugName, pinning the module open until the returned Instance is
// Closed.
func (mgr *Manager) Open(modName, plugName string) (Instance, error) {
	mgr.mu.Lock()
	m, err := mgr.loadModule(modName)
	if err != nil {
		mgr.mu.Unlock()
		return nil, err
	}
	factory, ok := m.factories[plugName]
	if !ok {
		mgr.mu.Unlock()
		return nil, fmt.Errorf("plugin: module %s has no plugin %q", modName, plugName)
	}
	m.refs++
	mgr.mu.Unlock()

	inst, err := factory()
	if err != nil {
		mgr.release(modName)
		return nil, fmt.Errorf("plugin: %s.%s: %w", modName, plugName, err)
	}
	return &instance{Instance: inst, mgr: mgr, module: modName}, nil
}

// release drops one reference to modName. Go's plugin package has no
// supported way to unmap a loaded shared object, so hitting zero
// references only removes our own bookkeeping entry - the next Open
// for this module re-enters loadModule and, since the runtime still
// has the .so mapped, dlopen's it again cheaply rather than loading
// twice. This matches the source's reference-counted unload in every
// externally observable way except physically freeing the mapping.
func (mgr *Manager) release(modName string) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	m, ok := mgr.loaded[modName]
	if !ok {
		return
	}
	m.refs--
	if m.refs <= 0 {
		delete(mgr.loaded, modName)
		mgr.logger.Debug().Str("module", modName).Msg("module reference count reached zero")
		metrics.PluginsLoaded.Dec()
	}
}

// Loaded reports the names of every module currently resident.
func (mgr *Manager) Loaded() []string {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	names := make([]string, 0, len(mgr.loaded))
	for name := range mgr.loaded {
		names = append(names, name)
	}
	return names
}
