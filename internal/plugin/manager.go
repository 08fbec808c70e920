package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/projectcoral/coral/internal/bus"
	"github.com/projectcoral/coral/internal/perms"
	"github.com/projectcoral/coral/internal/registry"
	"github.com/projectcoral/coral/pkg/protocol"
)

// loadLimit caps how many plugins load concurrently within one layer.
const loadLimit = 5

// Manager discovers plugins on disk, resolves their dependency order
// and drives load, unload, enable and disable.
type Manager struct {
	root     string
	cache    *MetaCache
	table    *entryTable
	bus      *bus.EventBus
	registry *registry.Registry
	perms    *perms.System
	config   map[string]any

	mu      sync.Mutex // serializes load/unload/enable/disable
	layers  [][]string // load order from the last LoadAll
	watcher *fsnotify.Watcher
}

// NewManager creates a plugin manager rooted at dir.
func NewManager(dir string, b *bus.EventBus, r *registry.Registry, p *perms.System, cfg map[string]any) *Manager {
	if cfg == nil {
		cfg = make(map[string]any)
	}
	return &Manager{
		root:     dir,
		cache:    NewMetaCache(),
		table:    newEntryTable(),
		bus:      b,
		registry: r,
		perms:    p,
		config:   cfg,
	}
}

// Entries returns a snapshot of all known plugins.
func (m *Manager) Entries() []*Entry { return m.table.all() }

// Entry returns the record for one plugin.
func (m *Manager) Entry(name string) (*Entry, bool) { return m.table.get(name) }

// LoadedCount returns how many plugins are currently loaded.
func (m *Manager) LoadedCount() int {
	n := 0
	for _, e := range m.table.all() {
		if e.IsLoaded() {
			n++
		}
	}
	return n
}

// LoadAll discovers every plugin under the root directory and loads the
// enabled ones in dependency layers. Plugins within a layer load
// concurrently, capped at loadLimit. A failing plugin poisons only its
// own dependents.
func (m *Manager) LoadAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	enabled, disabled, err := Discover(m.root)
	if err != nil {
		return err
	}

	for _, dir := range disabled {
		meta, err := m.cache.Load(dir)
		if err != nil {
			slog.Warn("unreadable manifest in disabled plugin", "dir", dir, "error", err)
			continue
		}
		m.table.register(meta.Name, meta)
	}

	graph := NewGraph()
	for _, dir := range enabled {
		meta, err := m.cache.Load(dir)
		if err != nil {
			name := filepath.Base(dir)
			slog.Error("failed to parse plugin manifest", "plugin", name, "error", err)
			m.table.register(name, &Meta{Name: name, Path: dir})
			m.table.markError(name, err.Error(), LoadFailed)
			continue
		}
		m.table.register(meta.Name, meta)
		graph.AddPlugin(meta.Name)
		for _, dep := range meta.Dependencies {
			graph.AddDependency(meta.Name, dep)
		}
	}

	layers, skipped := graph.Layers()
	m.layers = layers
	for _, name := range skipped {
		slog.Error("plugin skipped, dependency cycle", "plugin", name)
		if _, ok := m.table.get(name); ok {
			m.table.markError(name, "dependency cycle", LoadSkipped)
		}
	}

	failed := &failedSet{names: make(map[string]bool)}
	sem := semaphore.NewWeighted(loadLimit)
	for i, layer := range layers {
		slog.Debug("loading plugin layer", "layer", i, "plugins", layer)
		g, gctx := errgroup.WithContext(ctx)
		for _, name := range layer {
			g.Go(func() error {
				if err := sem.Acquire(gctx, 1); err != nil {
					return err
				}
				defer sem.Release(1)
				m.loadOne(gctx, name, graph, failed)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("load layer %d: %w", i, err)
		}
	}

	slog.Info("plugin loading complete",
		"loaded", m.LoadedCount(),
		"discovered", len(enabled)+len(disabled),
		"failed", failed.count())
	return nil
}

// loadOne performs a single plugin load. The caller holds m.mu (the
// per-layer goroutines only ever touch distinct entries plus the
// concurrency-safe tables).
func (m *Manager) loadOne(ctx context.Context, name string, graph *Graph, failed *failedSet) {
	entry, ok := m.table.get(name)
	if !ok {
		// Dependency named in a manifest but absent on disk.
		slog.Error("plugin dependency not found", "plugin", name)
		failed.add(name)
		return
	}
	if entry.IsDisabled() {
		slog.Info("skipping disabled plugin", "plugin", name)
		failed.add(name)
		return
	}
	if entry.IsLoaded() {
		return
	}

	meta := entry.Meta
	if !meta.Compatible() {
		msg := fmt.Sprintf("requires manager %d, have %d", meta.Compatibility, ManagerMeta)
		slog.Error("incompatible plugin", "plugin", name, "detail", msg)
		m.table.markError(name, msg, LoadFailed)
		failed.add(name)
		return
	}

	var missing []string
	for _, dep := range graph.Dependencies(name) {
		if failed.has(dep) {
			missing = append(missing, dep)
			continue
		}
		if e, ok := m.table.get(dep); !ok || !e.IsLoaded() {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		msg := "unmet dependencies: " + strings.Join(missing, ", ")
		slog.Error("plugin dependencies not met", "plugin", name, "missing", missing)
		m.table.markError(name, msg, LoadDependencyFailed)
		failed.add(name)
		return
	}
	entry.DependenciesMet = true

	factory, ok := lookupFactory(name)
	if !ok {
		msg := "no factory registered"
		slog.Error("plugin has a manifest but no compiled factory", "plugin", name)
		m.table.markError(name, msg, LoadFailed)
		failed.add(name)
		return
	}

	if len(meta.Requirements) > 0 {
		slog.Debug("plugin declares requirements, ignored for compiled plugins",
			"plugin", name, "requirements", meta.Requirements)
	}

	entry.State = StateLoading
	instance := factory()
	api := &API{
		PluginName: name,
		Bus:        m.bus,
		Registry:   m.registry,
		Perms:      m.perms,
		Config:     m.config,
	}

	start := time.Now()
	if err := m.safeLoad(ctx, instance, api); err != nil {
		slog.Error("plugin load failed", "plugin", name, "error", err)
		m.table.markError(name, err.Error(), LoadFailed)
		m.registry.PurgeOwner(name)
		failed.add(name)
		return
	}
	took := time.Since(start)

	m.table.markLoaded(name, took, instance)
	slog.Info("plugin loaded", "plugin", name, "version", meta.Version, "took", took)

	m.bus.Publish(ctx, &protocol.GenericEvent{
		Platform: "coral",
		SelfID:   "Coral",
		Name:     protocol.EventPluginLoaded,
		Data: map[string]any{
			"plugin_name":    name,
			"plugin_version": meta.Version,
			"timestamp":      protocol.Now(),
		},
	})
}

func (m *Manager) safeLoad(ctx context.Context, p Plugin, api *API) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during load: %v", r)
		}
	}()
	return p.Load(ctx, api)
}

// Load loads a single plugin by name. Its dependencies must already be
// loaded.
func (m *Manager) Load(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.table.get(name)
	if !ok {
		if err := m.rediscover(name); err != nil {
			return err
		}
		entry, _ = m.table.get(name)
	}
	if entry.IsLoaded() {
		return fmt.Errorf("plugin %s is already loaded", name)
	}

	graph := NewGraph()
	graph.AddPlugin(name)
	for _, dep := range entry.Meta.Dependencies {
		graph.AddDependency(name, dep)
	}
	failed := &failedSet{names: make(map[string]bool)}
	m.loadOne(ctx, name, graph, failed)

	entry, _ = m.table.get(name)
	if !entry.IsLoaded() {
		return fmt.Errorf("plugin %s failed to load: %s", name, entry.ErrorMessage)
	}
	return nil
}

// rediscover scans the plugin root for a directory whose manifest
// declares the given name and registers it.
func (m *Manager) rediscover(name string) error {
	enabled, disabled, err := Discover(m.root)
	if err != nil {
		return err
	}
	for _, dir := range append(enabled, disabled...) {
		meta, err := m.cache.Load(dir)
		if err != nil {
			continue
		}
		if meta.Name == name {
			m.table.register(meta.Name, meta)
			return nil
		}
	}
	return fmt.Errorf("plugin %s not found under %s", name, m.root)
}

// Unload unloads one plugin and purges everything it registered. It
// refuses if any loaded plugin still depends on it.
func (m *Manager) Unload(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unloadLocked(ctx, name)
}

func (m *Manager) unloadLocked(ctx context.Context, name string) error {
	entry, ok := m.table.get(name)
	if !ok {
		return fmt.Errorf("plugin %s is not known", name)
	}
	if !entry.IsLoaded() {
		return fmt.Errorf("plugin %s is not loaded", name)
	}

	var blockers []string
	for _, e := range m.table.all() {
		if !e.IsLoaded() || e.Name == name {
			continue
		}
		for _, dep := range e.Meta.Dependencies {
			if dep == name {
				blockers = append(blockers, e.Name)
			}
		}
	}
	if len(blockers) > 0 {
		return fmt.Errorf("cannot unload %s, still required by: %s", name, strings.Join(blockers, ", "))
	}

	if err := m.safeUnload(ctx, entry.instance); err != nil {
		slog.Warn("plugin unload hook failed", "plugin", name, "error", err)
	}
	m.registry.PurgeOwner(name)
	m.table.markUnloaded(name)
	slog.Info("plugin unloaded", "plugin", name)
	return nil
}

func (m *Manager) safeUnload(ctx context.Context, p Plugin) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during unload: %v", r)
		}
	}()
	if p == nil {
		return nil
	}
	return p.Unload(ctx)
}

// UnloadAll unloads every loaded plugin in reverse dependency order,
// best effort.
func (m *Manager) UnloadAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.layers) - 1; i >= 0; i-- {
		for _, name := range m.layers[i] {
			entry, ok := m.table.get(name)
			if !ok || !entry.IsLoaded() {
				continue
			}
			if err := m.unloadLocked(ctx, name); err != nil {
				slog.Warn("plugin unload failed during shutdown", "plugin", name, "error", err)
			}
		}
	}
	// Anything loaded outside the recorded layers.
	for _, entry := range m.table.all() {
		if entry.IsLoaded() {
			if err := m.unloadLocked(ctx, entry.Name); err != nil {
				slog.Warn("plugin unload failed during shutdown", "plugin", entry.Name, "error", err)
			}
		}
	}
}

// Disable unloads a plugin if needed and renames its directory with the
// disabled suffix so the next scan skips it.
func (m *Manager) Disable(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.table.get(name)
	if !ok {
		return fmt.Errorf("plugin %s is not known", name)
	}
	if entry.IsDisabled() {
		return fmt.Errorf("plugin %s is already disabled", name)
	}
	if entry.IsLoaded() {
		if err := m.unloadLocked(ctx, name); err != nil {
			return err
		}
	}

	oldPath := entry.Meta.Path
	newPath := oldPath + DisabledSuffix
	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("disable %s: %w", name, err)
	}
	entry.Meta.Path = newPath
	entry.Meta.Disabled = true
	entry.State = StateDisabled
	m.cache.Invalidate()
	slog.Info("plugin disabled", "plugin", name)
	return nil
}

// Enable strips the disabled suffix from a plugin directory. The plugin
// is not loaded automatically; call Load afterwards.
func (m *Manager) Enable(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.table.get(name)
	if !ok {
		return fmt.Errorf("plugin %s is not known", name)
	}
	if !entry.IsDisabled() {
		return fmt.Errorf("plugin %s is not disabled", name)
	}

	oldPath := entry.Meta.Path
	newPath := strings.TrimSuffix(oldPath, DisabledSuffix)
	if oldPath == newPath {
		return fmt.Errorf("plugin %s directory carries no disabled suffix", name)
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("enable %s: %w", name, err)
	}
	entry.Meta.Path = newPath
	entry.Meta.Disabled = false
	entry.State = StateEnabled
	m.cache.Invalidate()
	slog.Info("plugin enabled", "plugin", name)
	return nil
}

// Watch invalidates the manifest cache whenever the plugin directory
// changes on disk. Returns once the watcher is installed; stops when
// ctx is done.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("plugin watcher: %w", err)
	}
	if err := watcher.Add(m.root); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", m.root, err)
	}
	m.watcher = watcher

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
					slog.Debug("plugin directory changed", "path", ev.Name, "op", ev.Op.String())
					m.cache.Invalidate()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("plugin watcher error", "error", err)
			}
		}
	}()
	return nil
}

// failedSet tracks plugins that failed or were skipped during a load
// pass so dependents can be poisoned. Safe for concurrent use.
type failedSet struct {
	mu    sync.Mutex
	names map[string]bool
}

func (s *failedSet) add(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[name] = true
}

func (s *failedSet) has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.names[name]
}

func (s *failedSet) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.names)
}
