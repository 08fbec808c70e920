package plugin

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/titanous/json5"
)

// ManagerMeta is the compatibility date-stamp of this plugin manager.
// Plugins declaring a lower stamp are refused.
const ManagerMeta = 250606

// ManifestName is the per-plugin metadata file, parsed without running
// any plugin code.
const ManifestName = "plugin.json5"

// DisabledSuffix marks a plugin directory as disabled.
const DisabledSuffix = ".disabled"

// Meta is the declared plugin metadata.
type Meta struct {
	Name          string   `json:"name"`
	Version       string   `json:"version"`
	Author        string   `json:"author"`
	Description   string   `json:"description"`
	Compatibility int      `json:"compatibility"`
	Dependencies  []string `json:"dependencies"`
	Requirements  []string `json:"requirements"`

	Path     string `json:"-"`
	Disabled bool   `json:"-"`
}

// Compatible reports whether the plugin accepts this manager version.
func (m *Meta) Compatible() bool {
	return m.Compatibility >= ManagerMeta
}

// MetaCache parses plugin manifests, caching results by file content
// hash so unchanged manifests are parsed once.
type MetaCache struct {
	mu    sync.Mutex
	cache map[string]*Meta // "<path>:<hash>" -> parsed meta
}

// NewMetaCache creates an empty manifest cache.
func NewMetaCache() *MetaCache {
	return &MetaCache{cache: make(map[string]*Meta)}
}

// Load parses the manifest of the plugin at dir. The directory name
// (minus any .disabled suffix) is the fallback plugin name.
func (c *MetaCache) Load(dir string) (*Meta, error) {
	manifest := filepath.Join(dir, ManifestName)
	raw, err := os.ReadFile(manifest)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	hash := sha256.Sum256(raw)
	key := fmt.Sprintf("%s:%x", manifest, hash[:8])

	c.mu.Lock()
	if meta, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return meta, nil
	}
	c.mu.Unlock()

	meta := &Meta{
		Version:       "1.0.0",
		Author:        "Unknown",
		Compatibility: ManagerMeta,
	}
	if err := json5.Unmarshal(raw, meta); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", manifest, err)
	}
	if meta.Name == "" {
		meta.Name = strings.TrimSuffix(filepath.Base(dir), DisabledSuffix)
	}
	meta.Path = dir
	meta.Disabled = strings.HasSuffix(filepath.Base(dir), DisabledSuffix)

	c.mu.Lock()
	c.cache[key] = meta
	c.mu.Unlock()
	return meta, nil
}

// Invalidate drops all cached parses. Called when the plugin directory
// changes on disk.
func (c *MetaCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]*Meta)
}

// Discover lists plugin directories under root that contain a manifest.
// Disabled directories are returned separately.
func Discover(root string) (enabled, disabled []string, err error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("scan plugin dir: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, ManifestName)); err != nil {
			slog.Debug("skipping directory without manifest", "dir", dir)
			continue
		}
		if strings.HasSuffix(entry.Name(), DisabledSuffix) {
			disabled = append(disabled, dir)
		} else {
			enabled = append(enabled, dir)
		}
	}
	return enabled, disabled, nil
}
