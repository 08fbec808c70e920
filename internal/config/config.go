package config

import (
	"sync"

	"github.com/projectcoral/coral/pkg/protocol"
)

// Config is the framework configuration. Known keys are typed; driver
// and adapter sections keep their raw shape under Extras so new
// components read their own settings without a schema change here.
type Config struct {
	mu sync.RWMutex

	WebSocketPort int    `json:"websocket_port"`
	SelfID        string `json:"self_id"`
	PluginDir     string `json:"plugin_dir"`
	PermFile      string `json:"perm_file"`
	IndexURL      string `json:"index_url"`
	CommandPrefix string `json:"command_prefix"`

	CoralVersion         string  `json:"coral_version"`
	PluginManagerVersion int     `json:"pluginmanager_version"`
	LastInitTime         float64 `json:"last_init_time"`

	Telemetry TelemetryConfig `json:"telemetry"`

	// Free-form sections, e.g. "console_driver" or "onebotv11_adapter".
	Extras map[string]any `json:"-"`
}

// pluginManagerStamp is persisted as pluginmanager_version. Keep in
// step with plugin.ManagerMeta.
const pluginManagerStamp = 250606

// TelemetryConfig controls the OTLP trace exporter.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint"`
	ServiceName string `json:"service_name"`
	Insecure    bool   `json:"insecure"`
}

// Section returns a free-form config block by name, such as a driver
// or adapter section. Missing sections come back empty.
func (c *Config) Section(name string) map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if section, ok := c.Extras[name].(map[string]any); ok {
		out := make(map[string]any, len(section))
		for k, v := range section {
			out[k] = v
		}
		return out
	}
	return map[string]any{}
}

// Get returns a top-level free-form value.
func (c *Config) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.Extras[key]
	return v, ok
}

// Set stores a top-level free-form value. Call Save to persist.
func (c *Config) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Extras == nil {
		c.Extras = make(map[string]any)
	}
	c.Extras[key] = value
}

// StampInit records version and timestamp markers for this boot.
func (c *Config) StampInit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CoralVersion = protocol.Version
	c.PluginManagerVersion = pluginManagerStamp
	c.LastInitTime = protocol.Now()
}
