package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"

	"github.com/projectcoral/coral/pkg/protocol"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		WebSocketPort: 21050,
		SelfID:        "123456789",
		PluginDir:     "./plugins",
		PermFile:      "./coral.perms",
		IndexURL:      "https://index.projectcoral.dev",
		CommandPrefix: "!",
		CoralVersion:  protocol.Version,
		Telemetry: TelemetryConfig{
			ServiceName: "coral",
		},
		Extras: make(map[string]any),
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A
// missing file yields defaults; an unparseable file is moved aside to
// <path>.bak and defaults are used, so a bad edit never blocks boot.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		backup := path + ".bak"
		slog.Error("config file unparseable, using defaults", "path", path, "backup", backup, "error", err)
		if werr := os.WriteFile(backup, data, 0o644); werr != nil {
			slog.Warn("failed to back up broken config", "error", werr)
		}
		cfg = Default()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	// Second pass keeps sections the struct has no field for.
	var raw map[string]any
	if err := json5.Unmarshal(data, &raw); err == nil {
		for key, value := range raw {
			if !knownKeys[key] {
				cfg.Extras[key] = value
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

var knownKeys = map[string]bool{
	"websocket_port":        true,
	"self_id":               true,
	"plugin_dir":            true,
	"perm_file":             true,
	"index_url":             true,
	"command_prefix":        true,
	"coral_version":         true,
	"pluginmanager_version": true,
	"last_init_time":        true,
	"telemetry":             true,
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("CORAL_SELF_ID", &c.SelfID)
	envStr("CORAL_PLUGIN_DIR", &c.PluginDir)
	envStr("CORAL_PERM_FILE", &c.PermFile)
	envStr("CORAL_INDEX_URL", &c.IndexURL)
	envStr("CORAL_COMMAND_PREFIX", &c.CommandPrefix)

	if v := os.Getenv("CORAL_WEBSOCKET_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.WebSocketPort = port
		}
	}

	envStr("CORAL_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("CORAL_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("CORAL_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("CORAL_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// Save writes the config to a JSON file, free-form sections included.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	merged := make(map[string]any, len(cfg.Extras)+len(knownKeys))
	for k, v := range cfg.Extras {
		merged[k] = v
	}
	typed, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	var typedMap map[string]any
	if err := json.Unmarshal(typed, &typedMap); err != nil {
		return err
	}
	for k, v := range typedMap {
		merged[k] = v
	}

	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
