package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WebSocketPort != 21050 {
		t.Errorf("WebSocketPort = %d, want 21050", cfg.WebSocketPort)
	}
	if cfg.SelfID != "123456789" {
		t.Errorf("SelfID = %q, want default", cfg.SelfID)
	}
	if cfg.CommandPrefix != "!" {
		t.Errorf("CommandPrefix = %q, want !", cfg.CommandPrefix)
	}
}

func TestLoadOverridesAndExtras(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		// comments are allowed
		websocket_port: 9100,
		self_id: "42",
		onebotv11_adapter: {strict: true},
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WebSocketPort != 9100 {
		t.Errorf("WebSocketPort = %d, want 9100", cfg.WebSocketPort)
	}
	if cfg.SelfID != "42" {
		t.Errorf("SelfID = %q, want 42", cfg.SelfID)
	}
	section := cfg.Section("onebotv11_adapter")
	if strict, _ := section["strict"].(bool); !strict {
		t.Errorf("adapter section = %v, want strict true", section)
	}
	if cfg.PluginDir != "./plugins" {
		t.Errorf("PluginDir = %q, unset keys should keep defaults", cfg.PluginDir)
	}
}

func TestLoadCorruptFileBacksUp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte("{not json at all"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WebSocketPort != 21050 {
		t.Error("corrupt file should fall back to defaults")
	}
	if _, err := os.Stat(path + ".bak"); err != nil {
		t.Errorf("backup not written: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CORAL_WEBSOCKET_PORT", "7777")
	t.Setenv("CORAL_SELF_ID", "envbot")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WebSocketPort != 7777 {
		t.Errorf("WebSocketPort = %d, want env override 7777", cfg.WebSocketPort)
	}
	if cfg.SelfID != "envbot" {
		t.Errorf("SelfID = %q, want env override", cfg.SelfID)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Default()
	cfg.WebSocketPort = 8088
	cfg.Set("console_driver", map[string]any{"prompt": "> "})
	cfg.StampInit()

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.WebSocketPort != 8088 {
		t.Errorf("WebSocketPort = %d, want 8088", loaded.WebSocketPort)
	}
	section := loaded.Section("console_driver")
	if prompt, _ := section["prompt"].(string); prompt != "> " {
		t.Errorf("console_driver section = %v", section)
	}
	if loaded.LastInitTime == 0 {
		t.Error("LastInitTime not persisted")
	}
}
