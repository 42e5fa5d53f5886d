package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadWritesDefaultsWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent_config.json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.FireInterval != 5 || cfg.SyncInterval != 30 || cfg.HeartbeatInterval != 30 {
		t.Errorf("unexpected default intervals: %+v", cfg)
	}
	if cfg.ThreadPool.MaxWorkers != 10 {
		t.Errorf("expected default max_workers 10, got %d", cfg.ThreadPool.MaxWorkers)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected defaults written to disk: %v", err)
	}

	// A second load reads the file it just wrote.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload error = %v", err)
	}
	if again.ServerURL != cfg.ServerURL {
		t.Errorf("reload mismatch: %q vs %q", again.ServerURL, cfg.ServerURL)
	}
}

func TestLoadMergesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent_config.json")
	content := `{"agent_id": "sh-01", "server_url": "http://srv:8000", "sync_interval": 60}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AgentID != "sh-01" || cfg.SyncInterval != 60 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.FireInterval != 5 {
		t.Errorf("missing fields should keep defaults, got fire_interval=%d", cfg.FireInterval)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) { c.AgentID = "a"; c.ServerURL = "http://x" }, false},
		{"missing agent_id", func(c *Config) { c.ServerURL = "http://x" }, true},
		{"missing server_url", func(c *Config) { c.AgentID = "a"; c.ServerURL = "" }, true},
		{"auth without token", func(c *Config) {
			c.AgentID = "a"
			c.AuthRequired = true
			c.APIToken = ""
		}, true},
		{"zero workers", func(c *Config) {
			c.AgentID = "a"
			c.ThreadPool.MaxWorkers = 0
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("PROBENET_AGENT_ID", "env-agent")
	t.Setenv("PROBENET_API_TOKEN", "tok")
	t.Setenv("PROBENET_FIRE_INTERVAL", "2")
	t.Setenv("PROBENET_MAX_WORKERS", "bogus")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.AgentID != "env-agent" {
		t.Errorf("agent_id override not applied: %q", cfg.AgentID)
	}
	if !cfg.AuthRequired || cfg.APIToken != "tok" {
		t.Errorf("token override should enable auth: %+v", cfg)
	}
	if cfg.FireInterval != 2 {
		t.Errorf("fire_interval override not applied: %d", cfg.FireInterval)
	}
	if cfg.ThreadPool.MaxWorkers != 10 {
		t.Errorf("invalid numeric override should be ignored, got %d", cfg.ThreadPool.MaxWorkers)
	}
}
