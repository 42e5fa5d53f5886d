// Package config handles agent configuration loading and validation.
//
// # Configuration Sources
//
// Configuration is loaded from (in order of precedence):
// 1. Command-line flags
// 2. Environment variables (PROBENET_*)
// 3. Config file (JSON)
// 4. Defaults
//
// A missing config file is not an error: defaults are written to the given
// path so an operator has a file to edit.
//
// # Example Config File
//
//	{
//	  "agent_id": "sh-edge-01",
//	  "agent_area": "shanghai",
//	  "server_url": "http://probe.example.com:8000",
//	  "auth_required": true,
//	  "api_token": "pnet_xxx",
//	  "heartbeat_interval": 30,
//	  "sync_interval": 30,
//	  "fire_interval": 5,
//	  "thread_pool": {"max_workers": 10, "task_timeout": 300},
//	  "logging": {"log_mode": "INFO", "log_path": "logs",
//	              "log_name": "agent", "log_rotation": true}
//	}
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config is the complete agent configuration. Interval fields are seconds in
// the file and exposed as time.Duration through accessors.
type Config struct {
	AgentID           string         `json:"agent_id"`
	AgentArea         string         `json:"agent_area"`
	ServerURL         string         `json:"server_url"`
	AuthRequired      bool           `json:"auth_required"`
	APIToken          string         `json:"api_token,omitempty"`
	HeartbeatInterval int            `json:"heartbeat_interval"`
	SyncInterval      int            `json:"sync_interval"`
	FireInterval      int            `json:"fire_interval"`
	ThreadPool        PoolConfig     `json:"thread_pool"`
	Logging           LoggingConfig  `json:"logging"`
}

// PoolConfig bounds the worker pool.
type PoolConfig struct {
	MaxWorkers  int `json:"max_workers"`
	TaskTimeout int `json:"task_timeout"` // seconds per task execution
}

// LoggingConfig controls the agent log output.
type LoggingConfig struct {
	LogMode     string `json:"log_mode"` // DEBUG, INFO, WARN, ERROR
	LogPath     string `json:"log_path"`
	LogName     string `json:"log_name"`
	LogRotation bool   `json:"log_rotation"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		AgentID:           "",
		AgentArea:         "default",
		ServerURL:         "http://localhost:8000",
		AuthRequired:      false,
		HeartbeatInterval: 30,
		SyncInterval:      30,
		FireInterval:      5,
		ThreadPool: PoolConfig{
			MaxWorkers:  10,
			TaskTimeout: 300,
		},
		Logging: LoggingConfig{
			LogMode:     "INFO",
			LogPath:     "logs",
			LogName:     "agent",
			LogRotation: true,
		},
	}
}

// Load reads configuration from a JSON file. When the file does not exist,
// defaults are written to the path and returned.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := DefaultConfig()
		if werr := cfg.WriteFile(path); werr != nil {
			return nil, fmt.Errorf("writing default config: %w", werr)
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// WriteFile persists the config as indented JSON.
func (c *Config) WriteFile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	if c.AgentID == "" {
		return fmt.Errorf("agent_id is required")
	}
	if c.AuthRequired && c.APIToken == "" {
		return fmt.Errorf("api_token is required when auth_required is set")
	}
	if c.ThreadPool.MaxWorkers < 1 {
		return fmt.Errorf("thread_pool.max_workers must be >= 1")
	}
	if c.HeartbeatInterval < 1 || c.SyncInterval < 1 || c.FireInterval < 1 {
		return fmt.Errorf("intervals must be >= 1 second")
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides.
// Environment variables use the PROBENET_ prefix:
// - PROBENET_AGENT_ID
// - PROBENET_AGENT_AREA
// - PROBENET_SERVER_URL
// - PROBENET_API_TOKEN
// - PROBENET_HEARTBEAT_INTERVAL (seconds)
// - PROBENET_SYNC_INTERVAL (seconds)
// - PROBENET_FIRE_INTERVAL (seconds)
// - PROBENET_MAX_WORKERS
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("PROBENET_AGENT_ID"); v != "" {
		c.AgentID = v
	}
	if v := os.Getenv("PROBENET_AGENT_AREA"); v != "" {
		c.AgentArea = v
	}
	if v := os.Getenv("PROBENET_SERVER_URL"); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv("PROBENET_API_TOKEN"); v != "" {
		c.APIToken = v
		c.AuthRequired = true
	}
	if v := os.Getenv("PROBENET_HEARTBEAT_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.HeartbeatInterval = n
		}
	}
	if v := os.Getenv("PROBENET_SYNC_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.SyncInterval = n
		}
	}
	if v := os.Getenv("PROBENET_FIRE_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.FireInterval = n
		}
	}
	if v := os.Getenv("PROBENET_MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.ThreadPool.MaxWorkers = n
		}
	}
}

// HeartbeatEvery returns the heartbeat interval as a duration.
func (c *Config) HeartbeatEvery() time.Duration {
	return time.Duration(c.HeartbeatInterval) * time.Second
}

// SyncEvery returns the task sync interval as a duration.
func (c *Config) SyncEvery() time.Duration {
	return time.Duration(c.SyncInterval) * time.Second
}

// FireEvery returns the scheduler fire-loop interval as a duration.
func (c *Config) FireEvery() time.Duration {
	return time.Duration(c.FireInterval) * time.Second
}

// TaskTimeout returns the per-task execution bound as a duration.
func (c *Config) TaskTimeout() time.Duration {
	if c.ThreadPool.TaskTimeout < 1 {
		return 300 * time.Second
	}
	return time.Duration(c.ThreadPool.TaskTimeout) * time.Second
}
