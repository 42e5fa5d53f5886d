// Package secrets resolves sensitive configuration values.
//
// The control plane needs two secrets at startup: the agent bearer token and
// the JWT signing secret. They can come from the environment, from files in
// a local directory, or from a 1Password Connect vault. "auto" (the default)
// uses 1Password when configured and falls back to local files.
package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Store retrieves named secrets.
type Store interface {
	// Get returns the secret value, or "" when the secret does not exist.
	Get(ctx context.Context, name string) (string, error)

	// Close releases any resources held by the store.
	Close() error
}

// Config selects and configures the backend.
type Config struct {
	// Backend is "env", "local", "1password", or "auto".
	Backend string

	// 1Password Connect configuration.
	OnePasswordHost  string // OP_CONNECT_HOST
	OnePasswordToken string // OP_CONNECT_TOKEN
	OnePasswordVault string // OP_VAULT_ID

	// LocalDir holds one file per secret for the local backend.
	LocalDir string
}

// ConfigFromEnv creates a Config from environment variables.
func ConfigFromEnv() Config {
	return Config{
		Backend:          getEnv("PROBENET_SECRETS_BACKEND", "auto"),
		OnePasswordHost:  os.Getenv("OP_CONNECT_HOST"),
		OnePasswordToken: os.Getenv("OP_CONNECT_TOKEN"),
		OnePasswordVault: os.Getenv("OP_VAULT_ID"),
		LocalDir:         getEnv("PROBENET_SECRETS_DIR", "/etc/probenet/secrets"),
	}
}

// NewStore creates a secret store based on configuration.
func NewStore(cfg Config, logger *slog.Logger) (Store, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = "auto"
	}

	switch backend {
	case "env":
		return &envStore{}, nil

	case "local":
		return newLocalStore(cfg.LocalDir, logger), nil

	case "1password":
		return newOnePasswordStore(cfg, logger)

	case "auto":
		if cfg.OnePasswordToken != "" && cfg.OnePasswordHost != "" {
			st, err := newOnePasswordStore(cfg, logger)
			if err != nil {
				logger.Warn("failed to initialize 1Password, falling back to local secrets", "error", err)
				return newLocalStore(cfg.LocalDir, logger), nil
			}
			return st, nil
		}
		return newLocalStore(cfg.LocalDir, logger), nil

	default:
		return nil, fmt.Errorf("unknown secrets backend: %s", backend)
	}
}

// Resolve returns the configured value when set, otherwise looks the secret
// up in the store.
func Resolve(ctx context.Context, st Store, name, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	return st.Get(ctx, name)
}

// envStore reads secrets from PROBENET_<NAME> variables.
type envStore struct{}

func (e *envStore) Get(_ context.Context, name string) (string, error) {
	key := "PROBENET_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	return os.Getenv(key), nil
}

func (e *envStore) Close() error { return nil }

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
