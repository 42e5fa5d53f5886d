package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/1Password/connect-sdk-go/connect"
	"github.com/1Password/connect-sdk-go/onepassword"
)

// onePasswordStore reads secrets from a 1Password Connect vault. Each secret
// is an item whose title is the secret name, with the value in the
// "password" field.
type onePasswordStore struct {
	client  connect.Client
	vaultID string
	logger  *slog.Logger

	mu    sync.RWMutex
	cache map[string]string
}

func newOnePasswordStore(cfg Config, logger *slog.Logger) (*onePasswordStore, error) {
	if cfg.OnePasswordHost == "" || cfg.OnePasswordToken == "" || cfg.OnePasswordVault == "" {
		return nil, fmt.Errorf("1Password configuration incomplete: host, token, and vault are required")
	}

	client := connect.NewClientWithUserAgent(cfg.OnePasswordHost, cfg.OnePasswordToken, "probenet-control-plane")
	logger.Info("using 1Password secret storage", "vault", cfg.OnePasswordVault)

	return &onePasswordStore{
		client:  client,
		vaultID: cfg.OnePasswordVault,
		logger:  logger,
		cache:   make(map[string]string),
	}, nil
}

func (s *onePasswordStore) Get(_ context.Context, name string) (string, error) {
	s.mu.RLock()
	if v, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return v, nil
	}
	s.mu.RUnlock()

	item, err := s.client.GetItemByTitle(name, s.vaultID)
	if err != nil {
		if strings.Contains(err.Error(), "404") {
			return "", nil
		}
		return "", fmt.Errorf("fetching secret %s: %w", name, err)
	}

	value := fieldValue(item, "password")
	if value == "" {
		value = fieldValue(item, "value")
	}

	s.mu.Lock()
	s.cache[name] = value
	s.mu.Unlock()
	return value, nil
}

func (s *onePasswordStore) Close() error { return nil }

func fieldValue(item *onepassword.Item, label string) string {
	for _, f := range item.Fields {
		if f.Label == label {
			return f.Value
		}
	}
	return ""
}
