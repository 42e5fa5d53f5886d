package secrets

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// localStore reads one file per secret from a directory. Missing files are
// not an error; the secret just does not exist.
type localStore struct {
	dir    string
	logger *slog.Logger
}

func newLocalStore(dir string, logger *slog.Logger) *localStore {
	logger.Info("using local secret storage", "dir", dir)
	return &localStore{dir: dir, logger: logger}
}

func (s *localStore) Get(_ context.Context, name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *localStore) Close() error { return nil }
