package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/peteski22/dirsync/internal/config"
)

// FileSecretStore keeps the directory client secret in a local file readable only by its owner.
type FileSecretStore struct {
	path string
}

// NewFileSecretStore creates a new FileSecretStore that reads/writes to the given path.
func NewFileSecretStore(path string) (*FileSecretStore, error) {
	if path == "" {
		return nil, errors.New("secret file path is required")
	}
	return &FileSecretStore{path: path}, nil
}

// ClientSecret returns the secret from the file. A missing file yields an empty Secret.
func (s *FileSecretStore) ClientSecret(_ context.Context) (config.Secret, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading secret file: %w", err)
	}

	return config.Secret(strings.TrimSpace(string(data))), nil
}

// SaveClientSecret writes the secret to the file with owner-only permissions.
func (s *FileSecretStore) SaveClientSecret(_ context.Context, secret config.Secret) error {
	if secret.IsZero() {
		return errors.New("secret cannot be empty")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating secret directory: %w", err)
	}

	if err := os.WriteFile(s.path, []byte(secret.Reveal()+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing secret file: %w", err)
	}

	return nil
}
