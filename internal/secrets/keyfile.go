package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aspecta/points-deployer/internal/config"
)

// KeyFileVar is the single variable stored in a key artifact.
const KeyFileVar = "DEPLOYER_PRIVATE_KEY"

// KeyFile is a Provider backed by a locally generated key artifact.
type KeyFile string

// PrivateKey reads the artifact.
func (k KeyFile) PrivateKey(context.Context) (string, error) {
	return ReadKeyFile(string(k))
}

// ReadKeyFile reads the key stored by WriteKeyFile.
func ReadKeyFile(path string) (string, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: key file %s", ErrSecretNotFound, path)
	}
	vars, err := config.LoadEnvFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSecretMalformed, err)
	}
	key := strings.TrimSpace(vars[KeyFileVar])
	if key == "" {
		return "", fmt.Errorf("%w: %s has no %s", ErrSecretMalformed, path, KeyFileVar)
	}
	return key, nil
}

// WriteKeyFile persists key to path with owner-only permissions. The file is
// written to a temporary name first and renamed into place.
func WriteKeyFile(path, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%w: empty private key", ErrSecretNotFound)
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create key dir: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	content := fmt.Sprintf("# generated by deployctl key fetch; do not commit\n%s=%s\n", KeyFileVar, key)
	if err := os.WriteFile(tmpPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename key file: %w", err)
	}
	return nil
}

// FileExists reports whether path names an existing regular file.
func FileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}
