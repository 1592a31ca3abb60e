package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-envparse"
)

// ReadEnv parses dotenv formatted content.
func ReadEnv(r io.Reader) (map[string]string, error) {
	m, err := envparse.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return m, nil
}

// LoadEnvFile reads a dotenv file. A missing file yields an empty map.
func LoadEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open env file: %w", err)
	}
	defer f.Close()

	m, err := ReadEnv(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Layer merges sources into one lookup. Earlier sources take precedence and
// empty values fall through to later sources.
func Layer(sources ...func(string) (string, bool)) func(string) (string, bool) {
	return func(name string) (string, bool) {
		for _, src := range sources {
			if src == nil {
				continue
			}
			if v, ok := src(name); ok && v != "" {
				return v, true
			}
		}
		return "", false
	}
}

// MapLookup adapts a map to a lookup function.
func MapLookup(m map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := m[name]
		return v, ok
	}
}
