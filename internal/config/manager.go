package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Manager owns the on-disk config.yaml.
type Manager struct {
	dir string
}

// NewManager uses $SPOTTER_CONFIG_DIR, or spotter/ under the user config
// directory.
func NewManager() (*Manager, error) {
	if dir := os.Getenv("SPOTTER_CONFIG_DIR"); dir != "" {
		return NewManagerAt(dir), nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("locate config dir: %w", err)
	}
	return NewManagerAt(filepath.Join(base, "spotter")), nil
}

func NewManagerAt(dir string) *Manager {
	return &Manager{dir: dir}
}

func (m *Manager) Path() string {
	return filepath.Join(m.dir, "config.yaml")
}

// Load reads config.yaml with environment overrides applied.
func (m *Manager) Load() (*Config, error) {
	return Load(m.Path())
}

// Save replaces config.yaml atomically. The file is 0600 because it may
// carry the model API key and the JWT secret.
func (m *Manager) Save(cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmp, err := os.CreateTemp(m.dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.Path()); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Exists reports whether config.yaml is present.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.Path())
	return !errors.Is(err, fs.ErrNotExist)
}
