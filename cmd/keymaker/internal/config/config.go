// Package config loads cmd/keymaker's YAML configuration, following
// minter/internal/config and reset/internal/config's shape.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Identity IdentityConfig `yaml:"identity"`
	State    StateConfig    `yaml:"state"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
}

// IdentityConfig locates the keymaker's own sealed key pair.
type IdentityConfig struct {
	KeyFile string `yaml:"key_file"`
}

// StateConfig locates the keymaker's on-disk gate-record store.
type StateConfig struct {
	RecordsDir string `yaml:"records_dir"`
}

type RuntimeConfig struct {
	ReaderIndex *int `yaml:"reader_index"`
}

func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.resolvePaths(path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Identity.KeyFile) == "" {
		return fmt.Errorf("config.identity.key_file is required")
	}
	if strings.TrimSpace(c.State.RecordsDir) == "" {
		return fmt.Errorf("config.state.records_dir is required")
	}
	if c.Runtime.ReaderIndex == nil {
		return fmt.Errorf("config.runtime.reader_index is required")
	}
	if *c.Runtime.ReaderIndex < 0 {
		return fmt.Errorf("config.runtime.reader_index must be >= 0")
	}
	return nil
}

func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	c.Identity.KeyFile = resolvePath(configDir, c.Identity.KeyFile)
	c.State.RecordsDir = resolvePath(configDir, c.State.RecordsDir)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}
