// Package config loads cmd/gate's YAML configuration, following
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
	Firmware FirmwareConfig `yaml:"firmware"`
	Listen   ListenConfig   `yaml:"listen"`
}

// IdentityConfig locates this gate's own sealed key pair.
type IdentityConfig struct {
	KeyFile string `yaml:"key_file"`
}

// StateConfig locates the gate's on-disk registration/settings store.
type StateConfig struct {
	Dir string `yaml:"dir"`
}

type RuntimeConfig struct {
	ReaderIndex *int `yaml:"reader_index"`
}

// FirmwareConfig answers get_fw_info.
type FirmwareConfig struct {
	Name     string `yaml:"name"`
	Version  string `yaml:"version"`
	Commit   string `yaml:"commit"`
	Platform string `yaml:"platform"`
}

// ListenConfig is the address cmd/gate accepts keymaker RPC connections
// on (see internal/netlink — the TCP stand-in for the NFC P2P link).
type ListenConfig struct {
	Addr string `yaml:"addr"`
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
	if strings.TrimSpace(c.State.Dir) == "" {
		return fmt.Errorf("config.state.dir is required")
	}
	if c.Runtime.ReaderIndex == nil {
		return fmt.Errorf("config.runtime.reader_index is required")
	}
	if *c.Runtime.ReaderIndex < 0 {
		return fmt.Errorf("config.runtime.reader_index must be >= 0")
	}
	if strings.TrimSpace(c.Firmware.Name) == "" {
		return fmt.Errorf("config.firmware.name is required")
	}
	if strings.TrimSpace(c.Firmware.Version) == "" {
		return fmt.Errorf("config.firmware.version is required")
	}
	if strings.TrimSpace(c.Firmware.Platform) == "" {
		return fmt.Errorf("config.firmware.platform is required")
	}
	if strings.TrimSpace(c.Listen.Addr) == "" {
		return fmt.Errorf("config.listen.addr is required")
	}
	return nil
}

func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	c.Identity.KeyFile = resolvePath(configDir, c.Identity.KeyFile)
	c.State.Dir = resolvePath(configDir, c.State.Dir)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}
