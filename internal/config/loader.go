package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".deskclaw"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path to the config file. DESKCLAW_CONFIG
// overrides the default ~/.deskclaw/config.json.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("DESKCLAW_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

// Load builds the effective configuration: defaults, then the JSON config
// file if present, then DESKCLAW_* environment overrides.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	sections := []struct {
		prefix string
		dst    any
	}{
		{"DESKCLAW_PATHS", &cfg.Paths},
		{"DESKCLAW_GATEWAY", &cfg.Gateway},
		{"DESKCLAW_MODEL", &cfg.Model},
		{"DESKCLAW_ANTHROPIC", &cfg.Anthropic},
		{"DESKCLAW_AGENT", &cfg.Agent},
		{"DESKCLAW_DISPLAY", &cfg.Display},
		{"DESKCLAW_TOOLS", &cfg.Tools},
		{"DESKCLAW_SESSION", &cfg.Session},
		{"DESKCLAW_MIRROR", &cfg.Mirror},
	}
	for _, s := range sections {
		if err := envconfig.Process(s.prefix, s.dst); err != nil {
			return nil, fmt.Errorf("parse %s environment: %w", s.prefix, err)
		}
	}

	if cfg.Paths.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		cfg.Paths.DataDir = filepath.Join(home, ConfigDir)
	}
	if cfg.Paths.Workspace == "" {
		cfg.Paths.Workspace = filepath.Join(cfg.Paths.DataDir, "workspace")
	}
	return cfg, nil
}

// Save writes the configuration to the config file, creating the directory
// if needed.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// DBPath returns the sqlite database location under the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.Paths.DataDir, "deskclaw.db")
}
