// Package adminctl implements the operator-facing client behind the javiactl
// command line tool.
package adminctl

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the control plane coordinates javiactl operates against.
type Config struct {
	API        string `yaml:"api"`
	AdminToken string `yaml:"admin_token"`
}

// DefaultConfigPath returns ~/.javiactl.yaml, or just the file name when the
// home directory cannot be resolved.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".javiactl.yaml"
	}
	return filepath.Join(home, ".javiactl.yaml")
}

// LoadConfig reads the YAML config file and applies environment overrides.
// JAVIA_API and JAVIA_ADMIN_TOKEN always win over the file, and a missing file
// is fine as long as the environment provides both values.
func LoadConfig(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	if v := strings.TrimSpace(os.Getenv("JAVIA_API")); v != "" {
		cfg.API = v
	}
	if v := strings.TrimSpace(os.Getenv("JAVIA_ADMIN_TOKEN")); v != "" {
		cfg.AdminToken = v
	}

	if strings.TrimSpace(cfg.API) == "" {
		return Config{}, fmt.Errorf("no api configured: set api in %s or JAVIA_API", path)
	}
	if strings.TrimSpace(cfg.AdminToken) == "" {
		return Config{}, fmt.Errorf("no admin token configured: set admin_token in %s or JAVIA_ADMIN_TOKEN", path)
	}

	cfg.API = strings.TrimRight(strings.TrimSpace(cfg.API), "/")
	return cfg, nil
}
