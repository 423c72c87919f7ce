package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	// ConfigPath is where the agent expects to find its JSON configuration file.
	ConfigPath = "/etc/javia/agent.conf"

	defaultStateDir   = "/var/lib/javia"
	defaultInstallDir = "/opt/javia/app"
	deviceIDFileName  = "device_id"
	versionFileName   = "version"
)

// Config represents the agent configuration stored on disk.
type Config struct {
	API             string   `json:"api"`
	DisplayName     string   `json:"display_name"`
	Timezone        string   `json:"timezone"`
	InstallDir      string   `json:"install_dir"`
	StateDir        string   `json:"state_dir"`
	PreserveFiles   []string `json:"preserve_files"`
	PackageManager  []string `json:"package_manager"`
	SignerPublicKey string   `json:"signer_public_key"`
	StopCommand     []string `json:"stop_command"`
	RestartCommand  []string `json:"restart_command"`
}

func loadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if strings.TrimSpace(cfg.API) == "" {
		return Config{}, fmt.Errorf("config missing api field")
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.InstallDir == "" {
		cfg.InstallDir = defaultInstallDir
	}
	if cfg.StateDir == "" {
		cfg.StateDir = defaultStateDir
	}
	if len(cfg.PreserveFiles) == 0 {
		// The voice app keeps its API keys here; an update must never clobber it.
		cfg.PreserveFiles = []string{"config.json"}
	}
	if len(cfg.PackageManager) == 0 {
		cfg.PackageManager = []string{"apt-get", "install", "-y"}
	}

	return cfg, nil
}

// ensureDeviceID loads the persisted device id or mints a new one. UUIDv7 ids
// sort by creation time, so fleet listings come out in enrollment order.
func ensureDeviceID(stateDir string) (uuid.UUID, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return uuid.Nil, fmt.Errorf("create state dir: %w", err)
	}

	path := filepath.Join(stateDir, deviceIDFileName)
	if data, err := os.ReadFile(path); err == nil {
		id, err := uuid.Parse(strings.TrimSpace(string(data)))
		if err == nil {
			return id, nil
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate device id: %w", err)
	}
	if err := os.WriteFile(path, []byte(id.String()+"\n"), 0o644); err != nil {
		return uuid.Nil, fmt.Errorf("persist device id: %w", err)
	}
	return id, nil
}

// readInstalledVersion returns the locally recorded version, or empty when no
// update was ever applied.
func readInstalledVersion(stateDir string) string {
	data, err := os.ReadFile(filepath.Join(stateDir, versionFileName))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func writeInstalledVersion(stateDir, version string) error {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(stateDir, versionFileName), []byte(version+"\n"), 0o644); err != nil {
		return fmt.Errorf("write version marker: %w", err)
	}
	return nil
}
