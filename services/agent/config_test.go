package agent

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	writeConfig := func(t *testing.T, content string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "agent.conf")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		return path
	}

	t.Run("defaults applied", func(t *testing.T) {
		cfg, err := loadConfig(writeConfig(t, `{"api":"https://fleet.example.com"}`))
		if err != nil {
			t.Fatalf("loadConfig() error = %v", err)
		}
		if cfg.Timezone != "UTC" {
			t.Fatalf("Timezone = %q, want UTC", cfg.Timezone)
		}
		if cfg.InstallDir != defaultInstallDir || cfg.StateDir != defaultStateDir {
			t.Fatalf("dirs = %q, %q; want defaults", cfg.InstallDir, cfg.StateDir)
		}
		if len(cfg.PreserveFiles) != 1 || cfg.PreserveFiles[0] != "config.json" {
			t.Fatalf("PreserveFiles = %v, want [config.json]", cfg.PreserveFiles)
		}
		if len(cfg.PackageManager) == 0 {
			t.Fatal("PackageManager default missing")
		}
	})

	t.Run("explicit values kept", func(t *testing.T) {
		cfg, err := loadConfig(writeConfig(t, `{
			"api": "https://fleet.example.com",
			"timezone": "America/Los_Angeles",
			"install_dir": "/srv/app",
			"preserve_files": ["config.json", "cache.db"]
		}`))
		if err != nil {
			t.Fatalf("loadConfig() error = %v", err)
		}
		if cfg.Timezone != "America/Los_Angeles" || cfg.InstallDir != "/srv/app" {
			t.Fatalf("cfg = %+v", cfg)
		}
		if len(cfg.PreserveFiles) != 2 {
			t.Fatalf("PreserveFiles = %v", cfg.PreserveFiles)
		}
	})

	t.Run("missing api rejected", func(t *testing.T) {
		if _, err := loadConfig(writeConfig(t, `{"timezone":"UTC"}`)); err == nil {
			t.Fatal("loadConfig() without api succeeded, want error")
		}
	})

	t.Run("missing file rejected", func(t *testing.T) {
		if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.conf")); err == nil {
			t.Fatal("loadConfig() on missing file succeeded, want error")
		}
	})
}

func TestEnsureDeviceID(t *testing.T) {
	stateDir := t.TempDir()

	first, err := ensureDeviceID(stateDir)
	if err != nil {
		t.Fatalf("ensureDeviceID() error = %v", err)
	}

	// The identity must survive restarts.
	second, err := ensureDeviceID(stateDir)
	if err != nil {
		t.Fatalf("ensureDeviceID() second call error = %v", err)
	}
	if first != second {
		t.Fatalf("device id changed across calls: %s then %s", first, second)
	}

	// A corrupt file is replaced rather than crashing the agent.
	if err := os.WriteFile(filepath.Join(stateDir, deviceIDFileName), []byte("garbage"), 0o644); err != nil {
		t.Fatalf("corrupt id file: %v", err)
	}
	third, err := ensureDeviceID(stateDir)
	if err != nil {
		t.Fatalf("ensureDeviceID() after corruption error = %v", err)
	}
	if third == first {
		t.Fatal("expected a fresh id after corruption")
	}
}

func TestInstalledVersionRoundTrip(t *testing.T) {
	stateDir := t.TempDir()

	if got := readInstalledVersion(stateDir); got != "" {
		t.Fatalf("readInstalledVersion() on fresh dir = %q, want empty", got)
	}
	if err := writeInstalledVersion(stateDir, "1.4.0"); err != nil {
		t.Fatalf("writeInstalledVersion() error = %v", err)
	}
	if got := readInstalledVersion(stateDir); got != "1.4.0" {
		t.Fatalf("readInstalledVersion() = %q, want 1.4.0", got)
	}
}
