package agent

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shreyashguptas/javia-sub000/pkg/archive"
)

func testInstaller(t *testing.T) *installer {
	t.Helper()
	root := t.TempDir()
	return newInstaller(Config{
		InstallDir:    filepath.Join(root, "app"),
		StateDir:      filepath.Join(root, "state"),
		PreserveFiles: []string{"config.json"},
	}, nil)
}

func stageArchive(t *testing.T, in *installer, files map[string]string) (string, UpdateInfo) {
	t.Helper()

	src := t.TempDir()
	for name, content := range files {
		path := filepath.Join(src, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	var buf bytes.Buffer
	if err := archive.Pack(&buf, src); err != nil {
		t.Fatalf("pack: %v", err)
	}

	path, err := in.Stage()
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write staged archive: %v", err)
	}

	sum := sha256.Sum256(buf.Bytes())
	return path, UpdateInfo{
		PackageSHA256: hex.EncodeToString(sum[:]),
		PackageSize:   int64(buf.Len()),
	}
}

func TestInstallerVerify(t *testing.T) {
	in := testInstaller(t)
	path, info := stageArchive(t, in, map[string]string{"main.py": "print('hi')\n"})

	t.Run("valid archive passes", func(t *testing.T) {
		if err := in.Verify(path, info); err != nil {
			t.Fatalf("Verify() error = %v", err)
		}
	})

	t.Run("size mismatch", func(t *testing.T) {
		bad := info
		bad.PackageSize = info.PackageSize + 1
		if err := in.Verify(path, bad); err == nil || !strings.Contains(err.Error(), "size mismatch") {
			t.Fatalf("Verify() error = %v, want size mismatch", err)
		}
	})

	t.Run("checksum mismatch", func(t *testing.T) {
		bad := info
		bad.PackageSHA256 = strings.Repeat("0", 64)
		if err := in.Verify(path, bad); err == nil || !strings.Contains(err.Error(), "checksum mismatch") {
			t.Fatalf("Verify() error = %v, want checksum mismatch", err)
		}
	})

	t.Run("truncated download", func(t *testing.T) {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read archive: %v", err)
		}
		truncated := filepath.Join(t.TempDir(), "truncated.tar.zst")
		if err := os.WriteFile(truncated, data[:len(data)/2], 0o644); err != nil {
			t.Fatalf("write truncated: %v", err)
		}
		if err := in.Verify(truncated, info); err == nil {
			t.Fatal("Verify() on truncated archive succeeded, want error")
		}
	})

	t.Run("empty file", func(t *testing.T) {
		empty := filepath.Join(t.TempDir(), "empty.tar.zst")
		if err := os.WriteFile(empty, nil, 0o644); err != nil {
			t.Fatalf("write empty: %v", err)
		}
		if err := in.Verify(empty, info); err == nil || !strings.Contains(err.Error(), "empty") {
			t.Fatalf("Verify() error = %v, want empty package error", err)
		}
	})
}

func TestInstallerSwapPreservesConfig(t *testing.T) {
	in := testInstaller(t)

	// Simulate a previous install with local credentials.
	if err := os.MkdirAll(in.installDir, 0o755); err != nil {
		t.Fatalf("mkdir install dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(in.installDir, "config.json"), []byte(`{"key":"secret"}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(in.installDir, "main.py"), []byte("old"), 0o644); err != nil {
		t.Fatalf("write old main: %v", err)
	}

	path, _ := stageArchive(t, in, map[string]string{
		"main.py":       "new",
		"lib/helper.py": "helper",
	})
	extracted, err := in.Extract(path)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if err := in.Swap(extracted); err != nil {
		t.Fatalf("Swap() error = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(in.installDir, "main.py"))
	if err != nil || string(got) != "new" {
		t.Fatalf("main.py after swap = %q, %v; want \"new\"", got, err)
	}
	if _, err := os.Stat(filepath.Join(in.installDir, "lib", "helper.py")); err != nil {
		t.Fatalf("helper.py missing after swap: %v", err)
	}
	cfg, err := os.ReadFile(filepath.Join(in.installDir, "config.json"))
	if err != nil || string(cfg) != `{"key":"secret"}` {
		t.Fatalf("config.json after swap = %q, %v; want preserved copy", cfg, err)
	}
}

func TestInstallerSwapPreservedFileShadowsPackaged(t *testing.T) {
	in := testInstaller(t)

	// The package ships its own config.json placeholder; the device's local
	// credentials must survive anyway.
	secret := `{"openai_key":"device-local-secret"}`
	if err := os.MkdirAll(in.installDir, 0o755); err != nil {
		t.Fatalf("mkdir install dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(in.installDir, "config.json"), []byte(secret), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	path, _ := stageArchive(t, in, map[string]string{
		"config.json": `{"openai_key":"PLACEHOLDER"}`,
		"main.py":     "new",
	})
	extracted, err := in.Extract(path)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if err := in.Swap(extracted); err != nil {
		t.Fatalf("Swap() error = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(in.installDir, "config.json"))
	if err != nil || string(got) != secret {
		t.Fatalf("config.json after swap = %q, %v; want the preserved local copy", got, err)
	}
	if code, err := os.ReadFile(filepath.Join(in.installDir, "main.py")); err != nil || string(code) != "new" {
		t.Fatalf("main.py after swap = %q, %v; want the packaged copy", code, err)
	}
}

func TestInstallerRollback(t *testing.T) {
	in := testInstaller(t)

	if err := os.MkdirAll(in.installDir, 0o755); err != nil {
		t.Fatalf("mkdir install dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(in.installDir, "main.py"), []byte("v1"), 0o644); err != nil {
		t.Fatalf("write old main: %v", err)
	}

	path, _ := stageArchive(t, in, map[string]string{"main.py": "v2"})
	extracted, err := in.Extract(path)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if err := in.Swap(extracted); err != nil {
		t.Fatalf("Swap() error = %v", err)
	}

	if err := in.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	got, err := os.ReadFile(filepath.Join(in.installDir, "main.py"))
	if err != nil || string(got) != "v1" {
		t.Fatalf("main.py after rollback = %q, %v; want \"v1\"", got, err)
	}

	if err := in.Rollback(); err == nil {
		t.Fatal("second Rollback() succeeded, want error")
	}
}

func TestInstallerSwapFirstInstall(t *testing.T) {
	in := testInstaller(t)

	path, _ := stageArchive(t, in, map[string]string{"main.py": "fresh"})
	extracted, err := in.Extract(path)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if err := in.Swap(extracted); err != nil {
		t.Fatalf("Swap() on fresh device error = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(in.installDir, "main.py"))
	if err != nil || string(got) != "fresh" {
		t.Fatalf("main.py after first install = %q, %v; want \"fresh\"", got, err)
	}
}
