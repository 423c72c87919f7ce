package archive

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func TestPackExtractRoundTrip(t *testing.T) {
	src := t.TempDir()
	files := map[string]string{
		"main.py":          "print('hello')\n",
		"lib/helper.py":    "def helper(): pass\n",
		"assets/voice.txt": "greeting",
	}
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
	if err := Pack(&buf, src); err != nil {
		t.Fatalf("Pack() error = %v", err)
	}

	dest := t.TempDir()
	if err := Extract(bytes.NewReader(buf.Bytes()), dest); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	for name, want := range files {
		got, err := os.ReadFile(filepath.Join(dest, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if string(got) != want {
			t.Fatalf("%s = %q, want %q", name, got, want)
		}
	}
}

func TestPackDeterministic(t *testing.T) {
	src := t.TempDir()
	for _, name := range []string{"b.txt", "a.txt", "c.txt"} {
		if err := os.WriteFile(filepath.Join(src, name), []byte(name), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	var first, second bytes.Buffer
	if err := Pack(&first, src); err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	if err := Pack(&second, src); err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Fatal("two packs of the same tree differ")
	}
}

func TestPackRejectsSymlinks(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "real.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Symlink("real.txt", filepath.Join(src, "link.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	var buf bytes.Buffer
	if err := Pack(&buf, src); err == nil {
		t.Fatal("Pack() with symlink succeeded, want error")
	}
}

func TestExtractRejectsPathTraversal(t *testing.T) {
	var raw bytes.Buffer
	zw, err := zstd.NewWriter(&raw)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	tw := tar.NewWriter(zw)

	content := []byte("owned")
	if err := tw.WriteHeader(&tar.Header{
		Name: "../escape.txt",
		Mode: 0o644,
		Size: int64(len(content)),
	}); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatalf("write body: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zstd: %v", err)
	}

	dest := t.TempDir()
	if err := Extract(bytes.NewReader(raw.Bytes()), dest); err == nil {
		t.Fatal("Extract() with traversal entry succeeded, want error")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dest), "escape.txt")); err == nil {
		t.Fatal("traversal entry escaped the destination")
	}
}
