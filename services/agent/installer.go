package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/shreyashguptas/javia-sub000/pkg/archive"
	"github.com/shreyashguptas/javia-sub000/pkg/pkgsign"
)

// installer stages, verifies and applies downloaded packages. The swap is
// staged entirely on disk before the running application is touched, so a bad
// download never leaves a half-replaced install behind.
type installer struct {
	installDir     string
	stagingDir     string
	preserveFiles  []string
	packageManager []string
	verifier       *pkgsign.Signer
}

func newInstaller(cfg Config, verifier *pkgsign.Signer) *installer {
	return &installer{
		installDir:     cfg.InstallDir,
		stagingDir:     filepath.Join(cfg.StateDir, "staging"),
		preserveFiles:  cfg.PreserveFiles,
		packageManager: cfg.PackageManager,
		verifier:       verifier,
	}
}

// Stage creates a fresh staging area and returns the path the package archive
// should be downloaded to.
func (in *installer) Stage() (string, error) {
	if err := os.RemoveAll(in.stagingDir); err != nil {
		return "", fmt.Errorf("clear staging dir: %w", err)
	}
	if err := os.MkdirAll(in.stagingDir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	return filepath.Join(in.stagingDir, "package.tar.zst"), nil
}

// Verify checks the staged archive against the metadata the server published.
// Every check runs before a single byte of the live install is touched.
func (in *installer) Verify(archivePath string, info UpdateInfo) error {
	fi, err := os.Stat(archivePath)
	if err != nil {
		return fmt.Errorf("stat package: %w", err)
	}
	if fi.Size() == 0 {
		return fmt.Errorf("package is empty")
	}
	if info.PackageSize > 0 && fi.Size() != info.PackageSize {
		return fmt.Errorf("package size mismatch: got %d, want %d", fi.Size(), info.PackageSize)
	}

	digest, err := fileSHA256(archivePath)
	if err != nil {
		return err
	}
	if info.PackageSHA256 != "" && digest != info.PackageSHA256 {
		return fmt.Errorf("package checksum mismatch: got %s, want %s", digest, info.PackageSHA256)
	}

	if in.verifier != nil {
		if info.Signature == "" {
			return fmt.Errorf("signature required but update %s is unsigned", info.ID)
		}
		if err := in.verifier.VerifyDigest(digest, info.Signature); err != nil {
			return fmt.Errorf("verify package signature: %w", err)
		}
	}
	return nil
}

// Extract unpacks the verified archive next to it and returns the directory
// holding the new application tree.
func (in *installer) Extract(archivePath string) (string, error) {
	dest := filepath.Join(in.stagingDir, "extracted")
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("create extract dir: %w", err)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("open package: %w", err)
	}
	defer f.Close()

	if err := archive.Extract(f, dest); err != nil {
		return "", fmt.Errorf("extract package: %w", err)
	}
	return dest, nil
}

// Swap replaces the live install with the extracted tree. The previous tree is
// kept aside and restored wholesale if anything fails mid-swap. Preserved
// files always carry over from the old install, shadowing any copy the
// package ships: the device's local secrets survive every update.
func (in *installer) Swap(extractedDir string) error {
	backup := in.installDir + ".previous"
	if err := os.RemoveAll(backup); err != nil {
		return fmt.Errorf("clear backup dir: %w", err)
	}

	hadPrevious := false
	if _, err := os.Stat(in.installDir); err == nil {
		hadPrevious = true
		if err := os.Rename(in.installDir, backup); err != nil {
			return fmt.Errorf("set aside current install: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(in.installDir), 0o755); err != nil {
		return fmt.Errorf("create install parent: %w", err)
	}
	if err := os.Rename(extractedDir, in.installDir); err != nil {
		if hadPrevious {
			_ = os.Rename(backup, in.installDir)
		}
		return fmt.Errorf("move new install into place: %w", err)
	}

	if hadPrevious {
		if err := in.carryOverPreserved(backup); err != nil {
			_ = os.RemoveAll(in.installDir)
			_ = os.Rename(backup, in.installDir)
			return err
		}
	}
	return nil
}

// Rollback restores the previous install tree after a failed activation.
func (in *installer) Rollback() error {
	backup := in.installDir + ".previous"
	if _, err := os.Stat(backup); err != nil {
		return fmt.Errorf("no previous install to restore: %w", err)
	}
	if err := os.RemoveAll(in.installDir); err != nil {
		return fmt.Errorf("clear failed install: %w", err)
	}
	if err := os.Rename(backup, in.installDir); err != nil {
		return fmt.Errorf("restore previous install: %w", err)
	}
	return nil
}

// Cleanup removes the staging area and any leftover backup tree.
func (in *installer) Cleanup() {
	_ = os.RemoveAll(in.stagingDir)
	_ = os.RemoveAll(in.installDir + ".previous")
}

// InstallSystemPackages invokes the configured package manager for updates
// that declare OS-level dependencies.
func (in *installer) InstallSystemPackages(ctx context.Context, packages []string) error {
	if len(packages) == 0 {
		return nil
	}
	if len(in.packageManager) == 0 {
		return fmt.Errorf("update requires system packages but no package manager is configured")
	}

	args := append(append([]string{}, in.packageManager[1:]...), packages...)
	cmd := exec.CommandContext(ctx, in.packageManager[0], args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("install system packages: %w: %s", err, string(out))
	}
	return nil
}

func (in *installer) carryOverPreserved(backup string) error {
	for _, name := range in.preserveFiles {
		src := filepath.Join(backup, name)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := copyFile(src, filepath.Join(in.installDir, name)); err != nil {
			return fmt.Errorf("carry over %s: %w", name, err)
		}
	}
	return nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open package: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash package: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
