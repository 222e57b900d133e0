// Package artifact archives and installs the wheel a successful build
// produces.
package artifact

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/wheelforge/internal/builderr"
	"github.com/mattjoyce/wheelforge/internal/buildlog"
	"github.com/mattjoyce/wheelforge/internal/log"
)

// installedName is the distribution name pip knows the wheel by.
const installedName = "deepspeed"

// Artifact describes the single wheel file a successful build produced.
type Artifact struct {
	Path           string
	PackageVersion string
	ToolkitVersion string
	PythonTag      string
}

// PipRunner is the slice of the Python runtime the manager needs.
type PipRunner interface {
	PipInstall(ctx context.Context, args ...string) error
	PipUninstall(ctx context.Context, name string) error
}

// Manager copies wheels into the archive layout and drives pip installs.
type Manager struct {
	archiveDir string
	pip        PipRunner
	sink       buildlog.Sink
	logger     *slog.Logger
}

func NewManager(archiveDir string, pip PipRunner, sink buildlog.Sink) *Manager {
	return &Manager{
		archiveDir: archiveDir,
		pip:        pip,
		sink:       sink,
		logger:     log.WithComponent("artifact"),
	}
}

// DestDir returns the deterministic archive subdirectory for an artifact:
// <archive>/deepspeed_<version>_cuda<toolkit>_py<majorminor>.
func (m *Manager) DestDir(a Artifact) string {
	sub := fmt.Sprintf("%s_%s_cuda%s_py%s", installedName, a.PackageVersion, a.ToolkitVersion, a.PythonTag)
	return filepath.Join(m.archiveDir, sub)
}

// Archive copies the wheel (never moves it — the workspace original stays in
// place) into its deterministic destination and records a BLAKE3 checksum
// beside the copy. Re-running with the same inputs overwrites the destination
// with identical bytes.
func (m *Manager) Archive(a Artifact) (string, error) {
	dest := m.DestDir(a)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", builderr.Wrap(builderr.ErrWorkspaceIO, err, "create archive destination")
	}

	destFile := filepath.Join(dest, filepath.Base(a.Path))
	sum, err := copyWithChecksum(a.Path, destFile)
	if err != nil {
		return "", err
	}

	sumFile := destFile + ".b3sum"
	line := fmt.Sprintf("%s  %s\n", sum, filepath.Base(a.Path))
	if err := os.WriteFile(sumFile, []byte(line), 0o644); err != nil {
		return "", builderr.Wrap(builderr.ErrWorkspaceIO, err, "write checksum file")
	}

	buildlog.Linef(m.sink, "Wheel file archived to: %s", dest)
	m.logger.Info("artifact archived", "dest", destFile, "b3sum", sum)
	return destFile, nil
}

// Checksum returns the BLAKE3 hash of the archived (or workspace) wheel.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash artifact: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Install installs the wheel into the active Python environment. Any existing
// install is uninstalled first; its absence is the common case, so that step
// is best-effort. force requests reinstallation over a same-version install.
// Install is safe to re-run.
func (m *Manager) Install(ctx context.Context, a Artifact, force bool) error {
	buildlog.Linef(m.sink, "Uninstalling existing %s...", installedName)
	if err := m.pip.PipUninstall(ctx, installedName); err != nil {
		m.logger.Debug("uninstall of prior package failed (usually: not installed)", "error", err)
	}

	buildlog.Linef(m.sink, "Installing %s wheel...", installedName)
	args := []string{a.Path}
	if force {
		args = append(args, "--force-reinstall")
	}
	if err := m.pip.PipInstall(ctx, args...); err != nil {
		return builderr.Wrap(builderr.ErrInstallFailed, err, "")
	}
	return nil
}

// copyWithChecksum copies src to dst while hashing the bytes written.
func copyWithChecksum(src, dst string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", builderr.Wrap(builderr.ErrWorkspaceIO, err, "open artifact")
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", builderr.Wrap(builderr.ErrWorkspaceIO, err, "create archive copy")
	}
	defer out.Close()

	h := blake3.New()
	if _, err := io.Copy(io.MultiWriter(out, h), in); err != nil {
		return "", builderr.Wrap(builderr.ErrWorkspaceIO, err, "copy artifact")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
