// Package workspace owns the build directory lifecycle and the sibling
// archive-directory layout.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/wheelforge/internal/builderr"
)

// archiveDirName is the sibling directory completed wheels are copied into.
const archiveDirName = "deepspeed_wheels"

// Manager manages one build workspace directory on local disk.
type Manager struct {
	dir        string
	archiveDir string
}

// NewManager creates a manager for the workspace at dir. The archive
// directory is always a sibling of the workspace.
func NewManager(dir string) (*Manager, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, fmt.Errorf("workspace directory is empty")
	}
	abs, err := filepath.Abs(filepath.Clean(trimmed))
	if err != nil {
		return nil, fmt.Errorf("resolve workspace directory: %w", err)
	}

	return &Manager{
		dir:        abs,
		archiveDir: filepath.Join(filepath.Dir(abs), archiveDirName),
	}, nil
}

// Dir returns the workspace directory path.
func (m *Manager) Dir() string { return m.dir }

// ArchiveDir returns the sibling archive directory path.
func (m *Manager) ArchiveDir() string { return m.archiveDir }

// Reset prepares an empty workspace: create the archive directory if absent,
// remove any existing workspace tree, recreate it empty. Each step must fully
// complete before the next starts; a failure leaves whatever partial state
// the failing step produced — Reset is idempotent and the next call retries
// cleanup.
func (m *Manager) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(m.archiveDir, 0o755); err != nil {
		return builderr.Wrap(builderr.ErrWorkspaceIO, err, "create archive directory")
	}

	if _, err := os.Stat(m.dir); err == nil {
		if err := os.RemoveAll(m.dir); err != nil {
			return builderr.Wrap(builderr.ErrWorkspaceIO, err, "clear workspace")
		}
	} else if !os.IsNotExist(err) {
		return builderr.Wrap(builderr.ErrWorkspaceIO, err, "stat workspace")
	}

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return builderr.Wrap(builderr.ErrWorkspaceIO, err, "create workspace")
	}
	return nil
}
