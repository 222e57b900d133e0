package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// Lock is a single-build lock keyed on the workspace path, implemented via a
// PID file and an exclusive file lock. Keep the lock alive by keeping the
// file descriptor open.
type Lock struct {
	path string
	f    *os.File
}

// AcquireLock acquires an exclusive non-blocking lock guarding workspaceDir,
// writes the current PID into the lock file, and returns a handle that must
// be released. A second build against the same workspace fails here instead
// of corrupting the first.
func AcquireLock(workspaceDir string) (*Lock, error) {
	if workspaceDir == "" {
		return nil, fmt.Errorf("workspace directory is empty")
	}
	lockPath := filepath.Clean(workspaceDir) + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := flockExclusive(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("another build holds the workspace lock at %s: %w", lockPath, err)
	}

	if err := f.Truncate(0); err != nil {
		_ = funlock(f)
		_ = f.Close()
		return nil, fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		_ = funlock(f)
		_ = f.Close()
		return nil, fmt.Errorf("seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		_ = funlock(f)
		_ = f.Close()
		return nil, fmt.Errorf("write pid: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = funlock(f)
		_ = f.Close()
		return nil, fmt.Errorf("sync lock file: %w", err)
	}

	return &Lock{path: lockPath, f: f}, nil
}

func (l *Lock) Path() string { return l.path }

func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = funlock(l.f)
	err := l.f.Close()
	l.f = nil
	return err
}
