package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestNewManagerArchiveDirIsSibling(t *testing.T) {
	base := t.TempDir()
	mgr, err := NewManager(filepath.Join(base, "deepspeed"))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	if mgr.Dir() != filepath.Join(base, "deepspeed") {
		t.Errorf("Dir() = %q", mgr.Dir())
	}
	if mgr.ArchiveDir() != filepath.Join(base, "deepspeed_wheels") {
		t.Errorf("ArchiveDir() = %q, want sibling deepspeed_wheels", mgr.ArchiveDir())
	}
}

func TestNewManagerRejectsEmptyDir(t *testing.T) {
	if _, err := NewManager("   "); err == nil {
		t.Fatal("NewManager() accepted a blank directory")
	}
}

func TestResetClearsWorkspaceKeepsArchive(t *testing.T) {
	base := t.TempDir()
	mgr, err := NewManager(filepath.Join(base, "deepspeed"))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	// Seed stale build output in the workspace and a wheel in the archive.
	stale := filepath.Join(mgr.Dir(), "dist", "old.whl")
	if err := os.MkdirAll(filepath.Dir(stale), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	archived := filepath.Join(mgr.ArchiveDir(), "kept.whl")
	if err := os.MkdirAll(mgr.ArchiveDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(archived, []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := mgr.Reset(context.Background()); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	entries, err := os.ReadDir(mgr.Dir())
	if err != nil {
		t.Fatalf("workspace missing after Reset(): %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("workspace not empty after Reset(): %d entries", len(entries))
	}
	if _, err := os.Stat(archived); err != nil {
		t.Errorf("archived wheel removed by Reset(): %v", err)
	}
}

func TestResetIdempotent(t *testing.T) {
	mgr, err := NewManager(filepath.Join(t.TempDir(), "deepspeed"))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := mgr.Reset(context.Background()); err != nil {
			t.Fatalf("Reset() pass %d error = %v", i, err)
		}
	}
}

func TestResetHonorsCancelledContext(t *testing.T) {
	mgr, err := NewManager(filepath.Join(t.TempDir(), "deepspeed"))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := mgr.Reset(ctx); err == nil {
		t.Fatal("Reset() ran with a canceled context")
	}
}

func TestAcquireLockExcludesSecondHolder(t *testing.T) {
	ws := filepath.Join(t.TempDir(), "deepspeed")

	lock, err := AcquireLock(ws)
	if err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}

	if _, err := AcquireLock(ws); err == nil {
		t.Fatal("second AcquireLock() succeeded while the first is held")
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	relock, err := AcquireLock(ws)
	if err != nil {
		t.Fatalf("AcquireLock() after release error = %v", err)
	}
	relock.Release()
}

func TestAcquireLockWritesPID(t *testing.T) {
	ws := filepath.Join(t.TempDir(), "deepspeed")

	lock, err := AcquireLock(ws)
	if err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}
	defer lock.Release()

	if lock.Path() != ws+".lock" {
		t.Errorf("Path() = %q, want %q", lock.Path(), ws+".lock")
	}

	data, err := os.ReadFile(lock.Path())
	if err != nil {
		t.Fatalf("ReadFile(lock) error = %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid != os.Getpid() {
		t.Errorf("lock file contains %q, want current PID %d", data, os.Getpid())
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	lock, err := AcquireLock(filepath.Join(t.TempDir(), "deepspeed"))
	if err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("second Release() error = %v", err)
	}
}
