package lock

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireThenAlreadyRunning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phenodcc.lock")

	outcome, l, err := Acquire(path)
	if err != nil {
		t.Fatalf("unexpected error acquiring lock: %v", err)
	}
	if outcome != NotRunning {
		t.Fatalf("expected NotRunning, got %v", outcome)
	}
	defer l.Release()

	outcome2, l2, err := Acquire(path)
	if err != nil {
		t.Fatalf("unexpected error on contended acquire: %v", err)
	}
	if outcome2 != AlreadyRunning {
		t.Fatalf("expected AlreadyRunning for a second acquire, got %v", outcome2)
	}
	if l2 != nil {
		t.Fatalf("a contended acquire must not return a Lock")
	}
}

func TestReleaseRemovesFileAndAllowsReacquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phenodcc.lock")

	_, l, err := Acquire(path)
	if err != nil {
		t.Fatalf("unexpected error acquiring lock: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("unexpected error releasing lock: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected lock file to be removed after release, stat err=%v", err)
	}

	outcome, l2, err := Acquire(path)
	if err != nil {
		t.Fatalf("unexpected error re-acquiring lock: %v", err)
	}
	if outcome != NotRunning {
		t.Fatalf("expected NotRunning on re-acquire, got %v", outcome)
	}
	_ = l2.Release()
}

func TestInvalidLockWhenPathIsDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "as-a-dir")
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatalf("failed to create test directory: %v", err)
	}

	outcome, l, err := Acquire(path)
	if outcome != InvalidLock {
		t.Fatalf("expected InvalidLock when the path is a directory, got %v (err=%v)", outcome, err)
	}
	if l != nil {
		t.Fatalf("an invalid lock path must not return a Lock")
	}
}
