package locks

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireAndRelease(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	l, err := Acquire(dir, "run-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	holder, err := Holder(dir)
	if err != nil {
		t.Fatalf("Holder: %v", err)
	}
	if !strings.HasPrefix(holder, "run-1 ") {
		t.Errorf("holder = %q", holder)
	}

	l.Release()
	if _, err := os.Stat(l.Path()); !os.IsNotExist(err) {
		t.Error("lock file should be removed after release")
	}
	l.Release()
}

func TestConflict(t *testing.T) {
	dir := t.TempDir()
	first, err := Acquire(dir, "run-1")
	if err != nil {
		t.Fatalf("Acquire 1: %v", err)
	}

	_, err = Acquire(dir, "run-2")
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("err = %v, want ErrLocked", err)
	}
	if !strings.Contains(err.Error(), "run-1") {
		t.Errorf("error should name the holder: %v", err)
	}

	first.Release()
	second, err := Acquire(dir, "run-2")
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	second.Release()
}

func TestCleanStale(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, FileName), []byte("dead 1 x\n"), 0o644)

	removed, err := CleanStale(dir)
	if err != nil {
		t.Fatalf("CleanStale: %v", err)
	}
	if !removed {
		t.Error("stale lock should be removed")
	}
}

func TestCleanStaleKeepsLiveLock(t *testing.T) {
	dir := t.TempDir()
	l, err := Acquire(dir, "live")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer l.Release()

	removed, err := CleanStale(dir)
	if err != nil {
		t.Fatalf("CleanStale: %v", err)
	}
	if removed {
		t.Error("live lock must not be removed")
	}
}

func TestCleanStaleMissing(t *testing.T) {
	removed, err := CleanStale(t.TempDir())
	if err != nil || removed {
		t.Errorf("CleanStale = %v, %v", removed, err)
	}
}
