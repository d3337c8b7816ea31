package checkpoint

import (
	"errors"
	"testing"
)

func TestFreeMB(t *testing.T) {
	free, err := FreeMB(t.TempDir())
	if err != nil {
		t.Fatalf("FreeMB: %v", err)
	}
	if free == 0 {
		t.Error("FreeMB = 0 on a writable temp dir")
	}
}

func TestCheckDiskSpace(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		minMB   int
		wantErr error
	}{
		{"disabled", 0, nil},
		{"one megabyte", 1, nil},
		{"a petabyte", 1 << 30, ErrInsufficientDisk},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckDiskSpace(dir, tt.minMB)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CheckDiskSpace(%d) = %v, want %v", tt.minMB, err, tt.wantErr)
			}
		})
	}
}

func TestCheckDiskSpaceMissingDir(t *testing.T) {
	if err := CheckDiskSpace("/nonexistent/checkpoints", 1); err == nil {
		t.Error("expected error for a missing checkpoint dir")
	}
}
