package checkpoint

import (
	"errors"
	"fmt"
	"syscall"
)

// DefaultMinDiskMB is the free space required before writing a checkpoint.
const DefaultMinDiskMB = 100

// ErrInsufficientDisk is returned when the checkpoint directory is too full.
var ErrInsufficientDisk = errors.New("insufficient disk space")

// FreeMB reports the megabytes available to unprivileged writers under dir.
func FreeMB(dir string) (uint64, error) {
	var fs syscall.Statfs_t
	if err := syscall.Statfs(dir, &fs); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", dir, err)
	}
	return fs.Bavail * uint64(fs.Bsize) >> 20, nil
}

// CheckDiskSpace fails with ErrInsufficientDisk when dir has less than minMB free.
func CheckDiskSpace(dir string, minMB int) error {
	free, err := FreeMB(dir)
	if err != nil {
		return err
	}
	if minMB > 0 && free < uint64(minMB) {
		return fmt.Errorf("%w for checkpoint: %d MB free in %s, need %d MB",
			ErrInsufficientDisk, free, dir, minMB)
	}
	return nil
}
