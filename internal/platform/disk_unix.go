//go:build linux || darwin

package platform

import (
	"fmt"
	"syscall"
)

// Disk reports free space via statfs, used by disk_min_free_bytes
// (spec.md §4.5).
func (h *Host) Disk(path string) (DiskStat, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return DiskStat{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	return DiskStat{FreeBytes: uint64(stat.Bavail) * uint64(stat.Bsize)}, nil
}
