package utils

import (
	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

// DiskSpace holds information about disk space usage
type DiskSpace struct {
	Total int64 `json:"total"`
	Free  int64 `json:"free"`
	Used  int64 `json:"used"`
}

// String renders the usage in human units.
func (d DiskSpace) String() string {
	return humanize.IBytes(uint64(d.Used)) + " used of " + humanize.IBytes(uint64(d.Total)) +
		" (" + humanize.IBytes(uint64(d.Free)) + " free)"
}

// GetDiskSpace returns disk space information for the filesystem holding path.
// Free counts blocks available to unprivileged users.
func GetDiskSpace(path string) (DiskSpace, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return DiskSpace{}, err
	}

	total := int64(stat.Blocks) * int64(stat.Bsize)
	free := int64(stat.Bavail) * int64(stat.Bsize)

	return DiskSpace{
		Total: total,
		Free:  free,
		Used:  total - int64(stat.Bfree)*int64(stat.Bsize),
	}, nil
}
