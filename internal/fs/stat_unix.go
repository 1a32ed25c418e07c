//go:build unix

package fs

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"

	"bakonf-go/internal/bakonf"
)

// openFlags keeps Open from following a symlink swapped in after lstat.
// O_NONBLOCK keeps a FIFO swapped in the same way from blocking the open.
const openFlags = syscall.O_NOFOLLOW | syscall.O_NONBLOCK

var errNotRegular = errors.New("not a regular file")

// extractStatData extracts Unix-specific stat data from a FileInfo.
// Returns an error if the underlying Sys() type is not *syscall.Stat_t,
// which would happen with mock filesystems that don't provide real stat data.
func extractStatData(info fs.FileInfo) (*bakonf.StatData, error) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil, fmt.Errorf("cannot extract stat data: expected *syscall.Stat_t, got %T", info.Sys())
	}

	return &bakonf.StatData{
		UID: int64(stat.Uid),
		GID: int64(stat.Gid),
	}, nil
}
