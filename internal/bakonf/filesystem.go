package bakonf

import (
	"io"
	"io/fs"
)

// FilesystemManager provides the filesystem operations the engine needs.
// It abstracts file access to enable testing without touching the real filesystem.
// None of the methods follow symbolic links.
type FilesystemManager interface {
	// Lstat returns file info for path without following a final symlink.
	Lstat(path string) (fs.FileInfo, error)

	// Readlink returns the target of the symbolic link at path.
	Readlink(path string) (string, error)

	// Open opens a file for reading.
	Open(path string) (io.ReadCloser, error)

	// ReadDir returns the entry names of a directory in lexical order.
	ReadDir(path string) ([]string, error)

	// ExtractStatData extracts ownership data from a FileInfo returned by Lstat.
	ExtractStatData(info fs.FileInfo) (*StatData, error)
}

// StatData holds the platform-specific stat fields that fs.FileInfo does not expose.
type StatData struct {
	UID int64
	GID int64
}
