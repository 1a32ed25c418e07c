package fs

import (
	"io"
	"io/fs"
	"os"

	"bakonf-go/internal/bakonf"
)

// OSFilesystemManager is the real filesystem implementation of FilesystemManager.
// It performs actual filesystem operations using the os package and never
// follows symbolic links.
type OSFilesystemManager struct{}

// NewOSFilesystemManager creates a new filesystem manager that operates on the real filesystem.
func NewOSFilesystemManager() *OSFilesystemManager {
	return &OSFilesystemManager{}
}

func (m *OSFilesystemManager) Lstat(path string) (fs.FileInfo, error) {
	return os.Lstat(path)
}

func (m *OSFilesystemManager) Readlink(path string) (string, error) {
	return os.Readlink(path)
}

// Open opens a file for reading. Opening a FIFO would block, so only regular
// files are opened.
func (m *OSFilesystemManager) Open(path string) (io.ReadCloser, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|openFlags, 0)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, &fs.PathError{Op: "open", Path: path, Err: errNotRegular}
	}
	return f, nil
}

// ReadDir returns the names of the entries in a directory, sorted.
func (m *OSFilesystemManager) ReadDir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

// ExtractStatData extracts ownership data from a FileInfo returned by Lstat.
func (m *OSFilesystemManager) ExtractStatData(info fs.FileInfo) (*bakonf.StatData, error) {
	return extractStatData(info)
}

// Compile-time check that OSFilesystemManager implements bakonf.FilesystemManager interface
var _ bakonf.FilesystemManager = (*OSFilesystemManager)(nil)
