package bakonf

import (
	"errors"
	"io"
)

// Archiver creates archive streams.
type Archiver interface {
	// Create starts a new archive written to w.
	Create(w io.Writer) (ArchiveWriter, error)

	// Extension returns the file name suffix of the archives produced,
	// for example ".tar" or ".tar.zst".
	Extension() string
}

// ArchiveWriter adds entries to an archive in progress.
type ArchiveWriter interface {
	// AddRoot writes the directory entry that holds the backed up tree.
	AddRoot() error

	// AddPath archives a single filesystem entry without recursing.
	AddPath(path string) error

	// AddFile archives generated content under name, outside the tree.
	AddFile(name string, data []byte) error

	// Close finishes the archive. It does not close the underlying writer.
	Close() error
}

// ErrArchiveBroken is wrapped by ArchiveWriter errors after which the
// archive stream can no longer be used. Other AddPath errors only affect
// the path being added.
var ErrArchiveBroken = errors.New("archive stream broken")

// Names of the generated entries stored alongside the backed up tree.
const (
	ArchiveRoot        = "filesystem"
	UnarchivedListName = "unarchived_files.lst"
	SignatureName      = "README"
)
