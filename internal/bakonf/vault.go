package bakonf

import (
	"io"
	"time"
)

// Vault is the destination that finished archives are delivered to.
type Vault interface {
	// PutArchive stores an archive under name, replacing any existing one.
	PutArchive(name string, r io.Reader, size int64) error

	// ListArchives returns the archives held by the vault sorted by name.
	ListArchives() ([]ArchiveInfo, error)

	// ValidateSetup checks that the vault is reachable and writable.
	ValidateSetup() error
}

// ArchiveInfo describes an archive held by a vault.
type ArchiveInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}
