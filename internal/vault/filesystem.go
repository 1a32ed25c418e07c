package vault

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"bakonf-go/internal/bakonf"
)

// tmpPrefix marks in-progress writes, which ListArchives ignores.
const tmpPrefix = ".tmp-"

// FileSystemVault is a filesystem-based implementation of the Vault interface.
// Archives are stored as individual files in a single directory. They are
// created with mode 0600 since they hold copies of protected files.
type FileSystemVault struct {
	name string
	root string
}

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	return &FileSystemVault{
		name: name,
		root: root,
	}, nil
}

// PutArchive stores an archive under name, replacing any previous archive
// with the same name.
func (v *FileSystemVault) PutArchive(name string, r io.Reader, size int64) error {
	if err := checkArchiveName(name); err != nil {
		return err
	}
	return v.writeFile(filepath.Join(v.root, name), r, size)
}

// ListArchives returns the archives in the vault directory sorted by name.
func (v *FileSystemVault) ListArchives() ([]bakonf.ArchiveInfo, error) {
	entries, err := os.ReadDir(v.root)
	if err != nil {
		return nil, fmt.Errorf("reading archive directory: %w", err)
	}

	var infos []bakonf.ArchiveInfo
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), tmpPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		infos = append(infos, bakonf.ArchiveInfo{
			Name:    entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return infos, nil
}

// ValidateSetup verifies that the archive directory exists and is writable.
func (v *FileSystemVault) ValidateSetup() error {
	info, err := os.Stat(v.root)
	if err != nil {
		return fmt.Errorf("archive directory not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("archive path is not a directory: %s", v.root)
	}

	probe, err := os.CreateTemp(v.root, tmpPrefix+"probe-*")
	if err != nil {
		return fmt.Errorf("archive directory not writable: %w", err)
	}
	probe.Close()
	os.Remove(probe.Name())

	return nil
}

// writeFile writes data from r to the specified path using atomic write (temp file + rename).
func (v *FileSystemVault) writeFile(destPath string, r io.Reader, expectedSize int64) error {
	// Create temp file in the same directory to ensure atomic rename works
	dir := filepath.Dir(destPath)
	tmpFile, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Clean up temp file on failure
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// Compile-time check that FileSystemVault implements bakonf.Vault interface
var _ bakonf.Vault = (*FileSystemVault)(nil)
