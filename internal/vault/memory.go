package vault

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"bakonf-go/internal/bakonf"
)

// MemoryVault is an in-memory implementation of the Vault interface.
// It is useful for testing and for dry runs.
// This implementation is safe for concurrent use.
type MemoryVault struct {
	name     string
	archives map[string][]byte
	modTimes map[string]time.Time
	mu       sync.RWMutex
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:     name,
		archives: make(map[string][]byte),
		modTimes: make(map[string]time.Time),
	}
}

// PutArchive stores an archive under name.
func (m *MemoryVault) PutArchive(name string, r io.Reader, size int64) error {
	if err := checkArchiveName(name); err != nil {
		return err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}

	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.archives[name] = data
	m.modTimes[name] = time.Now()
	return nil
}

// ListArchives returns the stored archives sorted by name.
func (m *MemoryVault) ListArchives() ([]bakonf.ArchiveInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]bakonf.ArchiveInfo, 0, len(m.archives))
	for name, data := range m.archives {
		infos = append(infos, bakonf.ArchiveInfo{
			Name:    name,
			Size:    int64(len(data)),
			ModTime: m.modTimes[name],
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Archive returns the contents of a stored archive.
func (m *MemoryVault) Archive(name string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.archives[name]
	return data, ok
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup() error {
	return nil
}

// Compile-time check that MemoryVault implements bakonf.Vault interface
var _ bakonf.Vault = (*MemoryVault)(nil)
