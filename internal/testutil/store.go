package testutil

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"bakonf-go/internal/bakonf"
)

// MemoryStore is an in-memory FingerprintStore. It persists across
// open/close cycles when reused through its Opener, which makes it suitable
// for level 0 followed by level 1 scenarios.
type MemoryStore struct {
	mu       sync.Mutex
	data     map[string][]byte
	mode     bakonf.StoreMode
	open     bool
	lastPath string

	// Failures returned by the corresponding operations when set.
	OpenErr error
	GetErr  error
	PutErr  error

	Opened int
	Closed int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Opener returns a StoreOpener that opens this store. Rebuild clears it and
// writes the administrative keys; Append requires them.
func (s *MemoryStore) Opener() bakonf.StoreOpener {
	return func(path string, mode bakonf.StoreMode) (bakonf.FingerprintStore, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.OpenErr != nil {
			return nil, s.OpenErr
		}
		if s.open {
			return nil, bakonf.ErrStoreLocked
		}
		switch mode {
		case bakonf.ModeRebuild:
			s.data = map[string][]byte{
				bakonf.KeyVersion: []byte(bakonf.StoreVersion),
				bakonf.KeyDate:    []byte("1705314600"),
			}
		case bakonf.ModeAppend:
			if string(s.data[bakonf.KeyVersion]) != bakonf.StoreVersion {
				return nil, bakonf.NewConfigError(path, fmt.Errorf("invalid database version %q", s.data[bakonf.KeyVersion]))
			}
		}
		s.mode = mode
		s.open = true
		s.Opened++
		s.lastPath = path
		return s, nil
	}
}

func (s *MemoryStore) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return nil, false, s.GetErr
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *MemoryStore) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PutErr != nil {
		return s.PutErr
	}
	if s.mode != bakonf.ModeRebuild {
		return fmt.Errorf("store opened in %s mode", s.mode)
	}
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.Closed++
	return nil
}

// Set writes a raw value regardless of mode.
func (s *MemoryStore) Set(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// FileKeys returns the stored file keys in sorted order.
func (s *MemoryStore) FileKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, "file:") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// IsOpen reports whether the store has been opened and not yet closed.
func (s *MemoryStore) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// LastPath returns the path passed to the most recent open.
func (s *MemoryStore) LastPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPath
}

// Compile-time check
var _ bakonf.FingerprintStore = (*MemoryStore)(nil)
