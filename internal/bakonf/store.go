package bakonf

import (
	"fmt"
	"strings"
	"time"
)

// Store keys and the format version written by Rebuild.
const (
	KeyVersion   = "bakonf:db_version"
	KeyDate      = "bakonf:db_date"
	StoreVersion = "1"

	fileKeyPrefix = "file:/"
)

// StaleAfter is the age beyond which an Append-mode store triggers a warning.
const StaleAfter = 8 * 24 * time.Hour

// FileKey returns the store key of the fingerprint for an absolute path.
func FileKey(path string) string {
	return fileKeyPrefix + path
}

// PathFromKey is the inverse of FileKey.
func PathFromKey(key string) string {
	return strings.TrimPrefix(key, fileKeyPrefix)
}

// StoreMode selects how a fingerprint store is opened.
type StoreMode int

const (
	// ModeRebuild discards existing contents and records every archived file.
	ModeRebuild StoreMode = iota
	// ModeAppend opens an existing store read-only for comparison.
	ModeAppend
)

func (m StoreMode) String() string {
	switch m {
	case ModeRebuild:
		return "rebuild"
	case ModeAppend:
		return "append"
	default:
		return fmt.Sprintf("StoreMode(%d)", int(m))
	}
}

// ModeForLevel maps a backup level to its store mode.
func ModeForLevel(level int) (StoreMode, error) {
	switch level {
	case 0:
		return ModeRebuild, nil
	case 1:
		return ModeAppend, nil
	default:
		return 0, NewConfigError("level", fmt.Errorf("unknown backup level %d", level))
	}
}

// FingerprintStore is a persistent key/value map from FileKey(path) to a
// serialized fingerprint, plus the administrative keys.
type FingerprintStore interface {
	// Get returns the value for key. found is false when the key is absent.
	Get(key string) (value []byte, found bool, err error)

	// Put records value under key. Only valid in Rebuild mode.
	Put(key string, value []byte) error

	// Close flushes and releases the store.
	Close() error
}

// StoreOpener opens the fingerprint store at path in the given mode.
type StoreOpener func(path string, mode StoreMode) (FingerprintStore, error)
