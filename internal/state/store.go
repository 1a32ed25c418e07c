// Package state keeps the fingerprint store in a single-table SQLite
// database.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"bakonf-go/internal/bakonf"
	"bakonf-go/internal/state/migrations"
)

// sideFiles are the suffixes of files SQLite may keep next to a database.
var sideFiles = []string{"", "-journal", "-wal", "-shm"}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Store is a SQLite-backed bakonf.FingerprintStore.
//
// In Rebuild mode every statement runs inside one transaction committed by
// Close; a run that dies before Close leaves a store without administrative
// keys, which Append refuses. In Append mode the database is opened read-only.
type Store struct {
	path    string
	mode    bakonf.StoreMode
	db      *sql.DB
	tx      *sql.Tx
	q       querier
	lock    *runLock
	version string
	created time.Time
	logger  bakonf.Logger
}

// Summary describes the contents of a store.
type Summary struct {
	Path    string
	Version string
	Created time.Time
	Files   int
}

// Opener returns a bakonf.StoreOpener backed by Open.
func Opener(clock bakonf.Clock, logger bakonf.Logger) bakonf.StoreOpener {
	return func(path string, mode bakonf.StoreMode) (bakonf.FingerprintStore, error) {
		s, err := Open(path, mode, clock, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Open opens the store at path. The store's lock is held until Close.
func Open(path string, mode bakonf.StoreMode, clock bakonf.Clock, logger bakonf.Logger) (*Store, error) {
	if mode != bakonf.ModeRebuild && mode != bakonf.ModeAppend {
		return nil, bakonf.NewConfigError(path, fmt.Errorf("unknown store mode %s", mode))
	}
	if mode == bakonf.ModeAppend {
		if _, err := os.Stat(path); err != nil {
			return nil, bakonf.NewConfigError(path, fmt.Errorf("cannot open database for incremental run: %w", err))
		}
	} else if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	lock, err := acquireLock(path + ".lock")
	if err != nil {
		return nil, err
	}

	s := &Store{path: path, mode: mode, lock: lock, logger: logger}
	if mode == bakonf.ModeRebuild {
		err = s.openRebuild(clock.Now())
	} else {
		err = s.openAppend(clock.Now())
	}
	if err != nil {
		if s.tx != nil {
			s.tx.Rollback()
		}
		if s.db != nil {
			s.db.Close()
		}
		lock.release()
		return nil, err
	}

	logger.Debug("store opened", "path", path, "mode", mode.String())
	return s, nil
}

func (s *Store) openRebuild(now time.Time) error {
	for _, suffix := range sideFiles {
		if err := os.Remove(s.path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing old database: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", s.path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps the transaction and every query on the
	// same handle.
	db.SetMaxOpenConns(1)
	s.db = db

	if err := migrations.MigrateUp(db); err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	s.tx = tx
	s.q = tx

	s.version = bakonf.StoreVersion
	s.created = time.Unix(now.Unix(), 0)
	if err := s.Put(bakonf.KeyVersion, []byte(s.version)); err != nil {
		return err
	}
	return s.Put(bakonf.KeyDate, []byte(strconv.FormatInt(now.Unix(), 10)))
}

func (s *Store) openAppend(now time.Time) error {
	dsn := (&url.URL{Scheme: "file", Path: s.path, RawQuery: "mode=ro"}).String()
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	s.db = db
	s.q = db

	if err := migrations.CheckDBMigrationStatus(db); err != nil {
		return bakonf.NewConfigError(s.path, fmt.Errorf("invalid database contents: %w", err))
	}

	version, vok, err := s.Get(bakonf.KeyVersion)
	if err != nil {
		return err
	}
	date, dok, err := s.Get(bakonf.KeyDate)
	if err != nil {
		return err
	}
	if !vok || !dok {
		return bakonf.NewConfigError(s.path, errors.New("invalid database contents"))
	}
	if string(version) != bakonf.StoreVersion {
		return bakonf.NewConfigError(s.path, fmt.Errorf("invalid database version %q", version))
	}
	s.version = string(version)
	s.checkAge(string(date), now)
	return nil
}

// checkAge warns when the store is too old to make a useful baseline.
func (s *Store) checkAge(date string, now time.Time) {
	secs, err := strconv.ParseFloat(strings.TrimSpace(date), 64)
	if err != nil {
		s.logger.Warn("database date is unreadable", "path", s.path, "value", date)
		return
	}
	s.created = time.Unix(int64(secs), 0)
	if age := now.Sub(s.created); age > bakonf.StaleAfter {
		s.logger.Warn("database is old, consider a full backup",
			"path", s.path, "created", s.created.UTC().Format(time.RFC3339), "age_days", int(age.Hours()/24))
	}
}

// Get returns the value stored under key.
func (s *Store) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := s.q.QueryRow("SELECT value FROM entries WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", key, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, true, nil
}

// Put records value under key. Only valid in Rebuild mode.
func (s *Store) Put(key string, value []byte) error {
	if s.mode != bakonf.ModeRebuild {
		return fmt.Errorf("store opened in %s mode", s.mode)
	}
	if value == nil {
		value = []byte{}
	}
	_, err := s.q.Exec(
		"INSERT INTO entries (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// Close commits a Rebuild, closes the database and releases the lock.
// Closing twice is a no-op.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	var firstErr error
	if s.tx != nil {
		if err := s.tx.Commit(); err != nil {
			firstErr = fmt.Errorf("committing database: %w", err)
		}
		s.tx = nil
	}
	if err := s.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}
	s.db = nil
	if err := s.lock.release(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// FilePaths returns the paths recorded in the store, sorted.
func (s *Store) FilePaths() ([]string, error) {
	rows, err := s.q.Query("SELECT key FROM entries WHERE key LIKE 'file:%' ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		paths = append(paths, bakonf.PathFromKey(key))
	}
	return paths, rows.Err()
}

// Summary reports the store's version, creation date and record count.
func (s *Store) Summary() (Summary, error) {
	var files int
	err := s.q.QueryRow("SELECT count(*) FROM entries WHERE key LIKE 'file:%'").Scan(&files)
	if err != nil {
		return Summary{}, fmt.Errorf("counting entries: %w", err)
	}
	return Summary{
		Path:    s.path,
		Version: s.version,
		Created: s.created,
		Files:   files,
	}, nil
}

// Compile-time check that Store implements bakonf.FingerprintStore interface
var _ bakonf.FingerprintStore = (*Store)(nil)
