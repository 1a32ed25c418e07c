package state

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"bakonf-go/internal/bakonf"
	"bakonf-go/internal/state/migrations"
	"bakonf-go/internal/testutil"
)

func newTestStore(t *testing.T, path string, mode bakonf.StoreMode) *Store {
	t.Helper()
	s, err := Open(path, mode, testutil.FixedClock(), bakonf.NewNopLogger())
	if err != nil {
		t.Fatalf("Open(%s) error = %v", mode, err)
	}
	return s
}

// writeRawStore creates a migrated database holding exactly entries.
func writeRawStore(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer db.Close()
	if err := migrations.MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	for k, v := range entries {
		if _, err := db.Exec("INSERT INTO entries (key, value) VALUES (?, ?)", k, []byte(v)); err != nil {
			t.Fatalf("insert %s: %v", k, err)
		}
	}
}

func TestStore_RebuildThenAppend(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "virtuals.db")

	s := newTestStore(t, path, bakonf.ModeRebuild)
	if err := s.Put(bakonf.FileKey("/etc/hosts"), []byte("record")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s = newTestStore(t, path, bakonf.ModeAppend)
	defer s.Close()

	got, found, err := s.Get(bakonf.FileKey("/etc/hosts"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found || string(got) != "record" {
		t.Errorf("Get() = %q, %v; want %q, true", got, found, "record")
	}

	version, _, _ := s.Get(bakonf.KeyVersion)
	if string(version) != bakonf.StoreVersion {
		t.Errorf("version = %q, want %q", version, bakonf.StoreVersion)
	}
	date, _, _ := s.Get(bakonf.KeyDate)
	if string(date) != "1705314600" {
		t.Errorf("date = %q, want %q", date, "1705314600")
	}

	_, found, err = s.Get(bakonf.FileKey("/etc/missing"))
	if err != nil || found {
		t.Errorf("Get(missing) = found %v, err %v; want not found", found, err)
	}
}

func TestStore_RebuildDiscardsOldEntries(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "virtuals.db")

	s := newTestStore(t, path, bakonf.ModeRebuild)
	s.Put(bakonf.FileKey("/etc/old"), []byte("x"))
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s = newTestStore(t, path, bakonf.ModeRebuild)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s = newTestStore(t, path, bakonf.ModeAppend)
	defer s.Close()
	if _, found, _ := s.Get(bakonf.FileKey("/etc/old")); found {
		t.Error("entry from previous rebuild survived a new rebuild")
	}
}

func TestStore_PutOverwrites(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "virtuals.db")

	s := newTestStore(t, path, bakonf.ModeRebuild)
	defer s.Close()
	s.Put("k", []byte("one"))
	if err := s.Put("k", []byte("two")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, _, _ := s.Get("k")
	if string(got) != "two" {
		t.Errorf("Get() = %q, want %q", got, "two")
	}
}

func TestStore_AppendRejectsPut(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "virtuals.db")
	newTestStore(t, path, bakonf.ModeRebuild).Close()

	s := newTestStore(t, path, bakonf.ModeAppend)
	defer s.Close()
	if err := s.Put(bakonf.FileKey("/etc/hosts"), []byte("x")); err == nil {
		t.Error("Put() in append mode succeeded, want error")
	}
}

func TestStore_AppendErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		entries map[string]string
		create  bool
	}{
		{name: "missing file", create: false},
		{name: "no admin keys", create: true, entries: map[string]string{}},
		{name: "missing date", create: true, entries: map[string]string{bakonf.KeyVersion: "1"}},
		{name: "missing version", create: true, entries: map[string]string{bakonf.KeyDate: "1705314600"}},
		{name: "wrong version", create: true, entries: map[string]string{bakonf.KeyVersion: "2", bakonf.KeyDate: "1705314600"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "virtuals.db")
			if tt.create {
				writeRawStore(t, path, tt.entries)
			}

			_, err := Open(path, bakonf.ModeAppend, testutil.FixedClock(), bakonf.NewNopLogger())
			var cfgErr *bakonf.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Open() error = %v, want ConfigError", err)
			}
			if cfgErr.Source != path {
				t.Errorf("ConfigError.Source = %q, want %q", cfgErr.Source, path)
			}
		})
	}
}

func TestStore_AppendUnmigratedDatabase(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "virtuals.db")
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatal(err)
	}

	_, err := Open(path, bakonf.ModeAppend, testutil.FixedClock(), bakonf.NewNopLogger())
	var cfgErr *bakonf.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Open() error = %v, want ConfigError", err)
	}
	if !errors.Is(err, migrations.ErrNoSchema) {
		t.Errorf("Open() error = %v, want wrapped ErrNoSchema", err)
	}
}

func TestStore_AgeWarnings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		date     string
		advance  time.Duration
		wantWarn string
	}{
		{name: "fresh", date: "1705314600", advance: 24 * time.Hour},
		{name: "stale", date: "1705314600", advance: 9 * 24 * time.Hour, wantWarn: "database is old"},
		{name: "unparsable", date: "yesterday", wantWarn: "database date is unreadable"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "virtuals.db")
			writeRawStore(t, path, map[string]string{
				bakonf.KeyVersion: bakonf.StoreVersion,
				bakonf.KeyDate:    tt.date,
			})

			clock := testutil.FixedClock()
			clock.Advance(tt.advance)
			logger := testutil.NewRecordingLogger()
			s, err := Open(path, bakonf.ModeAppend, clock, logger)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer s.Close()

			if tt.wantWarn != "" && !logger.HasMessage("WARN", tt.wantWarn) {
				t.Errorf("missing warning %q in log:\n%s", tt.wantWarn, logger)
			}
			if tt.wantWarn == "" {
				for _, e := range logger.Entries() {
					if e.Level == "WARN" {
						t.Errorf("unexpected warning %q", e.Msg)
					}
				}
			}
		})
	}
}

func TestStore_Locked(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "virtuals.db")

	first := newTestStore(t, path, bakonf.ModeRebuild)

	_, err := Open(path, bakonf.ModeRebuild, testutil.FixedClock(), bakonf.NewNopLogger())
	if !errors.Is(err, bakonf.ErrStoreLocked) {
		t.Fatalf("second Open() error = %v, want ErrStoreLocked", err)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	second := newTestStore(t, path, bakonf.ModeAppend)
	if err := second.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := second.Close(); err != nil {
		t.Errorf("second Close() error = %v, want nil", err)
	}
}

func TestStore_SummaryAndFilePaths(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "virtuals.db")

	s := newTestStore(t, path, bakonf.ModeRebuild)
	s.Put(bakonf.FileKey("/etc/passwd"), []byte("a"))
	s.Put(bakonf.FileKey("/etc"), []byte("b"))
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s = newTestStore(t, path, bakonf.ModeAppend)
	defer s.Close()

	sum, err := s.Summary()
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	want := Summary{
		Path:    path,
		Version: bakonf.StoreVersion,
		Created: time.Unix(1705314600, 0),
		Files:   2,
	}
	if !reflect.DeepEqual(sum, want) {
		t.Errorf("Summary() = %+v, want %+v", sum, want)
	}

	paths, err := s.FilePaths()
	if err != nil {
		t.Fatalf("FilePaths() error = %v", err)
	}
	if !reflect.DeepEqual(paths, []string{"/etc", "/etc/passwd"}) {
		t.Errorf("FilePaths() = %v", paths)
	}
}

func TestOpener(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "virtuals.db")

	open := Opener(testutil.FixedClock(), bakonf.NewNopLogger())
	fs, err := open(path, bakonf.ModeRebuild)
	if err != nil {
		t.Fatalf("open() error = %v", err)
	}
	if err := fs.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := open(path, bakonf.StoreMode(7)); err == nil {
		t.Error("open() with unknown mode succeeded")
	}
}
