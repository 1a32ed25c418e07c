package fs

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"syscall"
	"testing"
)

func TestOSFilesystemManager_Lstat(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	link := filepath.Join(dir, "link")
	if err := os.WriteFile(target, []byte("data"), 0640); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}

	m := NewOSFilesystemManager()

	info, err := m.Lstat(link)
	if err != nil {
		t.Fatalf("Lstat() error = %v", err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Errorf("Lstat() mode = %v, want symlink", info.Mode())
	}

	got, err := m.Readlink(link)
	if err != nil {
		t.Fatalf("Readlink() error = %v", err)
	}
	if got != target {
		t.Errorf("Readlink() = %q, want %q", got, target)
	}

	sd, err := m.ExtractStatData(info)
	if err != nil {
		t.Fatalf("ExtractStatData() error = %v", err)
	}
	if sd.UID != int64(os.Getuid()) {
		t.Errorf("UID = %d, want %d", sd.UID, os.Getuid())
	}
}

func TestOSFilesystemManager_Open(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, []byte("content"), 0644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "link")
	if err := os.Symlink(file, link); err != nil {
		t.Fatal(err)
	}

	m := NewOSFilesystemManager()

	t.Run("reads regular file", func(t *testing.T) {
		r, err := m.Open(file)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer r.Close()
		data, _ := io.ReadAll(r)
		if string(data) != "content" {
			t.Errorf("Open() content = %q, want %q", data, "content")
		}
	})

	t.Run("does not follow symlinks", func(t *testing.T) {
		r, err := m.Open(link)
		if err == nil {
			r.Close()
			t.Fatal("Open() of symlink expected error")
		}
		if !errors.Is(err, syscall.ELOOP) {
			t.Logf("Open() error = %v", err)
		}
	})

	t.Run("refuses directories", func(t *testing.T) {
		if _, err := m.Open(dir); err == nil {
			t.Fatal("Open() of directory expected error")
		}
	})

	t.Run("refuses fifos without blocking", func(t *testing.T) {
		fifo := filepath.Join(dir, "fifo")
		if err := syscall.Mkfifo(fifo, 0600); err != nil {
			t.Skipf("mkfifo: %v", err)
		}
		if _, err := m.Open(fifo); err == nil {
			t.Fatal("Open() of fifo expected error")
		}
	})
}

func TestOSFilesystemManager_ReadDir(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"c", "a", "b"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}

	m := NewOSFilesystemManager()
	names, err := m.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(names, want) {
		t.Errorf("ReadDir() = %v, want %v", names, want)
	}

	if _, err := m.ReadDir(filepath.Join(dir, "missing")); err == nil {
		t.Error("ReadDir() of missing directory expected error")
	}
}
