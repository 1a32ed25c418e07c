package bakonf_test

import (
	"errors"
	"io/fs"
	"strings"
	"testing"
	"time"

	"bakonf-go/internal/bakonf"
	"bakonf-go/internal/testutil"
)

// stored returns the virtual fingerprint of path as it is right now.
func stored(t *testing.T, fsmgr *testutil.MockFilesystemManager, path string) *bakonf.Fingerprint {
	t.Helper()
	fp := bakonf.FromDisk(fsmgr, path, nil)
	v, err := bakonf.DeserializeFingerprint(fp.Serialize())
	if err != nil {
		t.Fatalf("DeserializeFingerprint() error = %v", err)
	}
	return v
}

func TestFromDisk(t *testing.T) {
	t.Parallel()

	t.Run("regular file", func(t *testing.T) {
		t.Parallel()
		fsmgr := testutil.NewMockFilesystemManager()
		f := fsmgr.AddFile("/etc/hosts", []byte("127.0.0.1 localhost\n"))
		f.UID, f.GID = 0, 0

		fp := bakonf.FromDisk(fsmgr, "/etc/hosts", nil)
		if fp.IsVirtual() || fp.IsUnreadable() || !fp.IsRegular() {
			t.Fatalf("FromDisk() kind: virtual=%v unreadable=%v regular=%v", fp.IsVirtual(), fp.IsUnreadable(), fp.IsRegular())
		}
		if fp.Size() != 20 || fp.Mode() != 0644 {
			t.Errorf("FromDisk() size=%d mode=%v", fp.Size(), fp.Mode())
		}
		if fp.Checksum() != testutil.SHA256Hex([]byte("127.0.0.1 localhost\n")) {
			t.Errorf("Checksum() = %s", fp.Checksum())
		}
	})

	t.Run("symlink", func(t *testing.T) {
		t.Parallel()
		fsmgr := testutil.NewMockFilesystemManager()
		fsmgr.AddSymlink("/etc/localtime", "/usr/share/zoneinfo/UTC")

		fp := bakonf.FromDisk(fsmgr, "/etc/localtime", nil)
		if !fp.IsSymlink() || fp.LinkTarget() != "/usr/share/zoneinfo/UTC" {
			t.Errorf("FromDisk() symlink=%v target=%q", fp.IsSymlink(), fp.LinkTarget())
		}
		if fp.Checksum() != "" {
			t.Errorf("symlink Checksum() = %q, want empty", fp.Checksum())
		}
		if fsmgr.Opens["/etc/localtime"] != 0 {
			t.Error("symlink was opened")
		}
	})

	t.Run("lstat failure is unreadable", func(t *testing.T) {
		t.Parallel()
		fsmgr := testutil.NewMockFilesystemManager()
		fsmgr.AddFile("/etc/secret", []byte("x"))
		fsmgr.FailLstat("/etc/secret", fs.ErrPermission)

		fp := bakonf.FromDisk(fsmgr, "/etc/secret", nil)
		if !fp.IsUnreadable() || fp.IsRegular() {
			t.Errorf("FromDisk() unreadable=%v regular=%v", fp.IsUnreadable(), fp.IsRegular())
		}
	})

	t.Run("readlink failure is unreadable", func(t *testing.T) {
		t.Parallel()
		fsmgr := testutil.NewMockFilesystemManager()
		fsmgr.AddSymlink("/etc/link", "target")
		fsmgr.FailReadlink("/etc/link", fs.ErrPermission)

		if fp := bakonf.FromDisk(fsmgr, "/etc/link", nil); !fp.IsUnreadable() {
			t.Error("FromDisk() expected unreadable fingerprint")
		}
	})
}

func TestFingerprint_ChecksumComputedOnce(t *testing.T) {
	t.Parallel()
	fsmgr := testutil.NewMockFilesystemManager()
	fsmgr.AddFile("/etc/motd", []byte("hello"))

	fp := bakonf.FromDisk(fsmgr, "/etc/motd", nil)
	first := fp.Checksum()
	second := fp.Checksum()
	if first != second {
		t.Errorf("Checksum() changed between calls: %s, %s", first, second)
	}
	if got := fsmgr.Opens["/etc/motd"]; got != 1 {
		t.Errorf("file opened %d times, want 1", got)
	}
}

func TestFingerprint_ChecksumError(t *testing.T) {
	t.Parallel()
	fsmgr := testutil.NewMockFilesystemManager()
	fsmgr.AddFile("/etc/locked", []byte("data"))
	fsmgr.FailOpen("/etc/locked", fs.ErrPermission)

	fp := bakonf.FromDisk(fsmgr, "/etc/locked", nil)
	if fp.Checksum() != "" {
		t.Errorf("Checksum() = %q, want empty", fp.Checksum())
	}
	if !errors.Is(fp.ChecksumError(), fs.ErrPermission) {
		t.Errorf("ChecksumError() = %v, want permission error", fp.ChecksumError())
	}
}

func TestFingerprint_SerializeFormat(t *testing.T) {
	t.Parallel()
	fsmgr := testutil.NewMockFilesystemManager()
	f := fsmgr.AddFile("/etc/hosts", []byte("abc"))
	f.ModTime = time.Unix(1705314600, 123456789)

	got := string(bakonf.FromDisk(fsmgr, "/etc/hosts", nil).Serialize())
	want := strings.Join([]string{
		"/etc/hosts", "420", "1000", "1000", "3", "1705314600.123456789", "",
		testutil.SHA256Hex([]byte("abc")),
	}, "\x00")
	if got != want {
		t.Errorf("Serialize() = %q, want %q", got, want)
	}
}

func TestDeserializeFingerprint_RoundTrip(t *testing.T) {
	t.Parallel()
	fsmgr := testutil.NewMockFilesystemManager()
	f := fsmgr.AddFile("/etc/hosts", []byte("abc"))
	f.ModTime = time.Unix(1705314600, 5)

	phys := bakonf.FromDisk(fsmgr, "/etc/hosts", nil)
	v, err := bakonf.DeserializeFingerprint(phys.Serialize())
	if err != nil {
		t.Fatalf("DeserializeFingerprint() error = %v", err)
	}
	if !v.IsVirtual() {
		t.Error("decoded fingerprint is not virtual")
	}
	if v.Name() != "/etc/hosts" || v.Size() != 3 || v.Mode() != 0644 || v.UID() != 1000 || v.GID() != 1000 {
		t.Errorf("decoded = name %s size %d mode %v uid %d gid %d", v.Name(), v.Size(), v.Mode(), v.UID(), v.GID())
	}
	if !v.ModTime().Equal(f.ModTime) {
		t.Errorf("ModTime() = %v, want %v", v.ModTime(), f.ModTime)
	}
	if v.Checksum() != phys.Checksum() {
		t.Errorf("Checksum() = %s, want %s", v.Checksum(), phys.Checksum())
	}
}

func TestDeserializeFingerprint_Errors(t *testing.T) {
	t.Parallel()
	valid := []string{"/etc/hosts", "420", "0", "0", "3", "1705314600.000000000", "", testutil.SHA256Hex([]byte("abc"))}

	tests := []struct {
		name   string
		mutate func([]string) []string
	}{
		{"too few fields", func(f []string) []string { return f[:7] }},
		{"too many fields", func(f []string) []string { return append(f, "extra") }},
		{"bad mode", func(f []string) []string { f[1] = "rw-r--r--"; return f }},
		{"mode overflow", func(f []string) []string { f[1] = "4294967296"; return f }},
		{"bad uid", func(f []string) []string { f[2] = "root"; return f }},
		{"bad gid", func(f []string) []string { f[3] = "-x"; return f }},
		{"bad size", func(f []string) []string { f[4] = "3.5"; return f }},
		{"bad mtime", func(f []string) []string { f[5] = "yesterday"; return f }},
		{"bad mtime fraction", func(f []string) []string { f[5] = "1705314600.1234567890"; return f }},
		{"short checksum", func(f []string) []string { f[7] = "abc"; return f }},
		{"uppercase checksum", func(f []string) []string { f[7] = strings.ToUpper(f[7]); return f }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fields := tt.mutate(append([]string(nil), valid...))
			_, err := bakonf.DeserializeFingerprint([]byte(strings.Join(fields, "\x00")))
			if !errors.Is(err, bakonf.ErrDecode) {
				t.Errorf("DeserializeFingerprint() error = %v, want ErrDecode", err)
			}
		})
	}

	t.Run("empty checksum is accepted", func(t *testing.T) {
		t.Parallel()
		fields := append([]string(nil), valid...)
		fields[7] = ""
		if _, err := bakonf.DeserializeFingerprint([]byte(strings.Join(fields, "\x00"))); err != nil {
			t.Errorf("DeserializeFingerprint() error = %v", err)
		}
	})
}

func TestMatches(t *testing.T) {
	t.Parallel()

	t.Run("unchanged regular file", func(t *testing.T) {
		t.Parallel()
		fsmgr := testutil.NewMockFilesystemManager()
		fsmgr.AddFile("/etc/hosts", []byte("abc"))
		v := stored(t, fsmgr, "/etc/hosts")

		if !bakonf.Matches(bakonf.FromDisk(fsmgr, "/etc/hosts", nil), v) {
			t.Error("Matches() = false for unchanged file")
		}
	})

	t.Run("argument order does not matter", func(t *testing.T) {
		t.Parallel()
		fsmgr := testutil.NewMockFilesystemManager()
		fsmgr.AddFile("/etc/hosts", []byte("abc"))
		v := stored(t, fsmgr, "/etc/hosts")

		if !bakonf.Matches(v, bakonf.FromDisk(fsmgr, "/etc/hosts", nil)) {
			t.Error("Matches(virtual, physical) = false for unchanged file")
		}
	})

	t.Run("metadata changes alone do not matter for files", func(t *testing.T) {
		t.Parallel()
		fsmgr := testutil.NewMockFilesystemManager()
		f := fsmgr.AddFile("/etc/hosts", []byte("abc"))
		v := stored(t, fsmgr, "/etc/hosts")
		f.ModTime = f.ModTime.Add(time.Hour)
		f.Permissions = 0600
		f.UID = 0

		if !bakonf.Matches(bakonf.FromDisk(fsmgr, "/etc/hosts", nil), v) {
			t.Error("Matches() = false after metadata-only change")
		}
	})

	t.Run("size change skips hashing", func(t *testing.T) {
		t.Parallel()
		fsmgr := testutil.NewMockFilesystemManager()
		f := fsmgr.AddFile("/etc/hosts", []byte("abc"))
		v := stored(t, fsmgr, "/etc/hosts")
		f.Content = []byte("abcd")
		opens := fsmgr.Opens["/etc/hosts"]

		if bakonf.Matches(bakonf.FromDisk(fsmgr, "/etc/hosts", nil), v) {
			t.Error("Matches() = true after size change")
		}
		if fsmgr.Opens["/etc/hosts"] != opens {
			t.Error("file was hashed although sizes differ")
		}
	})

	t.Run("same size different content", func(t *testing.T) {
		t.Parallel()
		fsmgr := testutil.NewMockFilesystemManager()
		f := fsmgr.AddFile("/etc/hosts", []byte("abc"))
		v := stored(t, fsmgr, "/etc/hosts")
		f.Content = []byte("xyz")

		if bakonf.Matches(bakonf.FromDisk(fsmgr, "/etc/hosts", nil), v) {
			t.Error("Matches() = true after content change")
		}
	})

	t.Run("checksum failure never matches", func(t *testing.T) {
		t.Parallel()
		fsmgr := testutil.NewMockFilesystemManager()
		fsmgr.AddFile("/etc/hosts", []byte(""))
		v := stored(t, fsmgr, "/etc/hosts")
		fsmgr.FailOpen("/etc/hosts", fs.ErrPermission)

		if bakonf.Matches(bakonf.FromDisk(fsmgr, "/etc/hosts", nil), v) {
			t.Error("Matches() = true although the file could not be read")
		}
	})

	t.Run("symlink target change", func(t *testing.T) {
		t.Parallel()
		fsmgr := testutil.NewMockFilesystemManager()
		l := fsmgr.AddSymlink("/etc/localtime", "/usr/share/zoneinfo/UTC")
		v := stored(t, fsmgr, "/etc/localtime")

		if !bakonf.Matches(bakonf.FromDisk(fsmgr, "/etc/localtime", nil), v) {
			t.Fatal("Matches() = false for unchanged symlink")
		}
		l.LinkTarget = "/usr/share/zoneinfo/CET"
		if bakonf.Matches(bakonf.FromDisk(fsmgr, "/etc/localtime", nil), v) {
			t.Error("Matches() = true after target change")
		}
	})

	t.Run("symlink ownership change", func(t *testing.T) {
		t.Parallel()
		fsmgr := testutil.NewMockFilesystemManager()
		l := fsmgr.AddSymlink("/etc/localtime", "/usr/share/zoneinfo/UTC")
		v := stored(t, fsmgr, "/etc/localtime")
		l.GID = 0

		if bakonf.Matches(bakonf.FromDisk(fsmgr, "/etc/localtime", nil), v) {
			t.Error("Matches() = true after group change")
		}
	})

	t.Run("type changes", func(t *testing.T) {
		t.Parallel()
		fsmgr := testutil.NewMockFilesystemManager()
		fsmgr.AddFile("/etc/a", []byte("abc"))
		fsmgr.AddSymlink("/etc/b", "abc")
		va := stored(t, fsmgr, "/etc/a")
		vb := stored(t, fsmgr, "/etc/b")

		fsmgr.AddSymlink("/etc/a", "abc")
		fsmgr.AddFile("/etc/b", []byte("abc"))
		if bakonf.Matches(bakonf.FromDisk(fsmgr, "/etc/a", nil), va) {
			t.Error("Matches() = true for file replaced by symlink")
		}
		if bakonf.Matches(bakonf.FromDisk(fsmgr, "/etc/b", nil), vb) {
			t.Error("Matches() = true for symlink replaced by file")
		}
	})

	t.Run("unreadable never matches", func(t *testing.T) {
		t.Parallel()
		fsmgr := testutil.NewMockFilesystemManager()
		fsmgr.AddFile("/etc/hosts", []byte("abc"))
		v := stored(t, fsmgr, "/etc/hosts")
		fsmgr.FailLstat("/etc/hosts", fs.ErrPermission)

		if bakonf.Matches(bakonf.FromDisk(fsmgr, "/etc/hosts", nil), v) {
			t.Error("Matches() = true for unreadable file")
		}
	})

	t.Run("two physical fingerprints panic", func(t *testing.T) {
		t.Parallel()
		fsmgr := testutil.NewMockFilesystemManager()
		fsmgr.AddFile("/etc/hosts", []byte("abc"))
		a := bakonf.FromDisk(fsmgr, "/etc/hosts", nil)
		b := bakonf.FromDisk(fsmgr, "/etc/hosts", nil)

		defer func() {
			if recover() == nil {
				t.Error("Matches() did not panic")
			}
		}()
		bakonf.Matches(a, b)
	})
}
