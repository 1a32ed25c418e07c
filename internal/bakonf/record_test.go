package bakonf_test

import (
	"testing"

	"bakonf-go/internal/bakonf"
	"bakonf-go/internal/testutil"
)

func TestBuildFileRecord(t *testing.T) {
	t.Parallel()

	t.Run("absent from store needs backup", func(t *testing.T) {
		t.Parallel()
		fsmgr := testutil.NewMockFilesystemManager()
		fsmgr.AddFile("/etc/hosts", []byte("abc"))

		rec := bakonf.BuildFileRecord(fsmgr, "/etc/hosts", nil, false, nil)
		if !rec.NeedsBackup() {
			t.Error("NeedsBackup() = false for file missing from store")
		}
		if rec.Path() != "/etc/hosts" {
			t.Errorf("Path() = %q", rec.Path())
		}
	})

	t.Run("unchanged file is skipped", func(t *testing.T) {
		t.Parallel()
		fsmgr := testutil.NewMockFilesystemManager()
		fsmgr.AddFile("/etc/hosts", []byte("abc"))
		value := bakonf.FromDisk(fsmgr, "/etc/hosts", nil).Serialize()

		rec := bakonf.BuildFileRecord(fsmgr, "/etc/hosts", value, true, nil)
		if rec.NeedsBackup() {
			t.Error("NeedsBackup() = true for unchanged file")
		}
	})

	t.Run("undecodable stored value is treated as absent", func(t *testing.T) {
		t.Parallel()
		fsmgr := testutil.NewMockFilesystemManager()
		fsmgr.AddFile("/etc/hosts", []byte("abc"))
		logger := testutil.NewRecordingLogger()

		rec := bakonf.BuildFileRecord(fsmgr, "/etc/hosts", []byte("garbage"), true, logger)
		if !rec.NeedsBackup() {
			t.Error("NeedsBackup() = false for undecodable stored value")
		}
		if !logger.HasMessage("WARN", "discarding stored fingerprint") {
			t.Errorf("expected a warning, got:\n%s", logger)
		}
	})

	t.Run("serialize records the physical state", func(t *testing.T) {
		t.Parallel()
		fsmgr := testutil.NewMockFilesystemManager()
		f := fsmgr.AddFile("/etc/hosts", []byte("abc"))
		old := bakonf.FromDisk(fsmgr, "/etc/hosts", nil).Serialize()
		f.Content = []byte("changed")

		rec := bakonf.BuildFileRecord(fsmgr, "/etc/hosts", old, true, nil)
		v, err := bakonf.DeserializeFingerprint(rec.Serialize())
		if err != nil {
			t.Fatalf("DeserializeFingerprint() error = %v", err)
		}
		if v.Checksum() != testutil.SHA256Hex([]byte("changed")) {
			t.Errorf("serialized checksum = %s, want checksum of new content", v.Checksum())
		}
	})
}
