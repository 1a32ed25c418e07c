package vault

import (
	"strings"
	"testing"
)

func TestMemoryVault_PutArchive(t *testing.T) {
	vault := NewMemoryVault("test-vault")

	tests := []struct {
		name    string
		archive string
		content string
		size    int64
		wantErr bool
	}{
		{name: "store archive", archive: "host-2024-01-15-L0.tar", content: "tar data", size: 8},
		{name: "store empty archive", archive: "empty.tar", content: "", size: 0},
		{name: "store large archive", archive: "large.tar", content: strings.Repeat("x", 10000), size: 10000},
		{name: "size mismatch", archive: "short.tar", content: "abc", size: 10, wantErr: true},
		{name: "name with slash", archive: "../escape.tar", content: "x", size: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := vault.PutArchive(tt.archive, strings.NewReader(tt.content), tt.size)
			if (err != nil) != tt.wantErr {
				t.Fatalf("PutArchive() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if _, ok := vault.Archive(tt.archive); ok {
					t.Error("failed PutArchive() stored the archive")
				}
				return
			}

			got, ok := vault.Archive(tt.archive)
			if !ok {
				t.Fatal("Archive() not found after PutArchive()")
			}
			if string(got) != tt.content {
				t.Errorf("Archive() = %d bytes, want %d", len(got), len(tt.content))
			}
		})
	}
}

func TestMemoryVault_ListArchives(t *testing.T) {
	vault := NewMemoryVault("test-vault")
	for _, name := range []string{"b.tar", "a.tar", "c.tar"} {
		if err := vault.PutArchive(name, strings.NewReader(name), int64(len(name))); err != nil {
			t.Fatalf("PutArchive() error = %v", err)
		}
	}

	infos, err := vault.ListArchives()
	if err != nil {
		t.Fatalf("ListArchives() error = %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("len(ListArchives()) = %d, want 3", len(infos))
	}
	for i, want := range []string{"a.tar", "b.tar", "c.tar"} {
		if infos[i].Name != want {
			t.Errorf("infos[%d].Name = %q, want %q", i, infos[i].Name, want)
		}
		if infos[i].Size != 5 {
			t.Errorf("infos[%d].Size = %d, want 5", i, infos[i].Size)
		}
	}
}

func TestMemoryVault_ValidateSetup(t *testing.T) {
	if err := NewMemoryVault("v").ValidateSetup(); err != nil {
		t.Errorf("ValidateSetup() error = %v", err)
	}
}
