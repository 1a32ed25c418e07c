package vault

import (
	"fmt"
	"strings"
)

// checkArchiveName rejects names that would escape the vault's namespace.
func checkArchiveName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("invalid archive name %q", name)
	}
	return nil
}
