package testutil

import "github.com/opencontainers/go-digest"

// SHA256Hex returns the SHA-256 checksum of data as a lowercase hex string.
// Matches the checksum format stored in fingerprints.
func SHA256Hex(data []byte) string {
	return digest.SHA256.FromBytes(data).Encoded()
}
