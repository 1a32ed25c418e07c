package testutil

import (
	"bakonf-go/internal/encryption"
)

// NewTestEncryptor creates a configured test encryptor.
func NewTestEncryptor() *encryption.TestEncryptor {
	enc := encryption.NewTestEncryptor()
	enc.Setup("test")
	return enc
}
