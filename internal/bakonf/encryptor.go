package bakonf

import "io"

// Encryptor wraps archive streams in encryption. Encrypting only needs the
// public key; decrypting requires unlocking the private key with a passphrase.
type Encryptor interface {
	// Setup generates a new key pair protected by passphrase.
	Setup(passphrase string) error

	// EncryptWriter returns a writer that encrypts into w. The returned
	// writer must be closed to flush the final chunk.
	EncryptWriter(w io.Writer) (io.WriteCloser, error)

	// Unlock decrypts the private key and returns a context for decryption.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether keys exist for this encryptor.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
