package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"filippo.io/age"

	"bakonf-go/internal/bakonf"
	"bakonf-go/internal/config"
)

// AgeEncryptor encrypts backup archives as a single age stream addressed to
// an X25519 recipient. The recipient file is plain text so unattended backups
// need no passphrase; the matching identity is itself an age file sealed with
// a scrypt passphrase and is only opened to decrypt or list archives.
type AgeEncryptor struct {
	recipientPath string
	identityPath  string
}

var _ bakonf.Encryptor = (*AgeEncryptor)(nil)

// NewAgeEncryptor creates an AgeEncryptor for the key files named in cfg.
func NewAgeEncryptor(cfg config.EncryptionConfig) *AgeEncryptor {
	return &AgeEncryptor{
		recipientPath: cfg.PublicKeyPath,
		identityPath:  cfg.PrivateKeyPath,
	}
}

// Setup creates the archive key pair. It refuses to replace existing keys:
// archives already written to the old recipient need the old identity.
// The sealed identity is written first, so a failed setup never leaves a
// recipient without its identity.
func (e *AgeEncryptor) Setup(passphrase string) error {
	if e.IsConfigured() {
		return fmt.Errorf("keys already exist at %s", e.recipientPath)
	}
	if passphrase == "" {
		return errors.New("empty passphrase")
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}
	stamp := time.Now().UTC().Format(time.RFC3339)

	var sealed bytes.Buffer
	if err := sealIdentity(&sealed, identity, passphrase, stamp); err != nil {
		return err
	}
	if err := writeKeyFile(e.identityPath, sealed.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}

	recipient := fmt.Sprintf("# bakonf archive recipient, created %s\n%s\n", stamp, identity.Recipient())
	if err := writeKeyFile(e.recipientPath, []byte(recipient), 0644); err != nil {
		os.Remove(e.identityPath)
		return fmt.Errorf("writing public key: %w", err)
	}
	return nil
}

// sealIdentity writes identity to w, encrypted with passphrase.
func sealIdentity(w io.Writer, identity *age.X25519Identity, passphrase, stamp string) error {
	scrypt, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}
	ew, err := age.Encrypt(w, scrypt)
	if err != nil {
		return fmt.Errorf("sealing private key: %w", err)
	}
	if _, err := fmt.Fprintf(ew, "# bakonf archive identity, created %s\n%s\n", stamp, identity); err != nil {
		return fmt.Errorf("sealing private key: %w", err)
	}
	if err := ew.Close(); err != nil {
		return fmt.Errorf("sealing private key: %w", err)
	}
	return nil
}

// writeKeyFile creates path with data, failing if it already exists.
func writeKeyFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// EncryptWriter starts an age stream over w for the archive being written.
// Closing the returned writer finishes the stream but leaves w open.
func (e *AgeEncryptor) EncryptWriter(w io.Writer) (io.WriteCloser, error) {
	recipient, err := e.recipient()
	if err != nil {
		return nil, err
	}
	ew, err := age.Encrypt(w, recipient)
	if err != nil {
		return nil, fmt.Errorf("starting archive encryption: %w", err)
	}
	return ew, nil
}

// Unlock opens the sealed identity with passphrase.
func (e *AgeEncryptor) Unlock(passphrase string) (bakonf.DecryptionContext, error) {
	f, err := os.Open(e.identityPath)
	if err != nil {
		return nil, fmt.Errorf("opening private key: %w", err)
	}
	defer f.Close()

	scrypt, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}
	r, err := age.Decrypt(f, scrypt)
	if err != nil {
		return nil, fmt.Errorf("unsealing private key: %w", err)
	}
	identities, err := age.ParseIdentities(r)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if len(identities) != 1 {
		return nil, fmt.Errorf("private key holds %d identities, want 1", len(identities))
	}
	return &AgeDecryptionContext{identity: identities[0]}, nil
}

// IsConfigured reports whether both key files exist.
func (e *AgeEncryptor) IsConfigured() bool {
	for _, p := range []string{e.recipientPath, e.identityPath} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func (e *AgeEncryptor) recipient() (age.Recipient, error) {
	f, err := os.Open(e.recipientPath)
	if err != nil {
		return nil, fmt.Errorf("opening public key: %w", err)
	}
	defer f.Close()

	recipients, err := age.ParseRecipients(f)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	if len(recipients) != 1 {
		return nil, fmt.Errorf("public key file holds %d recipients, want 1", len(recipients))
	}
	return recipients[0], nil
}

// AgeDecryptionContext decrypts archives with an unlocked identity.
type AgeDecryptionContext struct {
	identity age.Identity
}

var _ bakonf.DecryptionContext = (*AgeDecryptionContext)(nil)

// Decrypt writes the plaintext archive read from r to w.
func (c *AgeDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	dr, err := age.Decrypt(r, c.identity)
	if err != nil {
		return fmt.Errorf("opening encrypted archive: %w", err)
	}
	if _, err := io.Copy(w, dr); err != nil {
		return fmt.Errorf("decrypting archive: %w", err)
	}
	return nil
}
