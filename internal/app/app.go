package app

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"bakonf-go/internal/archive"
	"bakonf-go/internal/bakonf"
	"bakonf-go/internal/config"
	"bakonf-go/internal/encryption"
	"bakonf-go/internal/fs"
	"bakonf-go/internal/state"
	"bakonf-go/internal/vault"
)

// ErrNoEncryption is returned by key and decryption operations when the
// config disables encryption.
var ErrNoEncryption = errors.New("encryption is disabled in the configuration")

// Options adjusts how an App reports progress.
type Options struct {
	// Verbose sends INFO and DEBUG messages to the console as well.
	Verbose bool
	// Stderr receives console log output. Defaults to os.Stderr.
	Stderr io.Writer
}

// App is the application layer between the CLI and BackupService.
// It constructs all dependencies from config, exposes high-level operations,
// and releases the log file on Close.
type App struct {
	cfg       *config.Config
	vault     bakonf.Vault
	encryptor bakonf.Encryptor
	service   *bakonf.BackupService
	logger    bakonf.Logger
	clock     bakonf.Clock
	op        *Operation
	logFile   *os.File
}

// NewApp creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "Backup", "ListArchives").
// The caller must call Close when done.
func NewApp(cfg *config.Config, operation string, opts Options) (*App, error) {
	fsmgr := fs.NewOSFilesystemManager()
	clock := bakonf.RealClock{}

	v, err := vault.NewVaultFromConfig(cfg.Output)
	if err != nil {
		return nil, fmt.Errorf("creating output: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	op := NewOperation(operation, clock.Now())
	slogger, logFile, err := newLogger(cfg.LogDir, op.ID, opts.Verbose, stderr)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	archiver := archive.NewTarArchiver(fsmgr, clock, cfg.Compress)
	svc := bakonf.NewBackupService(fsmgr, state.Opener(clock, logger), archiver, v, enc, logger, clock, bakonf.UUIDGenerator{})

	logger.Debug("operation started", "operation", operation)
	return &App{
		cfg:       cfg,
		vault:     v,
		encryptor: enc,
		service:   svc,
		logger:    logger,
		clock:     clock,
		op:        op,
		logFile:   logFile,
	}, nil
}

// Backup runs a backup at the given level. archiveName overrides the
// generated archive name when non-empty.
func (a *App) Backup(level int, archiveName string) (*bakonf.RunStats, error) {
	a.op.Parameters = strings.Join([]string{"level=" + strconv.Itoa(level), "archive=" + archiveName}, " ")

	if err := a.vault.ValidateSetup(); err != nil {
		return nil, a.op.Fail(fmt.Errorf("output not usable: %w", err))
	}

	hostname := a.cfg.Hostname
	if hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			return nil, a.op.Fail(fmt.Errorf("determining hostname: %w", err))
		}
		hostname = h
	}

	stats, err := a.service.Run(bakonf.RunOptions{
		Level:       level,
		Include:     a.cfg.Include,
		Exclude:     a.cfg.Exclude,
		MaxSize:     a.cfg.MaxSize,
		StorePath:   a.cfg.Database,
		ArchiveName: archiveName,
		Hostname:    hostname,
	})
	return stats, a.op.Fail(err)
}

// ListArchives returns the archives held by the configured output.
func (a *App) ListArchives() ([]bakonf.ArchiveInfo, error) {
	infos, err := a.vault.ListArchives()
	return infos, a.op.Fail(err)
}

// StoreSummary opens the fingerprint store read-only and describes it.
// When withFiles is set the recorded paths are returned as well.
func (a *App) StoreSummary(withFiles bool) (state.Summary, []string, error) {
	st, err := state.Open(a.cfg.Database, bakonf.ModeAppend, a.clock, a.logger)
	if err != nil {
		return state.Summary{}, nil, a.op.Fail(err)
	}
	defer st.Close()

	sum, err := st.Summary()
	if err != nil {
		return state.Summary{}, nil, a.op.Fail(err)
	}
	if !withFiles {
		return sum, nil, nil
	}
	paths, err := st.FilePaths()
	return sum, paths, a.op.Fail(err)
}

// EncryptionEnabled reports whether archives are encrypted.
func (a *App) EncryptionEnabled() bool {
	return a.encryptor != nil
}

// InitKeys generates the encryption key pair protected by passphrase.
func (a *App) InitKeys(passphrase string) error {
	if a.encryptor == nil {
		return a.op.Fail(ErrNoEncryption)
	}
	if err := a.encryptor.Setup(passphrase); err != nil {
		return a.op.Fail(fmt.Errorf("setting up keys: %w", err))
	}
	a.logger.Info("encryption keys created", "public_key", a.cfg.Encryption.PublicKeyPath)
	return nil
}

// Decrypt decrypts an archive read from r into w.
func (a *App) Decrypt(r io.Reader, w io.Writer, passphrase string) error {
	if a.encryptor == nil {
		return a.op.Fail(ErrNoEncryption)
	}
	dc, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return a.op.Fail(fmt.Errorf("unlocking private key: %w", err))
	}
	return a.op.Fail(dc.Decrypt(r, w))
}

// Contents calls fn for every member of the archive file at path. Encrypted
// archives (".age") are decrypted with passphrase first.
func (a *App) Contents(path string, passphrase string, fn func(hdr *tar.Header) error) error {
	f, err := os.Open(path)
	if err != nil {
		return a.op.Fail(err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".age") {
		if a.encryptor == nil {
			return a.op.Fail(ErrNoEncryption)
		}
		dc, err := a.encryptor.Unlock(passphrase)
		if err != nil {
			return a.op.Fail(fmt.Errorf("unlocking private key: %w", err))
		}
		pr, pw := io.Pipe()
		go func() {
			pw.CloseWithError(dc.Decrypt(f, pw))
		}()
		defer pr.Close()
		r = pr
	}

	err = archive.Walk(r, archive.IsCompressed(path), func(hdr *tar.Header, _ io.Reader) error {
		return fn(hdr)
	})
	return a.op.Fail(err)
}

// Close logs the outcome of the operation and closes the log file.
func (a *App) Close() error {
	a.logger.Debug("operation finished",
		"operation", a.op.Name,
		"status", a.op.Status,
		"duration", a.clock.Now().Sub(a.op.StartedAt).String())

	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil {
			return fmt.Errorf("closing log file: %w", err)
		}
	}
	return nil
}
