package bakonf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// Version is reported in the archive signature and by the CLI.
const Version = "0.6.0"

// BackupService runs a complete backup: selection, archiving, delivery to the
// vault and, at level 0, recording fingerprints of what was archived.
type BackupService struct {
	fsmgr     FilesystemManager
	openStore StoreOpener
	archiver  Archiver
	vault     Vault
	encryptor Encryptor
	logger    Logger
	clock     Clock
	idgen     IDGenerator
}

// NewBackupService creates a BackupService. encryptor may be nil, in which
// case archives are written in the clear.
func NewBackupService(fsmgr FilesystemManager, openStore StoreOpener, archiver Archiver, vault Vault, encryptor Encryptor, logger Logger, clock Clock, idgen IDGenerator) *BackupService {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &BackupService{
		fsmgr:     fsmgr,
		openStore: openStore,
		archiver:  archiver,
		vault:     vault,
		encryptor: encryptor,
		logger:    logger,
		clock:     clock,
		idgen:     idgen,
	}
}

// RunOptions describes one backup run.
type RunOptions struct {
	Level     int
	Include   []string
	Exclude   []string
	MaxSize   int64
	StorePath string

	// ArchiveName overrides the generated archive name.
	ArchiveName string
	// Hostname is used in the generated archive name and the signature.
	Hostname string
}

// RunStats summarizes a finished run.
type RunStats struct {
	RunID   string
	Archive string
	Level   int

	// Selected lists every path chosen for the archive, directories included.
	Selected []string
	// Archived lists the selected paths that were written successfully.
	Archived []string

	FileCount  int
	FileErrors int
	Oversized  int
	Errors     []PathError
}

// Run performs a backup. Configuration problems (level, exclusion patterns,
// store version) are returned before anything is read from the include list.
// Paths that cannot be read or archived do not fail the run; they are listed
// in the returned stats and in the archive's unarchived files list.
func (s *BackupService) Run(opts RunOptions) (stats *RunStats, err error) {
	mode, err := ModeForLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	matcher, err := NewExcludeMatcher(opts.Exclude)
	if err != nil {
		return nil, err
	}
	if s.encryptor != nil && !s.encryptor.IsConfigured() {
		return nil, NewConfigError("encryption", errors.New("no keys configured, run 'bakonf keys init'"))
	}

	runID := s.idgen.New()
	name := opts.ArchiveName
	if name == "" {
		name = s.archiveName(opts)
	}
	s.logger.Info("backup started", "run", runID, "level", opts.Level, "mode", mode, "archive", name)

	store, err := s.openStore(opts.StorePath, mode)
	if err != nil {
		return nil, fmt.Errorf("opening fingerprint store: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing fingerprint store: %w", cerr)
		}
	}()

	sel := NewSelector(SelectorOptions{
		Include:   opts.Include,
		Exclude:   matcher,
		MaxSize:   opts.MaxSize,
		StorePath: opts.StorePath,
		Mode:      mode,
	}, store, s.fsmgr, s.logger)
	res := sel.Select()

	stats = &RunStats{
		RunID:     runID,
		Archive:   name,
		Level:     opts.Level,
		Selected:  res.Paths,
		Oversized: res.Oversized,
	}
	s.logger.Info("selection complete", "selected", len(res.Paths), "errors", len(res.Errors))

	tmp, err := os.CreateTemp("", "bakonf-archive-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp archive: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	archived, errs, err := s.writeArchive(tmp, res, stats, opts)
	if err != nil {
		return nil, err
	}
	stats.Archived = archived
	stats.Errors = errs
	stats.FileCount = len(archived)
	stats.FileErrors = len(errs)

	if err := s.upload(tmp, name); err != nil {
		return nil, err
	}

	if mode == ModeRebuild {
		for _, p := range archived {
			if err := sel.NotifyArchived(p); err != nil {
				return stats, fmt.Errorf("recording fingerprint of %s: %w", p, err)
			}
		}
	}

	s.logger.Info("backup complete", "archive", name, "files", stats.FileCount, "errors", stats.FileErrors)
	return stats, nil
}

// writeArchive streams the selection into w, through the encryptor when one
// is configured. It returns the paths written and the full error list,
// traversal errors first.
func (s *BackupService) writeArchive(w io.Writer, res *SelectResult, stats *RunStats, opts RunOptions) ([]string, []PathError, error) {
	out := w
	var enc io.WriteCloser
	if s.encryptor != nil {
		var err error
		enc, err = s.encryptor.EncryptWriter(w)
		if err != nil {
			return nil, nil, fmt.Errorf("starting encryption: %w", err)
		}
		out = enc
	}

	aw, err := s.archiver.Create(out)
	if err != nil {
		return nil, nil, fmt.Errorf("creating archive: %w", err)
	}
	if err := aw.AddRoot(); err != nil {
		return nil, nil, fmt.Errorf("writing archive root: %w", err)
	}

	errs := append([]PathError(nil), res.Errors...)
	var archived []string
	for _, p := range res.Paths {
		if err := aw.AddPath(p); err != nil {
			if errors.Is(err, ErrArchiveBroken) {
				return nil, nil, fmt.Errorf("archiving %s: %w", p, err)
			}
			s.logger.Error("cannot archive", "path", p, "error", err)
			errs = append(errs, PathError{Path: p, Reason: reason(err)})
			continue
		}
		archived = append(archived, p)
	}

	if err := aw.AddFile(UnarchivedListName, unarchivedList(errs)); err != nil {
		return nil, nil, fmt.Errorf("writing %s: %w", UnarchivedListName, err)
	}
	if err := aw.AddFile(SignatureName, s.signature(stats, opts, len(archived), len(errs))); err != nil {
		return nil, nil, fmt.Errorf("writing %s: %w", SignatureName, err)
	}
	if err := aw.Close(); err != nil {
		return nil, nil, fmt.Errorf("finishing archive: %w", err)
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return nil, nil, fmt.Errorf("finishing encryption: %w", err)
		}
	}
	return archived, errs, nil
}

func (s *BackupService) upload(f *os.File, name string) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding temp archive: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat temp archive: %w", err)
	}
	if err := s.vault.PutArchive(name, f, info.Size()); err != nil {
		return fmt.Errorf("storing archive %s: %w", name, err)
	}
	s.logger.Info("archive stored", "archive", name, "size", info.Size())
	return nil
}

func (s *BackupService) archiveName(opts RunOptions) string {
	host := opts.Hostname
	if host == "" {
		host = "localhost"
	}
	name := fmt.Sprintf("%s-%s-L%d%s", host, s.clock.Now().Format("2006-01-02"), opts.Level, s.archiver.Extension())
	if s.encryptor != nil {
		name += ".age"
	}
	return name
}

func (s *BackupService) signature(stats *RunStats, opts RunOptions, archived, failed int) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "Archive generated by bakonf-go %s\n", Version)
	fmt.Fprintf(&b, "Host: %s\n", opts.Hostname)
	fmt.Fprintf(&b, "Date: %s\n", s.clock.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Run: %s\n", stats.RunID)
	fmt.Fprintf(&b, "Level: %d\n", stats.Level)
	fmt.Fprintf(&b, "Archived: %d\n", archived)
	fmt.Fprintf(&b, "Unarchived: %d\n", failed)
	return b.Bytes()
}

func unarchivedList(errs []PathError) []byte {
	var b bytes.Buffer
	for _, e := range errs {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	return b.Bytes()
}
