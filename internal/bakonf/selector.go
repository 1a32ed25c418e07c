package bakonf

import (
	"path/filepath"
)

// SelectorOptions configures a traversal.
type SelectorOptions struct {
	// Include lists the absolute paths to scan, in order.
	Include []string
	// Exclude is the compiled exclusion list. A nil matcher excludes nothing.
	Exclude *ExcludeMatcher
	// MaxSize is the largest file size selected, in bytes. Zero or less
	// disables the limit.
	MaxSize int64
	// StorePath is the fingerprint store location; it and its side files are
	// never selected.
	StorePath string
	// Mode is the mode the store was opened in.
	Mode StoreMode
}

// SelectResult is the outcome of a traversal.
type SelectResult struct {
	// Paths holds the selected files, each preceded by its ancestor directories.
	Paths []string
	// Errors holds the paths that could not be examined.
	Errors []PathError
	// Oversized counts files skipped by the size limit.
	Oversized int
}

// Selector walks the include list, compares every file against the store and
// decides which paths go into the archive.
type Selector struct {
	opts   SelectorOptions
	store  FingerprintStore
	fsmgr  FilesystemManager
	logger Logger

	visited   map[string]struct{}
	selected  *selection
	records   map[string]*FileRecord
	errors    []PathError
	oversized int
}

func NewSelector(opts SelectorOptions, store FingerprintStore, fsmgr FilesystemManager, logger Logger) *Selector {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &Selector{
		opts:     opts,
		store:    store,
		fsmgr:    fsmgr,
		logger:   logger,
		visited:  make(map[string]struct{}),
		selected: newSelection(),
		records:  make(map[string]*FileRecord),
	}
}

// Select scans every include entry and returns the selection. Individual
// stat and directory read failures are recorded in the result and the scan
// continues.
func (s *Selector) Select() *SelectResult {
	for _, item := range s.opts.Include {
		if s.isExcluded(item) || s.isVisited(item) {
			continue
		}
		info, err := s.fsmgr.Lstat(item)
		if err != nil {
			s.recordError(item, err)
			continue
		}
		if info.IsDir() {
			s.walk(item)
			continue
		}
		s.selectFile(item, info.Size())
	}

	return &SelectResult{
		Paths:     s.selected.paths(),
		Errors:    append([]PathError(nil), s.errors...),
		Oversized: s.oversized,
	}
}

// walk traverses the tree under root depth-first in lexical order. Excluded
// entries are pruned before they are read.
func (s *Selector) walk(root string) {
	stack := []string{root}
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if s.isVisited(dir) {
			continue
		}
		s.visited[dir] = struct{}{}

		names, err := s.fsmgr.ReadDir(dir)
		if err != nil {
			s.recordError(dir, err)
			continue
		}

		var subdirs []string
		for _, name := range names {
			p := filepath.Join(dir, name)
			if s.isExcluded(p) {
				continue
			}
			info, err := s.fsmgr.Lstat(p)
			if err != nil {
				s.recordError(p, err)
				continue
			}
			if info.IsDir() {
				subdirs = append(subdirs, p)
				continue
			}
			s.selectFile(p, info.Size())
		}

		for i := len(subdirs) - 1; i >= 0; i-- {
			stack = append(stack, subdirs[i])
		}
	}
}

func (s *Selector) selectFile(path string, size int64) {
	if s.isVisited(path) || s.isExcluded(path) {
		return
	}
	s.visited[path] = struct{}{}

	if s.opts.MaxSize > 0 && size > s.opts.MaxSize {
		s.logger.Warn("skipping file over size limit", "path", path, "size", size, "maxsize", s.opts.MaxSize)
		s.oversized++
		return
	}

	stored, found, err := s.store.Get(FileKey(path))
	if err != nil {
		s.logger.Warn("cannot read stored fingerprint", "path", path, "error", err)
		found = false
	}

	rec := BuildFileRecord(s.fsmgr, path, stored, found, s.logger)
	if !rec.NeedsBackup() {
		s.logger.Debug("unchanged", "path", path)
		return
	}
	if s.opts.Mode == ModeRebuild {
		// The recorded checksum must not describe content newer than the
		// archived copy, so hash before the archive reads the file.
		rec.Physical().Checksum()
	}
	s.records[path] = rec
	s.selected.add(path)
}

// NotifyArchived tells the selector that path was written to the archive.
// In Rebuild mode the physical fingerprint of a selected file is persisted;
// directories, unknown paths and unreadable files are ignored.
func (s *Selector) NotifyArchived(path string) error {
	if s.opts.Mode != ModeRebuild {
		return nil
	}
	rec, ok := s.records[path]
	if !ok {
		return nil
	}
	if rec.Physical().IsUnreadable() || rec.Physical().ChecksumError() != nil {
		s.logger.Debug("not recording unreadable file", "path", path)
		return nil
	}
	return s.store.Put(FileKey(path), rec.Serialize())
}

func (s *Selector) isExcluded(path string) bool {
	return isStoreFile(s.opts.StorePath, path) || s.opts.Exclude.Match(path)
}

func (s *Selector) isVisited(path string) bool {
	_, ok := s.visited[path]
	return ok
}

func (s *Selector) recordError(path string, err error) {
	s.logger.Warn("cannot read", "path", path, "error", err)
	s.errors = append(s.errors, PathError{Path: path, Reason: reason(err)})
}
