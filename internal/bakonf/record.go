package bakonf

// FileRecord pairs the on-disk state of a path with its stored state and
// holds the backup decision, which is made exactly once at construction.
type FileRecord struct {
	path        string
	physical    *Fingerprint
	virtual     *Fingerprint
	needsBackup bool
}

// BuildFileRecord reads the physical fingerprint of path and decodes the
// stored fingerprint when found is true. A stored value that fails to decode
// is logged and treated as absent, so the file is backed up again.
func BuildFileRecord(fsmgr FilesystemManager, path string, stored []byte, found bool, logger Logger) *FileRecord {
	if logger == nil {
		logger = NewNopLogger()
	}

	rec := &FileRecord{
		path:     path,
		physical: FromDisk(fsmgr, path, logger),
	}

	if found {
		virtual, err := DeserializeFingerprint(stored)
		if err != nil {
			logger.Warn("discarding stored fingerprint", "path", path, "error", err)
		} else {
			rec.virtual = virtual
		}
	}

	rec.needsBackup = rec.virtual == nil || !Matches(rec.physical, rec.virtual)
	return rec
}

func (r *FileRecord) Path() string { return r.path }

// NeedsBackup reports whether the file changed since it was last recorded.
func (r *FileRecord) NeedsBackup() bool { return r.needsBackup }

// Physical returns the fingerprint read from disk.
func (r *FileRecord) Physical() *Fingerprint { return r.physical }

// Serialize encodes the physical fingerprint for the store.
func (r *FileRecord) Serialize() []byte { return r.physical.Serialize() }
