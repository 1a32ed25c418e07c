package bakonf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
)

// checksumChunkSize is the read size used while hashing file contents.
const checksumChunkSize = 64 * 1024

// fieldSeparator separates the fields of a serialized fingerprint.
const fieldSeparator = "\x00"

// fingerprintFields is the number of fields in a serialized fingerprint.
const fingerprintFields = 8

// Fingerprint captures the metadata (and lazily the content hash) of a
// filesystem entry. A physical fingerprint is read from disk; a virtual one
// is decoded from the fingerprint store. Physical fingerprints whose lstat
// failed are unreadable and never compare equal to anything.
type Fingerprint struct {
	name       string
	mode       fs.FileMode
	uid        int64
	gid        int64
	size       int64
	mtime      time.Time
	linkTarget string

	virtual    bool
	unreadable bool

	// checksum state. For virtual fingerprints checksum is the stored value
	// and hashed is always true.
	checksum string
	hashed   bool
	hashErr  error

	fsmgr  FilesystemManager
	logger Logger
}

// FromDisk builds the physical fingerprint of path. It never follows
// symlinks. Any stat or readlink failure is logged and yields an unreadable
// fingerprint.
func FromDisk(fsmgr FilesystemManager, path string, logger Logger) *Fingerprint {
	if logger == nil {
		logger = NewNopLogger()
	}

	info, err := fsmgr.Lstat(path)
	if err != nil {
		logger.Error("cannot stat file", "path", path, "error", err)
		return &Fingerprint{name: path, unreadable: true}
	}

	fp := &Fingerprint{
		name:   path,
		mode:   info.Mode(),
		size:   info.Size(),
		mtime:  info.ModTime(),
		fsmgr:  fsmgr,
		logger: logger,
	}

	if sd, err := fsmgr.ExtractStatData(info); err == nil {
		fp.uid = sd.UID
		fp.gid = sd.GID
	} else {
		logger.Warn("cannot read ownership", "path", path, "error", err)
	}

	if fp.mode&fs.ModeSymlink != 0 {
		target, err := fsmgr.Readlink(path)
		if err != nil {
			logger.Error("cannot read link", "path", path, "error", err)
			return &Fingerprint{name: path, unreadable: true}
		}
		fp.linkTarget = target
	}

	return fp
}

// DeserializeFingerprint decodes a stored fingerprint into a virtual one.
// Malformed input returns an error wrapping ErrDecode.
func DeserializeFingerprint(data []byte) (*Fingerprint, error) {
	fields := strings.Split(string(data), fieldSeparator)
	if len(fields) != fingerprintFields {
		return nil, fmt.Errorf("%w: expected %d fields, got %d", ErrDecode, fingerprintFields, len(fields))
	}

	mode, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: mode: %v", ErrDecode, err)
	}
	uid, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: uid: %v", ErrDecode, err)
	}
	gid, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: gid: %v", ErrDecode, err)
	}
	size, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: size: %v", ErrDecode, err)
	}
	mtime, err := parseTimestamp(fields[5])
	if err != nil {
		return nil, fmt.Errorf("%w: mtime: %v", ErrDecode, err)
	}
	checksum := fields[7]
	if checksum != "" {
		if err := digest.SHA256.Validate(checksum); err != nil {
			return nil, fmt.Errorf("%w: checksum: %v", ErrDecode, err)
		}
	}

	return &Fingerprint{
		name:       fields[0],
		mode:       fs.FileMode(mode),
		uid:        uid,
		gid:        gid,
		size:       size,
		mtime:      mtime,
		linkTarget: fields[6],
		virtual:    true,
		checksum:   checksum,
		hashed:     true,
	}, nil
}

// Serialize encodes the fingerprint for storage. The checksum of a physical
// regular file is computed if it has not been already.
func (f *Fingerprint) Serialize() []byte {
	var buf bytes.Buffer
	fields := []string{
		f.name,
		strconv.FormatUint(uint64(uint32(f.mode)), 10),
		strconv.FormatInt(f.uid, 10),
		strconv.FormatInt(f.gid, 10),
		strconv.FormatInt(f.size, 10),
		formatTimestamp(f.mtime),
		f.linkTarget,
		f.Checksum(),
	}
	for i, field := range fields {
		if i > 0 {
			buf.WriteString(fieldSeparator)
		}
		buf.WriteString(field)
	}
	return buf.Bytes()
}

// Checksum returns the lowercase hex SHA-256 of the file contents. It is
// computed at most once for physical regular files and is empty for every
// other kind of entry or when reading the contents failed.
func (f *Fingerprint) Checksum() string {
	if f.hashed {
		return f.checksum
	}
	f.hashed = true
	if f.unreadable || !f.mode.IsRegular() {
		return ""
	}

	sum, err := f.computeChecksum()
	if err != nil {
		f.hashErr = err
		f.logger.Error("cannot checksum file", "path", f.name, "error", err)
		return ""
	}
	f.checksum = sum
	return sum
}

func (f *Fingerprint) computeChecksum() (string, error) {
	r, err := f.fsmgr.Open(f.name)
	if err != nil {
		return "", fmt.Errorf("opening file: %w", err)
	}
	defer r.Close()

	digester := digest.SHA256.Digester()
	h := digester.Hash()
	buf := make([]byte, checksumChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("reading file: %w", err)
		}
	}
	return digester.Digest().Encoded(), nil
}

// ChecksumError returns the error from the last checksum attempt, if any.
func (f *Fingerprint) ChecksumError() error { return f.hashErr }

func (f *Fingerprint) Name() string       { return f.name }
func (f *Fingerprint) Mode() fs.FileMode  { return f.mode }
func (f *Fingerprint) UID() int64         { return f.uid }
func (f *Fingerprint) GID() int64         { return f.gid }
func (f *Fingerprint) Size() int64        { return f.size }
func (f *Fingerprint) ModTime() time.Time { return f.mtime }
func (f *Fingerprint) LinkTarget() string { return f.linkTarget }
func (f *Fingerprint) IsVirtual() bool    { return f.virtual }
func (f *Fingerprint) IsUnreadable() bool { return f.unreadable }
func (f *Fingerprint) IsRegular() bool    { return !f.unreadable && f.mode.IsRegular() }
func (f *Fingerprint) IsSymlink() bool    { return !f.unreadable && f.mode&fs.ModeSymlink != 0 }

// Matches reports whether a physical fingerprint is unchanged relative to a
// virtual one. Exactly one argument must be virtual; anything else is a
// programming error and panics.
//
// Symlinks match on target, ownership and permission bits. Regular files
// match on size and content checksum, with size compared first so that files
// of different sizes are never hashed. Unreadable entries, type mismatches and
// all other entry kinds never match.
func Matches(a, b *Fingerprint) bool {
	if a.virtual == b.virtual {
		panic(fmt.Sprintf("bakonf: comparing two %s fingerprints (%s, %s)", kindName(a), a.name, b.name))
	}
	physical, virtual := a, b
	if physical.virtual {
		physical, virtual = b, a
	}

	if physical.unreadable || virtual.unreadable {
		return false
	}

	switch {
	case physical.IsSymlink() && virtual.IsSymlink():
		return physical.linkTarget == virtual.linkTarget &&
			physical.uid == virtual.uid &&
			physical.gid == virtual.gid &&
			physical.mode.Perm() == virtual.mode.Perm()
	case physical.IsRegular() && virtual.IsRegular():
		if physical.size != virtual.size {
			return false
		}
		sum := physical.Checksum()
		if physical.hashErr != nil {
			return false
		}
		return sum == virtual.checksum
	default:
		return false
	}
}

func kindName(f *Fingerprint) string {
	if f.virtual {
		return "virtual"
	}
	return "physical"
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "0.000000000"
	}
	return fmt.Sprintf("%d.%09d", t.Unix(), t.Nanosecond())
}

func parseTimestamp(s string) (time.Time, error) {
	secPart, nsecPart, hasFrac := strings.Cut(s, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	var nsec int64
	if hasFrac {
		if len(nsecPart) == 0 || len(nsecPart) > 9 {
			return time.Time{}, fmt.Errorf("invalid fraction %q", nsecPart)
		}
		nsecPart += strings.Repeat("0", 9-len(nsecPart))
		nsec, err = strconv.ParseInt(nsecPart, 10, 64)
		if err != nil || nsec < 0 {
			return time.Time{}, fmt.Errorf("invalid fraction %q", nsecPart)
		}
	}
	return time.Unix(sec, nsec), nil
}
