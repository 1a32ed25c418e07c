// Package archive writes backup archives as tar streams, optionally
// compressed with zstd.
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/klauspost/compress/zstd"

	"bakonf-go/internal/bakonf"
)

const copyBufferSize = 64 * 1024

// TarArchiver produces tar archives of filesystem entries. Entries of the
// backed up tree are stored under bakonf.ArchiveRoot with their absolute
// path made relative.
type TarArchiver struct {
	fsmgr    bakonf.FilesystemManager
	clock    bakonf.Clock
	compress bool
}

// NewTarArchiver creates an archiver. When compress is set the tar stream
// is wrapped in zstd.
func NewTarArchiver(fsmgr bakonf.FilesystemManager, clock bakonf.Clock, compress bool) *TarArchiver {
	return &TarArchiver{fsmgr: fsmgr, clock: clock, compress: compress}
}

func (a *TarArchiver) Extension() string {
	if a.compress {
		return ".tar.zst"
	}
	return ".tar"
}

// Create starts an archive on w.
func (a *TarArchiver) Create(w io.Writer) (bakonf.ArchiveWriter, error) {
	tw := &tarWriter{fsmgr: a.fsmgr, clock: a.clock, buf: make([]byte, copyBufferSize)}
	if a.compress {
		enc, err := zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		tw.zw = enc
		w = enc
	}
	tw.tw = tar.NewWriter(w)
	return tw, nil
}

type tarWriter struct {
	fsmgr bakonf.FilesystemManager
	clock bakonf.Clock
	tw    *tar.Writer
	zw    *zstd.Encoder
	buf   []byte

	// broken is set once the output stream fails; every later call returns it.
	broken error
}

func (w *tarWriter) fail(err error) error {
	w.broken = fmt.Errorf("%w: %v", bakonf.ErrArchiveBroken, err)
	return w.broken
}

// memberName maps an absolute path to its name inside the archive.
func memberName(path string, dir bool) string {
	name := bakonf.ArchiveRoot + "/" + strings.TrimPrefix(path, "/")
	if dir {
		name += "/"
	}
	return name
}

func (w *tarWriter) AddRoot() error {
	if w.broken != nil {
		return w.broken
	}
	hdr := &tar.Header{
		Typeflag: tar.TypeDir,
		Name:     bakonf.ArchiveRoot + "/",
		Mode:     0755,
		ModTime:  w.clock.Now(),
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return w.fail(err)
	}
	return nil
}

// AddPath archives the entry at path. Errors reading the entry are returned
// as they are; errors writing the archive wrap bakonf.ErrArchiveBroken.
func (w *tarWriter) AddPath(path string) error {
	if w.broken != nil {
		return w.broken
	}

	info, err := w.fsmgr.Lstat(path)
	if err != nil {
		return err
	}

	var link string
	if info.Mode()&fs.ModeSymlink != 0 {
		if link, err = w.fsmgr.Readlink(path); err != nil {
			return err
		}
	}

	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	hdr.Name = memberName(path, info.IsDir())
	if sd, err := w.fsmgr.ExtractStatData(info); err == nil {
		hdr.Uid = int(sd.UID)
		hdr.Gid = int(sd.GID)
	}

	if !info.Mode().IsRegular() {
		hdr.Size = 0
		if err := w.tw.WriteHeader(hdr); err != nil {
			return w.fail(err)
		}
		return nil
	}

	// Open before writing the header so an unreadable file leaves no entry.
	rc, err := w.fsmgr.Open(path)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := w.tw.WriteHeader(hdr); err != nil {
		return w.fail(err)
	}
	return w.copyContent(path, rc, hdr.Size)
}

// copyContent writes exactly size bytes of r. A file that shrinks or fails
// mid-read is zero padded so the archive stays valid, and the read error is
// returned for that path alone.
func (w *tarWriter) copyContent(path string, r io.Reader, size int64) error {
	var written int64
	var readErr error
	for written < size {
		chunk := w.buf
		if rest := size - written; rest < int64(len(chunk)) {
			chunk = chunk[:rest]
		}
		n, err := r.Read(chunk)
		if n > 0 {
			if _, werr := w.tw.Write(chunk[:n]); werr != nil {
				return w.fail(werr)
			}
			written += int64(n)
		}
		if err == io.EOF {
			if written < size {
				readErr = errShortRead
			}
			break
		}
		if err != nil {
			readErr = err
			break
		}
	}

	if written < size {
		clear(w.buf)
		for written < size {
			chunk := w.buf
			if rest := size - written; rest < int64(len(chunk)) {
				chunk = chunk[:rest]
			}
			if _, err := w.tw.Write(chunk); err != nil {
				return w.fail(err)
			}
			written += int64(len(chunk))
		}
	}

	if readErr != nil {
		return &fs.PathError{Op: "read", Path: path, Err: readErr}
	}
	return nil
}

func (w *tarWriter) AddFile(name string, data []byte) error {
	if w.broken != nil {
		return w.broken
	}
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Mode:     0644,
		Size:     int64(len(data)),
		ModTime:  w.clock.Now(),
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return w.fail(err)
	}
	if _, err := w.tw.Write(data); err != nil {
		return w.fail(err)
	}
	return nil
}

// Close writes the tar trailer and flushes the compressor.
func (w *tarWriter) Close() error {
	if w.broken != nil {
		return w.broken
	}
	if err := w.tw.Close(); err != nil {
		return w.fail(err)
	}
	if w.zw != nil {
		if err := w.zw.Close(); err != nil {
			return w.fail(err)
		}
	}
	return nil
}

// errShortRead is reported when a file shrinks while it is archived.
var errShortRead = errors.New("file changed size while being archived")
