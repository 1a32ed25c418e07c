package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// IsCompressed reports whether an archive name carries the zstd extension,
// ignoring a trailing encryption suffix.
func IsCompressed(name string) bool {
	return strings.HasSuffix(strings.TrimSuffix(name, ".age"), ".zst")
}

// Walk calls fn for every member of the archive read from r. The reader
// passed to fn is only valid until fn returns.
func Walk(r io.Reader, compressed bool, fn func(hdr *tar.Header, content io.Reader) error) error {
	if compressed {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return fmt.Errorf("creating zstd decoder: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading archive: %w", err)
		}
		if err := fn(hdr, tr); err != nil {
			return err
		}
	}
}
