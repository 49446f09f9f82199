// Package decompress maps compression names and file extensions to
// streaming decoders.
package decompress

import (
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// Compression formats
const (
	Gzip     = "gzip"
	Bzip2    = "bzip2"
	XZ       = "xz"
	LZMA     = "lzma"
	Zstd     = "zstd"
	Identity = "identity"
)

// ErrUnsupported is returned for an unknown format name
var ErrUnsupported = errors.New("unsupported compression")

var extensions = []struct {
	ext    string
	format string
}{
	{".gz", Gzip},
	{".bz2", Bzip2},
	{".xz", XZ},
	{".lzma", LZMA},
	{".zst", Zstd},
	{".zck", ""}, // zchunk has no streaming decoder here
}

// FromExtension returns the format implied by name's extension and the name
// with that extension removed. Names without a known extension are Identity.
func FromExtension(name string) (format, stripped string, err error) {
	for _, e := range extensions {
		if strings.HasSuffix(name, e.ext) {
			if e.format == "" {
				return "", name, fmt.Errorf("%w: %s", ErrUnsupported, e.ext)
			}
			return e.format, strings.TrimSuffix(name, e.ext), nil
		}
	}
	return Identity, name, nil
}

// NewReader returns a decoder for format reading from r. An empty format
// means gzip, the historical default for RPM payloads.
func NewReader(format string, r io.Reader) (io.ReadCloser, error) {
	switch format {
	case "", Gzip:
		return gzip.NewReader(r)
	case Bzip2:
		return io.NopCloser(bzip2.NewReader(r)), nil
	case XZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xr), nil
	case LZMA:
		lr, err := lzma.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(lr), nil
	case Zstd:
		zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	case Identity, "none":
		return io.NopCloser(r), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, format)
	}
}
