package cpio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dshills/symindex/pkg/types"
)

const (
	magicNewc = "070701"
	magicCRC  = "070702"

	headerSize = 110
	trailer    = "TRAILER!!!"

	// MaxNameSize bounds the name field, including its terminating NUL
	MaxNameSize = 4096

	modeTypeMask = 0o170000
	modeRegular  = 0o100000
)

var (
	errBadMagic     = errors.New("bad magic")
	errNameTooLong  = errors.New("name too long")
	errNameNoNUL    = errors.New("name is not NUL terminated")
	errChecksum     = errors.New("checksum mismatch")
	errShortContent = errors.New("entry content truncated")
)

// Header describes one regular file of the archive
type Header struct {
	Name  string // absolute path, leading "./" normalized to "/"
	Mode  uint32
	Size  int64
	Nlink uint32
	Inode uint32
}

// Reader reads regular files from a newc or crc cpio stream, one entry at a
// time. Only the current entry can be read; calling Next discards whatever
// is left of it.
type Reader struct {
	r      io.Reader
	offset int64
	err    error

	remaining int64
	pad       int64
	crc       bool
	check     uint32
	sum       uint32
}

// NewReader creates a Reader over r
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Offset returns the number of archive bytes consumed so far
func (r *Reader) Offset() int64 {
	return r.offset
}

// Next advances to the next regular file. It returns io.EOF at the trailer
// record. Non-regular entries and hard-link placeholders are skipped.
func (r *Reader) Next() (*Header, error) {
	if r.err != nil {
		return nil, r.err
	}

	for {
		if err := r.skipRest(); err != nil {
			return nil, r.fail(err)
		}

		hdr, raw, err := r.readHeader()
		if err != nil {
			return nil, r.fail(err)
		}
		if raw == trailer {
			r.err = io.EOF
			return nil, io.EOF
		}

		if hdr.Mode&modeTypeMask != modeRegular {
			continue
		}
		// The data of a hard-linked set is carried by its last member only
		if hdr.Nlink > 1 && hdr.Size == 0 {
			continue
		}
		return hdr, nil
	}
}

// Read reads from the current entry. It returns io.EOF at the end of the entry.
func (r *Reader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if r.remaining == 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}

	n, err := r.r.Read(p)
	r.offset += int64(n)
	r.remaining -= int64(n)
	if r.crc {
		for _, b := range p[:n] {
			r.sum += uint32(b)
		}
	}

	if r.remaining == 0 && r.crc && r.sum != r.check {
		return n, r.fail(fmt.Errorf("%w: want %08x, got %08x", errChecksum, r.check, r.sum))
	}
	if err == io.EOF && r.remaining > 0 {
		return n, r.fail(errShortContent)
	}
	if err != nil && err != io.EOF {
		return n, r.fail(err)
	}
	return n, nil
}

// skipRest discards the unread content and padding of the current entry
func (r *Reader) skipRest() error {
	if r.remaining > 0 {
		if _, err := io.Copy(io.Discard, readerFunc(r.Read)); err != nil {
			return err
		}
	}
	if r.pad > 0 {
		if err := r.discard(r.pad); err != nil {
			return err
		}
		r.pad = 0
	}
	return nil
}

func (r *Reader) readHeader() (*Header, string, error) {
	var buf [headerSize]byte
	if err := r.readFull(buf[:]); err != nil {
		return nil, "", err
	}

	magic := string(buf[:6])
	if magic != magicNewc && magic != magicCRC {
		return nil, "", fmt.Errorf("%w: %q", errBadMagic, magic)
	}

	var fields [13]uint32
	for i := range fields {
		start := 6 + i*8
		v, err := strconv.ParseUint(string(buf[start:start+8]), 16, 32)
		if err != nil {
			return nil, "", fmt.Errorf("field %d: %w", i, err)
		}
		fields[i] = uint32(v)
	}
	ino, mode, nlink, size, namesize, check := fields[0], fields[1], fields[4], fields[6], fields[11], fields[12]

	if namesize == 0 || namesize > MaxNameSize {
		return nil, "", fmt.Errorf("%w: %d", errNameTooLong, namesize)
	}
	name := make([]byte, namesize)
	if err := r.readFull(name); err != nil {
		return nil, "", err
	}
	if name[namesize-1] != 0 {
		return nil, "", errNameNoNUL
	}
	raw := string(bytes.TrimRight(name, "\x00"))

	if err := r.discard(padding(headerSize + int64(namesize))); err != nil {
		return nil, "", err
	}

	r.remaining = int64(size)
	r.pad = padding(int64(size))
	r.crc = magic == magicCRC
	r.check = check
	r.sum = 0

	return &Header{
		Name:  normalize(raw),
		Mode:  mode,
		Size:  int64(size),
		Nlink: nlink,
		Inode: ino,
	}, raw, nil
}

func (r *Reader) readFull(p []byte) error {
	n, err := io.ReadFull(r.r, p)
	r.offset += int64(n)
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

func (r *Reader) discard(n int64) error {
	m, err := io.CopyN(io.Discard, r.r, n)
	r.offset += m
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// fail records err as the terminal state of the reader
func (r *Reader) fail(err error) error {
	var ace *types.ArchiveCorruptError
	if !errors.As(err, &ace) {
		err = &types.ArchiveCorruptError{Offset: r.offset, Err: err}
	}
	r.err = err
	return err
}

func padding(n int64) int64 {
	return (4 - n%4) % 4
}

func normalize(name string) string {
	if name == "." || strings.HasPrefix(name, "./") {
		name = name[1:]
	}
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	return name
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }
