package rpm

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/dshills/symindex/internal/decompress"
	"github.com/dshills/symindex/pkg/types"
)

const (
	leadSize        = 96
	headerIntroSize = 16
	indexEntrySize  = 16

	// Limits match the ones rpm itself enforces on header blobs
	maxIndexEntries = 0x10000
	maxDataSize     = 256 << 20
)

// Header tags read from the main header
const (
	TagName              = 1000
	TagVersion           = 1001
	TagRelease           = 1002
	TagEpoch             = 1003
	TagArch              = 1022
	TagPayloadFormat     = 1124
	TagPayloadCompressor = 1125
)

const (
	typeInt32  = 4
	typeString = 6
)

var (
	leadMagic   = []byte{0xed, 0xab, 0xee, 0xdb}
	headerMagic = []byte{0x8e, 0xad, 0xe8}
)

var (
	ErrBadLeadMagic      = errors.New("bad rpm lead magic")
	ErrBadHeaderMagic    = errors.New("bad rpm header magic")
	ErrHeaderTooLarge    = errors.New("rpm header too large")
	ErrUnsupportedFormat = errors.New("unsupported payload format")
)

// Package is an opened RPM whose headers have been consumed. The payload
// is read from the remaining stream.
type Package struct {
	Name              string
	Version           string
	Release           string
	Epoch             string
	Arch              string
	PayloadFormat     string
	PayloadCompressor string

	r      *countingReader
	opened bool
}

// Open reads the lead, the signature header and the main header from r
func Open(r io.Reader) (*Package, error) {
	cr := &countingReader{r: r}
	pkg := &Package{r: cr}

	lead := make([]byte, leadSize)
	if _, err := io.ReadFull(cr, lead); err != nil {
		return nil, corrupt(cr, fmt.Errorf("read lead: %w", err))
	}
	if !bytes.Equal(lead[:4], leadMagic) {
		return nil, corrupt(cr, ErrBadLeadMagic)
	}

	// The signature header is padded to a multiple of 8 bytes
	sig, err := readHeader(cr)
	if err != nil {
		return nil, corrupt(cr, fmt.Errorf("signature header: %w", err))
	}
	if pad := (8 - sig.size%8) % 8; pad > 0 {
		if _, err := io.CopyN(io.Discard, cr, pad); err != nil {
			return nil, corrupt(cr, fmt.Errorf("signature padding: %w", err))
		}
	}

	hdr, err := readHeader(cr)
	if err != nil {
		return nil, corrupt(cr, fmt.Errorf("main header: %w", err))
	}

	pkg.Name = hdr.str(TagName)
	pkg.Version = hdr.str(TagVersion)
	pkg.Release = hdr.str(TagRelease)
	pkg.Arch = hdr.str(TagArch)
	pkg.Epoch = hdr.epoch()
	pkg.PayloadFormat = hdr.str(TagPayloadFormat)
	pkg.PayloadCompressor = hdr.str(TagPayloadCompressor)
	return pkg, nil
}

// Payload returns the decompressed payload stream. It may be called once.
func (p *Package) Payload() (io.ReadCloser, error) {
	if p.opened {
		return nil, errors.New("payload already opened")
	}
	p.opened = true

	switch p.PayloadFormat {
	case "", "cpio":
	default:
		return nil, corrupt(p.r, fmt.Errorf("%w: %q", ErrUnsupportedFormat, p.PayloadFormat))
	}

	rc, err := decompress.NewReader(p.PayloadCompressor, bufio.NewReader(p.r))
	if err != nil {
		return nil, corrupt(p.r, err)
	}
	return rc, nil
}

// WritePayload copies the decompressed cpio payload of the RPM read from r to w
func WritePayload(w io.Writer, r io.Reader) (int64, error) {
	pkg, err := Open(r)
	if err != nil {
		return 0, err
	}
	payload, err := pkg.Payload()
	if err != nil {
		return 0, err
	}
	defer func() { _ = payload.Close() }()

	n, err := io.Copy(w, payload)
	if err != nil {
		return n, fmt.Errorf("copy payload: %w", err)
	}
	return n, nil
}

type indexEntry struct {
	tag    uint32
	typ    uint32
	offset uint32
	count  uint32
}

type header struct {
	entries []indexEntry
	data    []byte
	size    int64 // bytes consumed, intro included
}

func readHeader(r io.Reader) (*header, error) {
	intro := make([]byte, headerIntroSize)
	if _, err := io.ReadFull(r, intro); err != nil {
		return nil, err
	}
	if !bytes.Equal(intro[:3], headerMagic) {
		return nil, ErrBadHeaderMagic
	}
	nindex := binary.BigEndian.Uint32(intro[8:12])
	hsize := binary.BigEndian.Uint32(intro[12:16])
	if nindex > maxIndexEntries || hsize > maxDataSize {
		return nil, fmt.Errorf("%w: %d entries, %d bytes", ErrHeaderTooLarge, nindex, hsize)
	}

	index := make([]byte, int(nindex)*indexEntrySize)
	if _, err := io.ReadFull(r, index); err != nil {
		return nil, err
	}
	h := &header{
		entries: make([]indexEntry, nindex),
		data:    make([]byte, hsize),
		size:    int64(headerIntroSize) + int64(len(index)) + int64(hsize),
	}
	for i := range h.entries {
		b := index[i*indexEntrySize:]
		h.entries[i] = indexEntry{
			tag:    binary.BigEndian.Uint32(b[0:4]),
			typ:    binary.BigEndian.Uint32(b[4:8]),
			offset: binary.BigEndian.Uint32(b[8:12]),
			count:  binary.BigEndian.Uint32(b[12:16]),
		}
	}
	if _, err := io.ReadFull(r, h.data); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *header) find(tag uint32) *indexEntry {
	for i := range h.entries {
		if h.entries[i].tag == tag {
			return &h.entries[i]
		}
	}
	return nil
}

// str returns a STRING tag value, or "" when absent or malformed
func (h *header) str(tag uint32) string {
	e := h.find(tag)
	if e == nil || e.typ != typeString || int64(e.offset) >= int64(len(h.data)) {
		return ""
	}
	data := h.data[e.offset:]
	if end := bytes.IndexByte(data, 0); end >= 0 {
		data = data[:end]
	}
	return string(data)
}

func (h *header) epoch() string {
	e := h.find(TagEpoch)
	if e == nil || e.typ != typeInt32 || int64(e.offset)+4 > int64(len(h.data)) {
		return ""
	}
	return strconv.FormatUint(uint64(binary.BigEndian.Uint32(h.data[e.offset:])), 10)
}

func corrupt(r *countingReader, err error) error {
	return &types.ArchiveCorruptError{Offset: r.n, Err: err}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
