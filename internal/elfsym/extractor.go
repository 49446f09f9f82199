package elfsym

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dshills/symindex/internal/metrics"
	"github.com/dshills/symindex/pkg/types"
)

// DefaultMaxInMemory is the in-memory allowance of one Budget. Entries that
// do not fit in what remains of it are spooled to a temporary file.
const DefaultMaxInMemory = 64 << 20

var elfMagic = []byte(elf.ELFMAG)

// Extractor reads ELF symbol tables out of payload entries
type Extractor struct {
	maxInMemory int64
	tempDir     string
	metrics     *metrics.Metrics
}

// Option configures an Extractor
type Option func(*Extractor)

// WithMaxInMemory sets the allowance of each Budget in bytes
func WithMaxInMemory(n int64) Option {
	return func(e *Extractor) { e.maxInMemory = n }
}

// WithTempDir sets where oversized entries are spooled
func WithTempDir(dir string) Option {
	return func(e *Extractor) { e.tempDir = dir }
}

// WithMetrics records parse timings into m
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Extractor) { e.metrics = m }
}

// New creates an Extractor
func New(opts ...Option) *Extractor {
	e := &Extractor{maxInMemory: DefaultMaxInMemory}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.New()
	}
	return e
}

// Result is the outcome of Extract
type Result struct {
	IsELF   bool
	Symbols []types.RawSymbol
}

// Extract inspects an entry of the given size and returns its symbols.
// Non-ELF input yields Result{IsELF: false} and a nil error; only the magic
// bytes are consumed in that case.
func (e *Extractor) Extract(r io.Reader, size int64) (*Result, error) {
	src, err := e.Load("", r, size, nil)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return &Result{}, nil
	}
	defer func() { _ = src.Close() }()

	syms, err := src.Symbols()
	if err != nil {
		return nil, err
	}
	return &Result{IsELF: true, Symbols: syms}, nil
}

// Budget is the memory shared by the Sources loaded against it. Sources of
// one archive draw from a single Budget so that the archive as a whole, not
// each entry, is bounded. A Budget is not safe for concurrent use.
type Budget struct {
	remaining int64
}

// NewBudget returns a Budget holding the extractor's in-memory allowance
func (e *Extractor) NewBudget() *Budget {
	return &Budget{remaining: e.maxInMemory}
}

// Remaining reports the bytes still available
func (b *Budget) Remaining() int64 {
	return b.remaining
}

func (b *Budget) take(n int64) bool {
	if n > b.remaining {
		return false
	}
	b.remaining -= n
	return true
}

// Load reads an entry into a random-access Source. The entry is kept in
// memory when it fits in what remains of b and is spooled otherwise; a nil
// b stands for a fresh Budget. It returns a nil Source and a nil error when
// the entry does not start with the ELF magic. Errors returned by Load come
// from r itself and are passed through unchanged.
func (e *Extractor) Load(path string, r io.Reader, size int64, b *Budget) (*Source, error) {
	if size < int64(len(elfMagic)) {
		return nil, nil
	}

	magic := make([]byte, len(elfMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, err
	}
	if !bytes.Equal(magic, elfMagic) {
		return nil, nil
	}

	rest := io.LimitReader(r, size-int64(len(magic)))

	if b == nil {
		b = e.NewBudget()
	}
	if b.take(size) {
		buf := make([]byte, size)
		copy(buf, magic)
		if _, err := io.ReadFull(rest, buf[len(magic):]); err != nil {
			return nil, err
		}
		return &Source{Path: path, Size: size, r: bytes.NewReader(buf), metrics: e.metrics}, nil
	}

	f, err := os.CreateTemp(e.tempDir, "symindex-elf-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create spool file: %w", err)
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}
	if _, err := f.Write(magic); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to spool %s: %w", path, err)
	}
	n, err := io.Copy(f, rest)
	if err != nil {
		cleanup()
		return nil, err
	}
	if n != size-int64(len(magic)) {
		cleanup()
		return nil, io.ErrUnexpectedEOF
	}
	return &Source{Path: path, Size: size, r: f, spool: f, spooled: true, metrics: e.metrics}, nil
}

// Source is a fully materialized ELF entry
type Source struct {
	Path string
	Size int64

	r       io.ReaderAt
	spool   *os.File
	spooled bool
	metrics *metrics.Metrics
}

// Spooled reports whether the entry was written to a temporary file rather
// than held in memory
func (s *Source) Spooled() bool {
	return s.spooled
}

// Close releases the spool file, if any
func (s *Source) Close() error {
	if s.spool == nil {
		return nil
	}
	name := s.spool.Name()
	err := s.spool.Close()
	if rerr := os.Remove(name); err == nil {
		err = rerr
	}
	s.spool = nil
	return err
}

// Symbols returns the named entries of .symtab followed by those of .dynsym,
// each in table order. A symbol present in both tables appears twice. A file
// without any symbol table yields an empty slice.
func (s *Source) Symbols() (syms []types.RawSymbol, err error) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			syms = nil
			err = &types.ElfParseError{Path: s.Path, Err: fmt.Errorf("parser panic: %v", rec)}
		}
	}()

	f, err := elf.NewFile(s.r)
	if err != nil {
		return nil, &types.ElfParseError{Path: s.Path, Err: err}
	}
	defer func() { _ = f.Close() }()

	syms = make([]types.RawSymbol, 0)
	for _, table := range []func() ([]elf.Symbol, error){f.Symbols, f.DynamicSymbols} {
		entries, err := table()
		if errors.Is(err, elf.ErrNoSymbols) {
			continue
		}
		if err != nil {
			return nil, &types.ElfParseError{Path: s.Path, Err: err}
		}
		for _, sym := range entries {
			if sym.Name == "" {
				continue
			}
			syms = append(syms, types.RawSymbol{Name: sym.Name, Info: sym.Info, Other: sym.Other})
		}
	}

	s.metrics.ElfParse.ObserveSince(len(syms), start)
	return syms, nil
}
