package types

import (
	"errors"
	"fmt"
)

// Sentinels for the indexing error taxonomy. Each typed error below matches
// its sentinel with errors.Is.
var (
	ErrMetadataUnavailable = errors.New("repository metadata unavailable")
	ErrFetch               = errors.New("package fetch failed")
	ErrArchiveCorrupt      = errors.New("archive corrupt")
	ErrElfParse            = errors.New("elf parse error")
	ErrStore               = errors.New("store error")
)

// MetadataUnavailableError is fatal for one repository
type MetadataUnavailableError struct {
	Repo string
	Err  error
}

func (e *MetadataUnavailableError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrMetadataUnavailable, e.Repo, e.Err)
}

func (e *MetadataUnavailableError) Unwrap() error { return e.Err }

func (e *MetadataUnavailableError) Is(target error) bool { return target == ErrMetadataUnavailable }

// FetchError is scoped to one package. Transient errors are retried by the fetcher.
type FetchError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Transient  bool
	Err        error
}

func (e *FetchError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (%s): %s: status %d: %v", ErrFetch, kind, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s (%s): %s: %v", ErrFetch, kind, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// ArchiveCorruptError aborts the current package only
type ArchiveCorruptError struct {
	Offset int64
	Err    error
}

func (e *ArchiveCorruptError) Error() string {
	return fmt.Sprintf("%s at offset %d: %v", ErrArchiveCorrupt, e.Offset, e.Err)
}

func (e *ArchiveCorruptError) Unwrap() error { return e.Err }

func (e *ArchiveCorruptError) Is(target error) bool { return target == ErrArchiveCorrupt }

// ElfParseError skips one file; siblings in the same package are still processed
type ElfParseError struct {
	Path string
	Err  error
}

func (e *ElfParseError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrElfParse, e.Path, e.Err)
}

func (e *ElfParseError) Unwrap() error { return e.Err }

func (e *ElfParseError) Is(target error) bool { return target == ErrElfParse }

// StoreError is fatal to the whole run
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStore, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }

// IsTransient reports whether err is a fetch failure worth retrying
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Transient
}
