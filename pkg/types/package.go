package types

import (
	"errors"
	"fmt"
	"strings"
)

// Checksum is a typed hex digest as published in repository metadata
type Checksum struct {
	Type   string // sha256, sha1, ...
	Digest string // lowercase hex
}

// IsZero reports whether no checksum was supplied
func (c Checksum) IsZero() bool {
	return c.Type == "" || c.Digest == ""
}

func (c Checksum) String() string {
	if c.IsZero() {
		return "none"
	}
	return c.Type + ":" + c.Digest
}

// NaturalKey identifies a package inside a repository independent of its row id
type NaturalKey struct {
	Name    string
	Arch    string
	Version string
	Epoch   string
	Release string
}

// String renders the key in NEVRA form (name-[epoch:]version-release.arch)
func (k NaturalKey) String() string {
	var b strings.Builder
	b.WriteString(k.Name)
	b.WriteByte('-')
	if k.Epoch != "" && k.Epoch != "0" {
		b.WriteString(k.Epoch)
		b.WriteByte(':')
	}
	b.WriteString(k.Version)
	b.WriteByte('-')
	b.WriteString(k.Release)
	b.WriteByte('.')
	b.WriteString(k.Arch)
	return b.String()
}

// PackageDescriptor describes one package as listed by repository metadata
type PackageDescriptor struct {
	NaturalKey

	// Location is the href of the package relative to the repository root
	Location string
	Checksum Checksum
	Size     int64
}

// Validate checks the descriptor carries a complete natural key and a location
func (d *PackageDescriptor) Validate() error {
	if d.Name == "" {
		return ErrMissingPackageName
	}
	if d.Arch == "" || d.Version == "" || d.Release == "" {
		return fmt.Errorf("%w: %s", ErrIncompleteNaturalKey, d.NaturalKey)
	}
	if d.Location == "" {
		return fmt.Errorf("%w: %s", ErrMissingLocation, d.NaturalKey)
	}
	return nil
}

// Descriptor validation errors
var (
	ErrMissingPackageName   = errors.New("package name is required")
	ErrIncompleteNaturalKey = errors.New("incomplete natural key")
	ErrMissingLocation      = errors.New("package location is required")
)
