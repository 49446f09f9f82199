package storage

import (
	"context"

	"github.com/dshills/symindex/pkg/types"
)

// Storage defines the interface for persisting and querying the symbol index
type Storage interface {
	// Repository operations
	RegisterRepo(ctx context.Context, uri, primaryHref string) (*Repo, error)
	GetRepo(ctx context.Context, uri string) (*Repo, error)
	ListRepos(ctx context.Context) ([]*Repo, error)
	RemoveRepo(ctx context.Context, uri string) error

	// Package operations
	IndexedKeys(ctx context.Context, repoID int64) ([]types.NaturalKey, error)
	GetPackage(ctx context.Context, repoID int64, key types.NaturalKey) (*Package, error)
	ListFilesByPackage(ctx context.Context, packageID int64) ([]*File, error)
	ListSymbolsByFile(ctx context.Context, fileID int64) ([]*ElfSymbol, error)

	// Indexing operations
	InternBatch(ctx context.Context, names []string) (map[string]int64, error)
	CommitPackage(ctx context.Context, repoID int64, desc types.PackageDescriptor, files []FileSymbols) (*CommitResult, error)

	// Query operations
	LookupSymbols(ctx context.Context, names []string, opts LookupOptions) ([]types.SymbolMatch, error)
	MatchSymbolNames(ctx context.Context, glob string, limit int) ([]string, error)

	// Status operations
	Stats(ctx context.Context) (*Stats, error)
	IndexVersion(ctx context.Context) (IndexVersion, error)

	Close() error
}

// Repo is a registered package repository
type Repo struct {
	ID          int64
	URI         string
	PrimaryHref string
}

// Package is one committed package row
type Package struct {
	ID     int64
	RepoID int64
	types.NaturalKey
}

// File is one ELF payload path of a package
type File struct {
	ID        int64
	PackageID int64
	Name      string
}

// ElfSymbol is one stored symbol-table entry with its interned name resolved
type ElfSymbol struct {
	ID     int64
	FileID int64
	NameID int64
	Name   string
	Info   uint8
	Other  uint8
}

// SymbolRow is a symbol ready for insertion: its name is already interned
type SymbolRow struct {
	NameID int64
	Info   uint8
	Other  uint8
}

// FileSymbols groups the symbol rows of one file, in symbol-table order
type FileSymbols struct {
	Path    string
	Symbols []SymbolRow
}

// CommitResult reports what CommitPackage did
type CommitResult struct {
	PackageID int64
	// Existing is true when the natural key was already present and nothing was written
	Existing bool
	Files    int
	Symbols  int
}

// LookupOptions narrows a reverse symbol lookup
type LookupOptions struct {
	RepoURI string   // Only packages of this repository
	Arches  []string // Only packages of these architectures
	Limit   int      // Maximum rows; 0 means DefaultLookupLimit
}

// DefaultLookupLimit bounds lookups that do not set a limit
const DefaultLookupLimit = 1000

// IndexVersion identifies one state of the committed package set. Every
// commit and every removal changes it, whichever process made them.
type IndexVersion struct {
	Packages      int64
	LastPackageID int64 // AUTOINCREMENT high-water mark, never reused
}

// Stats contains row counts of every table
type Stats struct {
	Repos         int
	Packages      int
	Files         int
	Strings       int
	Symbols       int
	SchemaVersion string
}
