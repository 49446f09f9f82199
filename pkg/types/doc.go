// Package types provides shared type definitions for the symbol indexer.
//
// # Core Types
//
// PackageDescriptor is what repository metadata yields for every package:
//
//	desc := types.PackageDescriptor{
//	    NaturalKey: types.NaturalKey{Name: "zlib", Arch: "x86_64", Version: "1.2.11", Epoch: "0", Release: "40.el9"},
//	    Location:   "Packages/z/zlib-1.2.11-40.el9.x86_64.rpm",
//	    Checksum:   types.Checksum{Type: "sha256", Digest: "9f1c..."},
//	}
//
// NaturalKey (name, arch, version, epoch, release) identifies a package inside
// a repository regardless of its storage id; re-indexing the same key is a no-op.
//
// RawSymbol is one symbol-table entry as read from an ELF file. st_info and
// st_other are kept as the raw bytes; Binding, Type and Visibility decode them.
//
// SymbolMatch is one row of a reverse lookup: the package and file that
// define or reference a symbol name.
//
// # Errors
//
// Failures are classified by the scope they abort:
//
//	MetadataUnavailableError  one repository
//	FetchError                one package (Transient ones are retried first)
//	ArchiveCorruptError       one package
//	ElfParseError             one file
//	StoreError                the whole run
//
// Each type matches its sentinel with errors.Is:
//
//	if errors.Is(err, types.ErrStore) {
//	    return report, err
//	}
package types
