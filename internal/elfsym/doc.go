// Package elfsym extracts symbol tables from ELF objects found in package
// payloads.
//
// Extraction happens in two steps so the blocking part stays separate from
// the parsing part:
//
//	src, err := extractor.Load(path, entryReader, entrySize, budget) // reads the stream
//	if src == nil { /* not ELF, skip */ }
//	defer src.Close()
//	syms, err := src.Symbols() // parses in memory or from the spool file
//
// The entries of one archive share a Budget. An entry is held in a byte
// slice while it fits in what remains of the budget and is spooled to a
// temporary file otherwise, so an archive is never buffered in full.
//
// Both .symtab and .dynsym are read, static table first. Entries with empty
// names are dropped. Malformed input of any kind, including panics raised
// by debug/elf, is reported as *types.ElfParseError.
package elfsym
