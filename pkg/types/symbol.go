package types

import "debug/elf"

// RawSymbol is one named entry of an ELF symbol table, before interning
type RawSymbol struct {
	Name  string
	Info  uint8 // st_info: binding in the high nibble, type in the low nibble
	Other uint8 // st_other: visibility in the low two bits
}

// Binding returns the symbol binding encoded in st_info
func (s RawSymbol) Binding() elf.SymBind {
	return elf.ST_BIND(s.Info)
}

// Type returns the symbol type encoded in st_info
func (s RawSymbol) Type() elf.SymType {
	return elf.ST_TYPE(s.Info)
}

// Visibility returns the symbol visibility encoded in st_other
func (s RawSymbol) Visibility() elf.SymVis {
	return elf.ST_VISIBILITY(s.Other)
}

// ExtractedFile is one ELF payload path together with its symbols in table order
type ExtractedFile struct {
	Path    string
	Symbols []RawSymbol
}

// SymbolCount returns the total number of symbols across files
func SymbolCount(files []ExtractedFile) int {
	n := 0
	for i := range files {
		n += len(files[i].Symbols)
	}
	return n
}
