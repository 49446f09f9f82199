package types

import "debug/elf"

// SymbolMatch is one answer to a reverse symbol lookup
type SymbolMatch struct {
	Repo    string
	Package NaturalKey
	File    string
	Symbol  string
	Info    uint8
	Other   uint8
}

// Binding returns the symbol binding encoded in st_info
func (m SymbolMatch) Binding() elf.SymBind {
	return elf.ST_BIND(m.Info)
}

// Type returns the symbol type encoded in st_info
func (m SymbolMatch) Type() elf.SymType {
	return elf.ST_TYPE(m.Info)
}

// Visibility returns the symbol visibility encoded in st_other
func (m SymbolMatch) Visibility() elf.SymVis {
	return elf.ST_VISIBILITY(m.Other)
}
