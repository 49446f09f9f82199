package testutil

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

// ELFSymbol is one symbol-table entry for BuildELF
type ELFSymbol struct {
	Name  string
	Info  uint8
	Other uint8
}

// Func returns a global function symbol
func Func(name string) ELFSymbol {
	return ELFSymbol{Name: name, Info: elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC)}
}

// Undef returns an undefined global reference
func Undef(name string) ELFSymbol {
	return ELFSymbol{Name: name, Info: elf.ST_INFO(elf.STB_GLOBAL, elf.STT_NOTYPE)}
}

type elfSection struct {
	name    string
	typ     elf.SectionType
	link    uint32
	entsize uint64
	data    []byte
}

// BuildELF produces a minimal little-endian ELF64 shared object. A nil
// table is omitted entirely; an empty non-nil table is emitted with only
// the null entry.
func BuildELF(symtab, dynsym []ELFSymbol) []byte {
	sections := []elfSection{{}}

	addTable := func(name, strName string, typ elf.SectionType, syms []ELFSymbol) {
		strtab := []byte{0}
		var symdata bytes.Buffer
		symdata.Write(make([]byte, 24)) // null symbol
		for _, s := range syms {
			nameOff := uint32(len(strtab))
			strtab = append(strtab, s.Name...)
			strtab = append(strtab, 0)

			_ = binary.Write(&symdata, binary.LittleEndian, elf.Sym64{
				Name:  nameOff,
				Info:  s.Info,
				Other: s.Other,
				Shndx: 1,
			})
		}
		strIndex := uint32(len(sections))
		sections = append(sections,
			elfSection{name: strName, typ: elf.SHT_STRTAB, data: strtab},
			elfSection{name: name, typ: typ, link: strIndex, entsize: 24, data: symdata.Bytes()},
		)
	}

	if symtab != nil {
		addTable(".symtab", ".strtab", elf.SHT_SYMTAB, symtab)
	}
	if dynsym != nil {
		addTable(".dynsym", ".dynstr", elf.SHT_DYNSYM, dynsym)
	}

	shstrtab := []byte{0}
	nameOffsets := make([]uint32, len(sections)+1)
	for i := 1; i < len(sections); i++ {
		nameOffsets[i] = uint32(len(shstrtab))
		shstrtab = append(shstrtab, sections[i].name...)
		shstrtab = append(shstrtab, 0)
	}
	nameOffsets[len(sections)] = uint32(len(shstrtab))
	shstrtab = append(shstrtab, ".shstrtab\x00"...)
	sections = append(sections, elfSection{name: ".shstrtab", typ: elf.SHT_STRTAB, data: shstrtab})

	// Section data follows the 64-byte header, headers follow the data
	var body bytes.Buffer
	offsets := make([]uint64, len(sections))
	for i := 1; i < len(sections); i++ {
		for body.Len()%8 != 0 {
			body.WriteByte(0)
		}
		offsets[i] = uint64(64 + body.Len())
		body.Write(sections[i].data)
	}
	for body.Len()%8 != 0 {
		body.WriteByte(0)
	}
	shoff := uint64(64 + body.Len())

	var out bytes.Buffer
	header := elf.Header64{
		Type:      uint16(elf.ET_DYN),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Shoff:     shoff,
		Ehsize:    64,
		Shentsize: 64,
		Shnum:     uint16(len(sections)),
		Shstrndx:  uint16(len(sections) - 1),
	}
	copy(header.Ident[:], elf.ELFMAG)
	header.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	header.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	header.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	_ = binary.Write(&out, binary.LittleEndian, header)
	out.Write(body.Bytes())

	for i, s := range sections {
		sh := elf.Section64{
			Name:      nameOffsets[i],
			Type:      uint32(s.typ),
			Off:       offsets[i],
			Size:      uint64(len(s.data)),
			Link:      s.link,
			Addralign: 1,
			Entsize:   s.entsize,
		}
		if i == 0 {
			sh = elf.Section64{}
		}
		_ = binary.Write(&out, binary.LittleEndian, sh)
	}
	return out.Bytes()
}
