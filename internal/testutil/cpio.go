package testutil

import (
	"bytes"
	"fmt"
)

// CPIO file modes
const (
	ModeRegular = 0o100755
	ModeDir     = 0o040755
	ModeSymlink = 0o120777
)

// CPIOEntry is one record for BuildCPIO
type CPIOEntry struct {
	Name  string
	Mode  uint32
	Nlink uint32
	Data  []byte
}

// File returns a regular file entry
func File(name string, data []byte) CPIOEntry {
	return CPIOEntry{Name: name, Mode: ModeRegular, Nlink: 1, Data: data}
}

// BuildCPIO writes a newc archive terminated by the trailer record. With crc
// set, the 070702 variant is produced with correct checksums.
func BuildCPIO(crc bool, entries ...CPIOEntry) []byte {
	var buf bytes.Buffer
	for i, e := range entries {
		writeCPIOEntry(&buf, crc, uint32(i+1), e)
	}
	writeCPIOEntry(&buf, crc, 0, CPIOEntry{Name: "TRAILER!!!", Nlink: 1})
	return buf.Bytes()
}

func writeCPIOEntry(buf *bytes.Buffer, crc bool, ino uint32, e CPIOEntry) {
	magic := "070701"
	var check uint32
	if crc {
		magic = "070702"
		for _, b := range e.Data {
			check += uint32(b)
		}
	}
	nlink := e.Nlink
	if nlink == 0 {
		nlink = 1
	}

	fmt.Fprintf(buf, "%s%08x%08x%08x%08x%08x%08x%08x%08x%08x%08x%08x%08x%08x",
		magic, ino, e.Mode, 0, 0, nlink, 0, len(e.Data), 0, 0, 0, 0, len(e.Name)+1, check)
	buf.WriteString(e.Name)
	buf.WriteByte(0)
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
	buf.Write(e.Data)
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
}
