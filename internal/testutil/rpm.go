package testutil

import (
	"bytes"
	"encoding/binary"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// RPMSpec describes a synthetic package for BuildRPM
type RPMSpec struct {
	Name       string
	Version    string
	Release    string
	Arch       string
	Epoch      *uint32
	Compressor string // gzip (default), zstd, xz or identity
	Payload    []byte // uncompressed cpio archive
}

type rpmTag struct {
	tag   uint32
	typ   uint32
	value []byte
}

// BuildRPM assembles lead, signature header, main header and compressed payload
func BuildRPM(spec RPMSpec) []byte {
	var out bytes.Buffer

	lead := make([]byte, 96)
	copy(lead, []byte{0xed, 0xab, 0xee, 0xdb, 3, 0})
	binary.BigEndian.PutUint16(lead[78:], 5) // header-style signature
	copy(lead[10:], spec.Name)
	out.Write(lead)

	// A 4-byte INT32 entry makes the signature header need padding
	size := make([]byte, 4)
	binary.BigEndian.PutUint32(size, uint32(len(spec.Payload)))
	sig := writeRPMHeader(&out, []rpmTag{{tag: 1000, typ: 4, value: size}})
	for i := int64(0); i < (8-sig%8)%8; i++ {
		out.WriteByte(0)
	}

	compressor := spec.Compressor
	if compressor == "" {
		compressor = "gzip"
	}
	str := func(s string) []byte { return append([]byte(s), 0) }
	tags := []rpmTag{
		{tag: 1000, typ: 6, value: str(spec.Name)},
		{tag: 1001, typ: 6, value: str(spec.Version)},
		{tag: 1002, typ: 6, value: str(spec.Release)},
		{tag: 1022, typ: 6, value: str(spec.Arch)},
		{tag: 1124, typ: 6, value: str("cpio")},
		{tag: 1125, typ: 6, value: str(compressor)},
	}
	if spec.Epoch != nil {
		v := make([]byte, 4)
		binary.BigEndian.PutUint32(v, *spec.Epoch)
		tags = append(tags, rpmTag{tag: 1003, typ: 4, value: v})
	}
	writeRPMHeader(&out, tags)

	out.Write(compressPayload(compressor, spec.Payload))
	return out.Bytes()
}

func writeRPMHeader(out *bytes.Buffer, tags []rpmTag) int64 {
	var index, data bytes.Buffer
	for _, t := range tags {
		if t.typ == 4 {
			for data.Len()%4 != 0 {
				data.WriteByte(0)
			}
		}
		entry := make([]byte, 16)
		binary.BigEndian.PutUint32(entry[0:], t.tag)
		binary.BigEndian.PutUint32(entry[4:], t.typ)
		binary.BigEndian.PutUint32(entry[8:], uint32(data.Len()))
		binary.BigEndian.PutUint32(entry[12:], 1)
		index.Write(entry)
		data.Write(t.value)
	}

	intro := make([]byte, 16)
	copy(intro, []byte{0x8e, 0xad, 0xe8, 0x01})
	binary.BigEndian.PutUint32(intro[8:], uint32(len(tags)))
	binary.BigEndian.PutUint32(intro[12:], uint32(data.Len()))

	out.Write(intro)
	out.Write(index.Bytes())
	out.Write(data.Bytes())
	return int64(16 + index.Len() + data.Len())
}

func compressPayload(compressor string, payload []byte) []byte {
	var buf bytes.Buffer
	switch compressor {
	case "gzip":
		w := gzip.NewWriter(&buf)
		_, _ = w.Write(payload)
		_ = w.Close()
	case "zstd":
		w, _ := zstd.NewWriter(&buf)
		_, _ = w.Write(payload)
		_ = w.Close()
	case "xz":
		w, _ := xz.NewWriter(&buf)
		_, _ = w.Write(payload)
		_ = w.Close()
	default:
		buf.Write(payload)
	}
	return buf.Bytes()
}
