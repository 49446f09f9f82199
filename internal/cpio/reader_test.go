package cpio

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/symindex/internal/testutil"
	"github.com/dshills/symindex/pkg/types"
)

type entry struct {
	name string
	data string
}

func readAll(t *testing.T, r *Reader) []entry {
	t.Helper()
	var out []entry
	for {
		hdr, err := r.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		data, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, hdr.Size, int64(len(data)))
		out = append(out, entry{hdr.Name, string(data)})
	}
}

func TestReader_RegularFiles(t *testing.T) {
	archive := testutil.BuildCPIO(false,
		testutil.CPIOEntry{Name: "./usr", Mode: testutil.ModeDir},
		testutil.File("./usr/bin/app", []byte("hello")),
		testutil.File("./usr/lib64/libfoo.so.1", []byte("abcdefgh")),
		testutil.CPIOEntry{Name: "./usr/lib64/libfoo.so", Mode: testutil.ModeSymlink, Data: []byte("libfoo.so.1")},
		testutil.File("./etc/empty", nil),
	)

	got := readAll(t, NewReader(bytes.NewReader(archive)))
	assert.Equal(t, []entry{
		{"/usr/bin/app", "hello"},
		{"/usr/lib64/libfoo.so.1", "abcdefgh"},
		{"/etc/empty", ""},
	}, got)
}

func TestReader_CRCVariant(t *testing.T) {
	archive := testutil.BuildCPIO(true, testutil.File("./a", []byte("xyz")))

	got := readAll(t, NewReader(bytes.NewReader(archive)))
	assert.Equal(t, []entry{{"/a", "xyz"}}, got)
}

func TestReader_CRCMismatch(t *testing.T) {
	archive := testutil.BuildCPIO(true, testutil.File("./a", []byte("xyz")))
	// Corrupt the first content byte; the header is 110 bytes plus "./a\0" padded to 116
	archive[116] = 'q'

	r := NewReader(bytes.NewReader(archive))
	_, err := r.Next()
	require.NoError(t, err)
	_, err = io.ReadAll(r)
	assert.ErrorIs(t, err, types.ErrArchiveCorrupt)
}

func TestReader_SkipsUnreadContent(t *testing.T) {
	archive := testutil.BuildCPIO(false,
		testutil.File("./first", []byte("0123456789")),
		testutil.File("./second", []byte("ok")),
	)

	r := NewReader(bytes.NewReader(archive))
	hdr, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "/first", hdr.Name)

	buf := make([]byte, 3)
	_, err = io.ReadFull(r, buf)
	require.NoError(t, err)

	hdr, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "/second", hdr.Name)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, int64(len(archive)), r.Offset())
}

func TestReader_SkipsHardLinkPlaceholders(t *testing.T) {
	archive := testutil.BuildCPIO(false,
		testutil.CPIOEntry{Name: "./bin/a", Mode: testutil.ModeRegular, Nlink: 2},
		testutil.CPIOEntry{Name: "./bin/b", Mode: testutil.ModeRegular, Nlink: 2, Data: []byte("body")},
	)

	got := readAll(t, NewReader(bytes.NewReader(archive)))
	assert.Equal(t, []entry{{"/bin/b", "body"}}, got)
}

func TestReader_Corrupt(t *testing.T) {
	good := testutil.BuildCPIO(false, testutil.File("./a", []byte("data")))

	badMagic := bytes.Clone(good)
	copy(badMagic, "070707")

	badHex := bytes.Clone(good)
	badHex[10] = 'z'

	tests := []struct {
		name string
		data []byte
	}{
		{"bad magic", badMagic},
		{"non-hex field", badHex},
		{"truncated header", good[:50]},
		{"truncated content", good[:118]},
		{"missing trailer", good[:120]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(bytes.NewReader(tt.data))
			var err error
			for err == nil {
				_, err = r.Next()
				if err == nil {
					_, err = io.Copy(io.Discard, r)
				}
			}
			require.ErrorIs(t, err, types.ErrArchiveCorrupt)

			// The failure is sticky
			_, again := r.Next()
			assert.ErrorIs(t, again, types.ErrArchiveCorrupt)
		})
	}
}

func TestReader_NameTooLong(t *testing.T) {
	archive := testutil.BuildCPIO(false, testutil.File("./"+string(bytes.Repeat([]byte("x"), MaxNameSize)), nil))

	_, err := NewReader(bytes.NewReader(archive)).Next()
	var ace *types.ArchiveCorruptError
	require.ErrorAs(t, err, &ace)
	assert.Equal(t, int64(headerSize), ace.Offset)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "/usr/bin/x", normalize("./usr/bin/x"))
	assert.Equal(t, "/usr/bin/x", normalize("/usr/bin/x"))
	assert.Equal(t, "/usr/bin/x", normalize("usr/bin/x"))
	assert.Equal(t, "/.hidden", normalize(".hidden"))
}
