package decompress

import (
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

func TestFromExtension(t *testing.T) {
	tests := []struct {
		name     string
		format   string
		stripped string
	}{
		{"abc-primary.sqlite.xz", XZ, "abc-primary.sqlite"},
		{"abc-primary.sqlite.bz2", Bzip2, "abc-primary.sqlite"},
		{"abc-primary.xml.gz", Gzip, "abc-primary.xml"},
		{"abc-primary.xml.zst", Zstd, "abc-primary.xml"},
		{"primary.xml", Identity, "primary.xml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			format, stripped, err := FromExtension(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.format, format)
			assert.Equal(t, tt.stripped, stripped)
		})
	}

	_, _, err := FromExtension("primary.xml.zck")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestNewReader_RoundTrip(t *testing.T) {
	plain := []byte("hello decompression")

	var gz, zs, x bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, _ = gw.Write(plain)
	require.NoError(t, gw.Close())

	zw, err := zstd.NewWriter(&zs)
	require.NoError(t, err)
	_, _ = zw.Write(plain)
	require.NoError(t, zw.Close())

	xw, err := xz.NewWriter(&x)
	require.NoError(t, err)
	_, _ = xw.Write(plain)
	require.NoError(t, xw.Close())

	for format, data := range map[string][]byte{
		Gzip:     gz.Bytes(),
		"":       gz.Bytes(),
		Zstd:     zs.Bytes(),
		XZ:       x.Bytes(),
		Identity: plain,
	} {
		rc, err := NewReader(format, bytes.NewReader(data))
		require.NoError(t, err, format)
		got, err := io.ReadAll(rc)
		require.NoError(t, err, format)
		assert.Equal(t, plain, got, format)
		require.NoError(t, rc.Close())
	}
}

func TestNewReader_Unsupported(t *testing.T) {
	_, err := NewReader("lz4", bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrUnsupported)
}
