package streamio

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/dvs.codec/internal/dvs"
	"github.com/banshee-data/dvs.codec/internal/fsutil"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		path  string
		comp  Compression
		inner string
	}{
		{"rec.raw", CompressionNone, "rec.raw"},
		{"rec.raw.zst", CompressionZstd, "rec.raw"},
		{"dir/rec.dat.LZ4", CompressionLZ4, "dir/rec.dat"},
	}
	for _, tt := range tests {
		comp, inner := Detect(tt.path)
		assert.Equal(t, tt.comp, comp, tt.path)
		assert.Equal(t, tt.inner, inner, tt.path)
	}
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, dvs.FormatDAT, FormatFromPath("x_td.dat.zst"))
	assert.Equal(t, dvs.FormatEVT3, FormatFromPath("x.evt3"))
	assert.Equal(t, dvs.FormatUnknown, FormatFromPath("x.raw"))
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("ZSTD")
	require.NoError(t, err)
	assert.Equal(t, CompressionZstd, c)
	assert.Equal(t, ".zst", c.Ext())
	assert.Equal(t, "zstd", c.String())

	_, err = ParseCompression("gzip")
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("% evt 3.0\n\x00\x80\x01\x20"), 500)

	for _, name := range []string{"rec.raw", "rec.raw.zst", "rec.raw.lz4"} {
		t.Run(name, func(t *testing.T) {
			fsys := fsutil.NewMemoryFileSystem()
			w, err := Create(fsys, name)
			require.NoError(t, err)
			_, err = w.Write(payload)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			stored, err := fsys.ReadFile(name)
			require.NoError(t, err)
			if comp, _ := Detect(name); comp != CompressionNone {
				assert.Less(t, len(stored), len(payload), "repetitive payload should compress")
			} else {
				assert.Equal(t, payload, stored)
			}

			r, err := Open(fsys, name)
			require.NoError(t, err)
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			require.NoError(t, r.Close())
			assert.Equal(t, payload, got)
		})
	}
}

func TestOpen_Missing(t *testing.T) {
	_, err := Open(fsutil.NewMemoryFileSystem(), "nope.raw.zst")
	assert.Error(t, err)
}
