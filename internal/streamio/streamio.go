// Package streamio opens recording files through an fsutil.FileSystem and
// applies transparent zstd or lz4 framing based on the file extension.
package streamio

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/banshee-data/dvs.codec/internal/dvs"
	"github.com/banshee-data/dvs.codec/internal/fsutil"
)

// Compression identifies the outer framing of a recording file.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return "none"
	}
}

// ParseCompression accepts "none", "zstd" and "lz4".
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return CompressionNone, nil
	case "zstd", "zst":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	}
	return CompressionNone, fmt.Errorf("unknown compression %q", name)
}

// Ext is the file suffix used for c, including the dot.
func (c Compression) Ext() string {
	switch c {
	case CompressionZstd:
		return ".zst"
	case CompressionLZ4:
		return ".lz4"
	default:
		return ""
	}
}

// Detect splits a path into its compression and the name of the payload
// inside it: "a.raw.zst" gives (zstd, "a.raw").
func Detect(path string) (Compression, string) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst", ".zstd":
		return CompressionZstd, strings.TrimSuffix(path, filepath.Ext(path))
	case ".lz4":
		return CompressionLZ4, strings.TrimSuffix(path, filepath.Ext(path))
	}
	return CompressionNone, path
}

// FormatFromPath guesses the event format from the payload extension. RAW
// files carry no format in their name, so ".raw" yields FormatUnknown and the
// caller must say which EVT version it holds.
func FormatFromPath(path string) dvs.Format {
	_, inner := Detect(path)
	switch strings.ToLower(filepath.Ext(inner)) {
	case ".dat":
		return dvs.FormatDAT
	case ".evt2":
		return dvs.FormatEVT2
	case ".evt3":
		return dvs.FormatEVT3
	}
	return dvs.FormatUnknown
}

// Open opens path for reading, decompressing by extension.
func Open(fsys fsutil.FileSystem, path string) (io.ReadCloser, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recording: %w", err)
	}

	comp, _ := Detect(path)
	switch comp {
	case CompressionZstd:
		dec, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("zstd reader for %s: %w", path, err)
		}
		return &readCloser{Reader: dec, close: func() error {
			dec.Close()
			return f.Close()
		}}, nil
	case CompressionLZ4:
		return &readCloser{Reader: lz4.NewReader(f), close: f.Close}, nil
	default:
		return f, nil
	}
}

// Create creates path for writing, compressing by extension. Close must be
// called to flush the compressed frame.
func Create(fsys fsutil.FileSystem, path string) (io.WriteCloser, error) {
	f, err := fsys.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording: %w", err)
	}

	comp, _ := Detect(path)
	switch comp {
	case CompressionZstd:
		enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("zstd writer for %s: %w", path, err)
		}
		return &writeCloser{Writer: enc, inner: enc, file: f}, nil
	case CompressionLZ4:
		zw := lz4.NewWriter(f)
		return &writeCloser{Writer: zw, inner: zw, file: f}, nil
	default:
		return f, nil
	}
}

type readCloser struct {
	io.Reader
	close func() error
}

func (r *readCloser) Close() error { return r.close() }

type writeCloser struct {
	io.Writer
	inner io.Closer
	file  io.Closer
}

// Close flushes the compressor, then closes the file. Both are attempted.
func (w *writeCloser) Close() error {
	return errors.Join(w.inner.Close(), w.file.Close())
}
