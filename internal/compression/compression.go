// Package compression detects compressed JSONL payloads by their magic bytes
// and decompresses them while streaming.
package compression

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Format is a detected stream encoding
type Format string

const (
	None Format = "none"
	Gzip Format = "gzip"
	Zstd Format = "zstd"
	LZ4  Format = "lz4"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// Detect returns the format indicated by the leading bytes of a stream
func Detect(head []byte) Format {
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		return Gzip
	case bytes.HasPrefix(head, zstdMagic):
		return Zstd
	case bytes.HasPrefix(head, lz4Magic):
		return LZ4
	default:
		return None
	}
}

// NewReader wraps r with a decompressor matching its magic bytes. Plain
// streams are returned buffered but otherwise untouched. The returned closer
// releases decoder resources; it does not close r.
func NewReader(r io.Reader) (io.Reader, io.Closer, Format, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(4)
	if err != nil && err != io.EOF {
		return nil, nil, None, fmt.Errorf("failed to read stream header: %w", err)
	}

	format := Detect(head)
	switch format {
	case Gzip:
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, format, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		return zr, zr, format, nil
	case Zstd:
		zr, err := zstd.NewReader(br, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, nil, format, fmt.Errorf("failed to open zstd stream: %w", err)
		}
		return zr, closerFunc(func() error { zr.Close(); return nil }), format, nil
	case LZ4:
		return lz4.NewReader(br), io.NopCloser(nil), format, nil
	default:
		return br, io.NopCloser(nil), format, nil
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
