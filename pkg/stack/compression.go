package stack

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the container a constituent image is wrapped in.
type Compression int

const (
	None Compression = iota
	Gzip
	Zstd
	LZ4
	Snappy
)

func (c Compression) String() string {
	switch c {
	case Gzip:
		return "gzip"
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	case Snappy:
		return "snappy"
	default:
		return "none"
	}
}

var (
	gzipMagic   = []byte{0x1f, 0x8b}
	zstdMagic   = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic    = []byte{0x04, 0x22, 0x4d, 0x18}
	snappyMagic = []byte("\xff\x06\x00\x00sNaPpY")
)

// Detect inspects the leading magic bytes of data.
func Detect(data []byte) Compression {
	switch {
	case bytes.HasPrefix(data, gzipMagic):
		return Gzip
	case bytes.HasPrefix(data, zstdMagic):
		return Zstd
	case bytes.HasPrefix(data, lz4Magic):
		return LZ4
	case bytes.HasPrefix(data, snappyMagic):
		return Snappy
	}
	return None
}

var zstdDecoderPool = sync.Pool{
	New: func() any {
		d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			panic(fmt.Sprintf("failed to create zstd decoder for pool: %v", err))
		}
		return d
	},
}

// NewReader returns a streaming reader over the decompressed contents of
// data. Streaming lets a truncated prefix (a header range read) be decoded
// as far as it goes. The caller must Close the reader.
func NewReader(data []byte) (io.ReadCloser, Compression, error) {
	c := Detect(data)
	src := bytes.NewReader(data)

	switch c {
	case Gzip:
		r, err := gzip.NewReader(src)
		if err != nil {
			return nil, c, fmt.Errorf("gzip header: %w", err)
		}
		return r, c, nil
	case Zstd:
		d, err := zstd.NewReader(src, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, c, fmt.Errorf("zstd header: %w", err)
		}
		return d.IOReadCloser(), c, nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(src)), c, nil
	case Snappy:
		return io.NopCloser(snappy.NewReader(src)), c, nil
	}
	return io.NopCloser(src), c, nil
}

// Decompress returns the fully decompressed contents of data. Data without
// a recognized container is returned as is.
func Decompress(data []byte) ([]byte, error) {
	c := Detect(data)
	switch c {
	case None:
		return data, nil
	case Zstd:
		d := zstdDecoderPool.Get().(*zstd.Decoder)
		defer zstdDecoderPool.Put(d)
		out, err := d.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompression failed: %w", err)
		}
		return out, nil
	}

	r, _, err := NewReader(data)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s decompression failed: %w", c, err)
	}
	return out, nil
}
