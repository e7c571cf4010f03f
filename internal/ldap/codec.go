package ldap

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Codec identifies how an export object is compressed
type Codec string

const (
	CodecNone Codec = "none"
	CodecXZ   Codec = "xz"
	CodecZstd Codec = "zstd"
	CodecGzip Codec = "gzip"
	CodecLZ4  Codec = "lz4"
)

// maxExportBytes bounds the decompressed export size
var maxExportBytes int64 = 1 << 30

// CodecForKey picks the codec from the object key suffix.
// Unknown suffixes are read as plain JSON.
func CodecForKey(key string) Codec {
	lower := strings.ToLower(key)
	switch {
	case strings.HasSuffix(lower, ".xz"):
		return CodecXZ
	case strings.HasSuffix(lower, ".zst"), strings.HasSuffix(lower, ".zstd"):
		return CodecZstd
	case strings.HasSuffix(lower, ".gz"):
		return CodecGzip
	case strings.HasSuffix(lower, ".lz4"):
		return CodecLZ4
	default:
		return CodecNone
	}
}

// Decompress expands data compressed with codec
func Decompress(codec Codec, data []byte) ([]byte, error) {
	switch codec {
	case CodecNone:
		return data, nil

	case CodecXZ:
		reader, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("xz header: %w", err)
		}
		return readBounded(reader, "xz")

	case CodecZstd:
		decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(maxExportBytes)))
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		defer decoder.Close()
		out, err := decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil

	case CodecGzip:
		reader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip header: %w", err)
		}
		defer func() { _ = reader.Close() }()
		return readBounded(reader, "gzip")

	case CodecLZ4:
		return readBounded(lz4.NewReader(bytes.NewReader(data)), "lz4")

	default:
		return nil, fmt.Errorf("unsupported codec: %q", codec)
	}
}

func readBounded(reader io.Reader, name string) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(reader, maxExportBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%s decompress: %w", name, err)
	}
	if int64(len(out)) > maxExportBytes {
		return nil, fmt.Errorf("%s decompress: export exceeds %d bytes", name, maxExportBytes)
	}
	return out, nil
}
