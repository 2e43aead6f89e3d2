package ingest

import (
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// MaxDecompressedSize caps the output of Decompress so a hostile or
// corrupt batch cannot be used to exhaust memory via a decompression bomb.
const MaxDecompressedSize = 10 * 1024 * 1024

// Compress LZ4 block-compresses b (raw block, no size prefix — the
// decompressor needs the original size out of band, which Decompress
// recovers by growing its buffer rather than trusting an embedded length).
func Compress(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return []byte{0}, nil
	}
	dst := make([]byte, lz4.CompressBlockBound(len(b)))
	var c lz4.Compressor
	n, err := c.CompressBlock(b, dst)
	if err != nil {
		return nil, fmt.Errorf("ingest: lz4 compress: %w", err)
	}
	if n == 0 && len(b) > 0 {
		// Incompressible input: CompressBlock returns n == 0 when the
		// compressed form would not be smaller. Store it as an
		// uncompressed block by prefixing a marker the decompressor
		// recognizes up front.
		return append([]byte{0}, b...), nil
	}
	return append([]byte{1}, dst[:n]...), nil
}

// Decompress reverses Compress, rejecting any payload whose declared
// decompressed form would exceed MaxDecompressedSize before fully
// allocating it.
func Decompress(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, nil
	}
	marker, body := b[0], b[1:]
	if marker == 0 {
		if len(body) > MaxDecompressedSize {
			return nil, fmt.Errorf("%w: decompressed size exceeds cap", ErrFormat)
		}
		out := make([]byte, len(body))
		copy(out, body)
		return out, nil
	}

	// Grow the destination buffer geometrically, starting from a multiple
	// of the input, until decompression succeeds or the cap is exceeded.
	size := len(body) * 3
	if size < 4096 {
		size = 4096
	}
	for {
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(body, dst)
		if err == nil {
			return dst[:n], nil
		}
		if size >= MaxDecompressedSize {
			return nil, fmt.Errorf("%w: lz4 decompress: %v", ErrFormat, err)
		}
		size *= 2
		if size > MaxDecompressedSize {
			size = MaxDecompressedSize
		}
	}
}
