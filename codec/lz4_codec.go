package codec

import (
	"io"

	"github.com/pierrec/lz4"
)

// lz4Codec compresses block data using the lz4 frame format
type lz4Codec struct{}

func (c *lz4Codec) Name() string {
	return LZ4
}

// Compress wraps w in an lz4 frame writer
func (c *lz4Codec) Compress(w io.Writer) (io.WriteCloser, error) {
	return lz4.NewWriter(w), nil
}

// Decompress wraps r in an lz4 frame reader
func (c *lz4Codec) Decompress(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}
