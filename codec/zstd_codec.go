package codec

import (
	"io"

	"github.com/klauspost/compress/zstd"
)

// zstdCodec compresses block data using zstd. Encoders and decoders own goroutines,
// so callers must always Close what they are given.
type zstdCodec struct{}

func (c *zstdCodec) Name() string {
	return ZSTD
}

// Compress wraps w in a zstd encoder
func (c *zstdCodec) Compress(w io.Writer) (io.WriteCloser, error) {
	e, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Decompress wraps r in a zstd decoder
func (c *zstdCodec) Decompress(r io.Reader) (io.ReadCloser, error) {
	d, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return d.IOReadCloser(), nil
}
