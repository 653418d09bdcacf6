package codec

import (
	"fmt"
	"io"

	"github.com/go-sif/shuffle"
)

// Names of the supported codecs
const (
	None = "none"
	LZ4  = "lz4"
	ZSTD = "zstd"
)

// A Codec compresses streams of shuffle block data (and the inverse)
type Codec interface {
	Name() string
	Compress(w io.Writer) (io.WriteCloser, error)  // Compress wraps w. Closing the result flushes it, but does not close w.
	Decompress(r io.Reader) (io.ReadCloser, error) // Decompress wraps r. Closing the result does not close r.
}

// ForName returns the Codec with the given name
func ForName(name string) (Codec, error) {
	switch name {
	case "", None:
		return noneCodec{}, nil
	case LZ4:
		return &lz4Codec{}, nil
	case ZSTD:
		return &zstdCodec{}, nil
	default:
		return nil, fmt.Errorf("Unknown compression codec %q", name)
	}
}

// manager applies the same Codec to every block
type manager struct {
	codec Codec
}

// NewManager creates a shuffle.CodecManager backed by the named Codec
func NewManager(name string) (shuffle.CodecManager, error) {
	c, err := ForName(name)
	if err != nil {
		return nil, err
	}
	return &manager{codec: c}, nil
}

// WrapInputStream decodes a stored block
func (m *manager) WrapInputStream(id shuffle.BlockID, r io.Reader) (io.ReadCloser, error) {
	rc, err := m.codec.Decompress(r)
	if err != nil {
		return nil, fmt.Errorf("Unable to decode block %s with %s: %w", id, m.codec.Name(), err)
	}
	return rc, nil
}

// WrapOutputStream encodes a block for storage
func (m *manager) WrapOutputStream(id shuffle.BlockID, w io.Writer) (io.WriteCloser, error) {
	wc, err := m.codec.Compress(w)
	if err != nil {
		return nil, fmt.Errorf("Unable to encode block %s with %s: %w", id, m.codec.Name(), err)
	}
	return wc, nil
}

type noneCodec struct{}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func (noneCodec) Name() string {
	return None
}

func (noneCodec) Compress(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func (noneCodec) Decompress(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}
