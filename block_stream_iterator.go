package shuffle

import "io"

// A BlockInputStream yields the decoded bytes of a single block. It releases its
// underlying resources when it reaches EOF, or when it is closed.
type BlockInputStream interface {
	io.ReadCloser
	BlockID() BlockID
}

// BlockInputStreamIterator is a single-pass iterator over BlockInputStreams, regardless of where the blocks are stored.
// Streams are produced in the order their BlockInfos were supplied, and are only opened when pulled.
type BlockInputStreamIterator interface {
	HasNextStream() bool
	// NextStream opens the next block. An error affects only that block, and the iterator still advances.
	NextStream() (BlockInputStream, error)
	OnEnd(onEnd func())
	// Close releases every stream produced by this iterator which is still open
	Close() error
}
