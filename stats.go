package shuffle

import "time"

// RuntimeStatistics facilitates the retrieval of statistics about an executor's shuffle activity
type RuntimeStatistics interface {
	// GetBytesWritten returns the number of bytes committed as map output
	GetBytesWritten() int64
	// GetBytesRead returns the number of decoded bytes served from block streams
	GetBytesRead() int64
	// GetNumOutputsCommitted returns the number of map outputs committed, by either write path
	GetNumOutputsCommitted() int64
	// GetNumOutputsAborted returns the number of map outputs discarded
	GetNumOutputsAborted() int64
	// GetNumSpillsTransferred returns the number of map outputs committed through the single-spill shortcut
	GetNumSpillsTransferred() int64
	// GetNumStreamsOpened returns the number of block streams opened
	GetNumStreamsOpened() int64
	// GetCurrentCommitTime returns a rolling average of commit time
	GetCurrentCommitTime() time.Duration
}
