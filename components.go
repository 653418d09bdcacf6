package shuffle

import (
	"context"
	"io"
)

// ExecutorComponents is the capability surface a host process uses to store and retrieve shuffle data.
// InitializeExecutor must be invoked exactly once, before any other method.
type ExecutorComponents interface {
	// InitializeExecutor resolves runtime handles. It must be called once, before anything else.
	InitializeExecutor(appID string, execID string, extraConfigs map[string]string) error
	// CreateMapOutputWriter creates a writer which merges a map task's partitions into one data file
	CreateMapOutputWriter(shuffleID int, mapID int, mapTaskAttemptID int64, numPartitions int) (MapOutputWriter, error)
	// CreateSingleFileMapOutputWriter creates a writer which commits an existing spill file directly, if supported
	CreateSingleFileMapOutputWriter(shuffleID int, mapID int, mapTaskAttemptID int64) (SingleSpillOutcome, error)
	// GetPartitionReaders returns a lazy, ordered sequence of streams, one per BlockInfo
	GetPartitionReaders(blocks []BlockInfo) (BlockInputStreamIterator, error)
	// ShouldWrapPartitionReaderStream returns true iff callers must decode returned streams themselves
	ShouldWrapPartitionReaderStream() bool
}

// A RuntimeProvider supplies the host's handles when an executor initializes
type RuntimeProvider interface {
	BlockManager() BlockManager         // the storage handle. nil means storage is unavailable.
	MapOutputTracker() MapOutputTracker // resolves block locations which a reader did not supply
	CodecManager() CodecManager         // decodes stored block bytes
}

// A BlockManager is the host's storage handle
type BlockManager interface {
	ShuffleServerID() ShuffleServerID   // identity of this process as a host of shuffle blocks
	DiskBlockManager() DiskBlockManager // maps file names onto local disk paths
	// FetchRemoteBlock fetches a block hosted by another process
	FetchRemoteBlock(ctx context.Context, loc ShuffleServerID, id BlockID) (io.ReadCloser, error)
}

// A DiskBlockManager maps shuffle file names onto paths in local storage
type DiskBlockManager interface {
	GetFile(name string) (string, error) // returns the path for a file name, creating parent directories if necessary
}

// A MapOutputTracker knows which process hosts the output of each map task
type MapOutputTracker interface {
	Locate(id BlockID) (ShuffleServerID, error)
}

// A CodecManager wraps stored block bytes with the host's compression codec (and the inverse)
type CodecManager interface {
	WrapInputStream(id BlockID, r io.Reader) (io.ReadCloser, error)   // decodes a stored block
	WrapOutputStream(id BlockID, w io.Writer) (io.WriteCloser, error) // encodes a block for storage
}
