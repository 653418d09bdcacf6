package shuffle

import "io"

// A MapOutputWriter persists the partitioned output of a single map task attempt.
// Partition writers must be requested in strictly ascending reduce partition order.
// Exactly one of CommitAllPartitions or Abort ends the writer's life.
type MapOutputWriter interface {
	// GetPartitionWriter returns a writer for the given reduce partition. Partitions which are
	// never requested are committed as empty.
	GetPartitionWriter(reducePartitionID int) (PartitionWriter, error)
	// CommitAllPartitions makes the written partitions visible to readers, all at once or not at all
	CommitAllPartitions() (MapOutputCommitMessage, error)
	// Abort discards everything written so far. cause is the reason the task gave up, and may be nil.
	Abort(cause error) error
}

// A PartitionWriter receives the bytes of one reduce partition
type PartitionWriter interface {
	OpenStream() (io.WriteCloser, error) // OpenStream returns a stream for this partition's bytes. Closing it does not close the underlying file.
	NumBytesWritten() int64              // NumBytesWritten returns the number of bytes written to this partition so far
}

// MapOutputCommitMessage describes committed map output, for upstream accounting
type MapOutputCommitMessage struct {
	PartitionLengths []int64         // bytes per reduce partition
	Checksums        []uint64        // xxhash64 per reduce partition, or nil if checksums are disabled
	Location         ShuffleServerID // the process now hosting this output
}

// A SingleSpillMapOutputWriter commits a spill file which is already laid out as final map output
type SingleSpillMapOutputWriter interface {
	// TransferMapSpillFile moves mapSpillFile into place as the committed data file. The spill file
	// belongs to the writer from the moment it has been moved, whether or not the commit succeeds.
	TransferMapSpillFile(mapSpillFile string, partitionLengths []int64, checksums []uint64) (MapOutputCommitMessage, error)
}

// SingleSpillOutcome is the result of asking for a single-spill writer: either a SingleSpillWriter
// or SingleSpillNotApplicable. Callers should switch on the concrete type, and fall back to a
// MapOutputWriter when the shortcut is not applicable.
type SingleSpillOutcome interface {
	isSingleSpillOutcome()
}

// SingleSpillWriter holds a writer which may be used for the single-spill shortcut
type SingleSpillWriter struct {
	Writer SingleSpillMapOutputWriter
}

func (SingleSpillWriter) isSingleSpillOutcome() {}

// SingleSpillNotApplicable indicates that the implementation cannot take the single-spill shortcut
type SingleSpillNotApplicable struct{}

func (SingleSpillNotApplicable) isSingleSpillOutcome() {}
