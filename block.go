package shuffle

import "fmt"

// NoOpReduceID is the reduce id used to name a map output's data and index files, which hold every reduce partition
const NoOpReduceID = 0

// BlockID identifies the bytes a single map task produced for a single reduce partition
type BlockID struct {
	ShuffleID int
	MapID     int
	ReduceID  int
}

// String returns the canonical name of this block
func (b BlockID) String() string {
	return fmt.Sprintf("shuffle_%d_%d_%d", b.ShuffleID, b.MapID, b.ReduceID)
}

// ShuffleServerID identifies the process hosting committed map output, so that peers can fetch it
type ShuffleServerID struct {
	ExecutorID string
	Host       string
	Port       int
}

// String returns a textual representation of this ShuffleServerID
func (s ShuffleServerID) String() string {
	return fmt.Sprintf("%s@%s:%d", s.ExecutorID, s.Host, s.Port)
}

// BlockInfo describes a block a reducer wants to read. It is supplied by the caller and never modified.
type BlockInfo struct {
	BlockID
	Location *ShuffleServerID // where the block lives. nil asks the MapOutputTracker.
	Length   int64            // stored length of the block in bytes, or negative if unknown
	Checksum *uint64          // optional xxhash64 of the block's stored bytes
}
