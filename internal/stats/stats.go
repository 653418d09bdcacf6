package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

const statisticRollingWindows = 5

// ShuffleStatistics contains statistics about an executor's shuffle activity.
// It is safe for concurrent use by many map and reduce tasks.
type ShuffleStatistics struct {
	bytesWritten      int64
	bytesRead         int64
	outputsCommitted  int64
	outputsAborted    int64
	spillsTransferred int64
	streamsOpened     int64

	commitLock               sync.Mutex
	recentCommitRuntimes     []time.Duration // for rolling average of recent commit times
	recentCommitRuntimesHead int
}

// NewShuffleStatistics creates an empty ShuffleStatistics
func NewShuffleStatistics() *ShuffleStatistics {
	return &ShuffleStatistics{recentCommitRuntimes: make([]time.Duration, statisticRollingWindows)}
}

// EndCommit tracks a successful commit of map output which started at start
func (ss *ShuffleStatistics) EndCommit(start time.Time, bytes int64, transferred bool) {
	atomic.AddInt64(&ss.outputsCommitted, 1)
	atomic.AddInt64(&ss.bytesWritten, bytes)
	if transferred {
		atomic.AddInt64(&ss.spillsTransferred, 1)
	}
	ss.commitLock.Lock()
	defer ss.commitLock.Unlock()
	ss.recentCommitRuntimes[ss.recentCommitRuntimesHead] = time.Since(start)
	ss.recentCommitRuntimesHead = (ss.recentCommitRuntimesHead + 1) % len(ss.recentCommitRuntimes)
}

// Abort tracks map output which was discarded
func (ss *ShuffleStatistics) Abort() {
	atomic.AddInt64(&ss.outputsAborted, 1)
}

// OpenStream tracks a block stream being opened
func (ss *ShuffleStatistics) OpenStream() {
	atomic.AddInt64(&ss.streamsOpened, 1)
}

// Read tracks bytes read from block streams
func (ss *ShuffleStatistics) Read(n int) {
	atomic.AddInt64(&ss.bytesRead, int64(n))
}

// GetBytesWritten returns the number of bytes committed as map output
func (ss *ShuffleStatistics) GetBytesWritten() int64 {
	return atomic.LoadInt64(&ss.bytesWritten)
}

// GetBytesRead returns the number of decoded bytes served from block streams
func (ss *ShuffleStatistics) GetBytesRead() int64 {
	return atomic.LoadInt64(&ss.bytesRead)
}

// GetNumOutputsCommitted returns the number of map outputs committed, by either write path
func (ss *ShuffleStatistics) GetNumOutputsCommitted() int64 {
	return atomic.LoadInt64(&ss.outputsCommitted)
}

// GetNumOutputsAborted returns the number of map outputs discarded
func (ss *ShuffleStatistics) GetNumOutputsAborted() int64 {
	return atomic.LoadInt64(&ss.outputsAborted)
}

// GetNumSpillsTransferred returns the number of map outputs committed through the single-spill shortcut
func (ss *ShuffleStatistics) GetNumSpillsTransferred() int64 {
	return atomic.LoadInt64(&ss.spillsTransferred)
}

// GetNumStreamsOpened returns the number of block streams opened
func (ss *ShuffleStatistics) GetNumStreamsOpened() int64 {
	return atomic.LoadInt64(&ss.streamsOpened)
}

// GetCurrentCommitTime returns a rolling average of commit time
func (ss *ShuffleStatistics) GetCurrentCommitTime() time.Duration {
	ss.commitLock.Lock()
	defer ss.commitLock.Unlock()
	var total time.Duration
	for _, d := range ss.recentCommitRuntimes {
		total += d
	}
	return total / statisticRollingWindows
}
