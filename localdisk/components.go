package localdisk

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/go-sif/shuffle"
	"github.com/go-sif/shuffle/codec"
	errors "github.com/go-sif/shuffle/errors"
	"github.com/go-sif/shuffle/internal/resolver"
	"github.com/go-sif/shuffle/internal/stats"
	"github.com/go-sif/shuffle/logging"
	"github.com/sirupsen/logrus"
)

// executorRuntime holds the handles resolved by InitializeExecutor. It is never modified after
// it has been published, so it may be read by any number of tasks without locking.
type executorRuntime struct {
	appID       string
	execID      string
	opts        *shuffle.Options
	serverID    shuffle.ShuffleServerID
	resolver    *resolver.IndexShuffleBlockResolver
	readSupport *readSupport
	log         *logrus.Entry
}

// ExecutorComponents stores shuffle data on the executor's local disks. It must be initialized
// with InitializeExecutor before writers or readers can be created.
type ExecutorComponents struct {
	opts     *shuffle.Options
	provider shuffle.RuntimeProvider
	stats    *stats.ShuffleStatistics
	initLock sync.Mutex
	runtime  atomic.Pointer[executorRuntime]
}

var _ shuffle.ExecutorComponents = (*ExecutorComponents)(nil)

// NewExecutorComponents creates uninitialized ExecutorComponents. provider is consulted exactly
// once, by InitializeExecutor. opts may be nil.
func NewExecutorComponents(opts *shuffle.Options, provider shuffle.RuntimeProvider) *ExecutorComponents {
	if opts == nil {
		opts = &shuffle.Options{}
	}
	opts = shuffle.CloneOptions(opts)
	shuffle.EnsureDefaultOptionsValues(opts)
	return &ExecutorComponents{
		opts:     opts,
		provider: provider,
		stats:    stats.NewShuffleStatistics(),
	}
}

// InitializeExecutor resolves the storage handle, this process's shuffle server identity, the
// block resolver and read support. It must be called exactly once.
func (c *ExecutorComponents) InitializeExecutor(appID string, execID string, extraConfigs map[string]string) error {
	c.initLock.Lock()
	defer c.initLock.Unlock()
	if c.runtime.Load() != nil {
		return errors.StateError{Msg: "Executor components have already been initialized"}
	}
	if c.provider == nil {
		return errors.ConfigurationError{Msg: "No RuntimeProvider was supplied to the executor components"}
	}
	blockManager := c.provider.BlockManager()
	if blockManager == nil {
		return errors.ConfigurationError{Msg: "No BlockManager available from the RuntimeProvider"}
	}
	opts, err := shuffle.MergeExtraConfigs(c.opts, extraConfigs)
	if err != nil {
		return err
	}
	log := logging.NewExecutorLogger(appID, execID, opts.LogLevel)
	blockResolver, err := resolver.New(blockManager.DiskBlockManager(), opts.IndexCacheSize, log)
	if err != nil {
		return errors.ConfigurationError{Msg: err.Error()}
	}
	codecs := c.provider.CodecManager()
	if codecs == nil {
		log.Debugf("No CodecManager available from the RuntimeProvider, blocks will not be decoded")
		if codecs, err = codec.NewManager(codec.None); err != nil {
			return errors.ConfigurationError{Msg: err.Error()}
		}
	}
	serverID := blockManager.ShuffleServerID()
	c.runtime.Store(&executorRuntime{
		appID:    appID,
		execID:   execID,
		opts:     opts,
		serverID: serverID,
		resolver: blockResolver,
		readSupport: &readSupport{
			blockManager: blockManager,
			tracker:      c.provider.MapOutputTracker(),
			codecs:       codecs,
			resolver:     blockResolver,
			self:         serverID,
			bufferSize:   opts.FileBufferSize,
			stats:        c.stats,
			log:          log,
		},
		log: log,
	})
	log.Infof("Initialized shuffle executor components, serving blocks as %s", serverID)
	return nil
}

// ready returns the runtime, or a StateError if InitializeExecutor has not succeeded yet
func (c *ExecutorComponents) ready(purpose string) (*executorRuntime, error) {
	rt := c.runtime.Load()
	if rt == nil {
		return nil, errors.StateError{Msg: "Executor components must be initialized before getting " + purpose}
	}
	return rt, nil
}

// CreateMapOutputWriter creates a writer which merges a map task's partitions into one data file
func (c *ExecutorComponents) CreateMapOutputWriter(shuffleID int, mapID int, mapTaskAttemptID int64, numPartitions int) (shuffle.MapOutputWriter, error) {
	rt, err := c.ready("writers")
	if err != nil {
		return nil, err
	}
	if numPartitions < 0 {
		return nil, errors.ConfigurationError{Key: "numPartitions", Msg: "must not be negative"}
	}
	log := logging.ForMapOutput(rt.log, shuffleID, mapID).WithField("attempt", mapTaskAttemptID)
	log.Debugf("Creating map output writer for %d partitions", numPartitions)
	return newMapOutputWriter(rt, c.stats, log, shuffleID, mapID, numPartitions), nil
}

// CreateSingleFileMapOutputWriter creates a writer which commits an existing spill file directly.
// Local disk storage can always take the shortcut; deciding whether the spill file qualifies is
// up to the caller.
func (c *ExecutorComponents) CreateSingleFileMapOutputWriter(shuffleID int, mapID int, mapTaskAttemptID int64) (shuffle.SingleSpillOutcome, error) {
	rt, err := c.ready("writers")
	if err != nil {
		return nil, err
	}
	log := logging.ForMapOutput(rt.log, shuffleID, mapID).WithField("attempt", mapTaskAttemptID)
	return shuffle.SingleSpillWriter{Writer: &singleSpillWriter{
		rt:        rt,
		stats:     c.stats,
		log:       log,
		shuffleID: shuffleID,
		mapID:     mapID,
	}}, nil
}

// GetPartitionReaders returns a lazy, ordered sequence of streams, one per BlockInfo
func (c *ExecutorComponents) GetPartitionReaders(blocks []shuffle.BlockInfo) (shuffle.BlockInputStreamIterator, error) {
	rt, err := c.ready("readers")
	if err != nil {
		return nil, err
	}
	return rt.readSupport.partitionReaders(blocks), nil
}

// ShouldWrapPartitionReaderStream is always false, as streams are decoded before they are returned
func (c *ExecutorComponents) ShouldWrapPartitionReaderStream() bool {
	return false
}

// CommittedMapOutput describes map output which has already been committed on this executor
func (c *ExecutorComponents) CommittedMapOutput(shuffleID int, mapID int) (shuffle.MapOutputCommitMessage, error) {
	rt, err := c.ready("map output")
	if err != nil {
		return shuffle.MapOutputCommitMessage{}, err
	}
	lengths, err := rt.resolver.PartitionLengths(shuffleID, mapID)
	if err != nil {
		return shuffle.MapOutputCommitMessage{}, err
	}
	checksums, err := rt.resolver.Checksums(shuffleID, mapID)
	if err != nil || len(checksums) != len(lengths) {
		checksums = nil
	}
	return shuffle.MapOutputCommitMessage{PartitionLengths: lengths, Checksums: checksums, Location: rt.serverID}, nil
}

// ServeBlock opens the stored, undecoded bytes of a block committed on this executor, so that
// they can be sent to another executor. It returns the stream along with its length.
func (c *ExecutorComponents) ServeBlock(id shuffle.BlockID) (io.ReadCloser, int64, error) {
	rt, err := c.ready("blocks")
	if err != nil {
		return nil, 0, err
	}
	raw, length, err := rt.readSupport.openBlock(context.Background(), shuffle.BlockInfo{BlockID: id, Location: &rt.serverID, Length: -1})
	if err != nil {
		return nil, 0, errors.ReadFailure{BlockID: id.String(), Cause: err}
	}
	return raw, length, nil
}

// RemoveMapOutput deletes committed map output from this executor
func (c *ExecutorComponents) RemoveMapOutput(shuffleID int, mapID int) error {
	rt, err := c.ready("map output")
	if err != nil {
		return err
	}
	return rt.resolver.RemoveDataByMap(shuffleID, mapID)
}

// Statistics returns statistics about this executor's shuffle activity
func (c *ExecutorComponents) Statistics() shuffle.RuntimeStatistics {
	return c.stats
}
