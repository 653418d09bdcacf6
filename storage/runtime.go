package storage

import (
	"github.com/go-sif/shuffle"
	"github.com/go-sif/shuffle/codec"
)

// Runtime is a shuffle.RuntimeProvider for a process which keeps its shuffle files in local
// directories
type Runtime struct {
	Disk    *DiskBlockManager
	Blocks  *LocalBlockManager
	Tracker *MapOutputTracker
	Codecs  shuffle.CodecManager
}

// NewRuntime creates a Runtime, laying out localDirs according to opts, which may be nil. tracker
// may be nil, in which case a new one is created. remote may be nil if this process never reads
// blocks hosted elsewhere.
func NewRuntime(localDirs []string, opts *shuffle.Options, id shuffle.ShuffleServerID, codecName string, tracker *MapOutputTracker, remote RemoteFetcher) (*Runtime, error) {
	if opts == nil {
		opts = &shuffle.Options{}
	}
	opts = shuffle.CloneOptions(opts)
	shuffle.EnsureDefaultOptionsValues(opts)
	disk, err := NewDiskBlockManager(localDirs, opts.SubDirsPerLocalDir)
	if err != nil {
		return nil, err
	}
	codecs, err := codec.NewManager(codecName)
	if err != nil {
		return nil, err
	}
	if tracker == nil {
		tracker = NewMapOutputTracker()
	}
	return &Runtime{
		Disk:    disk,
		Blocks:  NewLocalBlockManager(id, disk, remote),
		Tracker: tracker,
		Codecs:  codecs,
	}, nil
}

// BlockManager returns the runtime's storage handle
func (r *Runtime) BlockManager() shuffle.BlockManager {
	if r.Blocks == nil {
		return nil
	}
	return r.Blocks
}

// MapOutputTracker returns the runtime's map output tracker
func (r *Runtime) MapOutputTracker() shuffle.MapOutputTracker {
	if r.Tracker == nil {
		return nil
	}
	return r.Tracker
}

// CodecManager returns the runtime's codec manager
func (r *Runtime) CodecManager() shuffle.CodecManager {
	return r.Codecs
}
