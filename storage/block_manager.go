package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/go-sif/shuffle"
)

// A RemoteFetcher retrieves blocks hosted by other processes
type RemoteFetcher interface {
	Fetch(ctx context.Context, loc shuffle.ShuffleServerID, id shuffle.BlockID) (io.ReadCloser, error)
}

// RemoteFetcherFunc adapts a function to a RemoteFetcher
type RemoteFetcherFunc func(ctx context.Context, loc shuffle.ShuffleServerID, id shuffle.BlockID) (io.ReadCloser, error)

// Fetch calls f
func (f RemoteFetcherFunc) Fetch(ctx context.Context, loc shuffle.ShuffleServerID, id shuffle.BlockID) (io.ReadCloser, error) {
	return f(ctx, loc, id)
}

// LocalBlockManager is a shuffle.BlockManager for a process which stores its shuffle files on local disk
type LocalBlockManager struct {
	id     shuffle.ShuffleServerID
	disk   *DiskBlockManager
	remote RemoteFetcher
}

// NewLocalBlockManager creates a LocalBlockManager. remote may be nil, in which case
// remote blocks cannot be fetched.
func NewLocalBlockManager(id shuffle.ShuffleServerID, disk *DiskBlockManager, remote RemoteFetcher) *LocalBlockManager {
	return &LocalBlockManager{id: id, disk: disk, remote: remote}
}

// ShuffleServerID returns the identity of this process as a host of shuffle blocks
func (bm *LocalBlockManager) ShuffleServerID() shuffle.ShuffleServerID {
	return bm.id
}

// DiskBlockManager returns the file layout for this process's shuffle files
func (bm *LocalBlockManager) DiskBlockManager() shuffle.DiskBlockManager {
	return bm.disk
}

// FetchRemoteBlock fetches a block hosted by another process
func (bm *LocalBlockManager) FetchRemoteBlock(ctx context.Context, loc shuffle.ShuffleServerID, id shuffle.BlockID) (io.ReadCloser, error) {
	if bm.remote == nil {
		return nil, fmt.Errorf("No RemoteFetcher configured, cannot fetch %s from %s", id, loc)
	}
	return bm.remote.Fetch(ctx, loc, id)
}
