package testing

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-sif/shuffle"
	"github.com/go-sif/shuffle/localdisk"
	"github.com/go-sif/shuffle/storage"
)

// LocalRuntime is a shuffle.RuntimeProvider backed by local directories
type LocalRuntime = storage.Runtime

// CreateLocalRuntime creates a LocalRuntime which stores shuffle files under dir. opts should be
// the same Options given to the executor components using it, and may be nil.
func CreateLocalRuntime(dir string, id shuffle.ShuffleServerID, codecName string, opts *shuffle.Options, tracker *storage.MapOutputTracker, remote storage.RemoteFetcher) (*LocalRuntime, error) {
	return storage.NewRuntime([]string{dir}, opts, id, codecName, tracker, remote)
}

// LocalCluster is a set of executors in a single process, which share a map output tracker and
// fetch each other's blocks directly
type LocalCluster struct {
	Tracker   *storage.MapOutputTracker
	Executors []*localdisk.ExecutorComponents
	ServerIDs []shuffle.ShuffleServerID
}

// CreateLocalCluster creates and initializes numExecutors executors, each storing shuffle
// files in its own directory under dir
func CreateLocalCluster(dir string, numExecutors int, codecName string, opts *shuffle.Options) (*LocalCluster, error) {
	c := &LocalCluster{Tracker: storage.NewMapOutputTracker()}
	fetcher := storage.RemoteFetcherFunc(c.fetch)
	for i := 0; i < numExecutors; i++ {
		execID := fmt.Sprintf("%d", i)
		execDir := filepath.Join(dir, "executor-"+execID)
		if err := os.MkdirAll(execDir, 0755); err != nil {
			return nil, err
		}
		id := shuffle.ShuffleServerID{ExecutorID: execID, Host: "127.0.0.1", Port: 7337 + i}
		runtime, err := CreateLocalRuntime(execDir, id, codecName, opts, c.Tracker, fetcher)
		if err != nil {
			return nil, err
		}
		executor := localdisk.NewExecutorComponents(opts, runtime)
		if err := executor.InitializeExecutor("local-test", execID, nil); err != nil {
			return nil, err
		}
		c.Executors = append(c.Executors, executor)
		c.ServerIDs = append(c.ServerIDs, id)
	}
	return c, nil
}

// fetch serves a block from whichever executor in the cluster hosts it
func (c *LocalCluster) fetch(ctx context.Context, loc shuffle.ShuffleServerID, id shuffle.BlockID) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i, serverID := range c.ServerIDs {
		if serverID == loc {
			raw, _, err := c.Executors[i].ServeBlock(id)
			return raw, err
		}
	}
	return nil, fmt.Errorf("No executor in the local cluster is serving %s", loc)
}

// Register records that executor i holds the output of a map task
func (c *LocalCluster) Register(i int, shuffleID int, mapID int) {
	c.Tracker.RegisterMapOutput(shuffleID, mapID, c.ServerIDs[i])
}
