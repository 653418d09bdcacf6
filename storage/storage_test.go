package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-sif/shuffle"
	"github.com/go-sif/shuffle/codec"
	"github.com/stretchr/testify/require"
)

func TestDiskBlockManagerGetFile(t *testing.T) {
	dirs := []string{t.TempDir(), t.TempDir()}
	dbm, err := NewDiskBlockManager(dirs, 4)
	require.Nil(t, err)

	p1, err := dbm.GetFile("shuffle_0_3_0.data")
	require.Nil(t, err)
	p2, err := dbm.GetFile("shuffle_0_3_0.data")
	require.Nil(t, err)
	require.Equal(t, p1, p2)
	require.Equal(t, "shuffle_0_3_0.data", filepath.Base(p1))

	// the parent is a hex sub-directory of one of our local dirs
	parent := filepath.Dir(p1)
	require.DirExists(t, parent)
	require.Contains(t, dirs, filepath.Dir(parent))
}

func TestDiskBlockManagerRequiresDirs(t *testing.T) {
	_, err := NewDiskBlockManager(nil, 4)
	require.NotNil(t, err)
	_, err = NewDiskBlockManager([]string{t.TempDir()}, 0)
	require.NotNil(t, err)
}

func TestMapOutputTracker(t *testing.T) {
	tracker := NewMapOutputTracker()
	loc := shuffle.ShuffleServerID{ExecutorID: "e1", Host: "10.0.0.1", Port: 7337}
	tracker.RegisterMapOutput(0, 3, loc)

	found, err := tracker.Locate(shuffle.BlockID{ShuffleID: 0, MapID: 3, ReduceID: 1})
	require.Nil(t, err)
	require.Equal(t, loc, found)

	_, err = tracker.Locate(shuffle.BlockID{ShuffleID: 0, MapID: 4, ReduceID: 1})
	require.NotNil(t, err)

	tracker.UnregisterShuffle(0)
	_, err = tracker.Locate(shuffle.BlockID{ShuffleID: 0, MapID: 3, ReduceID: 1})
	require.NotNil(t, err)
}

func TestLocalBlockManagerRemoteFetch(t *testing.T) {
	dbm, err := NewDiskBlockManager([]string{t.TempDir()}, 1)
	require.Nil(t, err)
	self := shuffle.ShuffleServerID{ExecutorID: "e1"}
	other := shuffle.ShuffleServerID{ExecutorID: "e2"}

	bm := NewLocalBlockManager(self, dbm, nil)
	_, err = bm.FetchRemoteBlock(context.Background(), other, shuffle.BlockID{})
	require.NotNil(t, err)

	bm = NewLocalBlockManager(self, dbm, RemoteFetcherFunc(func(ctx context.Context, loc shuffle.ShuffleServerID, id shuffle.BlockID) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(loc.ExecutorID + "/" + id.String())), nil
	}))
	rc, err := bm.FetchRemoteBlock(context.Background(), other, shuffle.BlockID{ShuffleID: 1, MapID: 2, ReduceID: 3})
	require.Nil(t, err)
	data, err := io.ReadAll(rc)
	require.Nil(t, err)
	require.Equal(t, "e2/shuffle_1_2_3", string(data))
}

func TestRuntimeLaysOutDirsFromOptions(t *testing.T) {
	subDirs := func(opts *shuffle.Options) map[string]bool {
		rt, err := NewRuntime([]string{t.TempDir()}, opts, shuffle.ShuffleServerID{ExecutorID: "e1"}, codec.None, nil, nil)
		require.Nil(t, err)
		seen := make(map[string]bool)
		for m := 0; m < 32; m++ {
			p, err := rt.Disk.GetFile(fmt.Sprintf("shuffle_0_%d_0.data", m))
			require.Nil(t, err)
			seen[filepath.Base(filepath.Dir(p))] = true
		}
		return seen
	}
	require.Equal(t, map[string]bool{"00": true}, subDirs(&shuffle.Options{SubDirsPerLocalDir: 1}))
	require.Greater(t, len(subDirs(nil)), 1)
}
