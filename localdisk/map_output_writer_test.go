package localdisk_test

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/go-sif/shuffle"
	"github.com/go-sif/shuffle/codec"
	errors "github.com/go-sif/shuffle/errors"
	shuffletest "github.com/go-sif/shuffle/testing"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
)

// countFiles counts the regular files under the runtime's local directories
func countFiles(t *testing.T, rt *shuffletest.LocalRuntime) int {
	count := 0
	for _, dir := range rt.Disk.LocalDirs() {
		err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.Mode().IsRegular() {
				count++
			}
			return nil
		})
		require.Nil(t, err)
	}
	return count
}

func readCommittedFile(t *testing.T, rt *shuffletest.LocalRuntime, shuffleID int, mapID int, suffix string) []byte {
	path, err := rt.Disk.GetFile(shuffle.BlockID{ShuffleID: shuffleID, MapID: mapID}.String() + suffix)
	require.Nil(t, err)
	data, err := os.ReadFile(path)
	require.Nil(t, err)
	return data
}

func TestSingleSpillTransferMatchesMergedOutput(t *testing.T) {
	defer goleak.VerifyNone(t)
	merged, mergedRuntime := createTestExecutor(t, codec.None, nil)
	transferred, transferredRuntime := createTestExecutor(t, codec.None, nil)

	mergedMsg := writeMapOutput(t, merged, 0, 3, 0, []string{"aa", "", "bbbb"})

	spill := filepath.Join(t.TempDir(), "spill")
	require.Nil(t, os.WriteFile(spill, []byte("aabbbb"), 0644))
	outcome, err := transferred.CreateSingleFileMapOutputWriter(0, 3, 0)
	require.Nil(t, err)
	spillWriter, ok := outcome.(shuffle.SingleSpillWriter)
	require.True(t, ok)
	checksums := []uint64{xxhash.Sum64String("aa"), xxhash.Sum64(nil), xxhash.Sum64String("bbbb")}
	msg, err := spillWriter.Writer.TransferMapSpillFile(spill, []int64{2, 0, 4}, checksums)
	require.Nil(t, err)
	require.NoFileExists(t, spill)

	require.Equal(t, mergedMsg.PartitionLengths, msg.PartitionLengths)
	require.Equal(t, mergedMsg.Checksums, msg.Checksums)
	for _, suffix := range []string{".data", ".index", ".checksum.XXHASH64"} {
		require.Equal(t, readCommittedFile(t, mergedRuntime, 0, 3, suffix), readCommittedFile(t, transferredRuntime, 0, 3, suffix), suffix)
	}
	require.EqualValues(t, 1, transferred.Statistics().GetNumSpillsTransferred())
}

func TestSingleSpillTransferWithWrongLengths(t *testing.T) {
	c, rt := createTestExecutor(t, codec.None, nil)
	spill := filepath.Join(t.TempDir(), "spill")
	require.Nil(t, os.WriteFile(spill, []byte("aabbbb"), 0644))
	outcome, err := c.CreateSingleFileMapOutputWriter(0, 4, 0)
	require.Nil(t, err)
	_, err = outcome.(shuffle.SingleSpillWriter).Writer.TransferMapSpillFile(spill, []int64{2, 2}, nil)
	require.IsType(t, errors.WriteFailure{}, err)
	// ownership was never taken
	require.FileExists(t, spill)
	require.Equal(t, 0, countFiles(t, rt))
}

func TestSpeculativeAttemptKeepsFirstOutput(t *testing.T) {
	c, _ := createTestExecutor(t, codec.None, nil)
	first := writeMapOutput(t, c, 2, 0, 0, []string{"x", "yz"})
	second := writeMapOutput(t, c, 2, 0, 1, []string{"abc", "d"})
	require.Equal(t, first.PartitionLengths, second.PartitionLengths)
	require.Equal(t, first.Checksums, second.Checksums)

	it, err := c.GetPartitionReaders([]shuffle.BlockInfo{
		{BlockID: shuffle.BlockID{ShuffleID: 2, MapID: 0, ReduceID: 0}, Location: &localID, Length: 1},
		{BlockID: shuffle.BlockID{ShuffleID: 2, MapID: 0, ReduceID: 1}, Location: &localID, Length: 2},
	})
	require.Nil(t, err)
	require.Equal(t, []string{"x", "yz"}, readAllStreams(t, it))
}

func TestAbortRemovesPartialOutput(t *testing.T) {
	defer goleak.VerifyNone(t)
	c, rt := createTestExecutor(t, codec.None, nil)
	w, err := c.CreateMapOutputWriter(3, 0, 0, 2)
	require.Nil(t, err)
	pw, err := w.GetPartitionWriter(0)
	require.Nil(t, err)
	s, err := pw.OpenStream()
	require.Nil(t, err)
	_, err = io.WriteString(s, "partial")
	require.Nil(t, err)
	require.Equal(t, 1, countFiles(t, rt))

	require.Nil(t, w.Abort(fmt.Errorf("task killed")))
	require.Equal(t, 0, countFiles(t, rt))
	_, err = w.CommitAllPartitions()
	require.IsType(t, errors.WriteFailure{}, err)
	_, err = c.CommittedMapOutput(3, 0)
	require.NotNil(t, err)
	require.EqualValues(t, 1, c.Statistics().GetNumOutputsAborted())
}

func TestPartitionsMustAscend(t *testing.T) {
	c, _ := createTestExecutor(t, codec.None, nil)
	w, err := c.CreateMapOutputWriter(4, 0, 0, 3)
	require.Nil(t, err)
	_, err = w.GetPartitionWriter(2)
	require.Nil(t, err)
	_, err = w.GetPartitionWriter(1)
	require.IsType(t, errors.WriteFailure{}, err)
	_, err = w.GetPartitionWriter(2)
	require.IsType(t, errors.WriteFailure{}, err)
	_, err = w.GetPartitionWriter(3)
	require.IsType(t, errors.WriteFailure{}, err)
	require.Nil(t, w.Abort(nil))
}

func TestUnclosedPartitionIsRecordedOnCommit(t *testing.T) {
	c, rt := createTestExecutor(t, codec.None, nil)
	w, err := c.CreateMapOutputWriter(5, 0, 0, 2)
	require.Nil(t, err)
	pw, err := w.GetPartitionWriter(0)
	require.Nil(t, err)
	s, err := pw.OpenStream()
	require.Nil(t, err)
	_, err = io.WriteString(s, "abc")
	require.Nil(t, err)
	pw, err = w.GetPartitionWriter(1)
	require.Nil(t, err)
	s, err = pw.OpenStream()
	require.Nil(t, err)
	_, err = io.WriteString(s, "de")
	require.Nil(t, err)
	msg, err := w.CommitAllPartitions()
	require.Nil(t, err)
	require.Equal(t, []int64{3, 2}, msg.PartitionLengths)
	require.Equal(t, []int64{0, 3, 5}, readIndex(t, rt, 5, 0))
	// committing again is not allowed, aborting is a no-op
	_, err = w.CommitAllPartitions()
	require.NotNil(t, err)
	require.Nil(t, w.Abort(nil))
}

func TestCommitWithNoPartitionsWritten(t *testing.T) {
	c, rt := createTestExecutor(t, codec.None, nil)
	msg := writeMapOutput(t, c, 6, 0, 0, []string{"", "", ""})
	require.Equal(t, []int64{0, 0, 0}, msg.PartitionLengths)
	require.Equal(t, []int64{0, 0, 0, 0}, readIndex(t, rt, 6, 0))
	require.Empty(t, readCommittedFile(t, rt, 6, 0, ".data"))
}

func TestChecksumsCanBeDisabled(t *testing.T) {
	c, rt := createTestExecutor(t, codec.None, &shuffle.Options{DisableChecksums: true})
	msg := writeMapOutput(t, c, 7, 0, 0, []string{"a"})
	require.Nil(t, msg.Checksums)
	path, err := rt.Disk.GetFile("shuffle_7_0_0.checksum.XXHASH64")
	require.Nil(t, err)
	require.NoFileExists(t, path)
}

func TestConcurrentMapOutputs(t *testing.T) {
	defer goleak.VerifyNone(t)
	c, _ := createTestExecutor(t, codec.None, nil)
	const numMaps = 16
	var lock sync.Mutex
	messages := make(map[int]shuffle.MapOutputCommitMessage)
	var g errgroup.Group
	for m := 0; m < numMaps; m++ {
		mapID := m
		g.Go(func() error {
			w, err := c.CreateMapOutputWriter(8, mapID, 0, 2)
			if err != nil {
				return err
			}
			for p := 0; p < 2; p++ {
				pw, err := w.GetPartitionWriter(p)
				if err != nil {
					return err
				}
				s, err := pw.OpenStream()
				if err != nil {
					return err
				}
				if _, err := fmt.Fprintf(s, "map-%d-part-%d", mapID, p); err != nil {
					return err
				}
				if err := s.Close(); err != nil {
					return err
				}
			}
			msg, err := w.CommitAllPartitions()
			if err != nil {
				return err
			}
			lock.Lock()
			defer lock.Unlock()
			messages[mapID] = msg
			return nil
		})
	}
	require.Nil(t, g.Wait())
	require.Len(t, messages, numMaps)

	blocks := make([]shuffle.BlockInfo, 0, numMaps)
	expected := make([]string, 0, numMaps)
	for m := 0; m < numMaps; m++ {
		blocks = append(blocks, shuffle.BlockInfo{BlockID: shuffle.BlockID{ShuffleID: 8, MapID: m, ReduceID: 1}, Location: &localID, Length: messages[m].PartitionLengths[1]})
		expected = append(expected, fmt.Sprintf("map-%d-part-1", m))
	}
	it, err := c.GetPartitionReaders(blocks)
	require.Nil(t, err)
	require.Equal(t, expected, readAllStreams(t, it))
}

func TestSpillWithoutChecksumsReplacesCorruptOutput(t *testing.T) {
	c, rt := createTestExecutor(t, codec.None, nil)
	first := writeMapOutput(t, c, 9, 0, 0, []string{"a", "bc"})
	require.Len(t, first.Checksums, 2)
	dataFile, err := rt.Disk.GetFile("shuffle_9_0_0.data")
	require.Nil(t, err)
	require.Nil(t, os.Truncate(dataFile, 1))

	spill := filepath.Join(t.TempDir(), "spill")
	require.Nil(t, os.WriteFile(spill, []byte("xyz"), 0644))
	outcome, err := c.CreateSingleFileMapOutputWriter(9, 0, 1)
	require.Nil(t, err)
	msg, err := outcome.(shuffle.SingleSpillWriter).Writer.TransferMapSpillFile(spill, []int64{1, 2}, nil)
	require.Nil(t, err)
	require.Equal(t, []int64{1, 2}, msg.PartitionLengths)
	require.Nil(t, msg.Checksums)
	checksumFile, err := rt.Disk.GetFile("shuffle_9_0_0.checksum.XXHASH64")
	require.Nil(t, err)
	require.NoFileExists(t, checksumFile)

	committed, err := c.CommittedMapOutput(9, 0)
	require.Nil(t, err)
	require.Nil(t, committed.Checksums)

	it, err := c.GetPartitionReaders([]shuffle.BlockInfo{
		{BlockID: shuffle.BlockID{ShuffleID: 9, MapID: 0, ReduceID: 1}, Location: &localID, Length: 2},
	})
	require.Nil(t, err)
	require.Equal(t, []string{"yz"}, readAllStreams(t, it))
}

func TestCommitWithZeroPartitions(t *testing.T) {
	c, rt := createTestExecutor(t, codec.None, nil)
	w, err := c.CreateMapOutputWriter(10, 0, 0, 0)
	require.Nil(t, err)
	_, err = w.GetPartitionWriter(0)
	require.IsType(t, errors.WriteFailure{}, err)
	msg, err := w.CommitAllPartitions()
	require.Nil(t, err)
	require.Empty(t, msg.PartitionLengths)
	require.Equal(t, []int64{0}, readIndex(t, rt, 10, 0))
	require.Empty(t, readCommittedFile(t, rt, 10, 0, ".data"))
}
