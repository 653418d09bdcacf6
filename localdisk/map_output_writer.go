package localdisk

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"github.com/go-sif/shuffle"
	errors "github.com/go-sif/shuffle/errors"
	"github.com/go-sif/shuffle/internal/resolver"
	"github.com/go-sif/shuffle/internal/stats"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// emptyChecksum is the checksum of a partition which received no bytes
var emptyChecksum = xxhash.Sum64(nil)

// mapOutputWriter appends partitions, in ascending order, to a single temporary data file which
// is committed along with its index by CommitAllPartitions. It is not safe for concurrent use.
type mapOutputWriter struct {
	rt            *executorRuntime
	stats         *stats.ShuffleStatistics
	log           *logrus.Entry
	shuffleID     int
	mapID         int
	numPartitions int
	start         time.Time

	partitionLengths   []int64
	partitionChecksums []uint64
	lastPartitionID    int
	current            *partitionStream
	outputTempFile     string
	outputFile         *os.File
	outputBuffer       *bufio.Writer
	finished           bool
}

func newMapOutputWriter(rt *executorRuntime, stats *stats.ShuffleStatistics, log *logrus.Entry, shuffleID int, mapID int, numPartitions int) *mapOutputWriter {
	checksums := make([]uint64, numPartitions)
	for i := range checksums {
		checksums[i] = emptyChecksum
	}
	return &mapOutputWriter{
		rt:                 rt,
		stats:              stats,
		log:                log,
		shuffleID:          shuffleID,
		mapID:              mapID,
		numPartitions:      numPartitions,
		start:              time.Now(),
		partitionLengths:   make([]int64, numPartitions),
		partitionChecksums: checksums,
		lastPartitionID:    -1,
	}
}

func (w *mapOutputWriter) failure(cause error) error {
	return errors.WriteFailure{ShuffleID: w.shuffleID, MapID: w.mapID, Cause: cause}
}

// GetPartitionWriter returns a writer for reducePartitionID, which must be greater than that of
// any partition writer previously returned. Partitions which are never requested are empty.
func (w *mapOutputWriter) GetPartitionWriter(reducePartitionID int) (shuffle.PartitionWriter, error) {
	if w.finished {
		return nil, w.failure(fmt.Errorf("Map output writer has already been committed or aborted"))
	}
	if reducePartitionID < 0 || reducePartitionID >= w.numPartitions {
		return nil, w.failure(fmt.Errorf("Partition %d is out of range for %d partitions", reducePartitionID, w.numPartitions))
	}
	if reducePartitionID <= w.lastPartitionID {
		return nil, w.failure(fmt.Errorf("Partitions must be written in ascending order, but partition %d was requested after %d", reducePartitionID, w.lastPartitionID))
	}
	if err := w.closeCurrent(); err != nil {
		return nil, err
	}
	if w.outputFile == nil {
		if err := w.openOutput(); err != nil {
			w.cleanUp()
			return nil, w.failure(err)
		}
	}
	w.lastPartitionID = reducePartitionID
	return &partitionWriter{owner: w, partitionID: reducePartitionID}, nil
}

func (w *mapOutputWriter) openOutput() error {
	dataFile, err := w.rt.resolver.DataFile(w.shuffleID, w.mapID)
	if err != nil {
		return err
	}
	w.outputTempFile = resolver.TempPath(dataFile)
	f, err := os.OpenFile(w.outputTempFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		w.outputTempFile = ""
		return err
	}
	w.outputFile = f
	w.outputBuffer = bufio.NewWriterSize(f, w.rt.opts.FileBufferSize)
	return nil
}

// closeCurrent records the length and checksum of the open partition stream, if any
func (w *mapOutputWriter) closeCurrent() error {
	if w.current == nil {
		return nil
	}
	s := w.current
	w.current = nil
	return s.Close()
}

// CommitAllPartitions flushes the data file and commits it along with its index
func (w *mapOutputWriter) CommitAllPartitions() (shuffle.MapOutputCommitMessage, error) {
	if w.finished {
		return shuffle.MapOutputCommitMessage{}, w.failure(fmt.Errorf("Map output writer has already been committed or aborted"))
	}
	if err := w.closeCurrent(); err != nil {
		return shuffle.MapOutputCommitMessage{}, err
	}
	w.finished = true

	var total int64
	for _, l := range w.partitionLengths {
		total += l
	}
	if w.outputFile != nil {
		err := w.closeOutput()
		if err == nil {
			err = verifyFileSize(w.outputTempFile, total)
		}
		if err != nil {
			w.cleanUp()
			w.stats.Abort()
			return shuffle.MapOutputCommitMessage{}, w.failure(err)
		}
	}

	var checksums []uint64
	if !w.rt.opts.DisableChecksums {
		checksums = w.partitionChecksums
	}
	// the resolver takes ownership of the temp file, whether or not the commit succeeds
	tmp := w.outputTempFile
	w.outputTempFile = ""
	committed, err := w.rt.resolver.WriteIndexFileAndCommit(w.shuffleID, w.mapID, w.partitionLengths, checksums, tmp)
	if err != nil {
		w.stats.Abort()
		w.log.Warnf("Unable to commit map output: %v", err)
		return shuffle.MapOutputCommitMessage{}, w.failure(err)
	}
	return commitMessage(w.rt, w.stats, w.log, w.shuffleID, w.mapID, w.start, w.partitionLengths, checksums, committed, false), nil
}

// Abort discards everything written so far. It is a no-op once the writer has been committed.
func (w *mapOutputWriter) Abort(cause error) error {
	if w.finished {
		return nil
	}
	w.finished = true
	w.current = nil
	w.log.Warnf("Aborting map output: %v", cause)
	w.stats.Abort()
	if err := w.cleanUp(); err != nil {
		return w.failure(err)
	}
	return nil
}

func (w *mapOutputWriter) closeOutput() error {
	var result *multierror.Error
	if err := w.outputBuffer.Flush(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := w.outputFile.Sync(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := w.outputFile.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	w.outputFile = nil
	w.outputBuffer = nil
	return result.ErrorOrNil()
}

// cleanUp closes and removes the temporary data file
func (w *mapOutputWriter) cleanUp() error {
	var result *multierror.Error
	if w.outputFile != nil {
		if err := w.outputFile.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		w.outputFile = nil
		w.outputBuffer = nil
	}
	if w.outputTempFile != "" {
		if err := os.Remove(w.outputTempFile); err != nil && !os.IsNotExist(err) {
			result = multierror.Append(result, err)
		}
		w.outputTempFile = ""
	}
	return result.ErrorOrNil()
}

func verifyFileSize(path string, expected int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() != expected {
		return fmt.Errorf("Data file %s holds %d bytes, but partition lengths add up to %d", path, info.Size(), expected)
	}
	return nil
}

// commitMessage builds the message for a successful commit. If another attempt had already
// committed this map output, the message describes that attempt's output instead.
func commitMessage(rt *executorRuntime, st *stats.ShuffleStatistics, log *logrus.Entry, shuffleID int, mapID int, start time.Time, lengths []int64, checksums []uint64, committed []int64, transferred bool) shuffle.MapOutputCommitMessage {
	var total int64
	for _, l := range committed {
		total += l
	}
	if !sameLengths(lengths, committed) || checksums == nil {
		if existing, err := rt.resolver.Checksums(shuffleID, mapID); err == nil && len(existing) == len(committed) {
			checksums = existing
		} else {
			checksums = nil
		}
	}
	st.EndCommit(start, total, transferred)
	log.Debugf("Committed %s of map output in %d partitions", humanize.IBytes(uint64(total)), len(committed))
	return shuffle.MapOutputCommitMessage{
		PartitionLengths: committed,
		Checksums:        checksums,
		Location:         rt.serverID,
	}
}

func sameLengths(a []int64, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// partitionWriter opens the single stream for one reduce partition
type partitionWriter struct {
	owner       *mapOutputWriter
	partitionID int
	stream      *partitionStream
}

// OpenStream returns a stream appending to this partition. It may only be called once.
func (pw *partitionWriter) OpenStream() (io.WriteCloser, error) {
	w := pw.owner
	if pw.stream != nil {
		return nil, w.failure(fmt.Errorf("A stream was already opened for partition %d", pw.partitionID))
	}
	if w.finished || w.lastPartitionID != pw.partitionID {
		return nil, w.failure(fmt.Errorf("Partition %d is no longer accepting writes", pw.partitionID))
	}
	pw.stream = &partitionStream{owner: w, partitionID: pw.partitionID, digest: xxhash.New()}
	w.current = pw.stream
	return pw.stream, nil
}

// NumBytesWritten returns the number of bytes written to this partition so far
func (pw *partitionWriter) NumBytesWritten() int64 {
	if pw.stream == nil {
		return 0
	}
	return pw.stream.count
}

// partitionStream counts and digests bytes on their way into the shared data file
type partitionStream struct {
	owner       *mapOutputWriter
	partitionID int
	count       int64
	digest      *xxhash.Digest
	closed      bool
}

func (s *partitionStream) Write(p []byte) (int, error) {
	w := s.owner
	if s.closed {
		return 0, w.failure(fmt.Errorf("Stream for partition %d is closed", s.partitionID))
	}
	if w.finished {
		return 0, w.failure(fmt.Errorf("Map output writer has already been committed or aborted"))
	}
	n, err := w.outputBuffer.Write(p)
	s.count += int64(n)
	s.digest.Write(p[:n])
	if err != nil {
		w.finished = true
		w.current = nil
		w.stats.Abort()
		if cerr := w.cleanUp(); cerr != nil {
			err = multierror.Append(err, cerr)
		}
		return n, w.failure(err)
	}
	return n, nil
}

// Close records the length and checksum of this partition. Closing twice is a no-op.
func (s *partitionStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	w := s.owner
	if w.current == s {
		w.current = nil
	}
	if w.finished {
		return nil
	}
	w.partitionLengths[s.partitionID] = s.count
	w.partitionChecksums[s.partitionID] = s.digest.Sum64()
	return nil
}
