package localdisk

import (
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/go-sif/shuffle"
	errors "github.com/go-sif/shuffle/errors"
	"github.com/go-sif/shuffle/internal/resolver"
	"github.com/go-sif/shuffle/internal/stats"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// singleSpillWriter commits a spill file which is already laid out as a data file, without
// copying it
type singleSpillWriter struct {
	rt        *executorRuntime
	stats     *stats.ShuffleStatistics
	log       *logrus.Entry
	shuffleID int
	mapID     int
	used      bool
}

func (w *singleSpillWriter) failure(cause error) error {
	return errors.WriteFailure{ShuffleID: w.shuffleID, MapID: w.mapID, Cause: cause}
}

// TransferMapSpillFile takes ownership of mapSpillFile and commits it along with an index built
// from partitionLengths. If the spill file cannot be moved, it is left where it was. checksums
// may be nil, in which case no checksum file is committed.
func (w *singleSpillWriter) TransferMapSpillFile(mapSpillFile string, partitionLengths []int64, checksums []uint64) (shuffle.MapOutputCommitMessage, error) {
	if w.used {
		return shuffle.MapOutputCommitMessage{}, w.failure(fmt.Errorf("A spill file was already transferred by this writer"))
	}
	w.used = true
	start := time.Now()
	if w.rt.opts.DisableChecksums {
		checksums = nil
	}
	if checksums != nil && len(checksums) != len(partitionLengths) {
		return shuffle.MapOutputCommitMessage{}, w.failure(fmt.Errorf("Received %d checksums for %d partitions", len(checksums), len(partitionLengths)))
	}
	var total int64
	for _, l := range partitionLengths {
		total += l
	}
	if err := verifyFileSize(mapSpillFile, total); err != nil {
		return shuffle.MapOutputCommitMessage{}, w.failure(err)
	}

	dataFile, err := w.rt.resolver.DataFile(w.shuffleID, w.mapID)
	if err != nil {
		return shuffle.MapOutputCommitMessage{}, w.failure(err)
	}
	tmp := resolver.TempPath(dataFile)
	if err := moveFile(mapSpillFile, tmp); err != nil {
		return shuffle.MapOutputCommitMessage{}, w.failure(err)
	}
	// from here on, the spill belongs to the resolver, which removes it if the commit fails
	committed, err := w.rt.resolver.WriteIndexFileAndCommit(w.shuffleID, w.mapID, partitionLengths, checksums, tmp)
	if err != nil {
		w.stats.Abort()
		w.log.Warnf("Unable to commit transferred spill file: %v", err)
		return shuffle.MapOutputCommitMessage{}, w.failure(err)
	}
	w.log.Debugf("Transferred spill file %s", mapSpillFile)
	return commitMessage(w.rt, w.stats, w.log, w.shuffleID, w.mapID, start, partitionLengths, checksums, committed, true), nil
}

// moveFile renames src to dst, falling back to a copy when they are on different filesystems.
// src only disappears once dst is complete.
func moveFile(src string, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if linkErr, ok := err.(*os.LinkError); !ok || linkErr.Err != syscall.EXDEV {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	if err == nil {
		err = out.Sync()
	}
	if cerr := out.Close(); cerr != nil {
		err = multierror.Append(err, cerr).ErrorOrNil()
	}
	if err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
