package resolver

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/docker/docker/pkg/locker"
	"github.com/go-sif/shuffle"
	uuid "github.com/gofrs/uuid"
	"github.com/hashicorp/go-multierror"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
)

const offsetBytes = 8

// ChecksumAlgorithm names the algorithm used for partition checksums, and suffixes checksum files
const ChecksumAlgorithm = "XXHASH64"

type mapOutputKey struct {
	shuffleID int
	mapID     int
}

func (k mapOutputKey) String() string {
	return fmt.Sprintf("%d_%d", k.shuffleID, k.mapID)
}

// ManagedSegment is a byte range within a committed data file
type ManagedSegment struct {
	Path   string
	Offset int64
	Length int64
}

// IndexShuffleBlockResolver owns the on-disk layout of committed map output: one data file holding
// every reduce partition back-to-back, and one index file of cumulative offsets into it.
// An index file is only ever published after its data file is complete, so the presence of an
// index file implies a readable pair.
type IndexShuffleBlockResolver struct {
	disk       shuffle.DiskBlockManager
	locks      *locker.Locker
	indexCache *lru.Cache // mapOutputKey -> []int64 offsets
	log        *logrus.Entry

	beforeIndexPublish func() error // fault injection point, for tests
}

// New creates an IndexShuffleBlockResolver which places files using disk
func New(disk shuffle.DiskBlockManager, indexCacheSize int, log *logrus.Entry) (*IndexShuffleBlockResolver, error) {
	if disk == nil {
		return nil, fmt.Errorf("IndexShuffleBlockResolver requires a DiskBlockManager")
	}
	cache, err := lru.New(indexCacheSize)
	if err != nil {
		return nil, err
	}
	return &IndexShuffleBlockResolver{
		disk:       disk,
		locks:      locker.New(),
		indexCache: cache,
		log:        log,
	}, nil
}

func fileName(shuffleID int, mapID int, suffix string) string {
	return shuffle.BlockID{ShuffleID: shuffleID, MapID: mapID, ReduceID: shuffle.NoOpReduceID}.String() + suffix
}

// DataFile returns the path of the data file for a map output
func (r *IndexShuffleBlockResolver) DataFile(shuffleID int, mapID int) (string, error) {
	return r.disk.GetFile(fileName(shuffleID, mapID, ".data"))
}

// IndexFile returns the path of the index file for a map output
func (r *IndexShuffleBlockResolver) IndexFile(shuffleID int, mapID int) (string, error) {
	return r.disk.GetFile(fileName(shuffleID, mapID, ".index"))
}

// ChecksumFile returns the path of the checksum file for a map output
func (r *IndexShuffleBlockResolver) ChecksumFile(shuffleID int, mapID int) (string, error) {
	return r.disk.GetFile(fileName(shuffleID, mapID, ".checksum."+ChecksumAlgorithm))
}

// TempPath returns a unique sibling path for file, suitable for writing before a rename
func TempPath(file string) string {
	id, err := uuid.NewV4()
	if err != nil {
		// the uuid source is crypto/rand, which does not fail in practice
		panic(fmt.Sprintf("failed to generate UUID: %v", err))
	}
	return fmt.Sprintf("%s.%s.tmp", file, id.String())
}

// WriteIndexFileAndCommit commits dataTmp as the data file for a map output, along with an index
// built from lengths and, if checksums is non-nil, a checksum file. dataTmp may be empty, in which
// case an empty data file is committed.
//
// If a consistent pair was already committed by another attempt of the same map task, dataTmp is
// discarded and the lengths of the existing pair are returned instead. Either way, the returned
// lengths describe what readers will see.
func (r *IndexShuffleBlockResolver) WriteIndexFileAndCommit(shuffleID int, mapID int, lengths []int64, checksums []uint64, dataTmp string) (committed []int64, err error) {
	key := mapOutputKey{shuffleID: shuffleID, mapID: mapID}
	log := r.log.WithFields(logrus.Fields{"shuffleID": shuffleID, "mapID": mapID})
	indexFile, err := r.IndexFile(shuffleID, mapID)
	if err != nil {
		return nil, err
	}
	dataFile, err := r.DataFile(shuffleID, mapID)
	if err != nil {
		return nil, err
	}
	if checksums != nil && len(checksums) != len(lengths) {
		return nil, fmt.Errorf("Received %d checksums for %d partitions", len(checksums), len(lengths))
	}
	// resolved even without checksums, so that a stale checksum file is never left beside this commit
	checksumFile, err := r.ChecksumFile(shuffleID, mapID)
	if err != nil {
		return nil, err
	}

	indexTmp := TempPath(indexFile)
	var checksumTmp string
	// whatever happens, no temp file outlives this call
	defer func() {
		for _, tmp := range []string{indexTmp, checksumTmp, dataTmp} {
			if tmp == "" {
				continue
			}
			if rerr := os.Remove(tmp); rerr != nil && !os.IsNotExist(rerr) {
				log.Warnf("Unable to remove temporary file %s: %v", tmp, rerr)
			}
		}
	}()
	if err = writeOffsets(indexTmp, lengths); err != nil {
		return nil, err
	}
	if checksums != nil {
		checksumTmp = TempPath(checksumFile)
		if err = writeUint64s(checksumTmp, checksums); err != nil {
			return nil, err
		}
	}

	r.locks.Lock(key.String())
	defer r.locks.Unlock(key.String())

	if existing, ok := checkIndexAndDataFile(indexFile, dataFile, len(lengths)); ok {
		log.Debugf("Map output was already committed by another attempt, discarding this one")
		return existing, nil
	}
	// nothing consistent is committed, so anything present is debris from a failed attempt
	r.indexCache.Remove(key)
	for _, f := range []string{indexFile, dataFile, checksumFile} {
		if rerr := os.Remove(f); rerr != nil && !os.IsNotExist(rerr) {
			return nil, fmt.Errorf("Unable to remove stale file %s: %w", f, rerr)
		}
	}

	if checksums != nil {
		if err = os.Rename(checksumTmp, checksumFile); err != nil {
			return nil, fmt.Errorf("Unable to commit checksum file %s: %w", checksumFile, err)
		}
	}
	if dataTmp != "" {
		err = os.Rename(dataTmp, dataFile)
	} else {
		err = writeFileSync(dataFile, nil)
	}
	if err != nil {
		r.unpublish(log, dataFile, checksumFile)
		return nil, fmt.Errorf("Unable to commit data file %s: %w", dataFile, err)
	}
	if r.beforeIndexPublish != nil {
		if err = r.beforeIndexPublish(); err != nil {
			r.unpublish(log, dataFile, checksumFile)
			return nil, err
		}
	}
	// publishing the index is what makes this output visible
	if err = os.Rename(indexTmp, indexFile); err != nil {
		r.unpublish(log, dataFile, checksumFile)
		return nil, fmt.Errorf("Unable to commit index file %s: %w", indexFile, err)
	}
	return lengths, nil
}

// unpublish removes files moved into place by a commit which could not publish its index
func (r *IndexShuffleBlockResolver) unpublish(log *logrus.Entry, files ...string) {
	for _, f := range files {
		if f == "" {
			continue
		}
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			log.Warnf("Unable to remove unpublished file %s: %v", f, err)
		}
	}
}

// BlockData locates the bytes of a single reduce partition within a committed data file
func (r *IndexShuffleBlockResolver) BlockData(id shuffle.BlockID) (ManagedSegment, error) {
	offsets, err := r.offsets(id.ShuffleID, id.MapID)
	if err != nil {
		return ManagedSegment{}, err
	}
	if id.ReduceID < 0 || id.ReduceID+1 >= len(offsets) {
		return ManagedSegment{}, fmt.Errorf("Reduce partition %d is out of range for %s, which has %d partitions", id.ReduceID, id, len(offsets)-1)
	}
	dataFile, err := r.DataFile(id.ShuffleID, id.MapID)
	if err != nil {
		return ManagedSegment{}, err
	}
	return ManagedSegment{
		Path:   dataFile,
		Offset: offsets[id.ReduceID],
		Length: offsets[id.ReduceID+1] - offsets[id.ReduceID],
	}, nil
}

// PartitionLengths returns the committed length of every reduce partition of a map output
func (r *IndexShuffleBlockResolver) PartitionLengths(shuffleID int, mapID int) ([]int64, error) {
	offsets, err := r.offsets(shuffleID, mapID)
	if err != nil {
		return nil, err
	}
	return lengthsFromOffsets(offsets), nil
}

// Checksums returns the committed checksum of every reduce partition of a map output
func (r *IndexShuffleBlockResolver) Checksums(shuffleID int, mapID int) ([]uint64, error) {
	checksumFile, err := r.ChecksumFile(shuffleID, mapID)
	if err != nil {
		return nil, err
	}
	return readUint64s(checksumFile)
}

func (r *IndexShuffleBlockResolver) offsets(shuffleID int, mapID int) ([]int64, error) {
	key := mapOutputKey{shuffleID: shuffleID, mapID: mapID}
	if cached, ok := r.indexCache.Get(key); ok {
		return cached.([]int64), nil
	}
	// a commit or removal holding the lock must not have its cache invalidation undone
	r.locks.Lock(key.String())
	defer r.locks.Unlock(key.String())
	if cached, ok := r.indexCache.Get(key); ok {
		return cached.([]int64), nil
	}
	indexFile, err := r.IndexFile(shuffleID, mapID)
	if err != nil {
		return nil, err
	}
	raw, err := readUint64s(indexFile)
	if err != nil {
		return nil, err
	}
	offsets := make([]int64, len(raw))
	for i, o := range raw {
		offsets[i] = int64(o)
	}
	if err := validateOffsets(offsets); err != nil {
		return nil, fmt.Errorf("Index file %s is corrupt: %w", indexFile, err)
	}
	r.indexCache.Add(key, offsets)
	return offsets, nil
}

// RemoveDataByMap deletes every file belonging to a map output
func (r *IndexShuffleBlockResolver) RemoveDataByMap(shuffleID int, mapID int) error {
	key := mapOutputKey{shuffleID: shuffleID, mapID: mapID}
	r.locks.Lock(key.String())
	defer r.locks.Unlock(key.String())
	r.indexCache.Remove(key)

	var multierr *multierror.Error
	// index first, so that the pair stops being visible before the data disappears
	for _, pathFn := range []func(int, int) (string, error){r.IndexFile, r.DataFile, r.ChecksumFile} {
		f, err := pathFn(shuffleID, mapID)
		if err != nil {
			multierr = multierror.Append(multierr, err)
			continue
		}
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			multierr = multierror.Append(multierr, err)
		}
	}
	return multierr.ErrorOrNil()
}

// CheckIndexAndDataFile returns the partition lengths of a committed map output, and true, iff its
// index file describes exactly numPartitions partitions which add up to the size of its data file
func (r *IndexShuffleBlockResolver) CheckIndexAndDataFile(shuffleID int, mapID int, numPartitions int) ([]int64, bool) {
	indexFile, err := r.IndexFile(shuffleID, mapID)
	if err != nil {
		return nil, false
	}
	dataFile, err := r.DataFile(shuffleID, mapID)
	if err != nil {
		return nil, false
	}
	return checkIndexAndDataFile(indexFile, dataFile, numPartitions)
}

func checkIndexAndDataFile(indexFile string, dataFile string, numPartitions int) ([]int64, bool) {
	indexInfo, err := os.Stat(indexFile)
	if err != nil || indexInfo.Size() != int64(numPartitions+1)*offsetBytes {
		return nil, false
	}
	raw, err := readUint64s(indexFile)
	if err != nil {
		return nil, false
	}
	offsets := make([]int64, len(raw))
	for i, o := range raw {
		offsets[i] = int64(o)
	}
	if validateOffsets(offsets) != nil {
		return nil, false
	}
	dataInfo, err := os.Stat(dataFile)
	if err != nil || dataInfo.Size() != offsets[len(offsets)-1] {
		return nil, false
	}
	return lengthsFromOffsets(offsets), true
}

func validateOffsets(offsets []int64) error {
	if len(offsets) == 0 {
		return fmt.Errorf("no offsets")
	}
	if offsets[0] != 0 {
		return fmt.Errorf("first offset is %d, expected 0", offsets[0])
	}
	for i := 1; i < len(offsets); i++ {
		if offsets[i] < offsets[i-1] {
			return fmt.Errorf("offset %d (%d) is smaller than offset %d (%d)", i, offsets[i], i-1, offsets[i-1])
		}
	}
	return nil
}

func lengthsFromOffsets(offsets []int64) []int64 {
	lengths := make([]int64, len(offsets)-1)
	for i := range lengths {
		lengths[i] = offsets[i+1] - offsets[i]
	}
	return lengths
}

// writeOffsets writes len(lengths)+1 cumulative offsets to path
func writeOffsets(path string, lengths []int64) error {
	offsets := make([]uint64, len(lengths)+1)
	var offset int64
	for i, l := range lengths {
		if l < 0 {
			return fmt.Errorf("Partition %d has negative length %d", i, l)
		}
		offset += l
		offsets[i+1] = uint64(offset)
	}
	return writeUint64s(path, offsets)
}

func writeUint64s(path string, vals []uint64) error {
	buf := make([]byte, len(vals)*offsetBytes)
	for i, v := range vals {
		binary.BigEndian.PutUint64(buf[i*offsetBytes:], v)
	}
	return writeFileSync(path, buf)
}

func readUint64s(path string) ([]uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if len(buf)%offsetBytes != 0 {
		return nil, fmt.Errorf("%s has length %d, which is not a multiple of %d", path, len(buf), offsetBytes)
	}
	vals := make([]uint64, len(buf)/offsetBytes)
	for i := range vals {
		vals[i] = binary.BigEndian.Uint64(buf[i*offsetBytes:])
	}
	return vals, nil
}

// writeFileSync writes data to a new file at path and flushes it to stable storage
func writeFileSync(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(path)
		}
	}()
	if _, err = f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}
