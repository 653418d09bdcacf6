package localdisk

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/go-sif/shuffle"
	errors "github.com/go-sif/shuffle/errors"
	"github.com/go-sif/shuffle/internal/resolver"
	"github.com/go-sif/shuffle/internal/stats"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// readSupport opens block streams from local disk, or from another shuffle server
type readSupport struct {
	blockManager shuffle.BlockManager
	tracker      shuffle.MapOutputTracker
	codecs       shuffle.CodecManager
	resolver     *resolver.IndexShuffleBlockResolver
	self         shuffle.ShuffleServerID
	bufferSize   int
	stats        *stats.ShuffleStatistics
	log          *logrus.Entry
}

func (rs *readSupport) partitionReaders(blocks []shuffle.BlockInfo) *blockStreamIterator {
	ctx, cancel := context.WithCancel(context.Background())
	return &blockStreamIterator{
		support: rs,
		blocks:  append([]shuffle.BlockInfo(nil), blocks...),
		open:    make(map[*blockStream]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// locate determines which shuffle server holds a block
func (rs *readSupport) locate(info shuffle.BlockInfo) (shuffle.ShuffleServerID, error) {
	if info.Location != nil {
		return *info.Location, nil
	}
	if rs.tracker == nil {
		return shuffle.ShuffleServerID{}, fmt.Errorf("Block has no location and no MapOutputTracker is available")
	}
	return rs.tracker.Locate(info.BlockID)
}

// openBlock opens the undecoded bytes of a block. length is the block's length, or -1 if unknown.
func (rs *readSupport) openBlock(ctx context.Context, info shuffle.BlockInfo) (raw io.ReadCloser, length int64, err error) {
	loc, err := rs.locate(info)
	if err != nil {
		return nil, 0, err
	}
	if loc != rs.self {
		if info.Length == 0 {
			return io.NopCloser(eofReader{}), 0, nil
		}
		raw, err := rs.blockManager.FetchRemoteBlock(ctx, loc, info.BlockID)
		if err != nil {
			return nil, 0, err
		}
		return raw, info.Length, nil
	}
	seg, err := rs.resolver.BlockData(info.BlockID)
	if err != nil {
		return nil, 0, err
	}
	if seg.Length == 0 {
		return io.NopCloser(eofReader{}), 0, nil
	}
	f, err := os.Open(seg.Path)
	if err != nil {
		return nil, 0, err
	}
	section := io.NewSectionReader(f, seg.Offset, seg.Length)
	return readCloser{Reader: bufio.NewReaderSize(section, rs.bufferSize), Closer: f}, seg.Length, nil
}

// open prepares a decoded stream for a block
func (rs *readSupport) open(ctx context.Context, info shuffle.BlockInfo) (*blockStream, error) {
	raw, length, err := rs.openBlock(ctx, info)
	if err != nil {
		return nil, err
	}
	s := &blockStream{id: info.BlockID, raw: raw, stats: rs.stats}
	if length == 0 {
		// empty blocks never reach the codec
		s.decoded = raw
		s.undecoded = true
		rs.stats.OpenStream()
		return s, nil
	}
	var source io.Reader = raw
	if info.Checksum != nil {
		s.verifier = &checksumReader{r: raw, digest: xxhash.New(), expected: *info.Checksum}
		source = s.verifier
	}
	decoded, err := rs.codecs.WrapInputStream(info.BlockID, source)
	if err != nil {
		raw.Close()
		return nil, err
	}
	s.decoded = decoded
	rs.stats.OpenStream()
	return s, nil
}

// blockStreamIterator produces one stream per block, in order, opening each only when it is
// requested
type blockStreamIterator struct {
	lock         sync.Mutex
	support      *readSupport
	blocks       []shuffle.BlockInfo
	next         int
	open         map[*blockStream]struct{}
	ctx          context.Context
	cancel       context.CancelFunc
	closed       bool
	ended        bool
	endListeners []func()
}

// OnEnd registers a function to be called once all streams have been produced, or the iterator
// is closed
func (it *blockStreamIterator) OnEnd(fn func()) {
	it.lock.Lock()
	defer it.lock.Unlock()
	it.endListeners = append(it.endListeners, fn)
}

// HasNextStream returns true iff there are more blocks to produce streams for
func (it *blockStreamIterator) HasNextStream() bool {
	it.lock.Lock()
	hasNext := !it.closed && it.next < len(it.blocks)
	var listeners []func()
	if !hasNext {
		listeners = it.end()
	}
	it.lock.Unlock()
	runListeners(listeners)
	return hasNext
}

// end marks the iterator as ended, returning the listeners which must be notified. Callers must
// hold the lock.
func (it *blockStreamIterator) end() []func() {
	if it.ended {
		return nil
	}
	it.ended = true
	listeners := it.endListeners
	it.endListeners = nil
	return listeners
}

func runListeners(listeners []func()) {
	for _, fn := range listeners {
		fn()
	}
}

// NextStream opens the stream for the next block. A block which cannot be opened produces a
// ReadFailure, and the iterator moves on to the following block.
func (it *blockStreamIterator) NextStream() (shuffle.BlockInputStream, error) {
	it.lock.Lock()
	if it.closed || it.next >= len(it.blocks) {
		listeners := it.end()
		it.lock.Unlock()
		runListeners(listeners)
		return nil, errors.NoMoreStreamsError{}
	}
	info := it.blocks[it.next]
	it.next++
	it.lock.Unlock()

	// opening may block on a remote fetch, which Close must be able to cancel
	s, err := it.support.open(it.ctx, info)
	if err != nil {
		it.support.log.Warnf("Unable to open block %s: %v", info.BlockID, err)
		return nil, errors.ReadFailure{BlockID: info.BlockID.String(), Cause: err}
	}
	s.onRelease = func() {
		it.lock.Lock()
		delete(it.open, s)
		it.lock.Unlock()
	}
	it.lock.Lock()
	if it.closed {
		it.lock.Unlock()
		s.Close()
		return nil, errors.ReadFailure{BlockID: info.BlockID.String(), Cause: context.Canceled}
	}
	it.open[s] = struct{}{}
	it.lock.Unlock()
	return s, nil
}

// Close releases every stream which has been produced but not yet fully read or closed
func (it *blockStreamIterator) Close() error {
	it.lock.Lock()
	if it.closed {
		it.lock.Unlock()
		return nil
	}
	it.closed = true
	it.cancel()
	streams := make([]*blockStream, 0, len(it.open))
	for s := range it.open {
		streams = append(streams, s)
	}
	it.open = make(map[*blockStream]struct{})
	listeners := it.end()
	it.lock.Unlock()

	var result *multierror.Error
	for _, s := range streams {
		if err := s.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	runListeners(listeners)
	return result.ErrorOrNil()
}

// blockStream is a decoded stream over one block. It releases its resources as soon as it has
// been read to the end.
type blockStream struct {
	id          shuffle.BlockID
	raw         io.ReadCloser
	decoded     io.ReadCloser
	undecoded   bool
	verifier    *checksumReader
	stats       *stats.ShuffleStatistics
	onRelease   func()
	releaseOnce sync.Once
	releaseErr  error
	lock        sync.Mutex
	done        bool
	closed      bool
}

// BlockID returns the id of the block this stream reads
func (s *blockStream) BlockID() shuffle.BlockID {
	return s.id
}

func (s *blockStream) Read(p []byte) (int, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return 0, errors.ReadFailure{BlockID: s.id.String(), Cause: os.ErrClosed}
	}
	if s.done {
		return 0, io.EOF
	}
	n, err := s.decoded.Read(p)
	s.stats.Read(n)
	if err == io.EOF && s.verifier != nil {
		if verr := s.verifier.finish(); verr != nil {
			err = verr
		}
	}
	if err == nil {
		return n, nil
	}
	s.done = true
	s.release()
	if err == io.EOF {
		return n, io.EOF
	}
	return n, errors.ReadFailure{BlockID: s.id.String(), Cause: err}
}

// Close releases this stream's resources. It is safe to call more than once.
func (s *blockStream) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.closed = true
	return s.release()
}

func (s *blockStream) release() error {
	s.releaseOnce.Do(func() {
		var result *multierror.Error
		if !s.undecoded {
			if err := s.decoded.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
		if err := s.raw.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		s.releaseErr = result.ErrorOrNil()
		if s.onRelease != nil {
			s.onRelease()
		}
	})
	return s.releaseErr
}

// checksumReader digests the bytes read through it, so that they can be compared against a
// checksum recorded when the block was written
type checksumReader struct {
	r        io.Reader
	digest   *xxhash.Digest
	expected uint64
}

func (c *checksumReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.digest.Write(p[:n])
	return n, err
}

// finish digests anything the decoder left unread, then compares checksums
func (c *checksumReader) finish() error {
	if _, err := io.Copy(c.digest, c.r); err != nil {
		return err
	}
	if actual := c.digest.Sum64(); actual != c.expected {
		return errors.ChecksumMismatchError{Expected: c.expected, Actual: actual}
	}
	return nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) {
	return 0, io.EOF
}
