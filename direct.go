package randread

import (
	"errors"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// DirectPositionedReadStore reads through O_DIRECT, bypassing the page
// cache. The kernel rejects transfers whose offset, length or buffer address
// is not block aligned, so each Get reads the whole enclosing block into a
// pooled aligned buffer and decodes the record from inside it.
type DirectPositionedReadStore struct {
	counters
	fd         int
	closed     atomic.Bool
	pool       *blockPool
	n          uint64
	width      int
	blockWidth int
}

// OpenDirect opens path with O_DIRECT. The dataset length must be a whole
// number of blocks. Filesystems without direct I/O support (tmpfs, some
// overlay setups) fail with CodeDirectUnsupported.
func OpenDirect(path string, opts Options) (*DirectPositionedReadStore, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	n, err := statDataset(path, opts, true)
	if err != nil {
		return nil, err
	}
	fd, err := openDirectFd(path)
	if err != nil {
		return nil, err
	}
	pool, err := newBlockPool(opts.BufferPoolSize, opts.BlockWidth)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &DirectPositionedReadStore{
		fd:         fd,
		pool:       pool,
		n:          n,
		width:      opts.Width,
		blockWidth: opts.BlockWidth,
	}, nil
}

func (s *DirectPositionedReadStore) Get(key uint64) (uint64, error) {
	v, err := s.get(key)
	return v, s.observe(err)
}

func (s *DirectPositionedReadStore) get(key uint64) (uint64, error) {
	if err := checkKey(key, s.n); err != nil {
		return 0, err
	}
	if s.closed.Load() {
		return 0, closedError("get")
	}
	w := AlignWindow(recordOffset(key, s.width), s.blockWidth)

	i := s.pool.acquire()
	defer s.pool.release(i)
	buf := s.pool.block(i)

	n, err := unix.Pread(s.fd, buf, w.BlockOffset)
	if err != nil {
		if errors.Is(err, unix.EINVAL) {
			return 0, alignmentError("pread", key, err)
		}
		return 0, ioError("pread", key, err)
	}
	if n < s.blockWidth {
		return 0, shortRead("pread", key, n, s.blockWidth)
	}
	return decode(buf[w.Intra:w.Intra+s.width], s.width), nil
}

func (s *DirectPositionedReadStore) Len() uint64 { return s.n }
func (s *DirectPositionedReadStore) Backend() Backend { return BackendDirect }

// Close waits for every pooled block to come back before unmapping the pool,
// then closes the descriptor.
func (s *DirectPositionedReadStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	for i := 0; i < s.pool.size(); i++ {
		s.pool.acquire()
	}
	err := unix.Close(s.fd)
	if perr := s.pool.close(); err == nil {
		err = perr
	}
	return err
}
