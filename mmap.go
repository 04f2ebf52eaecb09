package randread

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// MemoryMappedStore maps the whole dataset read-only once and decodes
// records straight out of the mapping. There is no syscall per Get, but the
// first touch of each page can stall on a fault the caller's timer will see.
type MemoryMappedStore struct {
	counters
	mu    sync.RWMutex
	file  *os.File
	data  []byte
	n     uint64
	width int
}

// OpenMmap maps path read-only. An empty file cannot be mapped.
func OpenMmap(path string, opts Options) (*MemoryMappedStore, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	n, err := statDataset(path, opts, false)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, openError(path, CodeEmpty, "cannot map an empty dataset", nil)
	}
	size := n * uint64(opts.Width)
	if size > uint64(maxMapLen) {
		return nil, openError(path, CodeMapFailed, fmt.Sprintf("dataset of %d bytes exceeds addressable length", size), nil)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, classifyOpen(path, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, openError(path, CodeMapFailed, "mmap dataset", err)
	}
	if opts.MmapAdvise {
		// advisory only; a failure leaves the default readahead in place
		_ = unix.Madvise(data, unix.MADV_RANDOM)
	}
	return &MemoryMappedStore{file: f, data: data, n: n, width: opts.Width}, nil
}

const maxMapLen = int(^uint(0) >> 1)

func (s *MemoryMappedStore) Get(key uint64) (uint64, error) {
	v, err := s.get(key)
	return v, s.observe(err)
}

func (s *MemoryMappedStore) get(key uint64) (uint64, error) {
	if err := checkKey(key, s.n); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil {
		return 0, closedError("get")
	}
	off := recordOffset(key, s.width)
	return decode(s.data[off:off+int64(s.width)], s.width), nil
}

func (s *MemoryMappedStore) Len() uint64 { return s.n }
func (s *MemoryMappedStore) Backend() Backend { return BackendMmap }

// Close unmaps the dataset then closes the file.
func (s *MemoryMappedStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil
	}
	var firstErr error
	if err := unix.Munmap(s.data); err != nil {
		firstErr = fmt.Errorf("munmap dataset: %w", err)
	}
	s.data = nil
	if err := s.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close dataset: %w", err)
	}
	return firstErr
}
