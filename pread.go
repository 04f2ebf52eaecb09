package randread

import (
	"errors"
	"io"
	"os"
	"sync/atomic"
)

// PositionedReadStore issues one pread per Get. The call neither reads nor
// moves a shared cursor, so concurrent callers need no lock; each call uses
// its own destination buffer.
type PositionedReadStore struct {
	counters
	file   *os.File
	closed atomic.Bool
	n      uint64
	width  int
}

// OpenPositioned opens path for pread access.
func OpenPositioned(path string, opts Options) (*PositionedReadStore, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	n, err := statDataset(path, opts, false)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, classifyOpen(path, err)
	}
	return &PositionedReadStore{file: f, n: n, width: opts.Width}, nil
}

func (s *PositionedReadStore) Get(key uint64) (uint64, error) {
	v, err := s.get(key)
	return v, s.observe(err)
}

func (s *PositionedReadStore) get(key uint64) (uint64, error) {
	if err := checkKey(key, s.n); err != nil {
		return 0, err
	}
	if s.closed.Load() {
		return 0, closedError("get")
	}
	var buf [8]byte
	b := buf[:s.width]
	n, err := s.file.ReadAt(b, recordOffset(key, s.width))
	if n < s.width {
		if err == nil || errors.Is(err, io.EOF) {
			return 0, shortRead("pread", key, n, s.width)
		}
		return 0, ioError("pread", key, err)
	}
	return decode(b, s.width), nil
}

func (s *PositionedReadStore) Len() uint64 { return s.n }
func (s *PositionedReadStore) Backend() Backend { return BackendPositioned }

func (s *PositionedReadStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.file.Close()
}
