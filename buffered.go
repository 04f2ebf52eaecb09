package randread

import (
	"errors"
	"io"
	"os"
	"sync"
)

// BufferedSeekStore reads a record by seeking the shared file cursor and then
// reading Width bytes. The two steps are not atomic, so every Get holds mu
// for the pair.
type BufferedSeekStore struct {
	counters
	mu    sync.Mutex
	file  *os.File
	buf   []byte
	n     uint64
	width int
}

// OpenBuffered opens path for seek+read access.
func OpenBuffered(path string, opts Options) (*BufferedSeekStore, error) {
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
	return &BufferedSeekStore{
		file:  f,
		buf:   make([]byte, opts.Width),
		n:     n,
		width: opts.Width,
	}, nil
}

func (s *BufferedSeekStore) Get(key uint64) (uint64, error) {
	v, err := s.get(key)
	return v, s.observe(err)
}

func (s *BufferedSeekStore) get(key uint64) (uint64, error) {
	if err := checkKey(key, s.n); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return 0, closedError("get")
	}
	if _, err := s.file.Seek(recordOffset(key, s.width), io.SeekStart); err != nil {
		return 0, ioError("seek", key, err)
	}
	n, err := io.ReadFull(s.file, s.buf)
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return 0, shortRead("read", key, n, s.width)
	}
	if err != nil {
		return 0, ioError("read", key, err)
	}
	return decode(s.buf, s.width), nil
}

func (s *BufferedSeekStore) Len() uint64 { return s.n }
func (s *BufferedSeekStore) Backend() Backend { return BackendBuffered }

// Close menutup file descriptor. Calling Close twice is a no-op.
func (s *BufferedSeekStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
