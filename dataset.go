package randread

import (
	"bufio"
	"fmt"
	"os"
)

// GenerateDataset writes count records of the given width to path where the
// value at key k is k, followed by the layout sidecar. When padBlock is
// positive the record count is rounded up so the file length is a whole
// number of padBlock-byte blocks; padding records keep the value==key rule.
// It returns the number of records written.
func GenerateDataset(path string, count uint64, width, padBlock int) (uint64, error) {
	if width != 4 && width != 8 {
		return 0, invalidError("generate", fmt.Sprintf("width must be 4 or 8, got %d", width))
	}
	if padBlock > 0 {
		if padBlock%width != 0 {
			return 0, invalidError("generate", fmt.Sprintf("pad block %d is not a multiple of width %d", padBlock, width))
		}
		perBlock := uint64(padBlock / width)
		if rem := count % perBlock; rem != 0 {
			count += perBlock - rem
		}
	}
	if width == 4 && count > 1<<32 {
		return 0, invalidError("generate", fmt.Sprintf("%d records do not fit 4-byte values", count))
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create dataset: %w", err)
	}
	w := bufio.NewWriterSize(f, 1<<20)
	buf := make([]byte, width)
	for k := uint64(0); k < count; k++ {
		encode(buf, k, width)
		if _, err := w.Write(buf); err != nil {
			f.Close()
			return 0, fmt.Errorf("write record %d: %w", k, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return 0, fmt.Errorf("flush dataset: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close dataset: %w", err)
	}
	if err := writeLayout(path, layout{Width: width, Records: count}); err != nil {
		return 0, err
	}
	return count, nil
}

// Verify reads keys [0, count) sequentially and checks value==key. It returns
// the sum of the values read, mirroring a read-back pass over a fresh
// dataset.
func Verify(s Store, count uint64) (uint64, error) {
	if count > s.Len() {
		return 0, rangeError(count-1, s.Len())
	}
	var total uint64
	for k := uint64(0); k < count; k++ {
		v, err := s.Get(k)
		if err != nil {
			return total, err
		}
		if v != k {
			return total, &Error{
				Kind:    KindIO,
				Op:      "verify",
				Key:     k,
				HasKey:  true,
				Message: fmt.Sprintf("value mismatch: got %d", v),
			}
		}
		total += v
	}
	return total, nil
}
