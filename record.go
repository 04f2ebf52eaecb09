package randread

import "encoding/binary"

// decode reads one little-endian record of the given width from b.
func decode(b []byte, width int) uint64 {
	if width == 4 {
		return uint64(binary.LittleEndian.Uint32(b))
	}
	return binary.LittleEndian.Uint64(b)
}

// encode writes v as a little-endian record of the given width into b.
func encode(b []byte, v uint64, width int) {
	if width == 4 {
		binary.LittleEndian.PutUint32(b, uint32(v))
		return
	}
	binary.LittleEndian.PutUint64(b, v)
}

// recordOffset returns the absolute byte offset of key.
func recordOffset(key uint64, width int) int64 {
	return int64(key) * int64(width)
}

// checkKey is the bounds check every backend runs before touching the file.
func checkKey(key, n uint64) error {
	if key >= n {
		return rangeError(key, n)
	}
	return nil
}
