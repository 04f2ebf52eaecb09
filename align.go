package randread

import "unsafe"

// Window is the block-aligned transfer that covers one record.
type Window struct {
	BlockOffset int64 // multiple of the block width
	Intra       int   // record position inside the block
}

// AlignWindow decomposes an absolute byte offset into its enclosing block and
// the remainder. blockWidth must be a power of two.
func AlignWindow(offset int64, blockWidth int) Window {
	mask := int64(blockWidth - 1)
	return Window{
		BlockOffset: offset &^ mask,
		Intra:       int(offset & mask),
	}
}

// isAligned reports whether the first byte of b sits on an n-byte boundary.
func isAligned(b []byte, n int) bool {
	if len(b) == 0 {
		return false
	}
	return uintptr(unsafe.Pointer(&b[0]))%uintptr(n) == 0
}
