package randread

import "fmt"

// Options menyediakan opsi konfigurasi untuk semua backend Store.
//
//   - Width:          ukuran satu record dalam byte (4 atau 8)
//   - BlockWidth:     granularitas transfer direct I/O (power of two, kelipatan Width)
//   - QueueDepth:     jumlah maksimal request in-flight pada AsyncRingStore
//   - BufferPoolSize: jumlah blok aligned untuk DirectPositionedReadStore
//   - MmapAdvise:     kirim MADV_RANDOM setelah mmap
//   - RingDirect:     buka file dengan O_DIRECT untuk AsyncRingStore
//
// Nilai 0 artinya gunakan default. Lihat DefaultOptions() untuk nilai bawaan.
type Options struct {
	Width          int  // byte per record
	BlockWidth     int  // byte per blok direct I/O
	QueueDepth     int  // kapasitas ring (jumlah slot)
	BufferPoolSize int  // pool blok aligned untuk pread O_DIRECT
	MmapAdvise     bool // MADV_RANDOM untuk MemoryMappedStore
	RingDirect     bool // AsyncRingStore memakai O_DIRECT
}

// DefaultOptions mengembalikan konfigurasi default yang digunakan Open.
func DefaultOptions() Options {
	return Options{
		Width:          8,
		BlockWidth:     512,
		QueueDepth:     128,
		BufferPoolSize: 1024,
		MmapAdvise:     true,
		RingDirect:     false,
	}
}

// withDefaults fills zero fields from DefaultOptions and validates the result.
func (o Options) withDefaults() (Options, error) {
	def := DefaultOptions()
	if o.Width == 0 {
		o.Width = def.Width
	}
	if o.BlockWidth == 0 {
		o.BlockWidth = def.BlockWidth
	}
	if o.QueueDepth == 0 {
		o.QueueDepth = def.QueueDepth
	}
	if o.BufferPoolSize == 0 {
		o.BufferPoolSize = def.BufferPoolSize
	}
	return o, o.validate()
}

func (o Options) validate() error {
	if o.Width != 4 && o.Width != 8 {
		return invalidError("options", fmt.Sprintf("width must be 4 or 8, got %d", o.Width))
	}
	if o.BlockWidth <= 0 || o.BlockWidth&(o.BlockWidth-1) != 0 {
		return invalidError("options", fmt.Sprintf("block width must be a power of two, got %d", o.BlockWidth))
	}
	if o.BlockWidth%o.Width != 0 {
		return invalidError("options", fmt.Sprintf("block width %d is not a multiple of width %d", o.BlockWidth, o.Width))
	}
	if o.QueueDepth < 1 {
		return invalidError("options", fmt.Sprintf("queue depth must be positive, got %d", o.QueueDepth))
	}
	if o.BufferPoolSize < 1 {
		return invalidError("options", fmt.Sprintf("buffer pool size must be positive, got %d", o.BufferPoolSize))
	}
	return nil
}
