package randread

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// blockPool is a fixed set of block-aligned buffers carved out of one
// anonymous mapping. The mapping is page aligned, so every block offset that
// is a multiple of the block width inside it is block aligned as well; the
// constructor still checks each block before handing the pool out.
//
// A block is owned by exactly one request between acquire and release.
type blockPool struct {
	arena      []byte
	blockWidth int
	blocks     [][]byte
	free       chan int
}

func newBlockPool(n, blockWidth int) (*blockPool, error) {
	if n <= 0 || blockWidth <= 0 {
		return nil, invalidError("pool", fmt.Sprintf("bad pool geometry: %d blocks of %d bytes", n, blockWidth))
	}
	page := unix.Getpagesize()
	size := n * blockWidth
	if rem := size % page; rem != 0 {
		size += page - rem
	}
	arena, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("map aligned arena: %w", err)
	}

	p := &blockPool{
		arena:      arena,
		blockWidth: blockWidth,
		blocks:     make([][]byte, n),
		free:       make(chan int, n),
	}
	for i := 0; i < n; i++ {
		b := arena[i*blockWidth : (i+1)*blockWidth : (i+1)*blockWidth]
		if !isAligned(b, blockWidth) {
			unix.Munmap(arena)
			return nil, &Error{
				Kind:    KindAlignment,
				Op:      "pool",
				Message: fmt.Sprintf("block %d is not %d-byte aligned", i, blockWidth),
			}
		}
		p.blocks[i] = b
		p.free <- i
	}
	return p, nil
}

// acquire waits for a free block and returns its index.
func (p *blockPool) acquire() int {
	return <-p.free
}

// tryAcquire returns a free block index without waiting.
func (p *blockPool) tryAcquire() (int, bool) {
	select {
	case i := <-p.free:
		return i, true
	default:
		return 0, false
	}
}

// release returns a block to the pool.
func (p *blockPool) release(i int) {
	p.free <- i
}

// block returns the buffer for index i.
func (p *blockPool) block(i int) []byte {
	return p.blocks[i]
}

// size returns the number of blocks in the pool.
func (p *blockPool) size() int {
	return len(p.blocks)
}

// close unmaps the arena. Callers must ensure no block is still in use,
// including by the kernel.
func (p *blockPool) close() error {
	if p.arena == nil {
		return nil
	}
	err := unix.Munmap(p.arena)
	p.arena = nil
	p.blocks = nil
	return err
}
