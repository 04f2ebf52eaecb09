//go:build linux

package ring

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	opRead = 22 // IORING_OP_READ, kernel 5.6+

	enterGetEvents = 1 << 0 // IORING_ENTER_GETEVENTS
	featSingleMmap = 1 << 0 // IORING_FEAT_SINGLE_MMAP

	offSQRing = 0
	offCQRing = 0x8000000
	offSQEs   = 0x10000000
)

// Kernel ABI structs; field order and sizes must match io_uring.h.

type sqRingOffsets struct {
	head        uint32
	tail        uint32
	ringMask    uint32
	ringEntries uint32
	flags       uint32
	dropped     uint32
	array       uint32
	resv1       uint32
	userAddr    uint64
}

type cqRingOffsets struct {
	head        uint32
	tail        uint32
	ringMask    uint32
	ringEntries uint32
	overflow    uint32
	cqes        uint32
	flags       uint32
	resv1       uint32
	userAddr    uint64
}

type params struct {
	sqEntries    uint32
	cqEntries    uint32
	flags        uint32
	sqThreadCPU  uint32
	sqThreadIdle uint32
	features     uint32
	wqFd         uint32
	resv         [3]uint32
	sqOff        sqRingOffsets
	cqOff        cqRingOffsets
}

type sqe struct {
	opcode      uint8
	flags       uint8
	ioprio      uint16
	fd          int32
	off         uint64
	addr        uint64
	len         uint32
	opFlags     uint32
	userData    uint64
	bufIndex    uint16
	personality uint16
	spliceFdIn  int32
	pad         [2]uint64
}

type cqe struct {
	userData uint64
	res      int32
	flags    uint32
}

// uring is an io_uring instance without SQPOLL. Submissions are serialized
// by subMu; the completion side has a single consumer.
type uring struct {
	fd      int
	entries uint32

	sqRing []byte
	cqRing []byte
	sqeMem []byte

	sqHead  *uint32
	sqTail  *uint32
	sqMask  uint32
	sqArray []uint32
	sqes    []sqe

	cqHead *uint32
	cqTail *uint32
	cqMask uint32
	cqes   []cqe

	subMu  sync.Mutex
	closed atomic.Bool
}

func newURing(entries int) (*uring, error) {
	if entries < 1 {
		entries = 1
	}
	var p params
	fd, _, errno := unix.Syscall(unix.SYS_IO_URING_SETUP, uintptr(entries), uintptr(unsafe.Pointer(&p)), 0)
	if errno != 0 {
		if errno == unix.ENOSYS || errno == unix.EPERM {
			return nil, fmt.Errorf("%w: %v", ErrUnsupported, errno)
		}
		return nil, fmt.Errorf("io_uring_setup(%d): %w", entries, errno)
	}

	r := &uring{fd: int(fd), entries: p.sqEntries}
	if err := r.mapRings(&p); err != nil {
		r.unmap()
		unix.Close(r.fd)
		return nil, err
	}
	return r, nil
}

func (r *uring) mapRings(p *params) error {
	sqSize := int(p.sqOff.array + p.sqEntries*4)
	cqSize := int(p.cqOff.cqes + p.cqEntries*uint32(unsafe.Sizeof(cqe{})))
	single := p.features&featSingleMmap != 0
	if single {
		if cqSize > sqSize {
			sqSize = cqSize
		}
		cqSize = sqSize
	}

	prot := unix.PROT_READ | unix.PROT_WRITE
	flags := unix.MAP_SHARED | unix.MAP_POPULATE

	var err error
	r.sqRing, err = unix.Mmap(r.fd, offSQRing, sqSize, prot, flags)
	if err != nil {
		return fmt.Errorf("mmap sq ring: %w", err)
	}
	if single {
		r.cqRing = r.sqRing
	} else {
		r.cqRing, err = unix.Mmap(r.fd, offCQRing, cqSize, prot, flags)
		if err != nil {
			return fmt.Errorf("mmap cq ring: %w", err)
		}
	}
	r.sqeMem, err = unix.Mmap(r.fd, offSQEs, int(p.sqEntries)*int(unsafe.Sizeof(sqe{})), prot, flags)
	if err != nil {
		return fmt.Errorf("mmap sqes: %w", err)
	}

	r.sqHead = (*uint32)(unsafe.Pointer(&r.sqRing[p.sqOff.head]))
	r.sqTail = (*uint32)(unsafe.Pointer(&r.sqRing[p.sqOff.tail]))
	r.sqMask = *(*uint32)(unsafe.Pointer(&r.sqRing[p.sqOff.ringMask]))
	r.sqArray = unsafe.Slice((*uint32)(unsafe.Pointer(&r.sqRing[p.sqOff.array])), p.sqEntries)
	r.sqes = unsafe.Slice((*sqe)(unsafe.Pointer(&r.sqeMem[0])), p.sqEntries)

	r.cqHead = (*uint32)(unsafe.Pointer(&r.cqRing[p.cqOff.head]))
	r.cqTail = (*uint32)(unsafe.Pointer(&r.cqRing[p.cqOff.tail]))
	r.cqMask = *(*uint32)(unsafe.Pointer(&r.cqRing[p.cqOff.ringMask]))
	r.cqes = unsafe.Slice((*cqe)(unsafe.Pointer(&r.cqRing[p.cqOff.cqes])), p.cqEntries)
	return nil
}

func (r *uring) Entries() int { return int(r.entries) }

func (r *uring) Submit(reqs []Request) (int, error) {
	if len(reqs) == 0 {
		return 0, nil
	}
	r.subMu.Lock()
	defer r.subMu.Unlock()
	if r.closed.Load() {
		return 0, ErrClosed
	}

	head := atomic.LoadUint32(r.sqHead)
	tail := *r.sqTail
	if uint32(len(reqs)) > r.entries-(tail-head) {
		return 0, ErrQueueFull
	}
	for _, req := range reqs {
		if len(req.Buf) == 0 {
			return 0, fmt.Errorf("ring: empty buffer for user data %d", req.UserData)
		}
	}

	for _, req := range reqs {
		idx := tail & r.sqMask
		r.sqes[idx] = sqe{
			opcode:   opRead,
			fd:       int32(req.Fd),
			off:      req.Offset,
			addr:     uint64(uintptr(unsafe.Pointer(&req.Buf[0]))),
			len:      uint32(len(req.Buf)),
			userData: req.UserData,
		}
		r.sqArray[idx] = idx
		tail++
	}
	atomic.StoreUint32(r.sqTail, tail)

	submitted := 0
	for submitted < len(reqs) {
		n, err := r.enter(uint32(len(reqs)-submitted), 0, 0)
		submitted += int(n)
		if err != nil {
			// Entries the kernel did not consume are withdrawn so a later
			// enter cannot pick them up after the caller reuses the buffers.
			atomic.StoreUint32(r.sqTail, atomic.LoadUint32(r.sqHead))
			return submitted, fmt.Errorf("io_uring_enter submit: %w", err)
		}
	}
	return submitted, nil
}

func (r *uring) Wait(want int) ([]Completion, error) {
	var out []Completion
	for {
		out = r.reap(out)
		if len(out) >= want {
			return out, nil
		}
		if r.closed.Load() {
			return out, ErrClosed
		}
		if _, err := r.enter(0, uint32(want-len(out)), enterGetEvents); err != nil {
			return out, fmt.Errorf("io_uring_enter wait: %w", err)
		}
	}
}

func (r *uring) reap(out []Completion) []Completion {
	head := *r.cqHead
	tail := atomic.LoadUint32(r.cqTail)
	for ; head != tail; head++ {
		c := r.cqes[head&r.cqMask]
		out = append(out, Completion{UserData: c.userData, Res: c.res})
	}
	atomic.StoreUint32(r.cqHead, head)
	return out
}

// enter retries on EINTR. Syscall6 (not RawSyscall) lets the scheduler hand
// the P to another thread while this one sleeps in the kernel.
func (r *uring) enter(toSubmit, minComplete, flags uint32) (uint32, error) {
	for {
		n, _, errno := unix.Syscall6(unix.SYS_IO_URING_ENTER,
			uintptr(r.fd), uintptr(toSubmit), uintptr(minComplete), uintptr(flags), 0, 0)
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			return 0, errno
		}
		return uint32(n), nil
	}
}

func (r *uring) Close() error {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	if r.closed.Swap(true) {
		return nil
	}
	err := r.unmap()
	if cerr := unix.Close(r.fd); err == nil && cerr != nil {
		err = cerr
	}
	return err
}

func (r *uring) unmap() error {
	var errs []error
	if r.sqeMem != nil {
		errs = append(errs, unix.Munmap(r.sqeMem))
		r.sqeMem = nil
	}
	if r.cqRing != nil && len(r.sqRing) > 0 && &r.cqRing[0] != &r.sqRing[0] {
		errs = append(errs, unix.Munmap(r.cqRing))
	}
	r.cqRing = nil
	if r.sqRing != nil {
		errs = append(errs, unix.Munmap(r.sqRing))
		r.sqRing = nil
	}
	return errors.Join(errs...)
}
