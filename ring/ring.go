// Package ring drives batched asynchronous reads through a kernel
// submission/completion queue pair (io_uring on Linux).
//
// A Driver has one submission side, which may be called from many
// goroutines, and one completion side, which must be drained by a single
// goroutine. Completions arrive in any order; callers correlate them through
// the UserData they attached at submission.
package ring

import "errors"

// Request describes one positioned read.
type Request struct {
	UserData uint64 // returned verbatim in the matching Completion
	Fd       int
	Buf      []byte // destination; must stay valid until the completion is reaped
	Offset   uint64
}

// Completion is the kernel's answer to one Request. Res is the byte count
// on success or a negated errno.
type Completion struct {
	UserData uint64
	Res      int32
}

// Driver is the submission/completion interface the async store uses.
type Driver interface {
	// Submit queues reqs and flushes them to the kernel with one call. It
	// returns how many leading requests the kernel accepted; requests past
	// that count were never submitted and their buffers are free again.
	Submit(reqs []Request) (int, error)
	// Wait blocks until at least want completions are ready and returns all
	// ready completions.
	Wait(want int) ([]Completion, error)
	// Entries returns the submission queue size.
	Entries() int
	// Close tears the ring down. Outstanding requests must be drained first.
	Close() error
}

var (
	// ErrUnsupported is returned when the kernel has no io_uring.
	ErrUnsupported = errors.New("ring: io_uring not supported")
	// ErrQueueFull is returned when the submission queue has no free entry.
	ErrQueueFull = errors.New("ring: submission queue full")
	// ErrClosed is returned by calls on a closed ring.
	ErrClosed = errors.New("ring: closed")
)

// New creates a kernel-backed ring with at least entries submission slots.
func New(entries int) (Driver, error) {
	r, err := newURing(entries)
	if err != nil {
		return nil, err
	}
	return r, nil
}
