package randread

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/luhtfiimanal/go-randread/ring"
)

// ReadRequest is one logical read in a batch. Tag is chosen by the caller
// and comes back unchanged in the matching ReadResult.
type ReadRequest struct {
	Key uint64
	Tag uint64
}

// ReadResult is the outcome of one ReadRequest.
type ReadResult struct {
	Tag   uint64
	Key   uint64
	Value uint64
	Err   error
}

// pending is the per-slot record of a submitted request.
type pending struct {
	active      bool
	tag         uint64
	key         uint64
	blockOffset int64
	intra       int
	done        chan ReadResult // nil for batch requests
}

// AsyncRingStore reads through a submission/completion ring. Each in-flight
// request owns one aligned slot buffer; the kernel's user data carries the
// slot index, which maps back to the caller's tag, so completions may arrive
// in any order.
//
// Capacity is a token per slot. A token is taken at submission and given back
// when the result reaches the caller, so at most QueueDepth requests are ever
// submitted-but-unconsumed. SubmitBatch fails fast with a capacity error when
// tokens run out; Get parks the calling goroutine until one is free.
//
// One dispatcher goroutine drains the completion queue, and only while
// something is in flight. Close stops new submissions and waits for every
// outstanding completion before the slots and descriptor are released.
type AsyncRingStore struct {
	counters
	fd         int
	drv        ring.Driver
	slots      *blockPool
	tokens     chan struct{}
	harvest    chan ReadResult
	n          uint64
	width      int
	blockWidth int
	depth      int

	mu         sync.Mutex
	cond       *sync.Cond
	pend       []pending
	inflight   int // accepted by the driver, not yet completed
	submitting int // between slot assignment and driver return
	explicit   int // batch requests submitted, not yet harvested
	closing    bool
	broken     error
	done       chan struct{}
}

// OpenAsyncRing opens path and builds a ring of opts.QueueDepth entries.
// Kernels without io_uring (or sandboxes that block it) fail with
// CodeRingUnsupported.
func OpenAsyncRing(path string, opts Options) (*AsyncRingStore, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	n, err := statDataset(path, opts, opts.RingDirect)
	if err != nil {
		return nil, err
	}
	fd, err := openReadFd(path, opts.RingDirect)
	if err != nil {
		return nil, err
	}
	drv, err := ring.New(opts.QueueDepth)
	if err != nil {
		unix.Close(fd)
		if errors.Is(err, ring.ErrUnsupported) {
			return nil, openError(path, CodeRingUnsupported, "kernel ring unavailable", err)
		}
		return nil, openError(path, "", "create ring", err)
	}
	s, err := newAsyncRingStore(fd, drv, n, opts)
	if err != nil {
		drv.Close()
		unix.Close(fd)
		return nil, err
	}
	return s, nil
}

func openReadFd(path string, direct bool) (int, error) {
	if direct {
		return openDirectFd(path)
	}
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, classifyOpen(path, err)
	}
	return fd, nil
}

// newAsyncRingStore wires a store around an existing descriptor and driver.
// Ownership of both passes to the store only on success.
func newAsyncRingStore(fd int, drv ring.Driver, n uint64, opts Options) (*AsyncRingStore, error) {
	depth := opts.QueueDepth
	if e := drv.Entries(); e < depth {
		depth = e
	}
	slots, err := newBlockPool(depth, opts.BlockWidth)
	if err != nil {
		return nil, err
	}
	s := &AsyncRingStore{
		fd:         fd,
		drv:        drv,
		slots:      slots,
		tokens:     make(chan struct{}, depth),
		harvest:    make(chan ReadResult, depth),
		n:          n,
		width:      opts.Width,
		blockWidth: opts.BlockWidth,
		depth:      depth,
		pend:       make([]pending, depth),
		done:       make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	for i := 0; i < depth; i++ {
		s.tokens <- struct{}{}
	}
	go s.dispatch()
	return s, nil
}

// Depth returns the maximum number of outstanding requests.
func (s *AsyncRingStore) Depth() int { return s.depth }
func (s *AsyncRingStore) Len() uint64 { return s.n }
func (s *AsyncRingStore) Backend() Backend { return BackendAsyncRing }

func (s *AsyncRingStore) newPending(key, tag uint64, done chan ReadResult) pending {
	w := AlignWindow(recordOffset(key, s.width), s.blockWidth)
	return pending{tag: tag, key: key, blockOffset: w.BlockOffset, intra: w.Intra, done: done}
}

// Get reads one record, parking the calling goroutine (not its OS thread)
// until the completion arrives.
func (s *AsyncRingStore) Get(key uint64) (uint64, error) {
	return s.GetContext(context.Background(), key)
}

// GetContext is Get with a context bounding the wait for a free slot. Once
// submitted, a request runs to completion regardless of ctx.
func (s *AsyncRingStore) GetContext(ctx context.Context, key uint64) (uint64, error) {
	if err := checkKey(key, s.n); err != nil {
		return 0, s.observe(err)
	}
	select {
	case <-s.tokens:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	done := make(chan ReadResult, 1)
	if _, err := s.submit([]pending{s.newPending(key, key, done)}); err != nil {
		s.tokens <- struct{}{}
		return 0, s.observe(err)
	}
	res := <-done
	s.tokens <- struct{}{}
	return res.Value, res.Err
}

// SubmitBatch flushes reqs to the ring with one submit call. It never
// blocks for capacity: when fewer than len(reqs) slots are free it enqueues
// nothing and returns a capacity error. On a submit failure the returned
// count says how many leading requests did reach the ring; those will still
// be delivered by WaitAndHarvest.
func (s *AsyncRingStore) SubmitBatch(reqs []ReadRequest) (int, error) {
	if len(reqs) == 0 {
		return 0, nil
	}
	batch := make([]pending, len(reqs))
	for i, r := range reqs {
		if err := checkKey(r.Key, s.n); err != nil {
			return 0, s.observe(err)
		}
		batch[i] = s.newPending(r.Key, r.Tag, nil)
	}

	got := 0
	for got < len(reqs) {
		select {
		case <-s.tokens:
			got++
			continue
		default:
		}
		s.releaseTokens(got)
		return 0, &Error{
			Kind:    KindCapacity,
			Op:      "submit",
			Message: fmt.Sprintf("batch of %d exceeds free ring capacity (depth %d)", len(reqs), s.depth),
		}
	}

	n, err := s.submit(batch)
	s.mu.Lock()
	s.explicit += n
	s.mu.Unlock()
	s.releaseTokens(len(reqs) - n)
	return n, err
}

// WaitAndHarvest blocks until at least atLeast batch results are ready and
// returns them together with any others already available. Asking for more
// results than are outstanding is rejected instead of waiting forever.
// Only one goroutine should harvest at a time.
func (s *AsyncRingStore) WaitAndHarvest(atLeast int) ([]ReadResult, error) {
	s.mu.Lock()
	outstanding := s.explicit
	s.mu.Unlock()
	if atLeast < 0 || atLeast > outstanding {
		return nil, invalidError("harvest", fmt.Sprintf("cannot wait for %d results with %d outstanding", atLeast, outstanding))
	}

	out := make([]ReadResult, 0, atLeast)
	for len(out) < atLeast {
		out = append(out, <-s.harvest)
	}
drain:
	for {
		select {
		case r := <-s.harvest:
			out = append(out, r)
		default:
			break drain
		}
	}

	s.mu.Lock()
	s.explicit -= len(out)
	s.mu.Unlock()
	s.releaseTokens(len(out))
	return out, nil
}

func (s *AsyncRingStore) releaseTokens(n int) {
	for i := 0; i < n; i++ {
		s.tokens <- struct{}{}
	}
}

// submit assigns slots and hands the batch to the driver. The caller must
// already hold one token per request.
func (s *AsyncRingStore) submit(batch []pending) (int, error) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return 0, closedError("submit")
	}
	if s.broken != nil {
		s.mu.Unlock()
		return 0, &Error{Kind: KindIO, Op: "submit", Message: "ring is broken", Cause: s.broken}
	}
	reqs := make([]ring.Request, len(batch))
	for i := range batch {
		slot, ok := s.slots.tryAcquire()
		if !ok {
			for _, r := range reqs[:i] {
				s.pend[r.UserData] = pending{}
				s.slots.release(int(r.UserData))
			}
			s.mu.Unlock()
			return 0, &Error{Kind: KindCapacity, Op: "submit", Message: "no free slot"}
		}
		batch[i].active = true
		s.pend[slot] = batch[i]
		reqs[i] = ring.Request{
			UserData: uint64(slot),
			Fd:       s.fd,
			Buf:      s.slots.block(slot),
			Offset:   uint64(batch[i].blockOffset),
		}
	}
	s.submitting++
	s.mu.Unlock()

	n, err := s.drv.Submit(reqs)

	s.mu.Lock()
	s.submitting--
	s.inflight += n
	for _, r := range reqs[n:] {
		s.pend[r.UserData] = pending{}
		s.slots.release(int(r.UserData))
	}
	s.cond.Broadcast()
	s.mu.Unlock()

	if err != nil {
		kind := KindIO
		if errors.Is(err, ring.ErrQueueFull) {
			kind = KindCapacity
		}
		return n, &Error{Kind: kind, Op: "submit", Message: "ring submit failed", Cause: err}
	}
	return n, nil
}

// dispatch drains completions while requests are in flight and exits once
// the store is closing and nothing is outstanding.
func (s *AsyncRingStore) dispatch() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for s.inflight <= 0 && !(s.closing && s.submitting == 0) {
			s.cond.Wait()
		}
		if s.inflight <= 0 {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		cqes, err := s.drv.Wait(1)
		for _, c := range cqes {
			s.complete(c)
		}
		if err != nil {
			log.Printf("ring: wait failed, failing in-flight reads: %v", err)
			s.fail(err)
			return
		}
	}
}

func (s *AsyncRingStore) complete(c ring.Completion) {
	slot := int(c.UserData)
	s.mu.Lock()
	if c.UserData >= uint64(len(s.pend)) || !s.pend[slot].active {
		s.mu.Unlock()
		log.Printf("ring: completion for unknown slot %d ignored", c.UserData)
		return
	}
	p := s.pend[slot]
	s.pend[slot] = pending{}
	s.inflight--
	s.mu.Unlock()

	res := ReadResult{Tag: p.tag, Key: p.key}
	switch {
	case c.Res < 0:
		errno := unix.Errno(-c.Res)
		if errno == unix.EINVAL {
			res.Err = alignmentError("ring read", p.key, errno)
		} else {
			res.Err = ioError("ring read", p.key, errno)
		}
	case int(c.Res) < p.intra+s.width:
		res.Err = shortRead("ring read", p.key, int(c.Res), p.intra+s.width)
	default:
		buf := s.slots.block(slot)
		res.Value = decode(buf[p.intra:p.intra+s.width], s.width)
	}
	s.slots.release(slot)
	s.deliver(p, res)
}

func (s *AsyncRingStore) deliver(p pending, res ReadResult) {
	s.observe(res.Err)
	if p.done != nil {
		p.done <- res
		return
	}
	s.harvest <- res
}

// fail resolves every in-flight request with err after the ring stopped
// producing completions. Their slots are not reused: the kernel may still
// own them.
func (s *AsyncRingStore) fail(err error) {
	s.mu.Lock()
	s.broken = err
	var stuck []pending
	for i := range s.pend {
		if s.pend[i].active {
			stuck = append(stuck, s.pend[i])
			s.pend[i] = pending{}
		}
	}
	s.inflight = 0
	s.mu.Unlock()
	for _, p := range stuck {
		s.deliver(p, ReadResult{Tag: p.tag, Key: p.key, Err: ioError("ring read", p.key, err)})
	}
}

// Close rejects new submissions, waits for all outstanding completions,
// then releases the ring, the slot buffers and the descriptor in that order.
func (s *AsyncRingStore) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closing = true
	s.cond.Broadcast()
	s.mu.Unlock()
	<-s.done

	var errs []error
	if err := s.drv.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close ring: %w", err))
	}
	if s.broken == nil {
		if err := s.slots.close(); err != nil {
			errs = append(errs, fmt.Errorf("unmap slots: %w", err))
		}
	}
	if err := unix.Close(s.fd); err != nil {
		errs = append(errs, fmt.Errorf("close dataset: %w", err))
	}
	return errors.Join(errs...)
}
