package randread

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/luhtfiimanal/go-randread/ring"
)

// fakeDriver serves ring requests with pread at Wait time and hands the
// completions back in reverse submission order.
type fakeDriver struct {
	mu      sync.Mutex
	cond    *sync.Cond
	entries int
	queue   []ring.Request
	held    bool
	closed  bool

	submitErr error             // next Submit fails with this, accepting nothing
	waitErr   error             // Wait fails with this once released
	result    func(n int) int32 // rewrites the byte count of a successful read
	errno     syscall.Errno     // every read fails with this
}

func newFakeDriver(entries int) *fakeDriver {
	d := &fakeDriver{entries: entries}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func (d *fakeDriver) Entries() int { return d.entries }

func (d *fakeDriver) Submit(reqs []ring.Request) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ring.ErrClosed
	}
	if err := d.submitErr; err != nil {
		d.submitErr = nil
		return 0, err
	}
	n := len(reqs)
	if room := d.entries - len(d.queue); n > room {
		n = room
	}
	d.queue = append(d.queue, reqs[:n]...)
	d.cond.Broadcast()
	if n < len(reqs) {
		return n, ring.ErrQueueFull
	}
	return n, nil
}

func (d *fakeDriver) Wait(want int) ([]ring.Completion, error) {
	d.mu.Lock()
	for (d.held || len(d.queue) < want) && !d.closed {
		d.cond.Wait()
	}
	if d.waitErr != nil {
		err := d.waitErr
		d.mu.Unlock()
		return nil, err
	}
	if d.closed && len(d.queue) == 0 {
		d.mu.Unlock()
		return nil, ring.ErrClosed
	}
	batch := d.queue
	d.queue = nil
	result, errno := d.result, d.errno
	d.mu.Unlock()

	out := make([]ring.Completion, 0, len(batch))
	for i := len(batch) - 1; i >= 0; i-- {
		r := batch[i]
		c := ring.Completion{UserData: r.UserData}
		switch n, err := unix.Pread(r.Fd, r.Buf, int64(r.Offset)); {
		case errno != 0:
			c.Res = -int32(errno)
		case err != nil:
			c.Res = -int32(err.(syscall.Errno))
		case result != nil:
			c.Res = result(n)
		default:
			c.Res = int32(n)
		}
		out = append(out, c)
	}
	return out, nil
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) hold() {
	d.mu.Lock()
	d.held = true
	d.mu.Unlock()
}

func (d *fakeDriver) release() {
	d.mu.Lock()
	d.held = false
	d.cond.Broadcast()
	d.mu.Unlock()
}

func (d *fakeDriver) queued() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// newFakeRingStore builds an AsyncRingStore over a fresh dataset and a fake
// driver of the given depth.
func newFakeRingStore(t *testing.T, records uint64, depth int) (*AsyncRingStore, *fakeDriver) {
	t.Helper()
	path, n := newTestDataset(t, records, 8)
	opts, err := Options{QueueDepth: depth}.withDefaults()
	if err != nil {
		t.Fatal(err)
	}
	fd, err := openReadFd(path, false)
	if err != nil {
		t.Fatal(err)
	}
	drv := newFakeDriver(depth)
	s, err := newAsyncRingStore(fd, drv, n, opts)
	if err != nil {
		unix.Close(fd)
		t.Fatal(err)
	}
	t.Cleanup(func() {
		drv.release()
		s.Close()
	})
	return s, drv
}

func TestAsyncOutOfOrderCompletions(t *testing.T) {
	s, drv := newFakeRingStore(t, 1024, 8)

	drv.hold()
	reqs := make([]ReadRequest, 8)
	for i := range reqs {
		reqs[i] = ReadRequest{Key: uint64(i*100 + 3), Tag: uint64(1000 + i)}
	}
	n, err := s.SubmitBatch(reqs)
	if err != nil || n != 8 {
		t.Fatalf("submit = %d, %v", n, err)
	}
	drv.release()

	results, err := s.WaitAndHarvest(8)
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if len(results) != 8 {
		t.Fatalf("got %d results, want 8", len(results))
	}
	// completions arrive newest first; the tag still pairs with its key
	if results[0].Tag != 1007 {
		t.Errorf("first result tag = %d, want 1007 (reverse order)", results[0].Tag)
	}
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("tag %d: %v", r.Tag, r.Err)
		}
		want := (r.Tag-1000)*100 + 3
		if r.Key != want || r.Value != want {
			t.Errorf("tag %d: key=%d value=%d, want %d", r.Tag, r.Key, r.Value, want)
		}
	}
}

func TestAsyncCapacity(t *testing.T) {
	s, drv := newFakeRingStore(t, 256, 4)
	if s.Depth() != 4 {
		t.Fatalf("depth = %d, want 4", s.Depth())
	}

	// a batch larger than the ring never fits
	five := []ReadRequest{{Key: 1}, {Key: 2}, {Key: 3}, {Key: 4}, {Key: 5}}
	if _, err := s.SubmitBatch(five); !errors.Is(err, ErrCapacity) {
		t.Fatalf("expected capacity error, got %v", err)
	}

	drv.hold()
	n, err := s.SubmitBatch(five[:4])
	if err != nil || n != 4 {
		t.Fatalf("submit 4 = %d, %v", n, err)
	}
	if _, err := s.SubmitBatch(five[4:]); !errors.Is(err, ErrCapacity) {
		t.Fatalf("expected capacity error on full ring, got %v", err)
	}
	if got := drv.queued(); got != 4 {
		t.Fatalf("driver holds %d requests, want 4", got)
	}
	drv.release()

	results, err := s.WaitAndHarvest(4)
	if err != nil || len(results) != 4 {
		t.Fatalf("harvest = %d, %v", len(results), err)
	}

	// harvested results give their slots back
	if n, err := s.SubmitBatch(five[4:]); err != nil || n != 1 {
		t.Fatalf("submit after harvest = %d, %v", n, err)
	}
	if res, err := s.WaitAndHarvest(1); err != nil || res[0].Value != 5 {
		t.Fatalf("harvest after resubmit = %+v, %v", res, err)
	}
}

func TestAsyncHarvestRejectsOverAsk(t *testing.T) {
	s, _ := newFakeRingStore(t, 64, 4)
	if _, err := s.WaitAndHarvest(1); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected invalid, got %v", err)
	}
	if res, err := s.WaitAndHarvest(0); err != nil || len(res) != 0 {
		t.Fatalf("harvest 0 = %v, %v", res, err)
	}
}

func TestAsyncBatchRangeCheck(t *testing.T) {
	s, drv := newFakeRingStore(t, 64, 4)
	_, err := s.SubmitBatch([]ReadRequest{{Key: 1}, {Key: s.Len()}})
	if !errors.Is(err, ErrRange) {
		t.Fatalf("expected range error, got %v", err)
	}
	if drv.queued() != 0 {
		t.Fatal("nothing should reach the ring when a key is out of range")
	}
}

func TestAsyncGetParksBeyondDepth(t *testing.T) {
	s, _ := newFakeRingStore(t, 2048, 4)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for w := 0; w < 32; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				k := uint64((w*50 + i) % 2048)
				v, err := s.Get(k)
				if err != nil {
					errs <- err
					return
				}
				if v != k {
					errs <- errors.New("value mismatch")
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	if st := s.Stats(); st.Reads != 32*50 || st.Errors != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestAsyncGetContextCancelled(t *testing.T) {
	s, drv := newFakeRingStore(t, 64, 1)

	drv.hold()
	if _, err := s.SubmitBatch([]ReadRequest{{Key: 1}}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.GetContext(ctx, 2); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	drv.release()
	if _, err := s.WaitAndHarvest(1); err != nil {
		t.Fatal(err)
	}
}

func TestAsyncCompletionErrors(t *testing.T) {
	t.Run("alignment", func(t *testing.T) {
		s, drv := newFakeRingStore(t, 64, 2)
		drv.errno = syscall.EINVAL
		if _, err := s.Get(3); !errors.Is(err, ErrAlignment) {
			t.Fatalf("expected alignment error, got %v", err)
		}
	})
	t.Run("io", func(t *testing.T) {
		s, drv := newFakeRingStore(t, 64, 2)
		drv.errno = syscall.EIO
		_, err := s.Get(3)
		if !errors.Is(err, ErrIO) || !errors.Is(err, syscall.EIO) {
			t.Fatalf("expected io error wrapping EIO, got %v", err)
		}
	})
	t.Run("short", func(t *testing.T) {
		s, drv := newFakeRingStore(t, 64, 2)
		drv.result = func(int) int32 { return 4 }
		if _, err := s.Get(3); !errors.Is(err, ErrShortRead) {
			t.Fatalf("expected short read, got %v", err)
		}
		if st := s.Stats(); st.Errors != 1 {
			t.Fatalf("stats = %+v", st)
		}
	})
}

func TestAsyncSubmitFailure(t *testing.T) {
	s, drv := newFakeRingStore(t, 64, 4)
	drv.mu.Lock()
	drv.submitErr = syscall.EBUSY
	drv.mu.Unlock()

	n, err := s.SubmitBatch([]ReadRequest{{Key: 1}, {Key: 2}})
	if n != 0 || !errors.Is(err, ErrIO) {
		t.Fatalf("submit = %d, %v; want 0 and io error", n, err)
	}
	// nothing leaked: the full depth is still available
	reqs := []ReadRequest{{Key: 1}, {Key: 2}, {Key: 3}, {Key: 4}}
	if n, err := s.SubmitBatch(reqs); err != nil || n != 4 {
		t.Fatalf("submit after failure = %d, %v", n, err)
	}
	if res, err := s.WaitAndHarvest(4); err != nil || len(res) != 4 {
		t.Fatalf("harvest = %d, %v", len(res), err)
	}
}

func TestAsyncBrokenRing(t *testing.T) {
	s, drv := newFakeRingStore(t, 64, 4)
	drv.hold()
	if _, err := s.SubmitBatch([]ReadRequest{{Key: 1, Tag: 1}, {Key: 2, Tag: 2}}); err != nil {
		t.Fatal(err)
	}
	drv.mu.Lock()
	drv.waitErr = syscall.EFAULT
	drv.mu.Unlock()
	drv.release()

	res, err := s.WaitAndHarvest(2)
	if err != nil || len(res) != 2 {
		t.Fatalf("harvest = %d, %v", len(res), err)
	}
	for _, r := range res {
		if !errors.Is(r.Err, ErrIO) {
			t.Errorf("tag %d: expected io error, got %v", r.Tag, r.Err)
		}
	}
	if _, err := s.Get(5); !errors.Is(err, ErrIO) {
		t.Fatalf("get on broken ring: expected io error, got %v", err)
	}
}

func TestAsyncCloseDrains(t *testing.T) {
	s, drv := newFakeRingStore(t, 64, 4)
	drv.hold()
	reqs := []ReadRequest{{Key: 10, Tag: 1}, {Key: 20, Tag: 2}, {Key: 30, Tag: 3}}
	if n, err := s.SubmitBatch(reqs); err != nil || n != 3 {
		t.Fatalf("submit = %d, %v", n, err)
	}

	closed := make(chan error, 1)
	go func() { closed <- s.Close() }()

	select {
	case err := <-closed:
		t.Fatalf("close returned with reads in flight: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	drv.release()

	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("close: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("close did not finish after completions arrived")
	}

	res, err := s.WaitAndHarvest(3)
	if err != nil || len(res) != 3 {
		t.Fatalf("harvest after close = %d, %v", len(res), err)
	}
	for _, r := range res {
		if r.Err != nil || r.Value != r.Key {
			t.Errorf("tag %d: value=%d err=%v", r.Tag, r.Value, r.Err)
		}
	}
	if _, err := s.SubmitBatch(reqs[:1]); !errors.Is(err, ErrClosed) {
		t.Fatalf("submit after close: expected closed, got %v", err)
	}
}
