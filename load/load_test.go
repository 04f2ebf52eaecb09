package load

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	randread "github.com/luhtfiimanal/go-randread"
	"github.com/luhtfiimanal/go-randread/hist"
)

func newTestStore(t *testing.T, records uint64) randread.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.bin")
	if _, err := randread.GenerateDataset(path, records, 8, 0); err != nil {
		t.Fatalf("generate: %v", err)
	}
	st, err := randread.OpenPositioned(path, randread.Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestCollector(t *testing.T) *hist.Collector {
	t.Helper()
	col, err := hist.NewCollector(hist.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	return col
}

func TestRunVerifies(t *testing.T) {
	st := newTestStore(t, 4096)
	col := newTestCollector(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	res, err := Run(ctx, st, col, Config{Workers: 4, Seed: 1, ReadsPerOp: 3, Verify: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Ops == 0 {
		t.Fatal("no operations completed")
	}
	if res.Reads != res.Ops*3 {
		t.Errorf("reads = %d, want 3 per op (%d ops)", res.Reads, res.Ops)
	}
	if res.Errors != 0 || res.Mismatches != 0 {
		t.Errorf("errors = %d mismatches = %d", res.Errors, res.Mismatches)
	}

	col.Refresh()
	if snap := col.Snapshot(); uint64(snap.Total) != res.Ops {
		t.Errorf("histogram total = %d, ops = %d", snap.Total, res.Ops)
	}
}

func TestRunBoundsKeys(t *testing.T) {
	st := newTestStore(t, 1024)
	col := newTestCollector(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	// a key space larger than the dataset is clipped instead of failing reads
	res, err := Run(ctx, st, col, Config{Workers: 2, Keys: 1 << 40})
	if err != nil {
		t.Fatal(err)
	}
	if res.Errors != 0 {
		t.Fatalf("errors = %d, want 0", res.Errors)
	}
}

func TestRunRejectsBadConfig(t *testing.T) {
	st := newTestStore(t, 64)
	if _, err := Run(context.Background(), st, newTestCollector(t), Config{Workers: 0}); err == nil {
		t.Fatal("expected error for zero workers")
	}
}

type memSink struct {
	mu    sync.Mutex
	snaps []hist.Snapshot
}

func (m *memSink) Record(_ context.Context, snap hist.Snapshot, _ randread.Stats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, snap)
	return nil
}

func (m *memSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snaps)
}

func TestReporter(t *testing.T) {
	st := newTestStore(t, 1024)
	col := newTestCollector(t)
	sink := &memSink{}

	var (
		mu    sync.Mutex
		lines []string
	)
	rep := &Reporter{
		Interval:  10 * time.Millisecond,
		Collector: col,
		Store:     st,
		Sinks:     []Sink{sink},
		Logf: func(format string, args ...any) {
			mu.Lock()
			lines = append(lines, format)
			mu.Unlock()
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		rep.Run(ctx)
	}()
	res, err := Run(ctx, st, col, Config{Workers: 2, Verify: true})
	if err != nil {
		t.Fatal(err)
	}
	<-done

	if sink.count() < 2 {
		t.Fatalf("sink saw %d snapshots, want at least 2", sink.count())
	}
	// once the workers have stopped a report sees every recorded operation
	if snap := rep.Report(context.Background()); uint64(snap.Total) != res.Ops {
		t.Errorf("snapshot total = %d, ops = %d", snap.Total, res.Ops)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(lines) == 0 {
		t.Error("reporter logged nothing")
	}
}
