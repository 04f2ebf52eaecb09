package hist

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	c, err := NewCollector(DefaultOptions())
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	return c
}

func within(got, want int64, rel float64) bool {
	return math.Abs(float64(got-want)) <= rel*float64(want)
}

func TestUniformQuantiles(t *testing.T) {
	c := newTestCollector(t)
	r := c.Recorder()
	for v := int64(1); v <= 100000; v++ {
		r.Record(v)
	}
	c.Refresh()

	s := c.Snapshot()
	if s.Total != 100000 {
		t.Fatalf("total = %d, want 100000", s.Total)
	}
	if !within(s.P50, 50000, 0.01) {
		t.Errorf("p50 = %d, want ~50000", s.P50)
	}
	if !within(s.P99, 99000, 0.01) {
		t.Errorf("p99 = %d, want ~99000", s.P99)
	}
	if !within(s.P999, 99900, 0.01) {
		t.Errorf("p999 = %d, want ~99900", s.P999)
	}
	if !within(int64(s.Mean), 50000, 0.01) {
		t.Errorf("mean = %.0f, want ~50000", s.Mean)
	}
	if got := c.ValueAtQuantile(0.5); got != s.P50 {
		t.Errorf("ValueAtQuantile(0.5) = %d, snapshot p50 = %d", got, s.P50)
	}
}

func TestSnapshotExcludesUnrefreshed(t *testing.T) {
	c := newTestCollector(t)
	r := c.Recorder()
	r.Record(100)
	if s := c.Snapshot(); s.Total != 0 {
		t.Fatalf("total before refresh = %d, want 0", s.Total)
	}
	c.Refresh()
	r.Record(200)
	c.Refresh()
	c.Refresh()
	// the aggregate keeps growing and a refresh never double-counts
	if s := c.Snapshot(); s.Total != 2 {
		t.Fatalf("total = %d, want 2", s.Total)
	}
}

func TestClamping(t *testing.T) {
	c, err := NewCollector(Options{MaxValue: int64(time.Millisecond), SigFigs: 3})
	if err != nil {
		t.Fatal(err)
	}
	r := c.Recorder()
	r.Record(0)
	r.Record(-5)
	r.RecordDuration(time.Second)
	c.Refresh()

	s := c.Snapshot()
	if s.Total != 3 {
		t.Fatalf("total = %d, want 3", s.Total)
	}
	if s.Clamped != 1 {
		t.Errorf("clamped = %d, want 1", s.Clamped)
	}
	if s.Min != 1 {
		t.Errorf("min = %d, want 1", s.Min)
	}
	if !within(s.Max, int64(time.Millisecond), 0.01) {
		t.Errorf("max = %d, want ~1ms", s.Max)
	}
}

func TestNewCollectorValidation(t *testing.T) {
	if _, err := NewCollector(Options{SigFigs: 6}); err == nil {
		t.Error("expected error for 6 significant figures")
	}
	if _, err := NewCollector(Options{MaxValue: 1}); err == nil {
		t.Error("expected error for max value 1")
	}
	c, err := NewCollector(Options{})
	if err != nil {
		t.Fatalf("zero options should take defaults: %v", err)
	}
	if c.opts != DefaultOptions() {
		t.Errorf("opts = %+v, want defaults", c.opts)
	}
}

func TestConcurrentRecordersWithRefresh(t *testing.T) {
	c := newTestCollector(t)
	const (
		workers = 8
		each    = 20000
	)

	stop := make(chan struct{})
	refreshed := make(chan struct{})
	go func() {
		defer close(refreshed)
		for {
			select {
			case <-stop:
				return
			default:
				c.Refresh()
				_ = c.Snapshot()
			}
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		r := c.Recorder()
		wg.Add(1)
		go func(r *Recorder, w int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				r.Record(int64(1000 + w*10 + i%7))
			}
		}(r, w)
	}
	wg.Wait()
	close(stop)
	<-refreshed

	c.Refresh()
	if s := c.Snapshot(); s.Total != workers*each {
		t.Fatalf("total = %d, want %d", s.Total, workers*each)
	}
}

func TestProperty_MergeIsCommutative(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	build := func(vals []int64) *Collector {
		c, _ := NewCollector(DefaultOptions())
		r := c.Recorder()
		for _, v := range vals {
			r.Record(v)
		}
		c.Refresh()
		return c
	}

	// Property: merging A into B and B into A yield the same distribution
	properties.Property("merge order does not change quantiles", prop.ForAll(
		func(a, b []int64) bool {
			ab := build(a)
			ab.Merge(build(b))
			ba := build(b)
			ba.Merge(build(a))

			x, y := ab.Snapshot(), ba.Snapshot()
			return x.Total == int64(len(a)+len(b)) &&
				x.Total == y.Total &&
				x.P50 == y.P50 &&
				x.P99 == y.P99 &&
				x.P9999 == y.P9999 &&
				x.Max == y.Max
		},
		gen.SliceOf(gen.Int64Range(1, int64(time.Second))),
		gen.SliceOf(gen.Int64Range(1, int64(time.Second))),
	))

	properties.TestingRun(t)
}

func TestSnapshotString(t *testing.T) {
	s := Snapshot{Total: 10, Mean: 1234.4, P50: 1000, P99: 2000, P999: 3000, P9999: 4000}
	want := "p50=1000 p99=2000 p999=3000 p9999=4000 avg=1234 total=10"
	if s.String() != want {
		t.Errorf("got %q, want %q", s.String(), want)
	}
}
