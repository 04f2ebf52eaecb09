// Package hist collects latency samples from many workers into one HDR
// histogram with bounded relative error.
//
// Each worker records into its own Recorder, guarded by a mutex only the
// worker and the merge step ever take. Refresh folds every recorder into the
// aggregate one at a time, so a recorder is blocked for at most one merge of
// its own histogram. The aggregate is never reset during a run.
package hist

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Options configures a Collector.
type Options struct {
	// MaxValue is the largest trackable latency in nanoseconds. Larger
	// samples are clamped to it and counted in Snapshot.Clamped.
	MaxValue int64
	// SigFigs is the number of significant decimal digits kept (1..5).
	SigFigs int
}

// DefaultOptions tracks up to 10s with 3 significant figures (0.1% error).
func DefaultOptions() Options {
	return Options{
		MaxValue: int64(10 * time.Second),
		SigFigs:  3,
	}
}

// Collector owns the aggregate histogram and the per-worker recorders.
type Collector struct {
	opts Options

	mu        sync.Mutex
	agg       *hdrhistogram.Histogram
	recorders []*Recorder
	clamped   int64
}

// NewCollector validates opts and creates an empty collector.
func NewCollector(opts Options) (*Collector, error) {
	def := DefaultOptions()
	if opts.MaxValue == 0 {
		opts.MaxValue = def.MaxValue
	}
	if opts.SigFigs == 0 {
		opts.SigFigs = def.SigFigs
	}
	if opts.SigFigs < 1 || opts.SigFigs > 5 {
		return nil, fmt.Errorf("hist: sigfigs must be between 1 and 5, got %d", opts.SigFigs)
	}
	if opts.MaxValue < 2 {
		return nil, fmt.Errorf("hist: max value must be at least 2, got %d", opts.MaxValue)
	}
	return &Collector{
		opts: opts,
		agg:  hdrhistogram.New(1, opts.MaxValue, opts.SigFigs),
	}, nil
}

// Recorder is a single worker's histogram.
type Recorder struct {
	mu      sync.Mutex
	h       *hdrhistogram.Histogram
	max     int64
	clamped atomic.Int64
}

// Recorder registers and returns a new per-worker recorder.
func (c *Collector) Recorder() *Recorder {
	r := &Recorder{
		h:   hdrhistogram.New(1, c.opts.MaxValue, c.opts.SigFigs),
		max: c.opts.MaxValue,
	}
	c.mu.Lock()
	c.recorders = append(c.recorders, r)
	c.mu.Unlock()
	return r
}

// Record adds one sample in nanoseconds. Values below 1 are recorded as 1.
func (r *Recorder) Record(ns int64) {
	if ns < 1 {
		ns = 1
	}
	if ns > r.max {
		ns = r.max
		r.clamped.Add(1)
	}
	r.mu.Lock()
	// cannot fail: ns is inside the trackable range
	_ = r.h.RecordValue(ns)
	r.mu.Unlock()
}

// RecordDuration adds one elapsed duration.
func (r *Recorder) RecordDuration(d time.Duration) {
	r.Record(int64(d))
}

// Refresh merges every recorder into the aggregate and clears the
// recorders. Recorders are locked one at a time.
func (c *Collector) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.recorders {
		r.mu.Lock()
		c.agg.Merge(r.h)
		r.h.Reset()
		r.mu.Unlock()
		c.clamped += r.clamped.Swap(0)
	}
}

// Snapshot is a point-in-time view of the aggregate. Latencies are in
// nanoseconds.
type Snapshot struct {
	Total   int64
	Mean    float64
	Min     int64
	Max     int64
	P50     int64
	P99     int64
	P999    int64
	P9999   int64
	Clamped int64
}

// Snapshot reads the aggregate without modifying it. Samples recorded since
// the last Refresh are not included.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Total:   c.agg.TotalCount(),
		Mean:    c.agg.Mean(),
		Min:     c.agg.Min(),
		Max:     c.agg.Max(),
		P50:     c.agg.ValueAtQuantile(50),
		P99:     c.agg.ValueAtQuantile(99),
		P999:    c.agg.ValueAtQuantile(99.9),
		P9999:   c.agg.ValueAtQuantile(99.99),
		Clamped: c.clamped,
	}
}

// ValueAtQuantile returns the aggregate value at quantile q in [0, 1].
func (c *Collector) ValueAtQuantile(q float64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agg.ValueAtQuantile(q * 100)
}

// Merge folds another collector's aggregate into c. Merging is commutative
// and associative, so the order collectors are combined in does not matter.
func (c *Collector) Merge(other *Collector) {
	if other == c {
		return
	}
	other.mu.Lock()
	snap := hdrhistogram.Import(other.agg.Export())
	clamped := other.clamped
	other.mu.Unlock()

	c.mu.Lock()
	c.agg.Merge(snap)
	c.clamped += clamped
	c.mu.Unlock()
}

// String formats the snapshot as a single status line.
func (s Snapshot) String() string {
	return fmt.Sprintf("p50=%d p99=%d p999=%d p9999=%d avg=%.0f total=%d",
		s.P50, s.P99, s.P999, s.P9999, s.Mean, s.Total)
}
