package load

import (
	"context"
	"log"
	"time"

	randread "github.com/luhtfiimanal/go-randread"
	"github.com/luhtfiimanal/go-randread/hist"
)

// Sink receives every snapshot the reporter takes.
type Sink interface {
	Record(ctx context.Context, snap hist.Snapshot, stats randread.Stats) error
}

// Reporter periodically refreshes the collector and emits a status line.
type Reporter struct {
	Interval  time.Duration
	Collector *hist.Collector
	Store     randread.Store
	Sinks     []Sink
	// Logf defaults to log.Printf.
	Logf func(format string, args ...any)
}

// Run reports every Interval until ctx is done, then emits one final report.
func (r *Reporter) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Report(context.Background())
			return
		case <-ticker.C:
			r.Report(ctx)
		}
	}
}

// Report takes one snapshot, logs it and forwards it to the sinks.
func (r *Reporter) Report(ctx context.Context) hist.Snapshot {
	logf := r.Logf
	if logf == nil {
		logf = log.Printf
	}
	r.Collector.Refresh()
	snap := r.Collector.Snapshot()

	var stats randread.Stats
	if r.Store != nil {
		stats = r.Store.Stats()
	}
	logf("%s errors=%d", snap, stats.Errors)

	for _, s := range r.Sinks {
		if err := s.Record(ctx, snap, stats); err != nil {
			logf("load: sink failed: %v", err)
		}
	}
	return snap
}
