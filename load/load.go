// Package load drives random-key lookups against a store from many workers
// and feeds the elapsed time of every operation into a histogram collector.
package load

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	randread "github.com/luhtfiimanal/go-randread"
	"github.com/luhtfiimanal/go-randread/hist"
)

// Config controls one load run.
type Config struct {
	// Workers is the number of concurrent workers.
	Workers int
	// Keys bounds the key space; keys are drawn uniformly from [0, Keys).
	// Zero means the store's record count.
	Keys uint64
	// Seed makes key sequences reproducible; each worker mixes in its id.
	Seed uint64
	// ReadsPerOp is the number of reads timed as one operation.
	ReadsPerOp int
	// Verify checks value == key on every read.
	Verify bool
}

// Result totals a finished run.
type Result struct {
	Ops        uint64
	Reads      uint64
	Errors     uint64
	Mismatches uint64
	Elapsed    time.Duration
}

// Run spawns cfg.Workers workers against st and blocks until ctx is done.
//
// Workers for synchronous backends are pinned to their own OS thread, since
// each read blocks that thread in a syscall or page fault. Workers for the
// ring backend stay ordinary goroutines and park at the completion wait,
// leaving the thread free to run other workers' submissions.
func Run(ctx context.Context, st randread.Store, col *hist.Collector, cfg Config) (Result, error) {
	if cfg.Workers <= 0 {
		return Result{}, fmt.Errorf("load: workers must be positive, got %d", cfg.Workers)
	}
	if cfg.ReadsPerOp <= 0 {
		cfg.ReadsPerOp = 1
	}
	if cfg.Keys == 0 || cfg.Keys > st.Len() {
		cfg.Keys = st.Len()
	}
	if cfg.Keys == 0 {
		return Result{}, fmt.Errorf("load: store has no records")
	}

	var (
		wg         sync.WaitGroup
		ops        atomic.Uint64
		reads      atomic.Uint64
		errs       atomic.Uint64
		mismatches atomic.Uint64
		firstErr   sync.Once
	)
	pin := !st.Backend().Async()
	start := time.Now()

	for id := 0; id < cfg.Workers; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if pin {
				runtime.LockOSThread()
				defer runtime.UnlockOSThread()
			}
			rec := col.Recorder()
			rng := rand.New(rand.NewPCG(cfg.Seed, uint64(id)))

			for ctx.Err() == nil {
				var failed, bad uint64
				t0 := time.Now()
				for i := 0; i < cfg.ReadsPerOp; i++ {
					key := rng.Uint64N(cfg.Keys)
					v, err := st.Get(key)
					if err != nil {
						failed++
						firstErr.Do(func() {
							log.Printf("load: worker %d: first read error: %v", id, err)
						})
						continue
					}
					if cfg.Verify && v != key {
						bad++
					}
				}
				rec.RecordDuration(time.Since(t0))

				ops.Add(1)
				reads.Add(uint64(cfg.ReadsPerOp))
				if failed > 0 {
					errs.Add(failed)
				}
				if bad > 0 {
					mismatches.Add(bad)
				}
			}
		}(id)
	}
	wg.Wait()

	return Result{
		Ops:        ops.Load(),
		Reads:      reads.Load(),
		Errors:     errs.Load(),
		Mismatches: mismatches.Load(),
		Elapsed:    time.Since(start),
	}, nil
}
