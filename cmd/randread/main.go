// Package main implements the randread benchmark binary.
// It opens a dataset with one read backend, runs concurrent random-key
// workers against it and prints tail latencies every report interval.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	randread "github.com/luhtfiimanal/go-randread"
	"github.com/luhtfiimanal/go-randread/hist"
	"github.com/luhtfiimanal/go-randread/internal/config"
	"github.com/luhtfiimanal/go-randread/internal/report"
	"github.com/luhtfiimanal/go-randread/load"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		path        string
		backend     string
		workers     int
		readsPerOp  int
		keys        uint64
		duration    time.Duration
		interval    time.Duration
		queueDepth  int
		width       int
		resultsDB   string
		ringDirect  bool
		noVerify    bool
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&path, "path", "", "Dataset file")
	flag.StringVar(&backend, "backend", "", "Read backend: buffered, positioned, direct, mmap, async-ring")
	flag.IntVar(&workers, "workers", 0, "Number of concurrent workers")
	flag.IntVar(&readsPerOp, "reads-per-op", 0, "Reads timed together as one operation")
	flag.Uint64Var(&keys, "keys", 0, "Bound the random key space (0 = whole dataset)")
	flag.DurationVar(&duration, "duration", 0, "Stop after this long (0 = until interrupted)")
	flag.DurationVar(&interval, "interval", 0, "Report interval")
	flag.IntVar(&queueDepth, "queue-depth", 0, "Ring capacity for async-ring")
	flag.IntVar(&width, "width", 0, "Record width in bytes (4 or 8)")
	flag.StringVar(&resultsDB, "results-db", "", "SQLite file receiving every report")
	flag.BoolVar(&ringDirect, "ring-direct", false, "Open the dataset with O_DIRECT for async-ring")
	flag.BoolVar(&noVerify, "no-verify", false, "Skip the value==key check")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "randread - random-read latency benchmark\n\n")
		fmt.Fprintf(os.Stderr, "Usage: randread [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  randread --path data.bin --backend mmap --workers 16\n")
		fmt.Fprintf(os.Stderr, "  randread --path data.bin --backend async-ring --workers 256 --queue-depth 256\n")
		fmt.Fprintf(os.Stderr, "  randread --config bench.yaml --results-db runs.db\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  RANDREAD_PATH           Dataset file\n")
		fmt.Fprintf(os.Stderr, "  RANDREAD_BACKEND        Read backend\n")
		fmt.Fprintf(os.Stderr, "  RANDREAD_WORKERS        Number of workers\n")
		fmt.Fprintf(os.Stderr, "  RANDREAD_DURATION       Run duration\n")
		fmt.Fprintf(os.Stderr, "  RANDREAD_RESULTS_DB     SQLite results file\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("randread version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Command line flags have the highest priority
	if path != "" {
		cfg.Path = path
	}
	if backend != "" {
		cfg.Backend = backend
	}
	if workers > 0 {
		cfg.Workers = workers
	}
	if readsPerOp > 0 {
		cfg.ReadsPerOp = readsPerOp
	}
	if keys > 0 {
		cfg.Keys = keys
	}
	if duration > 0 {
		cfg.Duration = duration
	}
	if interval > 0 {
		cfg.ReportInterval = interval
	}
	if queueDepth > 0 {
		cfg.Store.QueueDepth = queueDepth
	}
	if width > 0 {
		cfg.Store.Width = width
	}
	if resultsDB != "" {
		cfg.ResultsDB = resultsDB
	}
	if ringDirect {
		cfg.Store.RingDirect = true
	}
	if noVerify {
		cfg.Verify = false
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("randread: %v", err)
	}
}

// loadConfig starts from the file (or defaults) and applies the environment.
func loadConfig(configFile string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}

func run(cfg *config.Config) error {
	b, err := randread.ParseBackend(cfg.Backend)
	if err != nil {
		return err
	}
	st, err := randread.Open(b, cfg.Path, cfg.Options())
	if err != nil {
		return fmt.Errorf("open %s store: %w", b, err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("close store: %v", err)
		}
	}()

	col, err := hist.NewCollector(hist.Options{
		MaxValue: int64(cfg.Histogram.MaxLatency),
		SigFigs:  cfg.Histogram.SigFigs,
	})
	if err != nil {
		return err
	}

	printBanner(cfg, st)

	rep := &load.Reporter{
		Interval:  cfg.ReportInterval,
		Collector: col,
		Store:     st,
	}
	if cfg.ResultsDB != "" {
		db, err := report.Open(cfg.ResultsDB)
		if err != nil {
			return err
		}
		defer db.Close()
		r, err := db.NewRun(context.Background(), report.RunInfo{
			Backend: b,
			Path:    cfg.Path,
			Records: st.Len(),
			Workers: cfg.Workers,
		})
		if err != nil {
			return err
		}
		log.Printf("Recording run %s to %s", r.ID, cfg.ResultsDB)
		rep.Sinks = append(rep.Sinks, r)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	// the reporter outlives the workers so its final report sees every op
	repCtx, repCancel := context.WithCancel(context.Background())
	repDone := make(chan struct{})
	go func() {
		defer close(repDone)
		rep.Run(repCtx)
	}()

	res, err := load.Run(ctx, st, col, load.Config{
		Workers:    cfg.Workers,
		Keys:       cfg.Keys,
		Seed:       cfg.Seed,
		ReadsPerOp: cfg.ReadsPerOp,
		Verify:     cfg.Verify,
	})
	repCancel()
	<-repDone
	if err != nil {
		return err
	}

	secs := res.Elapsed.Seconds()
	log.Printf("Finished: ops=%d reads=%d errors=%d mismatches=%d elapsed=%v (%.0f reads/s)",
		res.Ops, res.Reads, res.Errors, res.Mismatches, res.Elapsed.Round(time.Millisecond), float64(res.Reads)/secs)
	if res.Mismatches > 0 {
		return fmt.Errorf("%d reads returned a value different from their key", res.Mismatches)
	}
	return nil
}

func printBanner(cfg *config.Config, st randread.Store) {
	log.Printf("randread %s", version)
	log.Printf("")
	log.Printf("Configuration:")
	log.Printf("  Dataset:      %s (%d records)", cfg.Path, st.Len())
	log.Printf("  Backend:      %s", st.Backend())
	log.Printf("  Width:        %d", cfg.Store.Width)
	log.Printf("  Workers:      %d", cfg.Workers)
	log.Printf("  Reads/op:     %d", cfg.ReadsPerOp)
	if ring, ok := st.(*randread.AsyncRingStore); ok {
		log.Printf("  Queue depth:  %d", ring.Depth())
	}
	if cfg.Duration > 0 {
		log.Printf("  Duration:     %v", cfg.Duration)
	}
	log.Printf("")
}
