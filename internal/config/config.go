// Package config provides the run configuration for the randread binary.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	randread "github.com/luhtfiimanal/go-randread"
)

// Config holds everything one benchmark run needs.
type Config struct {
	// Path is the dataset file
	Path string `json:"path" yaml:"path"`

	// Backend selects the read strategy
	Backend string `json:"backend" yaml:"backend"`

	// Keys bounds the random key space (0 = whole dataset)
	Keys uint64 `json:"keys" yaml:"keys"`

	// Workers is the number of concurrent workers
	Workers int `json:"workers" yaml:"workers"`

	// ReadsPerOp is the number of reads timed together
	ReadsPerOp int `json:"reads_per_op" yaml:"reads_per_op"`

	// Seed for the key generators
	Seed uint64 `json:"seed" yaml:"seed"`

	// Verify checks value == key on every read
	Verify bool `json:"verify" yaml:"verify"`

	// Duration stops the run after this long (0 = until interrupted)
	Duration time.Duration `json:"duration" yaml:"duration"`

	// ReportInterval is the status line period
	ReportInterval time.Duration `json:"report_interval" yaml:"report_interval"`

	// Store configuration
	Store StoreConfig `json:"store" yaml:"store"`

	// Histogram configuration
	Histogram HistogramConfig `json:"histogram" yaml:"histogram"`

	// ResultsDB is an optional SQLite file receiving every report
	ResultsDB string `json:"results_db" yaml:"results_db"`
}

// StoreConfig mirrors randread.Options.
type StoreConfig struct {
	Width          int  `json:"width" yaml:"width"`
	BlockWidth     int  `json:"block_width" yaml:"block_width"`
	QueueDepth     int  `json:"queue_depth" yaml:"queue_depth"`
	BufferPoolSize int  `json:"buffer_pool_size" yaml:"buffer_pool_size"`
	MmapAdvise     bool `json:"mmap_advise" yaml:"mmap_advise"`
	RingDirect     bool `json:"ring_direct" yaml:"ring_direct"`
}

// HistogramConfig configures the latency collector.
type HistogramConfig struct {
	MaxLatency time.Duration `json:"max_latency" yaml:"max_latency"`
	SigFigs    int           `json:"sig_figs" yaml:"sig_figs"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	opts := randread.DefaultOptions()
	return &Config{
		Backend:        string(randread.BackendPositioned),
		Workers:        4,
		ReadsPerOp:     1,
		Seed:           42,
		Verify:         true,
		ReportInterval: time.Second,
		Store: StoreConfig{
			Width:          opts.Width,
			BlockWidth:     opts.BlockWidth,
			QueueDepth:     opts.QueueDepth,
			BufferPoolSize: opts.BufferPoolSize,
			MmapAdvise:     opts.MmapAdvise,
			RingDirect:     opts.RingDirect,
		},
		Histogram: HistogramConfig{
			MaxLatency: 10 * time.Second,
			SigFigs:    3,
		},
	}
}

// Options converts the store section to library options.
func (c *Config) Options() randread.Options {
	return randread.Options{
		Width:          c.Store.Width,
		BlockWidth:     c.Store.BlockWidth,
		QueueDepth:     c.Store.QueueDepth,
		BufferPoolSize: c.Store.BufferPoolSize,
		MmapAdvise:     c.Store.MmapAdvise,
		RingDirect:     c.Store.RingDirect,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("path is required")
	}
	if _, err := randread.ParseBackend(c.Backend); err != nil {
		return fmt.Errorf("invalid backend: %s (must be one of buffered, positioned, direct, mmap, async-ring)", c.Backend)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.ReadsPerOp < 1 {
		return fmt.Errorf("reads_per_op must be positive, got %d", c.ReadsPerOp)
	}
	if c.Store.Width != 4 && c.Store.Width != 8 {
		return fmt.Errorf("store.width must be 4 or 8, got %d", c.Store.Width)
	}
	if c.Histogram.SigFigs < 1 || c.Histogram.SigFigs > 5 {
		return fmt.Errorf("histogram.sig_figs must be between 1 and 5, got %d", c.Histogram.SigFigs)
	}
	if c.ReportInterval <= 0 {
		return fmt.Errorf("report_interval must be positive, got %v", c.ReportInterval)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv applies RANDREAD_ environment variables. Malformed values are
// ignored.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("RANDREAD_PATH"); v != "" {
		cfg.Path = v
	}
	if v := os.Getenv("RANDREAD_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("RANDREAD_KEYS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Keys = n
		}
	}
	if v := os.Getenv("RANDREAD_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("RANDREAD_READS_PER_OP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ReadsPerOp = n
		}
	}
	if v := os.Getenv("RANDREAD_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Duration = d
		}
	}
	if v := os.Getenv("RANDREAD_REPORT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ReportInterval = d
		}
	}

	// Store configuration
	if v := os.Getenv("RANDREAD_WIDTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Store.Width = n
		}
	}
	if v := os.Getenv("RANDREAD_QUEUE_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Store.QueueDepth = n
		}
	}
	if v := os.Getenv("RANDREAD_RING_DIRECT"); v != "" {
		cfg.Store.RingDirect = v == "true" || v == "1"
	}

	if v := os.Getenv("RANDREAD_RESULTS_DB"); v != "" {
		cfg.ResultsDB = v
	}
}
