// Package report persists benchmark runs and their periodic snapshots to a
// SQLite file so runs over different backends can be compared afterwards.
package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	randread "github.com/luhtfiimanal/go-randread"
	"github.com/luhtfiimanal/go-randread/hist"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	backend    TEXT NOT NULL,
	path       TEXT NOT NULL,
	records    INTEGER NOT NULL,
	workers    INTEGER NOT NULL,
	started_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS samples (
	run_id   TEXT NOT NULL REFERENCES runs(id),
	taken_at INTEGER NOT NULL,
	total    INTEGER NOT NULL,
	mean_ns  REAL NOT NULL,
	p50_ns   INTEGER NOT NULL,
	p99_ns   INTEGER NOT NULL,
	p999_ns  INTEGER NOT NULL,
	p9999_ns INTEGER NOT NULL,
	max_ns   INTEGER NOT NULL,
	errors   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS samples_run ON samples(run_id, taken_at);
`

// DB is an open results database.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the results database at path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open results db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create results schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// RunInfo describes a run being recorded.
type RunInfo struct {
	Backend randread.Backend
	Path    string
	Records uint64
	Workers int
}

// Run is a registered run; it implements load.Sink.
type Run struct {
	ID string
	db *DB
}

// NewRun registers a run and returns its sink.
func (d *DB) NewRun(ctx context.Context, info RunInfo) (*Run, error) {
	id := uuid.NewString()
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO runs (id, backend, path, records, workers, started_at) VALUES (?,?,?,?,?,?)`,
		id, string(info.Backend), info.Path, int64(info.Records), info.Workers, time.Now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return &Run{ID: id, db: d}, nil
}

// Record stores one snapshot for the run.
func (r *Run) Record(ctx context.Context, snap hist.Snapshot, stats randread.Stats) error {
	_, err := r.db.db.ExecContext(ctx,
		`INSERT INTO samples (run_id, taken_at, total, mean_ns, p50_ns, p99_ns, p999_ns, p9999_ns, max_ns, errors)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		r.ID, time.Now().UnixNano(), snap.Total, snap.Mean,
		snap.P50, snap.P99, snap.P999, snap.P9999, snap.Max, int64(stats.Errors))
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

// Latest returns the most recent snapshot stored for a run.
func (d *DB) Latest(ctx context.Context, runID string) (hist.Snapshot, error) {
	var s hist.Snapshot
	row := d.db.QueryRowContext(ctx,
		`SELECT total, mean_ns, p50_ns, p99_ns, p999_ns, p9999_ns, max_ns
		 FROM samples WHERE run_id = ? ORDER BY taken_at DESC, rowid DESC LIMIT 1`, runID)
	if err := row.Scan(&s.Total, &s.Mean, &s.P50, &s.P99, &s.P999, &s.P9999, &s.Max); err != nil {
		return hist.Snapshot{}, fmt.Errorf("query latest sample: %w", err)
	}
	return s, nil
}

// SampleCount returns the number of snapshots stored for a run.
func (d *DB) SampleCount(ctx context.Context, runID string) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM samples WHERE run_id = ?`, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count samples: %w", err)
	}
	return n, nil
}
