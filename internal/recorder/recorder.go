// Package recorder archives finalized frames in SQLite or PostgreSQL so a
// ground session can be inspected or replayed after the fact.
package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/lakeshorelabs/groundstation/internal/config"
	"github.com/lakeshorelabs/groundstation/internal/frames"
	"github.com/lakeshorelabs/groundstation/internal/logger"
)

// sweepInterval is how often the retention sweep looks for expired frames.
const sweepInterval = time.Hour

// Recorder owns the archive connection and the retention policy.
type Recorder struct {
	db        *sql.DB
	dialect   Dialect
	qb        *QueryBuilder
	retention time.Duration
}

// ArchivedFrame is one row from the frame archive.
type ArchivedFrame struct {
	Seq        int64
	ReceivedAt time.Time
	Payload    string
}

// Open connects to the configured archive backend and creates the schema
// if it does not exist yet.
func Open(cfg config.RecorderConfig) (*Recorder, error) {
	dialect, err := NewDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dsn := cfg.DSN
	if cfg.Driver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
		dsn = cfg.Path
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open frame archive: %w", err)
	}

	for _, stmt := range dialect.InitStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize frame archive: %w", err)
		}
	}
	for _, stmt := range dialect.Schema() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create archive schema: %w", err)
		}
	}

	return &Recorder{
		db:        db,
		dialect:   dialect,
		qb:        NewQueryBuilder(dialect),
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
	}, nil
}

// Record archives one frame.
func (r *Recorder) Record(frame frames.Frame) error {
	query := r.qb.Build("INSERT INTO frames (seq, received_at, payload) VALUES (?, ?, ?)")
	if _, err := r.db.Exec(query, int64(frame.Seq), frame.ReceivedAt.UTC(), string(frame.Payload)); err != nil {
		return fmt.Errorf("failed to archive frame %d: %w", frame.Seq, err)
	}
	return nil
}

// Run consumes frames from the channel until the context is cancelled or
// the channel closes. Archive failures are logged and the loop keeps
// going; a bad disk never stops the broadcast side.
func (r *Recorder) Run(ctx context.Context, frameCh <-chan frames.Frame, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		var sweep <-chan time.Time
		if r.retention > 0 {
			ticker := time.NewTicker(sweepInterval)
			defer ticker.Stop()
			sweep = ticker.C
		}

		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-frameCh:
				if !ok {
					return
				}
				if err := r.Record(frame); err != nil {
					logger.Error("Frame archive write failed", "error", err)
				}
			case <-sweep:
				cutoff := time.Now().Add(-r.retention)
				removed, err := r.CleanupOlderThan(cutoff)
				if err != nil {
					logger.Error("Frame archive sweep failed", "error", err)
					continue
				}
				if removed > 0 {
					logger.Info("Frame archive sweep",
						"removed", removed,
						"cutoff", cutoff.UTC().Format(time.RFC3339))
				}
			}
		}
	}()
}

// CleanupOlderThan removes frames received before the cutoff and returns
// how many rows were deleted.
func (r *Recorder) CleanupOlderThan(cutoff time.Time) (int64, error) {
	query := r.qb.Build("DELETE FROM frames WHERE received_at < ?")
	res, err := r.db.Exec(query, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired frames: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of archived frames.
func (r *Recorder) Count() (int64, error) {
	var n int64
	if err := r.db.QueryRow("SELECT COUNT(*) FROM frames").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count archived frames: %w", err)
	}
	return n, nil
}

// Recent returns up to limit archived frames, newest first.
func (r *Recorder) Recent(limit int) ([]ArchivedFrame, error) {
	query := r.qb.Build("SELECT seq, received_at, payload FROM frames ORDER BY id DESC LIMIT ?")
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query archived frames: %w", err)
	}
	defer rows.Close()

	var out []ArchivedFrame
	for rows.Next() {
		var f ArchivedFrame
		if err := rows.Scan(&f.Seq, &f.ReceivedAt, &f.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan archived frame: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Close shuts the archive connection down.
func (r *Recorder) Close() error {
	return r.db.Close()
}
