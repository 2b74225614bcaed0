// Package runstore persists conversion runs and their chapter jobs in
// SQLite. The pipeline records every state change here, so an
// interrupted run can be inspected after the fact and old runs age out
// by retention policy.
package runstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/narralabs/narra-core/internal/config"
)

// Run states.
const (
	RunStatePending         = "pending"
	RunStateEstimated       = "estimated"
	RunStateConverting      = "converting"
	RunStateManifestWritten = "manifest_written"
	RunStateAborted         = "aborted"
	RunStateCancelled       = "cancelled"
)

// Chapter job states.
const (
	JobStateQueued  = "queued"
	JobStateRunning = "running"
	JobStateReady   = "ready"
	JobStateFailed  = "failed"
	JobStateSkipped = "skipped"
)

// RunRecord is one conversion run.
type RunRecord struct {
	RunID         string
	BookID        string
	BookTitle     string
	State         string
	TotalChapters int
	StartedAt     time.Time
	UpdatedAt     time.Time
}

// JobRecord is one chapter job within a run.
type JobRecord struct {
	RunID        string
	ChapterIndex int
	Title        string
	State        string
	Error        string
	UpdatedAt    time.Time
}

// Store wraps the SQLite run ledger. Ephemeral mode keeps the API but
// writes nothing.
type Store struct {
	db    *sql.DB
	cfg   config.RunStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the run store according to config.
func Open(ctx context.Context, cfg config.RunStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.Mode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("run store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    book_id TEXT,
    book_title TEXT,
    state TEXT NOT NULL,
    total_chapters INTEGER NOT NULL DEFAULT 0,
    started_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS chapter_jobs (
    run_id TEXT NOT NULL,
    chapter_index INTEGER NOT NULL,
    title TEXT,
    state TEXT NOT NULL,
    error TEXT,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY(run_id, chapter_index),
    FOREIGN KEY(run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_chapter_jobs_state ON chapter_jobs(run_id, state);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// BeginRun inserts the run row, or refreshes it when the run id is
// reused.
func (s *Store) BeginRun(ctx context.Context, run RunRecord) error {
	if s.db == nil {
		return nil
	}
	now := s.clock().UTC()
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	if run.State == "" {
		run.State = RunStatePending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, book_id, book_title, state, total_chapters, started_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
		   book_id=excluded.book_id, book_title=excluded.book_title,
		   state=excluded.state, total_chapters=excluded.total_chapters,
		   updated_at=excluded.updated_at`,
		run.RunID, run.BookID, run.BookTitle, run.State, run.TotalChapters, run.StartedAt.UTC(), now)
	return err
}

// SetRunState advances the run through its lifecycle.
func (s *Store) SetRunState(ctx context.Context, runID, state string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, updated_at = ? WHERE run_id = ?`,
		state, s.clock().UTC(), runID)
	return err
}

// UpsertJob records a chapter job and its current state.
func (s *Store) UpsertJob(ctx context.Context, job JobRecord) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chapter_jobs(run_id, chapter_index, title, state, error, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, chapter_index) DO UPDATE SET
		   title=excluded.title, state=excluded.state, error=excluded.error,
		   updated_at=excluded.updated_at`,
		job.RunID, job.ChapterIndex, job.Title, job.State, job.Error, s.clock().UTC())
	return err
}

// SetJobState updates one chapter job's state, keeping its title.
func (s *Store) SetJobState(ctx context.Context, runID string, chapterIndex int, state, errMsg string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE chapter_jobs SET state = ?, error = ?, updated_at = ? WHERE run_id = ? AND chapter_index = ?`,
		state, errMsg, s.clock().UTC(), runID, chapterIndex)
	return err
}

// GetRun fetches one run row. The boolean reports whether it exists.
func (s *Store) GetRun(ctx context.Context, runID string) (RunRecord, bool, error) {
	if s.db == nil {
		return RunRecord{}, false, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, book_id, book_title, state, total_chapters, started_at, updated_at
		 FROM runs WHERE run_id = ?`, runID)
	var r RunRecord
	var started, updated string
	if err := row.Scan(&r.RunID, &r.BookID, &r.BookTitle, &r.State, &r.TotalChapters, &started, &updated); err != nil {
		if err == sql.ErrNoRows {
			return RunRecord{}, false, nil
		}
		return RunRecord{}, false, err
	}
	if ts, err := time.Parse(time.RFC3339Nano, started); err == nil {
		r.StartedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		r.UpdatedAt = ts
	}
	return r, true, nil
}

// ListJobs returns a run's chapter jobs ordered by chapter index.
func (s *Store) ListJobs(ctx context.Context, runID string) ([]JobRecord, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, chapter_index, title, state, error, updated_at
		 FROM chapter_jobs WHERE run_id = ? ORDER BY chapter_index ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []JobRecord
	for rows.Next() {
		var j JobRecord
		var updated string
		if err := rows.Scan(&j.RunID, &j.ChapterIndex, &j.Title, &j.State, &j.Error, &updated); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, updated); err == nil {
			j.UpdatedAt = ts
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Prune applies retention: runs older than RetentionDays go, and only
// the newest MaxRuns rows survive. Chapter jobs cascade with their
// run.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxRuns > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id IN (
			SELECT run_id FROM runs ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRuns)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
