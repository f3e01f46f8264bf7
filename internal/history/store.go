// Package history keeps a local sqlite log of pipeline runs.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"upload-ai/internal/domain"
)

const defaultListLimit = 50

// Store persists runs in a sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	s := &Store{db: sqlDB}
	if err := s.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate history database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		video_name TEXT NOT NULL,
		prompt TEXT NOT NULL DEFAULT '',
		final_state TEXT NOT NULL,
		failed_stage TEXT NOT NULL DEFAULT '',
		remote_video_id TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		superseded INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveRun inserts or replaces one run record.
func (s *Store) SaveRun(ctx context.Context, run domain.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is empty")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
			(id, video_name, prompt, final_state, failed_stage, remote_video_id, error, superseded, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.VideoName,
		run.Prompt,
		string(run.FinalState),
		string(run.FailedStage),
		run.RemoteVideoID,
		run.Error,
		run.Superseded,
		run.StartedAt.UTC(),
		run.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

// List returns the most recent runs, newest first. limit <= 0 uses a default.
func (s *Store) List(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, video_name, prompt, final_state, failed_stage, remote_video_id, error, superseded, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		var run domain.Run
		var finalState, failedStage string
		var startedAt, finishedAt time.Time
		if err := rows.Scan(
			&run.ID,
			&run.VideoName,
			&run.Prompt,
			&finalState,
			&failedStage,
			&run.RemoteVideoID,
			&run.Error,
			&run.Superseded,
			&startedAt,
			&finishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.FinalState = domain.PipelineState(finalState)
		run.FailedStage = domain.PipelineState(failedStage)
		run.StartedAt = startedAt.UTC()
		run.FinishedAt = finishedAt.UTC()
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
