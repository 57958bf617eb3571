// Package runs keeps a ledger of crawl runs in SQLite and serves it, with
// the stored batches, over a read-only HTTP API.
package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pevans/newscrawl/discovery"
)

const DefaultListLimit = 50

var ErrRunNotFound = errors.New("run not found")

// Store persists run summaries using SQLite.
type Store struct {
	db *sql.DB
}

// Run is a recorded crawl run.
type Run struct {
	ID            string      `json:"id"`
	StartedAt     time.Time   `json:"started_at"`
	FinishedAt    time.Time   `json:"finished_at"`
	Interrupted   bool        `json:"interrupted"`
	TotalArticles int         `json:"total_articles"`
	SourceCount   int         `json:"source_count"`
	FailedSources int         `json:"failed_sources"`
	Sources       []SourceRun `json:"sources,omitempty"`
}

// SourceRun is one source's row within a run.
type SourceRun struct {
	SourceID   string    `json:"source_id"`
	Status     string    `json:"status"`
	Error      *string   `json:"error,omitempty"`
	Candidates int       `json:"candidates"`
	Articles   int       `json:"articles"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	BatchPath  *string   `json:"batch_path,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// NewStore opens (or creates) the ledger database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		interrupted INTEGER NOT NULL DEFAULT 0,
		total_articles INTEGER NOT NULL DEFAULT 0,
		source_count INTEGER NOT NULL DEFAULT 0,
		failed_sources INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS source_runs (
		run_id TEXT NOT NULL REFERENCES runs(run_id),
		position INTEGER NOT NULL,
		source_id TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		candidates INTEGER NOT NULL DEFAULT 0,
		articles INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		batch_path TEXT,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		PRIMARY KEY (run_id, position)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun stores a run summary and its per-source results in one
// transaction.
func (s *Store) RecordRun(ctx context.Context, summary *discovery.RunSummary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			run_id, started_at, finished_at, interrupted,
			total_articles, source_count, failed_sources
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		summary.ID,
		formatTime(summary.StartedAt),
		formatTime(summary.FinishedAt),
		summary.Interrupted,
		summary.TotalArticles,
		len(summary.Sources),
		summary.FailedSources(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for i, src := range summary.Sources {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO source_runs (
				run_id, position, source_id, status, error, candidates,
				articles, skipped, failed, batch_path, started_at, finished_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			summary.ID, i, src.SourceID, string(src.Status), nullString(src.Error),
			src.Candidates, src.Articles, src.Skipped, src.Failed,
			nullString(src.BatchPath), formatTime(src.StartedAt), formatTime(src.FinishedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert source run %s: %w", src.SourceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs first, without source rows. A
// non-positive limit uses DefaultListLimit.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, started_at, finished_at, interrupted,
		       total_articles, source_count, failed_sources
		FROM runs
		ORDER BY started_at DESC, run_id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	return runs, nil
}

// GetRun returns one run with its source rows in crawl order.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, started_at, finished_at, interrupted,
		       total_articles, source_count, failed_sources
		FROM runs
		WHERE run_id = ?
	`, id)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, status, error, candidates, articles, skipped,
		       failed, batch_path, started_at, finished_at
		FROM source_runs
		WHERE run_id = ?
		ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query source runs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var src SourceRun
		var errText, batchPath sql.NullString
		var startedAt, finishedAt string

		if err := rows.Scan(
			&src.SourceID, &src.Status, &errText, &src.Candidates, &src.Articles,
			&src.Skipped, &src.Failed, &batchPath, &startedAt, &finishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan source run: %w", err)
		}

		if errText.Valid {
			src.Error = &errText.String
		}
		if batchPath.Valid {
			src.BatchPath = &batchPath.String
		}
		src.StartedAt = parseTime(startedAt)
		src.FinishedAt = parseTime(finishedAt)

		run.Sources = append(run.Sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate source runs: %w", err)
	}

	return run, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var startedAt, finishedAt string

	err := row.Scan(
		&run.ID, &startedAt, &finishedAt, &run.Interrupted,
		&run.TotalArticles, &run.SourceCount, &run.FailedSources,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run.StartedAt = parseTime(startedAt)
	run.FinishedAt = parseTime(finishedAt)
	return &run, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	// Strip monotonic clock for consistent storage and comparisons
	return t.Truncate(0).UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}
