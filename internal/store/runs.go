package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StartRun records the beginning of a pipeline invocation
func (s *Store) StartRun(ctx context.Context, destination string, dryRun bool) (*Run, error) {
	run := &Run{
		ID:          uuid.NewString(),
		Destination: destination,
		DryRun:      dryRun,
		StartedAt:   time.Now(),
	}

	_, err := s.exec(ctx, `
		INSERT INTO runs (id, destination, dry_run, started_at)
		VALUES (?, ?, ?, ?)
	`, run.ID, run.Destination, run.DryRun, run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}
	return run, nil
}

// FinishRun stamps the completion time of a run
func (s *Store) FinishRun(ctx context.Context, id string) error {
	_, err := s.exec(ctx, "UPDATE runs SET finished_at = ? WHERE id = ?", time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// GetRuns returns all runs, oldest first
func (s *Store) GetRuns(ctx context.Context) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, destination, dry_run, started_at, finished_at
		FROM runs ORDER BY started_at, rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r := &Run{}
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Destination, &r.DryRun, &r.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetDestinations returns the distinct destination roots of all recorded runs
func (s *Store) GetDestinations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT destination FROM runs ORDER BY destination")
	if err != nil {
		return nil, fmt.Errorf("failed to query destinations: %w", err)
	}
	defer rows.Close()

	var dests []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan destination: %w", err)
		}
		dests = append(dests, d)
	}
	return dests, rows.Err()
}
