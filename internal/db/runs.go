package db

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/hpungsan/glean/internal/errors"
)

// RunRecord is one persisted extraction run. Stats holds the full run report;
// the counter columns duplicate the fields status reporting aggregates over.
type RunRecord struct {
	ID                string
	StartedAt         int64
	FinishedAt        int64
	DurationMS        int64
	SessionsScanned   int
	SessionsProcessed int
	ItemsInserted     int
	Duplicates        int
	Rejected          int
	Errors            int
	Stats             json.RawMessage
}

// RunTotals are cumulative counters across every recorded run.
type RunTotals struct {
	Runs              int64 `json:"runs"`
	SessionsScanned   int64 `json:"sessions_scanned"`
	SessionsProcessed int64 `json:"sessions_processed"`
	ItemsInserted     int64 `json:"items_inserted"`
	Duplicates        int64 `json:"duplicates"`
	Rejected          int64 `json:"rejected"`
	Errors            int64 `json:"errors"`
}

// InsertRun records a finished run.
func (s *Store) InsertRun(ctx context.Context, r *RunRecord) error {
	stats := r.Stats
	if len(stats) == 0 {
		stats = json.RawMessage("{}")
	}

	query := `
		INSERT INTO runs (
			id, started_at, finished_at, duration_ms, sessions_scanned, sessions_processed,
			items_inserted, duplicates, rejected, errors, stats_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.StartedAt, r.FinishedAt, r.DurationMS, r.SessionsScanned, r.SessionsProcessed,
		r.ItemsInserted, r.Duplicates, r.Rejected, r.Errors, string(stats),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	return nil
}

// LatestRun returns the most recently started run.
func (s *Store) LatestRun(ctx context.Context) (*RunRecord, error) {
	query := `
		SELECT id, started_at, finished_at, duration_ms, sessions_scanned, sessions_processed,
			items_inserted, duplicates, rejected, errors, stats_json
		FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT 1
	`
	var (
		r     RunRecord
		stats string
	)
	err := s.db.QueryRowContext(ctx, query).Scan(
		&r.ID, &r.StartedAt, &r.FinishedAt, &r.DurationMS, &r.SessionsScanned, &r.SessionsProcessed,
		&r.ItemsInserted, &r.Duplicates, &r.Rejected, &r.Errors, &stats,
	)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("run", "latest")
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	r.Stats = json.RawMessage(stats)
	return &r, nil
}

// RunTotals sums the counters of every recorded run.
func (s *Store) RunTotals(ctx context.Context) (*RunTotals, error) {
	query := `
		SELECT COUNT(*),
			COALESCE(SUM(sessions_scanned), 0),
			COALESCE(SUM(sessions_processed), 0),
			COALESCE(SUM(items_inserted), 0),
			COALESCE(SUM(duplicates), 0),
			COALESCE(SUM(rejected), 0),
			COALESCE(SUM(errors), 0)
		FROM runs
	`
	var t RunTotals
	err := s.db.QueryRowContext(ctx, query).Scan(
		&t.Runs, &t.SessionsScanned, &t.SessionsProcessed, &t.ItemsInserted, &t.Duplicates, &t.Rejected, &t.Errors,
	)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return &t, nil
}
