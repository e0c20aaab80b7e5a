package ops

import (
	"context"
	"encoding/json"

	"github.com/hpungsan/glean/internal/db"
	"github.com/hpungsan/glean/internal/errors"
)

// StatusOutput is the last run report plus cumulative counters.
type StatusOutput struct {
	LastRun *RunStats    `json:"last_run"`
	Totals  db.RunTotals `json:"totals"`
}

// Status reports the most recent recorded run and totals across all runs.
// LastRun is nil before the first non-dry run.
func Status(ctx context.Context, store RecordStore) (*StatusOutput, error) {
	totals, err := store.RunTotals(ctx)
	if err != nil {
		return nil, err
	}
	out := &StatusOutput{Totals: *totals}

	rec, err := store.LatestRun(ctx)
	if errors.Is(err, errors.ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}

	last, err := statsFromRecord(rec)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	out.LastRun = last
	return out, nil
}

// statsFromRecord restores a run report, falling back to the counter columns
// when the stored report is empty.
func statsFromRecord(rec *db.RunRecord) (*RunStats, error) {
	stats := &RunStats{}
	if len(rec.Stats) > 0 {
		if err := json.Unmarshal(rec.Stats, stats); err != nil {
			return nil, err
		}
	}
	if stats.RunID == "" {
		stats.RunID = rec.ID
		stats.StartedAt = rec.StartedAt
		stats.FinishedAt = rec.FinishedAt
		stats.DurationMS = rec.DurationMS
		stats.SessionsScanned = rec.SessionsScanned
		stats.SessionsProcessed = rec.SessionsProcessed
		stats.ItemsInserted = rec.ItemsInserted
		stats.Duplicates = rec.Duplicates
		stats.Rejected = rec.Rejected
		stats.Errors = rec.Errors
	}
	return stats, nil
}
