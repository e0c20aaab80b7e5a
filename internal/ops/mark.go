package ops

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/glean/internal/extract"
	"github.com/hpungsan/glean/internal/logging"
)

// Failure reasons attached to sessions that did not complete.
const (
	ReasonNoTranscript      = "no cleaned transcript"
	ReasonNoValidItems      = "no valid items"
	ReasonProjectUnresolved = "project unresolved"
	ReasonAllItemsRejected  = "all items rejected"
	ReasonProcessingError   = "processing error"
)

// MarkInput identifies the session and run for a state transition.
type MarkInput struct {
	SessionID string
	RunID     string
	Now       time.Time // zero means time.Now()
}

// MarkExtracted advances a session to extracted with a summary of what was staged.
// Store errors are logged and reported as false; staging is never rolled back.
func MarkExtracted(ctx context.Context, store RecordStore, log *logging.Logger, input MarkInput, staged *StageOutput) bool {
	now := input.Now
	if now.IsZero() {
		now = time.Now()
	}
	meta := map[string]any{
		"extractor_version":  extract.Version,
		"items_created":      staged.Inserted,
		"duplicates_skipped": staged.Duplicates,
		"rejected":           staged.Rejected,
		"run_id":             input.RunID,
	}
	if staged.ProjectID != "" {
		meta["project_id"] = staged.ProjectID
	}

	if err := store.MarkSessionExtracted(ctx, input.SessionID, now.UnixMilli(), meta); err != nil {
		log.Error(ctx, "failed to mark session extracted", zap.Error(err))
		return false
	}
	return true
}

// MarkFailed attaches a failure annotation and leaves the status alone so the
// session is selected again on a later run. Store errors are logged and reported as false.
func MarkFailed(ctx context.Context, store RecordStore, log *logging.Logger, input MarkInput, reason string) bool {
	now := input.Now
	if now.IsZero() {
		now = time.Now()
	}
	annotation := map[string]any{
		"reason": reason,
		"at":     now.UnixMilli(),
		"run_id": input.RunID,
	}

	if err := store.MarkSessionFailed(ctx, input.SessionID, annotation); err != nil {
		log.Error(ctx, "failed to annotate session failure", zap.String("reason", reason), zap.Error(err))
		return false
	}
	return true
}
