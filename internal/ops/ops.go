package ops

import (
	"context"

	"github.com/hpungsan/glean/internal/db"
	"github.com/hpungsan/glean/internal/item"
	"github.com/hpungsan/glean/internal/project"
	"github.com/hpungsan/glean/internal/session"
)

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// RecordStore is everything the pipeline needs from the record store.
// *db.Store is the production implementation.
type RecordStore interface {
	// Sessions
	GetSession(ctx context.Context, id string) (*session.Session, error)
	ListSessions(ctx context.Context, q db.SessionQuery) ([]session.Session, error)
	MarkSessionExtracted(ctx context.Context, id string, extractedAt int64, meta map[string]any) error
	MarkSessionFailed(ctx context.Context, id string, annotation map[string]any) error

	// Transcripts
	GetTranscript(ctx context.Context, sessionID string) (*session.Transcript, error)
	TranscriptExists(ctx context.Context, sessionID string) (bool, error)

	// Projects
	ListProjects(ctx context.Context) ([]project.Project, error)

	// Staging area
	StagedExists(ctx context.Context, fingerprint string) (bool, error)
	InsertStaged(ctx context.Context, it *item.Staged) error
	ListStaged(ctx context.Context, f db.StagedFilter, limit, offset int) ([]item.Staged, int, error)
	StreamStaged(ctx context.Context, f db.StagedFilter, fn func(*item.Staged) error) error

	// Run history
	InsertRun(ctx context.Context, r *db.RunRecord) error
	LatestRun(ctx context.Context) (*db.RunRecord, error)
	RunTotals(ctx context.Context) (*db.RunTotals, error)
}

var _ RecordStore = (*db.Store)(nil)
