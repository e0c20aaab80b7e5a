package ops

import (
	"context"
	"testing"
	"time"

	"github.com/hpungsan/glean/internal/db"
	"github.com/hpungsan/glean/internal/item"
	"github.com/hpungsan/glean/internal/logging"
	"github.com/hpungsan/glean/internal/project"
	"github.com/hpungsan/glean/internal/session"
)

// testNow is the fixed clock most pipeline tests run at.
var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *db.Store {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return db.NewStore(database)
}

func newTestResolver(store project.Lister) *project.Resolver {
	return project.NewResolver(store, project.NewMemoryCache(time.Minute), nil, nil)
}

// seedSession stores a session created age before testNow, plus its transcript when text is non-empty.
func seedSession(t *testing.T, store *db.Store, id, slug, status string, age time.Duration, text string) {
	t.Helper()
	ctx := context.Background()
	sess := &session.Session{
		ID:        id,
		Status:    status,
		CreatedAt: testNow.Add(-age).UnixMilli(),
	}
	if slug != "" {
		sess.ProjectSlug = item.StringPtr(slug)
	}
	if err := store.UpsertSession(ctx, sess); err != nil {
		t.Fatalf("UpsertSession(%s) failed: %v", id, err)
	}
	if text == "" {
		return
	}
	if err := store.PutTranscript(ctx, &session.Transcript{SessionID: id, Content: text}); err != nil {
		t.Fatalf("PutTranscript(%s) failed: %v", id, err)
	}
}

func seedProject(t *testing.T, store *db.Store, id, slug string, createdAt int64) {
	t.Helper()
	p := &project.Project{ID: id, Slug: slug, Name: slug, CreatedAt: createdAt}
	if err := store.InsertProject(context.Background(), p); err != nil {
		t.Fatalf("InsertProject(%s) failed: %v", slug, err)
	}
}

func sessionIDs(sessions []session.Session) []string {
	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
	}
	return ids
}

// faultyStore wraps a real store and fails selected operations.
type faultyStore struct {
	*db.Store

	listSessionsErr  error
	getSessionErr    error
	getTranscriptErr error
	stagedExistsErr  error
	insertStagedErr  error
	markErr          error
	insertRunErr     error
	panicOnSession   string

	insertCalls int
}

func (f *faultyStore) ListSessions(ctx context.Context, q db.SessionQuery) ([]session.Session, error) {
	if f.listSessionsErr != nil {
		return nil, f.listSessionsErr
	}
	return f.Store.ListSessions(ctx, q)
}

func (f *faultyStore) GetSession(ctx context.Context, id string) (*session.Session, error) {
	if f.getSessionErr != nil {
		return nil, f.getSessionErr
	}
	return f.Store.GetSession(ctx, id)
}

func (f *faultyStore) GetTranscript(ctx context.Context, sessionID string) (*session.Transcript, error) {
	if sessionID == f.panicOnSession {
		panic("transcript decoder exploded")
	}
	if f.getTranscriptErr != nil {
		return nil, f.getTranscriptErr
	}
	return f.Store.GetTranscript(ctx, sessionID)
}

func (f *faultyStore) StagedExists(ctx context.Context, fingerprint string) (bool, error) {
	if f.stagedExistsErr != nil {
		return false, f.stagedExistsErr
	}
	return f.Store.StagedExists(ctx, fingerprint)
}

func (f *faultyStore) InsertStaged(ctx context.Context, it *item.Staged) error {
	f.insertCalls++
	if f.insertStagedErr != nil {
		return f.insertStagedErr
	}
	return f.Store.InsertStaged(ctx, it)
}

func (f *faultyStore) MarkSessionExtracted(ctx context.Context, id string, extractedAt int64, meta map[string]any) error {
	if f.markErr != nil {
		return f.markErr
	}
	return f.Store.MarkSessionExtracted(ctx, id, extractedAt, meta)
}

func (f *faultyStore) MarkSessionFailed(ctx context.Context, id string, annotation map[string]any) error {
	if f.markErr != nil {
		return f.markErr
	}
	return f.Store.MarkSessionFailed(ctx, id, annotation)
}

func (f *faultyStore) InsertRun(ctx context.Context, r *db.RunRecord) error {
	if f.insertRunErr != nil {
		return f.insertRunErr
	}
	return f.Store.InsertRun(ctx, r)
}

var _ RecordStore = (*faultyStore)(nil)

func nopLogger() *logging.Logger { return logging.NewNop() }
