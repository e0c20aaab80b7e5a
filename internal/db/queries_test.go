package db

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hpungsan/glean/internal/errors"
	"github.com/hpungsan/glean/internal/item"
	"github.com/hpungsan/glean/internal/project"
	"github.com/hpungsan/glean/internal/session"
)

// newTestStore opens a fresh store in a temp directory.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewStore(database)
}

// stringPtr returns a pointer to the given string.
func stringPtr(s string) *string {
	return &s
}

func newTestStaged(id, fingerprint string) *item.Staged {
	return &item.Staged{
		ID:          id,
		Bucket:      item.BucketTodos,
		Category:    "todo",
		Content:     "fix the login bug",
		Title:       "fix the login bug",
		Priority:    item.PriorityMedium,
		Status:      item.StatusPending,
		SessionID:   "s1",
		ProjectID:   "p1",
		Fingerprint: fingerprint,
		Metadata:    map[string]any{"extractor_version": "strict-markers/1"},
		CreatedAt:   1000,
	}
}

func TestUpsertAndGetSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := &session.Session{
		ID:          "s1",
		ProjectSlug: stringPtr("glean"),
		Status:      session.StatusCleaned,
		Summary:     stringPtr("worked on the stager"),
		CreatedAt:   5000,
	}
	if err := store.UpsertSession(ctx, sess); err != nil {
		t.Fatalf("UpsertSession failed: %v", err)
	}

	got, err := store.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Slug() != "glean" {
		t.Errorf("Slug = %q, want %q", got.Slug(), "glean")
	}
	if got.Status != session.StatusCleaned {
		t.Errorf("Status = %q, want %q", got.Status, session.StatusCleaned)
	}
	if got.Summary == nil || *got.Summary != "worked on the stager" {
		t.Errorf("Summary = %v, want %q", got.Summary, "worked on the stager")
	}
	if got.CreatedAt != 5000 {
		t.Errorf("CreatedAt = %d, want 5000", got.CreatedAt)
	}
	if got.ExtractedAt != nil {
		t.Errorf("ExtractedAt = %v, want nil", *got.ExtractedAt)
	}

	// Upsert updates slug and status but keeps created_at
	sess.ProjectSlug = nil
	sess.Status = "raw"
	sess.CreatedAt = 9999
	if err := store.UpsertSession(ctx, sess); err != nil {
		t.Fatalf("second UpsertSession failed: %v", err)
	}
	got, err = store.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.ProjectSlug != nil {
		t.Errorf("ProjectSlug = %q, want nil", *got.ProjectSlug)
	}
	if got.Status != "raw" {
		t.Errorf("Status = %q, want raw", got.Status)
	}
	if got.CreatedAt != 5000 {
		t.Errorf("CreatedAt = %d, want 5000 (unchanged)", got.CreatedAt)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetSession(context.Background(), "missing")
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("GetSession error = %v, want NOT_FOUND", err)
	}
}

func TestListSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := []session.Session{
		{ID: "old", ProjectSlug: stringPtr("a"), Status: session.StatusCleaned, CreatedAt: 100},
		{ID: "mid", ProjectSlug: stringPtr("b"), Status: session.StatusExtracted, CreatedAt: 200},
		{ID: "new", ProjectSlug: stringPtr("c"), Status: session.StatusCleaned, CreatedAt: 300},
		{ID: "newest", ProjectSlug: stringPtr("d"), Status: session.StatusCleaned, CreatedAt: 400},
	}
	for i := range seed {
		if err := store.UpsertSession(ctx, &seed[i]); err != nil {
			t.Fatalf("UpsertSession failed: %v", err)
		}
	}

	tests := []struct {
		name string
		q    SessionQuery
		want []string
	}{
		{"any status since 200", SessionQuery{Since: 200}, []string{"newest", "new", "mid"}},
		{"cleaned only", SessionQuery{Status: session.StatusCleaned}, []string{"newest", "new", "old"}},
		{"limited", SessionQuery{Status: session.StatusCleaned, Limit: 2}, []string{"newest", "new"}},
		{"cutoff inclusive", SessionQuery{Since: 400}, []string{"newest"}},
		{"nothing", SessionQuery{Since: 500}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListSessions(ctx, tt.q)
			if err != nil {
				t.Fatalf("ListSessions failed: %v", err)
			}
			var ids []string
			for _, s := range got {
				ids = append(ids, s.ID)
			}
			if len(ids) != len(tt.want) {
				t.Fatalf("ids = %v, want %v", ids, tt.want)
			}
			for i := range ids {
				if ids[i] != tt.want[i] {
					t.Errorf("ids[%d] = %q, want %q", i, ids[i], tt.want[i])
				}
			}
		})
	}
}

func TestMarkSessionExtracted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.UpsertSession(ctx, &session.Session{ID: "s1", Status: session.StatusCleaned, CreatedAt: 1}); err != nil {
		t.Fatalf("UpsertSession failed: %v", err)
	}
	if err := store.MarkSessionFailed(ctx, "s1", map[string]any{"reason": "no valid items"}); err != nil {
		t.Fatalf("MarkSessionFailed failed: %v", err)
	}

	got, _ := store.GetSession(ctx, "s1")
	if got.Status != session.StatusCleaned {
		t.Errorf("Status after failure = %q, want cleaned", got.Status)
	}
	if got.Failure["reason"] != "no valid items" {
		t.Errorf("Failure = %v, want reason", got.Failure)
	}

	meta := map[string]any{"extractor_version": "strict-markers/1", "items_created": 3}
	if err := store.MarkSessionExtracted(ctx, "s1", 4242, meta); err != nil {
		t.Fatalf("MarkSessionExtracted failed: %v", err)
	}

	got, _ = store.GetSession(ctx, "s1")
	if got.Status != session.StatusExtracted {
		t.Errorf("Status = %q, want extracted", got.Status)
	}
	if got.ExtractedAt == nil || *got.ExtractedAt != 4242 {
		t.Errorf("ExtractedAt = %v, want 4242", got.ExtractedAt)
	}
	if got.Extraction["items_created"] != float64(3) {
		t.Errorf("Extraction[items_created] = %v, want 3", got.Extraction["items_created"])
	}
	if got.Failure != nil {
		t.Errorf("Failure = %v, want cleared", got.Failure)
	}
}

func TestMarkSession_NotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.MarkSessionExtracted(ctx, "ghost", 1, nil); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("MarkSessionExtracted error = %v, want NOT_FOUND", err)
	}
	if err := store.MarkSessionFailed(ctx, "ghost", map[string]any{"reason": "x"}); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("MarkSessionFailed error = %v, want NOT_FOUND", err)
	}
}

func TestTranscripts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	exists, err := store.TranscriptExists(ctx, "s1")
	if err != nil || exists {
		t.Fatalf("TranscriptExists = %v, %v; want false, nil", exists, err)
	}
	if _, err := store.GetTranscript(ctx, "s1"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("GetTranscript error = %v, want NOT_FOUND", err)
	}

	tr := &session.Transcript{SessionID: "s1", Content: "USER: hi", FileRefs: []string{"main.go"}}
	if err := store.PutTranscript(ctx, tr); err != nil {
		t.Fatalf("PutTranscript failed: %v", err)
	}

	got, err := store.GetTranscript(ctx, "s1")
	if err != nil {
		t.Fatalf("GetTranscript failed: %v", err)
	}
	if got.Content != "USER: hi" {
		t.Errorf("Content = %q, want %q", got.Content, "USER: hi")
	}
	if len(got.FileRefs) != 1 || got.FileRefs[0] != "main.go" {
		t.Errorf("FileRefs = %v, want [main.go]", got.FileRefs)
	}

	exists, err = store.TranscriptExists(ctx, "s1")
	if err != nil || !exists {
		t.Errorf("TranscriptExists = %v, %v; want true, nil", exists, err)
	}

	// Whitespace-only content does not count as a cleaned transcript
	if err := store.PutTranscript(ctx, &session.Transcript{SessionID: "s1", Content: "  \n "}); err != nil {
		t.Fatalf("PutTranscript failed: %v", err)
	}
	exists, _ = store.TranscriptExists(ctx, "s1")
	if exists {
		t.Error("TranscriptExists = true for blank content, want false")
	}
}

func TestProjects(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	projects := []*project.Project{
		{ID: "p2", Slug: "billing", Name: "Billing", CreatedAt: 20},
		{ID: "p1", Slug: "auth", CreatedAt: 10},
		{ID: "p0", Slug: "web", CreatedAt: 20},
	}
	for _, p := range projects {
		if err := store.InsertProject(ctx, p); err != nil {
			t.Fatalf("InsertProject failed: %v", err)
		}
	}

	got, err := store.ListProjects(ctx)
	if err != nil {
		t.Fatalf("ListProjects failed: %v", err)
	}
	want := []string{"p1", "p0", "p2"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("got[%d].ID = %q, want %q", i, got[i].ID, id)
		}
	}

	err = store.InsertProject(ctx, &project.Project{ID: "p9", Slug: "billing", CreatedAt: 30})
	if err != ErrUniqueConstraint {
		t.Errorf("duplicate slug error = %v, want ErrUniqueConstraint", err)
	}
}

func TestInsertStaged_FingerprintUnique(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	exists, err := store.StagedExists(ctx, "fp1")
	if err != nil || exists {
		t.Fatalf("StagedExists = %v, %v; want false, nil", exists, err)
	}

	if err := store.InsertStaged(ctx, newTestStaged("01A", "fp1")); err != nil {
		t.Fatalf("InsertStaged failed: %v", err)
	}

	exists, err = store.StagedExists(ctx, "fp1")
	if err != nil || !exists {
		t.Errorf("StagedExists = %v, %v; want true, nil", exists, err)
	}

	// Same fingerprint under a new id trips the unique index
	if err := store.InsertStaged(ctx, newTestStaged("01B", "fp1")); err != ErrUniqueConstraint {
		t.Errorf("second InsertStaged error = %v, want ErrUniqueConstraint", err)
	}
}

func TestInsertStaged_RequiresProject(t *testing.T) {
	store := newTestStore(t)

	it := newTestStaged("01A", "fp1")
	it.ProjectID = ""
	if err := store.InsertStaged(context.Background(), it); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("InsertStaged error = %v, want INVALID_REQUEST", err)
	}
}

func TestListAndStreamStaged(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, fp := range []string{"fa", "fb", "fc"} {
		it := newTestStaged("01"+fp, fp)
		it.CreatedAt = int64(100 + i)
		if i == 2 {
			it.ProjectID = "p2"
			it.Status = "routed"
		}
		if err := store.InsertStaged(ctx, it); err != nil {
			t.Fatalf("InsertStaged failed: %v", err)
		}
	}

	items, total, err := store.ListStaged(ctx, StagedFilter{Status: item.StatusPending}, 1, 0)
	if err != nil {
		t.Fatalf("ListStaged failed: %v", err)
	}
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
	if len(items) != 1 || items[0].ID != "01fa" {
		t.Errorf("items = %+v, want first pending item", items)
	}
	if items[0].Metadata["extractor_version"] != "strict-markers/1" {
		t.Errorf("Metadata = %v, want extractor_version", items[0].Metadata)
	}
	if items[0].Bucket != item.BucketTodos {
		t.Errorf("Bucket = %q, want %q", items[0].Bucket, item.BucketTodos)
	}

	items, total, _ = store.ListStaged(ctx, StagedFilter{ProjectID: "p2"}, 10, 0)
	if total != 1 || len(items) != 1 || items[0].ID != "01fc" {
		t.Errorf("project filter = %+v (total %d), want 01fc", items, total)
	}

	var streamed []string
	err = store.StreamStaged(ctx, StagedFilter{}, func(it *item.Staged) error {
		streamed = append(streamed, it.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamStaged failed: %v", err)
	}
	if len(streamed) != 3 || streamed[0] != "01fa" || streamed[2] != "01fc" {
		t.Errorf("streamed = %v, want creation order", streamed)
	}

	stop := errors.NewCancelled("export")
	calls := 0
	err = store.StreamStaged(ctx, StagedFilter{}, func(it *item.Staged) error {
		calls++
		return stop
	})
	if err != stop || calls != 1 {
		t.Errorf("StreamStaged stop = %v after %d calls, want callback error after 1", err, calls)
	}
}

func TestRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.LatestRun(ctx); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("LatestRun error = %v, want NOT_FOUND", err)
	}
	totals, err := store.RunTotals(ctx)
	if err != nil {
		t.Fatalf("RunTotals failed: %v", err)
	}
	if totals.Runs != 0 {
		t.Errorf("Runs = %d, want 0", totals.Runs)
	}

	runs := []*RunRecord{
		{ID: "r1", StartedAt: 10, FinishedAt: 20, DurationMS: 10, SessionsScanned: 4, SessionsProcessed: 3, ItemsInserted: 5, Duplicates: 1, Errors: 1},
		{ID: "r2", StartedAt: 30, FinishedAt: 35, DurationMS: 5, SessionsScanned: 1, SessionsProcessed: 1, ItemsInserted: 2, Rejected: 2, Stats: json.RawMessage(`{"run_id":"r2"}`)},
	}
	for _, r := range runs {
		if err := store.InsertRun(ctx, r); err != nil {
			t.Fatalf("InsertRun failed: %v", err)
		}
	}

	latest, err := store.LatestRun(ctx)
	if err != nil {
		t.Fatalf("LatestRun failed: %v", err)
	}
	if latest.ID != "r2" {
		t.Errorf("latest.ID = %q, want r2", latest.ID)
	}
	if string(latest.Stats) != `{"run_id":"r2"}` {
		t.Errorf("latest.Stats = %s", latest.Stats)
	}

	totals, err = store.RunTotals(ctx)
	if err != nil {
		t.Fatalf("RunTotals failed: %v", err)
	}
	want := RunTotals{Runs: 2, SessionsScanned: 5, SessionsProcessed: 4, ItemsInserted: 7, Duplicates: 1, Rejected: 2, Errors: 1}
	if *totals != want {
		t.Errorf("totals = %+v, want %+v", *totals, want)
	}
}

func TestPing(t *testing.T) {
	store := newTestStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
