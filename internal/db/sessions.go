package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/glean/internal/errors"
	"github.com/hpungsan/glean/internal/session"
)

// SessionQuery selects sessions for a window scan.
// Results are ordered most recent first.
type SessionQuery struct {
	// Status filters on an exact lifecycle tag; empty means any.
	Status string
	// Since is the inclusive lower bound on created_at (Unix ms).
	Since int64
	// Limit caps the number of rows; zero or less means no cap.
	Limit int
}

const sessionColumns = `id, project_slug, status, summary, created_at, extracted_at, extraction_json, failure_json`

// UpsertSession inserts a session or updates its slug, status and summary.
// Extraction and failure metadata are left alone on update.
func (s *Store) UpsertSession(ctx context.Context, sess *session.Session) error {
	now := time.Now().UnixMilli()
	createdAt := sess.CreatedAt
	if createdAt == 0 {
		createdAt = now
		sess.CreatedAt = createdAt
	}

	query := `
		INSERT INTO sessions (id, project_slug, status, summary, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_slug = excluded.project_slug,
			status = excluded.status,
			summary = excluded.summary,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		sess.ID, toNullString(sess.ProjectSlug), sess.Status, toNullString(sess.Summary), createdAt, now,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("session", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return sess, nil
}

// ListSessions returns sessions matching q, most recent first.
func (s *Store) ListSessions(ctx context.Context, q SessionQuery) ([]session.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE created_at >= ?`
	args := []any{q.Since}
	if q.Status != "" {
		query += ` AND status = ?`
		args = append(args, q.Status)
	}
	query += ` ORDER BY created_at DESC, id`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// MarkSessionExtracted advances a session to extracted and stores the extraction metadata.
// Any earlier failure annotation is cleared.
func (s *Store) MarkSessionExtracted(ctx context.Context, id string, extractedAt int64, meta map[string]any) error {
	metaJSON, err := toNullJSON(meta, len(meta) == 0)
	if err != nil {
		return errors.NewInternal(err)
	}

	query := `
		UPDATE sessions
		SET status = ?, extracted_at = ?, extraction_json = ?, failure_json = NULL, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query, session.StatusExtracted, extractedAt, metaJSON, time.Now().UnixMilli(), id)
	return checkUpdated(result, err, "session", id)
}

// MarkSessionFailed attaches a failure annotation without touching status.
func (s *Store) MarkSessionFailed(ctx context.Context, id string, annotation map[string]any) error {
	failureJSON, err := toNullJSON(annotation, len(annotation) == 0)
	if err != nil {
		return errors.NewInternal(err)
	}

	query := `UPDATE sessions SET failure_json = ?, updated_at = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, failureJSON, time.Now().UnixMilli(), id)
	return checkUpdated(result, err, "session", id)
}

// PutTranscript stores or replaces the cleaned transcript for a session.
func (s *Store) PutTranscript(ctx context.Context, t *session.Transcript) error {
	filesJSON, err := toNullJSON(t.FileRefs, len(t.FileRefs) == 0)
	if err != nil {
		return errors.NewInternal(err)
	}
	createdAt := t.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().UnixMilli()
	}

	query := `
		INSERT INTO transcripts (session_id, content, files_json, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			content = excluded.content,
			files_json = excluded.files_json
	`
	if _, err := s.db.ExecContext(ctx, query, t.SessionID, t.Content, filesJSON, createdAt); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetTranscript retrieves the cleaned transcript for a session.
// Summary and Slug are not populated here; they live on the session record.
func (s *Store) GetTranscript(ctx context.Context, sessionID string) (*session.Transcript, error) {
	var (
		t         session.Transcript
		filesJSON sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, content, files_json, created_at FROM transcripts WHERE session_id = ?`, sessionID,
	).Scan(&t.SessionID, &t.Content, &filesJSON, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("transcript", sessionID)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := fromNullJSON(filesJSON, &t.FileRefs); err != nil {
		return nil, errors.NewInternal(err)
	}
	return &t, nil
}

// TranscriptExists reports whether a session has a non-blank cleaned transcript.
func (s *Store) TranscriptExists(ctx context.Context, sessionID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM transcripts WHERE session_id = ? AND trim(content, ' '||char(9)||char(10)||char(13)) <> '' LIMIT 1`, sessionID,
	).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return true, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*session.Session, error) {
	var (
		sess           session.Session
		slug           sql.NullString
		summary        sql.NullString
		extractedAt    sql.NullInt64
		extractionJSON sql.NullString
		failureJSON    sql.NullString
	)

	err := row.Scan(
		&sess.ID, &slug, &sess.Status, &summary, &sess.CreatedAt,
		&extractedAt, &extractionJSON, &failureJSON,
	)
	if err != nil {
		return nil, err
	}

	sess.ProjectSlug = fromNullString(slug)
	sess.Summary = fromNullString(summary)
	if extractedAt.Valid {
		sess.ExtractedAt = &extractedAt.Int64
	}
	if err := fromNullJSON(extractionJSON, &sess.Extraction); err != nil {
		return nil, err
	}
	if err := fromNullJSON(failureJSON, &sess.Failure); err != nil {
		return nil, err
	}
	return &sess, nil
}

// checkUpdated maps an UPDATE result to NotFound when no row matched.
func checkUpdated(result sql.Result, err error, kind, id string) error {
	if err != nil {
		return errors.NewInternal(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound(kind, id)
	}
	return nil
}
