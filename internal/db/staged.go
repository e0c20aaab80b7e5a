package db

import (
	"context"
	"database/sql"

	"github.com/hpungsan/glean/internal/errors"
	"github.com/hpungsan/glean/internal/item"
	"github.com/hpungsan/glean/internal/project"
)

// StagedFilter narrows staged item listings. Empty fields match everything.
type StagedFilter struct {
	Status    string
	ProjectID string
	SessionID string
}

func (f StagedFilter) where() (string, []any) {
	clause := ` WHERE 1=1`
	var args []any
	if f.Status != "" {
		clause += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.ProjectID != "" {
		clause += ` AND project_id = ?`
		args = append(args, f.ProjectID)
	}
	if f.SessionID != "" {
		clause += ` AND session_id = ?`
		args = append(args, f.SessionID)
	}
	return clause, args
}

const stagedColumns = `id, bucket, category, content, title, priority, status, session_id, project_id, fingerprint, metadata_json, created_at`

// InsertProject stores a new project. A duplicate slug returns ErrUniqueConstraint.
func (s *Store) InsertProject(ctx context.Context, p *project.Project) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, slug, name, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.Slug, p.Name, p.CreatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	return nil
}

// ListProjects returns every project in creation order.
func (s *Store) ListProjects(ctx context.Context) ([]project.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, slug, COALESCE(name, ''), created_at FROM projects ORDER BY created_at, id`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []project.Project
	for rows.Next() {
		var p project.Project
		if err := rows.Scan(&p.ID, &p.Slug, &p.Name, &p.CreatedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// StagedExists reports whether a staged item with the fingerprint exists.
func (s *Store) StagedExists(ctx context.Context, fingerprint string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM staged_items WHERE fingerprint = ? LIMIT 1`, fingerprint,
	).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return true, nil
}

// InsertStaged stores a staged item. A fingerprint collision returns ErrUniqueConstraint.
func (s *Store) InsertStaged(ctx context.Context, it *item.Staged) error {
	if it.ProjectID == "" {
		return errors.NewInvalidRequest("staged item requires a project id")
	}
	metaJSON, err := toNullJSON(it.Metadata, len(it.Metadata) == 0)
	if err != nil {
		return errors.NewInternal(err)
	}

	query := `
		INSERT INTO staged_items (
			id, bucket, category, content, title, priority, status,
			session_id, project_id, fingerprint, metadata_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		it.ID, string(it.Bucket), it.Category, it.Content, it.Title, it.Priority, it.Status,
		it.SessionID, it.ProjectID, it.Fingerprint, metaJSON, it.CreatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	return nil
}

// ListStaged returns a page of staged items in creation order plus the total match count.
func (s *Store) ListStaged(ctx context.Context, f StagedFilter, limit, offset int) ([]item.Staged, int, error) {
	where, args := f.where()

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM staged_items`+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	query := `SELECT ` + stagedColumns + ` FROM staged_items` + where + ` ORDER BY created_at, id LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []item.Staged
	for rows.Next() {
		it, err := scanStaged(rows)
		if err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		out = append(out, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	return out, total, nil
}

// StreamStaged calls fn for every matching staged item in creation order.
// Iteration stops at the first error from fn, which is returned as is.
func (s *Store) StreamStaged(ctx context.Context, f StagedFilter, fn func(*item.Staged) error) error {
	where, args := f.where()
	rows, err := s.db.QueryContext(ctx, `SELECT `+stagedColumns+` FROM staged_items`+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer rows.Close()

	for rows.Next() {
		it, err := scanStaged(rows)
		if err != nil {
			return errors.NewInternal(err)
		}
		if err := fn(it); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

func scanStaged(row rowScanner) (*item.Staged, error) {
	var (
		it       item.Staged
		bucket   string
		metaJSON sql.NullString
	)
	err := row.Scan(
		&it.ID, &bucket, &it.Category, &it.Content, &it.Title, &it.Priority, &it.Status,
		&it.SessionID, &it.ProjectID, &it.Fingerprint, &metaJSON, &it.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	it.Bucket = item.Bucket(bucket)
	if err := fromNullJSON(metaJSON, &it.Metadata); err != nil {
		return nil, err
	}
	return &it, nil
}
