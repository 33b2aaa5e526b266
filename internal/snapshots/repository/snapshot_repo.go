package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/storycanvas-app/collab-backend/internal/snapshots/domain"
	"github.com/storycanvas-app/collab-backend/internal/storage/postgres"
)

// SnapshotRepository persists snapshot records and their blobs.
type SnapshotRepository struct {
	db postgres.Querier
}

func NewSnapshotRepository(db postgres.Querier) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Insert writes a fully exported snapshot. Callers only invoke this after the
// export succeeded, so a snapshot row never references a torn blob.
func (r *SnapshotRepository) Insert(ctx context.Context, s *domain.Snapshot) error {
	const q = `
INSERT INTO snapshots (id, subject_id, kind, blob, size_bytes, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING created_at;
`
	return r.db.QueryRowContext(ctx, q,
		s.ID, s.SubjectID, s.Kind, s.Blob, s.SizeBytes, s.ExpiresAt).
		Scan(&s.CreatedAt)
}

// Get returns the snapshot including its blob.
func (r *SnapshotRepository) Get(ctx context.Context, id string) (*domain.Snapshot, error) {
	const q = `
SELECT id, subject_id, kind, blob, size_bytes, created_at, expires_at
FROM snapshots
WHERE id = $1;
`
	var s domain.Snapshot
	err := r.db.QueryRowContext(ctx, q, id).
		Scan(&s.ID, &s.SubjectID, &s.Kind, &s.Blob, &s.SizeBytes, &s.CreatedAt, &s.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSnapshotNotFound
		}
		return nil, err
	}
	return &s, nil
}

// ListBySubject returns snapshot metadata for a subject, newest first. Blobs
// are not loaded.
func (r *SnapshotRepository) ListBySubject(ctx context.Context, subjectID string) ([]domain.Snapshot, error) {
	const q = `
SELECT id, subject_id, kind, size_bytes, created_at, expires_at
FROM snapshots
WHERE subject_id = $1
ORDER BY created_at DESC;
`
	rows, err := r.db.QueryContext(ctx, q, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Snapshot, 0, 16)
	for rows.Next() {
		var s domain.Snapshot
		if err := rows.Scan(&s.ID, &s.SubjectID, &s.Kind, &s.SizeBytes, &s.CreatedAt, &s.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListExpiredIDs returns ids of snapshots past their expiry at the given
// time. The cleanup sweep deletes them one by one so a single failure cannot
// abort the rest.
func (r *SnapshotRepository) ListExpiredIDs(ctx context.Context, now time.Time) ([]string, error) {
	const q = `
SELECT id FROM snapshots
WHERE expires_at < $1
ORDER BY expires_at ASC;
`
	rows, err := r.db.QueryContext(ctx, q, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0, 16)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Delete removes one snapshot and its blob.
func (r *SnapshotRepository) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM snapshots WHERE id = $1;`
	result, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrSnapshotNotFound
	}
	return nil
}

// ListMembers returns the membership rows of one project.
func (r *SnapshotRepository) ListMembers(ctx context.Context, projectID string) ([]domain.Member, error) {
	const q = `
SELECT project_id, user_id, role, created_at
FROM project_members
WHERE project_id = $1
ORDER BY created_at ASC;
`
	return r.collectMembers(ctx, q, projectID)
}

// ListAllMembers returns every membership row. Used by full-system export.
func (r *SnapshotRepository) ListAllMembers(ctx context.Context) ([]domain.Member, error) {
	const q = `
SELECT project_id, user_id, role, created_at
FROM project_members
ORDER BY created_at ASC;
`
	return r.collectMembers(ctx, q)
}

// UpsertMember writes a membership row back during restore.
func (r *SnapshotRepository) UpsertMember(ctx context.Context, m domain.Member) error {
	const q = `
INSERT INTO project_members (project_id, user_id, role)
VALUES ($1, $2, $3)
ON CONFLICT (project_id, user_id) DO UPDATE SET role = excluded.role;
`
	_, err := r.db.ExecContext(ctx, q, m.ProjectID, m.UserID, m.Role)
	return err
}

func (r *SnapshotRepository) collectMembers(ctx context.Context, q string, args ...any) ([]domain.Member, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Member, 0, 8)
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.ProjectID, &m.UserID, &m.Role, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
