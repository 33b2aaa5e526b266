package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/storycanvas-app/collab-backend/internal/storage/postgres"
	"github.com/storycanvas-app/collab-backend/internal/versioning/domain"
)

// VersionRepository is the append-only per-entity version log.
type VersionRepository struct {
	db postgres.Querier
}

func NewVersionRepository(db postgres.Querier) *VersionRepository {
	return &VersionRepository{db: db}
}

const versionColumns = "id, entity_kind, entity_id, version_no, payload, author_id, change_description, created_at, archived, archived_at"

// Append writes the next version record for the entity. The number is
// assigned inside the insert so concurrent appends within serialized mutation
// transactions always produce a dense sequence starting at 1.
func (r *VersionRepository) Append(ctx context.Context, kind domain.Kind, entityID string, payload json.RawMessage, authorID, changeDescription string) (*domain.VersionRecord, error) {
	const q = `
INSERT INTO entity_versions (id, entity_kind, entity_id, version_no, payload, author_id, change_description)
SELECT $1, $2, $3, coalesce(max(version_no), 0) + 1, $4, $5, $6
FROM entity_versions
WHERE entity_kind = $2 AND entity_id = $3
RETURNING version_no, created_at;
`
	rec := &domain.VersionRecord{
		ID:                uuid.New().String(),
		EntityKind:        kind,
		EntityID:          entityID,
		Payload:           payload,
		AuthorID:          authorID,
		ChangeDescription: changeDescription,
	}

	err := r.db.QueryRowContext(ctx, q,
		rec.ID, string(kind), entityID, payload, authorID, changeDescription).
		Scan(&rec.VersionNo, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns the entity's version records newest first. Archived records
// are excluded unless includeArchived is set.
func (r *VersionRepository) List(ctx context.Context, kind domain.Kind, entityID string, includeArchived bool) ([]domain.VersionRecord, error) {
	q := `
SELECT ` + versionColumns + `
FROM entity_versions
WHERE entity_kind = $1 AND entity_id = $2 AND archived = false
ORDER BY version_no DESC;
`
	if includeArchived {
		q = `
SELECT ` + versionColumns + `
FROM entity_versions
WHERE entity_kind = $1 AND entity_id = $2
ORDER BY version_no DESC;
`
	}

	rows, err := r.db.QueryContext(ctx, q, string(kind), entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.VersionRecord, 0, 16)
	for rows.Next() {
		rec, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Get returns one version record by id, scoped to the entity so a record id
// belonging to a different entity reads as not found.
func (r *VersionRepository) Get(ctx context.Context, kind domain.Kind, entityID, versionID string) (*domain.VersionRecord, error) {
	q := `
SELECT ` + versionColumns + `
FROM entity_versions
WHERE id = $1 AND entity_kind = $2 AND entity_id = $3;
`
	rows, err := r.db.QueryContext(ctx, q, versionID, string(kind), entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, domain.ErrVersionNotFound
	}
	return scanVersion(rows)
}

// ArchiveOlderThan keeps the keep most recent unarchived records and marks
// the rest archived. Archived records stay retrievable but drop out of
// default listings. Returns how many records were archived.
func (r *VersionRepository) ArchiveOlderThan(ctx context.Context, kind domain.Kind, entityID string, keep int) (int64, error) {
	const q = `
UPDATE entity_versions
SET archived = true, archived_at = now()
WHERE entity_kind = $1 AND entity_id = $2 AND archived = false
  AND version_no NOT IN (
    SELECT version_no FROM entity_versions
    WHERE entity_kind = $1 AND entity_id = $2 AND archived = false
    ORDER BY version_no DESC
    LIMIT $3
  );
`
	result, err := r.db.ExecContext(ctx, q, string(kind), entityID, keep)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*domain.VersionRecord, error) {
	var rec domain.VersionRecord
	var kind string
	var payload []byte
	var archivedAt sql.NullTime
	if err := row.Scan(&rec.ID, &kind, &rec.EntityID, &rec.VersionNo, &payload,
		&rec.AuthorID, &rec.ChangeDescription, &rec.CreatedAt, &rec.Archived, &archivedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrVersionNotFound
		}
		return nil, err
	}
	rec.EntityKind = domain.Kind(kind)
	rec.Payload = json.RawMessage(payload)
	if archivedAt.Valid {
		t := archivedAt.Time
		rec.ArchivedAt = &t
	}
	return &rec, nil
}
