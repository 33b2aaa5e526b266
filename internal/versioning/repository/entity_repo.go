package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/storycanvas-app/collab-backend/internal/storage/postgres"
	"github.com/storycanvas-app/collab-backend/internal/versioning/domain"
)

// EntityRepository provides persistence operations for versioned entities.
// The kind resolves the backing table; all three tables share one shape.
type EntityRepository struct {
	db postgres.Querier
}

func NewEntityRepository(db postgres.Querier) *EntityRepository {
	return &EntityRepository{db: db}
}

const entityColumns = "id, project_id, version, payload, created_at, updated_at"

// Get returns the live entity or domain.ErrNotFound.
func (r *EntityRepository) Get(ctx context.Context, kind domain.Kind, id string) (*domain.Entity, error) {
	q := fmt.Sprintf(`
SELECT %s FROM %s
WHERE id = $1 AND deleted_at IS NULL;
`, entityColumns, kind.Table())

	e, err := scanEntity(kind, r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

// GetForUpdate is Get with a row lock. Restore takes it before appending
// history so its version numbering serializes against concurrent mutations,
// whose UPDATE locks the row first.
func (r *EntityRepository) GetForUpdate(ctx context.Context, kind domain.Kind, id string) (*domain.Entity, error) {
	q := fmt.Sprintf(`
SELECT %s FROM %s
WHERE id = $1 AND deleted_at IS NULL
FOR UPDATE;
`, entityColumns, kind.Table())

	e, err := scanEntity(kind, r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

// Insert creates a new entity at version 1.
func (r *EntityRepository) Insert(ctx context.Context, kind domain.Kind, id, projectID string, payload json.RawMessage) (*domain.Entity, error) {
	q := fmt.Sprintf(`
INSERT INTO %s (id, project_id, payload, version)
VALUES ($1, $2, $3, 1)
RETURNING %s;
`, kind.Table(), entityColumns)

	return scanEntity(kind, r.db.QueryRowContext(ctx, q, id, projectID, payload))
}

// UpdateWithVersion performs the conditional compare-and-swap update: the row
// is written and the version incremented only if the stored version still
// equals expectedVersion. The single-statement form makes check-and-increment
// atomic with respect to concurrent writers.
func (r *EntityRepository) UpdateWithVersion(ctx context.Context, kind domain.Kind, id string, payload json.RawMessage, expectedVersion int64) (*domain.Entity, error) {
	q := fmt.Sprintf(`
UPDATE %s
SET payload = $3, version = version + 1, updated_at = now()
WHERE id = $1 AND version = $2 AND deleted_at IS NULL
RETURNING %s;
`, kind.Table(), entityColumns)

	e, err := scanEntity(kind, r.db.QueryRowContext(ctx, q, id, expectedVersion, payload))
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// Zero rows: either the entity is gone or someone advanced the version.
	// Report the current version so the caller can re-fetch and retry.
	current, err := r.currentVersion(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	return nil, &domain.ConflictError{
		Kind:            kind,
		EntityID:        id,
		ExpectedVersion: expectedVersion,
		CurrentVersion:  current,
	}
}

func (r *EntityRepository) currentVersion(ctx context.Context, kind domain.Kind, id string) (int64, error) {
	q := fmt.Sprintf(`
SELECT version FROM %s
WHERE id = $1 AND deleted_at IS NULL;
`, kind.Table())

	var v int64
	if err := r.db.QueryRowContext(ctx, q, id).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, err
	}
	return v, nil
}

// OverwritePayload replaces the payload unconditionally and bumps the version
// by one. Used by restore paths that already hold the row inside a
// transaction.
func (r *EntityRepository) OverwritePayload(ctx context.Context, kind domain.Kind, id string, payload json.RawMessage) (*domain.Entity, error) {
	q := fmt.Sprintf(`
UPDATE %s
SET payload = $2, version = version + 1, updated_at = now()
WHERE id = $1 AND deleted_at IS NULL
RETURNING %s;
`, kind.Table(), entityColumns)

	e, err := scanEntity(kind, r.db.QueryRowContext(ctx, q, id, payload))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

// Upsert writes a snapshotted entity back. Existing rows are overwritten with
// a version bump, missing rows are recreated at the snapshotted version, and
// soft-deleted rows are revived. The returned flag reports whether the stored
// payload actually changed, so restore bookkeeping can skip no-op rows.
func (r *EntityRepository) Upsert(ctx context.Context, e *domain.Entity) (changed bool, err error) {
	q := fmt.Sprintf(`
INSERT INTO %[1]s (id, project_id, payload, version)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE
SET project_id = excluded.project_id,
    payload    = excluded.payload,
    version    = %[1]s.version + 1,
    updated_at = now(),
    deleted_at = NULL
WHERE %[1]s.payload IS DISTINCT FROM excluded.payload OR %[1]s.deleted_at IS NOT NULL
RETURNING version;
`, e.Kind.Table())

	var v int64
	err = r.db.QueryRowContext(ctx, q, e.ID, e.ProjectID, e.Payload, e.Version).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		// Conflict row already carries this payload; nothing written.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SoftDelete marks the entity deleted. Returns false if it was already gone.
func (r *EntityRepository) SoftDelete(ctx context.Context, kind domain.Kind, id string) (bool, error) {
	q := fmt.Sprintf(`
UPDATE %s
SET deleted_at = now(), updated_at = now()
WHERE id = $1 AND deleted_at IS NULL;
`, kind.Table())

	result, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return false, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}

// SaveDraft stores autosave data alongside the entity without touching the
// version counter. Drafts are working state, not history.
func (r *EntityRepository) SaveDraft(ctx context.Context, kind domain.Kind, id string, data json.RawMessage) error {
	q := fmt.Sprintf(`
UPDATE %s
SET auto_save_data = $2, last_auto_save_at = now()
WHERE id = $1 AND deleted_at IS NULL;
`, kind.Table())

	result, err := r.db.ExecContext(ctx, q, id, data)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanEntity(kind domain.Kind, row *sql.Row) (*domain.Entity, error) {
	var e domain.Entity
	var payload []byte
	if err := row.Scan(&e.ID, &e.ProjectID, &e.Version, &payload, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Kind = kind
	e.Payload = json.RawMessage(payload)
	return &e, nil
}

// ListByProject returns every live entity of the kind in the project's
// subtree. Snapshot export reads these within one consistent transaction.
func (r *EntityRepository) ListByProject(ctx context.Context, kind domain.Kind, projectID string) ([]domain.Entity, error) {
	q := fmt.Sprintf(`
SELECT %s FROM %s
WHERE project_id = $1 AND deleted_at IS NULL
ORDER BY created_at ASC;
`, entityColumns, kind.Table())

	rows, err := r.db.QueryContext(ctx, q, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntities(kind, rows)
}

// ListAll returns every live entity of the kind. Used by full-system export.
func (r *EntityRepository) ListAll(ctx context.Context, kind domain.Kind) ([]domain.Entity, error) {
	q := fmt.Sprintf(`
SELECT %s FROM %s
WHERE deleted_at IS NULL
ORDER BY created_at ASC;
`, entityColumns, kind.Table())

	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntities(kind, rows)
}

func collectEntities(kind domain.Kind, rows *sql.Rows) ([]domain.Entity, error) {
	out := make([]domain.Entity, 0, 16)
	for rows.Next() {
		var e domain.Entity
		var payload []byte
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Version, &payload, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.Kind = kind
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListUpdatedSince returns ids of live entities of the kind updated after the
// cutoff. The snapshot scheduler uses this to bound scheduled runs.
func (r *EntityRepository) ListUpdatedSince(ctx context.Context, kind domain.Kind, since time.Time) ([]string, error) {
	q := fmt.Sprintf(`
SELECT id FROM %s
WHERE updated_at > $1 AND deleted_at IS NULL
ORDER BY updated_at DESC;
`, kind.Table())

	rows, err := r.db.QueryContext(ctx, q, since)
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
