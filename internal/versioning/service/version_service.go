package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/storycanvas-app/collab-backend/internal/realtime"
	"github.com/storycanvas-app/collab-backend/internal/versioning/domain"
	"github.com/storycanvas-app/collab-backend/internal/versioning/repository"
)

// VersionService exposes the per-entity version history: listing, comparison,
// archiving and restore.
type VersionService struct {
	db  *sql.DB
	pub Publisher
	log *slog.Logger
}

func NewVersionService(db *sql.DB, pub Publisher, log *slog.Logger) *VersionService {
	if log == nil {
		log = slog.Default()
	}
	return &VersionService{db: db, pub: pub, log: log}
}

// Comparison pairs two version records of the same entity.
type Comparison struct {
	V1 *domain.VersionRecord `json:"v1"`
	V2 *domain.VersionRecord `json:"v2"`
}

func (s *VersionService) List(ctx context.Context, kind domain.Kind, entityID string, includeArchived bool) ([]domain.VersionRecord, error) {
	return repository.NewVersionRepository(s.db).List(ctx, kind, entityID, includeArchived)
}

func (s *VersionService) Get(ctx context.Context, kind domain.Kind, entityID, versionID string) (*domain.VersionRecord, error) {
	return repository.NewVersionRepository(s.db).Get(ctx, kind, entityID, versionID)
}

// Compare fetches both records; either id missing from this entity's history
// reads as not found.
func (s *VersionService) Compare(ctx context.Context, kind domain.Kind, entityID, versionID1, versionID2 string) (*Comparison, error) {
	repo := repository.NewVersionRepository(s.db)

	v1, err := repo.Get(ctx, kind, entityID, versionID1)
	if err != nil {
		return nil, err
	}
	v2, err := repo.Get(ctx, kind, entityID, versionID2)
	if err != nil {
		return nil, err
	}
	return &Comparison{V1: v1, V2: v2}, nil
}

// ArchiveOlderThan retains the keep most recent unarchived records for the
// entity and archives the rest.
func (s *VersionService) ArchiveOlderThan(ctx context.Context, kind domain.Kind, entityID string, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("%w: keep count must be non-negative", domain.ErrValidation)
	}
	n, err := repository.NewVersionRepository(s.db).ArchiveOlderThan(ctx, kind, entityID, keep)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("archived old versions", "kind", kind, "entity_id", entityID, "archived", n, "kept", keep)
	}
	return n, nil
}

// Restore rolls the entity back to the payload of the given version record.
// Two records are appended in one transaction: first the pre-restore state,
// making the restore itself reversible, then the restored state, so the
// newest record always reflects what is live. The target record is never
// modified and its number is never reused.
func (s *VersionService) Restore(ctx context.Context, actorID string, kind domain.Kind, entityID, versionID string) (*domain.Entity, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin restore tx: %w", err)
	}
	defer tx.Rollback()

	entities := repository.NewEntityRepository(tx)
	versions := repository.NewVersionRepository(tx)

	target, err := versions.Get(ctx, kind, entityID, versionID)
	if err != nil {
		return nil, err
	}

	// Lock the entity row before touching history. Mutations lock it through
	// their UPDATE, so the two paths cannot interleave their appends and race
	// for the same version number.
	current, err := entities.GetForUpdate(ctx, kind, entityID)
	if err != nil {
		return nil, err
	}

	if _, err := versions.Append(ctx, kind, entityID, current.Payload, actorID,
		fmt.Sprintf("Before restore to version %d", target.VersionNo)); err != nil {
		return nil, fmt.Errorf("record pre-restore state: %w", err)
	}

	entity, err := entities.OverwritePayload(ctx, kind, entityID, target.Payload)
	if err != nil {
		return nil, err
	}

	if _, err := versions.Append(ctx, kind, entityID, target.Payload, actorID,
		fmt.Sprintf("Restored from version %d", target.VersionNo)); err != nil {
		return nil, fmt.Errorf("record restored state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit restore: %w", err)
	}

	s.log.Info("version restored",
		"kind", kind, "entity_id", entityID,
		"restored_from", target.VersionNo, "new_version", entity.Version, "actor_id", actorID)

	if s.pub != nil {
		s.pub.Publish(entity.ProjectID, realtime.NewEvent(realtime.EventVersionRestore, entity.ProjectID, map[string]any{
			"kind":          kind,
			"id":            entityID,
			"restored_from": target.VersionNo,
			"version":       entity.Version,
			"actor_id":      actorID,
		}))
	}
	return entity, nil
}
