package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/storycanvas-app/collab-backend/internal/realtime"
	"github.com/storycanvas-app/collab-backend/internal/versioning/domain"
	"github.com/storycanvas-app/collab-backend/internal/versioning/repository"
)

// Publisher fans a change event out to the room interested in it. Broadcast
// is always a side effect of a committed mutation, never its trigger.
type Publisher interface {
	Publish(roomID string, evt realtime.Event)
}

// Mutator is the optimistic-concurrency entry point for all entity writes.
// Every successful mutation commits the payload, exactly one version record
// and a version bump atomically, then publishes exactly one event.
type Mutator struct {
	db  *sql.DB
	pub Publisher
	log *slog.Logger
}

func NewMutator(db *sql.DB, pub Publisher, log *slog.Logger) *Mutator {
	if log == nil {
		log = slog.Default()
	}
	return &Mutator{db: db, pub: pub, log: log}
}

// Update applies a caller-supplied payload guarded by expectedVersion.
// On a version mismatch the caller gets a *domain.ConflictError carrying the
// current version; the mutation is never retried here because the new state
// is caller-supplied and must be rebased by the caller.
func (m *Mutator) Update(ctx context.Context, req domain.UpdateRequest) (*domain.Entity, error) {
	if err := validateUpdate(req); err != nil {
		return nil, err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin mutation tx: %w", err)
	}
	defer tx.Rollback()

	entities := repository.NewEntityRepository(tx)
	versions := repository.NewVersionRepository(tx)

	entity, err := entities.UpdateWithVersion(ctx, req.Kind, req.EntityID, req.Payload, req.ExpectedVersion)
	if err != nil {
		return nil, err
	}

	if _, err := versions.Append(ctx, req.Kind, req.EntityID, req.Payload, req.ActorID, req.ChangeDescription); err != nil {
		return nil, fmt.Errorf("append version record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit mutation: %w", err)
	}

	m.log.Info("entity updated",
		"kind", req.Kind, "entity_id", req.EntityID,
		"version", entity.Version, "actor_id", req.ActorID)

	m.publish(entity, req.ActorID, updateEventType(req.Kind))
	return entity, nil
}

// Create inserts a new entity at version 1 with its first version record.
func (m *Mutator) Create(ctx context.Context, req domain.CreateRequest) (*domain.Entity, error) {
	if len(req.Payload) == 0 {
		return nil, fmt.Errorf("%w: payload required", domain.ErrValidation)
	}
	if req.Kind != domain.KindProject && req.ProjectID == "" {
		return nil, fmt.Errorf("%w: project id required", domain.ErrValidation)
	}

	id := uuid.New().String()
	projectID := req.ProjectID
	if req.Kind == domain.KindProject {
		projectID = id
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create tx: %w", err)
	}
	defer tx.Rollback()

	entity, err := repository.NewEntityRepository(tx).Insert(ctx, req.Kind, id, projectID, req.Payload)
	if err != nil {
		return nil, err
	}

	if _, err := repository.NewVersionRepository(tx).Append(ctx, req.Kind, id, req.Payload, req.ActorID, "Created"); err != nil {
		return nil, fmt.Errorf("append version record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create: %w", err)
	}

	m.log.Info("entity created", "kind", req.Kind, "entity_id", id, "actor_id", req.ActorID)

	m.publish(entity, req.ActorID, createEventType(req.Kind))
	return entity, nil
}

// Delete soft-deletes the entity and announces it to the room.
func (m *Mutator) Delete(ctx context.Context, actorID string, kind domain.Kind, id string) error {
	entity, err := repository.NewEntityRepository(m.db).Get(ctx, kind, id)
	if err != nil {
		return err
	}

	ok, err := repository.NewEntityRepository(m.db).SoftDelete(ctx, kind, id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}

	m.log.Info("entity deleted", "kind", kind, "entity_id", id, "actor_id", actorID)

	if m.pub != nil {
		m.pub.Publish(entity.ProjectID, realtime.NewEvent(deleteEventType(kind), entity.ProjectID, map[string]any{
			"kind":     kind,
			"id":       id,
			"actor_id": actorID,
			"deleted":  true,
		}))
	}
	return nil
}

func (m *Mutator) publish(entity *domain.Entity, actorID, eventType string) {
	if m.pub == nil {
		return
	}
	m.pub.Publish(entity.ProjectID, realtime.NewEvent(eventType, entity.ProjectID, map[string]any{
		"kind":       entity.Kind,
		"id":         entity.ID,
		"version":    entity.Version,
		"payload":    json.RawMessage(entity.Payload),
		"actor_id":   actorID,
		"updated_at": entity.UpdatedAt,
	}))
}

func validateUpdate(req domain.UpdateRequest) error {
	if _, err := domain.ParseKind(string(req.Kind)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if req.EntityID == "" {
		return fmt.Errorf("%w: entity id required", domain.ErrValidation)
	}
	if req.ExpectedVersion < 0 {
		return fmt.Errorf("%w: expected version must be non-negative", domain.ErrValidation)
	}
	if len(req.Payload) == 0 {
		return fmt.Errorf("%w: payload required", domain.ErrValidation)
	}
	if !json.Valid(req.Payload) {
		return fmt.Errorf("%w: payload is not valid JSON", domain.ErrValidation)
	}
	return nil
}

func updateEventType(kind domain.Kind) string {
	if kind == domain.KindComment {
		return realtime.EventCommentUpdate
	}
	return realtime.EventEntityUpdate
}

func createEventType(kind domain.Kind) string {
	if kind == domain.KindComment {
		return realtime.EventCommentCreate
	}
	return realtime.EventEntityUpdate
}

func deleteEventType(kind domain.Kind) string {
	if kind == domain.KindComment {
		return realtime.EventCommentDelete
	}
	return realtime.EventEntityUpdate
}
