// Package autosave persists client working drafts alongside entities without
// touching the version counter. Drafts are recovery state, not history: a
// flushed draft goes through the optimistic-lock mutation path like any other
// edit.
package autosave

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/storycanvas-app/collab-backend/internal/versioning/domain"
	"github.com/storycanvas-app/collab-backend/internal/versioning/repository"
)

type Service struct {
	db  *sql.DB
	log *slog.Logger
}

func NewService(db *sql.DB, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: db, log: log}
}

// Draft is unflushed working state attached to an entity.
type Draft struct {
	Kind      domain.Kind     `json:"kind"`
	EntityID  string          `json:"entity_id"`
	ProjectID string          `json:"project_id"`
	Data      json.RawMessage `json:"data"`
	SavedAt   time.Time       `json:"saved_at"`
}

// SaveDraft stores draft data for the entity.
func (s *Service) SaveDraft(ctx context.Context, kind domain.Kind, entityID string, data json.RawMessage) error {
	if len(data) == 0 || !json.Valid(data) {
		return fmt.Errorf("%w: draft data must be valid JSON", domain.ErrValidation)
	}

	if err := repository.NewEntityRepository(s.db).SaveDraft(ctx, kind, entityID, data); err != nil {
		return err
	}

	s.log.Debug("draft saved", "kind", kind, "entity_id", entityID)
	return nil
}

// RecoverDrafts returns every unflushed draft in projects the actor belongs
// to, so a reconnecting client can offer recovery.
func (s *Service) RecoverDrafts(ctx context.Context, actorID string) ([]Draft, error) {
	const q = `
SELECT 'project', p.id, p.project_id, p.auto_save_data, p.last_auto_save_at
FROM projects p
JOIN project_members m ON m.project_id = p.id AND m.user_id = $1
WHERE p.auto_save_data IS NOT NULL AND p.deleted_at IS NULL
UNION ALL
SELECT 'scene', s.id, s.project_id, s.auto_save_data, s.last_auto_save_at
FROM scenes s
JOIN project_members m ON m.project_id = s.project_id AND m.user_id = $1
WHERE s.auto_save_data IS NOT NULL AND s.deleted_at IS NULL
ORDER BY 5 DESC;
`
	rows, err := s.db.QueryContext(ctx, q, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Draft, 0, 8)
	for rows.Next() {
		var d Draft
		var kind string
		var data []byte
		var savedAt sql.NullTime // last_auto_save_at is nullable
		if err := rows.Scan(&kind, &d.EntityID, &d.ProjectID, &data, &savedAt); err != nil {
			return nil, err
		}
		d.Kind = domain.Kind(kind)
		d.Data = json.RawMessage(data)
		if savedAt.Valid {
			d.SavedAt = savedAt.Time
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
