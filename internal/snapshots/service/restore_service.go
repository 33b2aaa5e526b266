package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/storycanvas-app/collab-backend/internal/realtime"
	"github.com/storycanvas-app/collab-backend/internal/snapshots/domain"
	"github.com/storycanvas-app/collab-backend/internal/snapshots/repository"
	vdomain "github.com/storycanvas-app/collab-backend/internal/versioning/domain"
	vrepo "github.com/storycanvas-app/collab-backend/internal/versioning/repository"
)

// Publisher mirrors the broadcast seam of the versioning services.
type Publisher interface {
	Publish(roomID string, evt realtime.Event)
}

// RestoreService writes a snapshot back into live storage. All entities in
// the snapshot are restored within a single transaction: either everything is
// written or nothing observable changes.
type RestoreService struct {
	db  *sql.DB
	pub Publisher
	log *slog.Logger
}

func NewRestoreService(db *sql.DB, pub Publisher, log *slog.Logger) *RestoreService {
	if log == nil {
		log = slog.Default()
	}
	return &RestoreService{db: db, pub: pub, log: log}
}

// Restore loads the snapshot and upserts every entity it contains. Entities
// with matching ids are overwritten, missing ones are recreated. Each entity
// whose payload actually changes gets exactly one version record describing
// the restore.
func (s *RestoreService) Restore(ctx context.Context, snapshotID, actorID string) (*domain.RestoredSubjectRef, error) {
	snapshot, err := repository.NewSnapshotRepository(s.db).Get(ctx, snapshotID)
	if err != nil {
		return nil, err
	}

	var export domain.Export
	if err := json.Unmarshal(snapshot.Blob, &export); err != nil {
		return nil, fmt.Errorf("%w: decode blob: %v", domain.ErrRestoreFailed, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", domain.ErrRestoreFailed, err)
	}
	defer tx.Rollback()

	entities := vrepo.NewEntityRepository(tx)
	versions := vrepo.NewVersionRepository(tx)
	members := repository.NewSnapshotRepository(tx)

	description := fmt.Sprintf("Restored from backup %s", snapshotID)
	restoreGroup := func(group []vdomain.Entity) (int, error) {
		n := 0
		for i := range group {
			e := &group[i]
			changed, err := entities.Upsert(ctx, e)
			if err != nil {
				return 0, fmt.Errorf("upsert %s %s: %w", e.Kind, e.ID, err)
			}
			if !changed {
				continue
			}
			if _, err := versions.Append(ctx, e.Kind, e.ID, e.Payload, actorID, description); err != nil {
				return 0, fmt.Errorf("record restore of %s %s: %w", e.Kind, e.ID, err)
			}
			n++
		}
		return n, nil
	}

	ref := &domain.RestoredSubjectRef{SnapshotID: snapshotID, SubjectID: snapshot.SubjectID}

	if ref.Projects, err = restoreGroup(export.Projects); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRestoreFailed, err)
	}
	if ref.Scenes, err = restoreGroup(export.Scenes); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRestoreFailed, err)
	}
	if ref.Comments, err = restoreGroup(export.Comments); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRestoreFailed, err)
	}
	for _, m := range export.Members {
		if err := members.UpsertMember(ctx, m); err != nil {
			return nil, fmt.Errorf("%w: member %s/%s: %v", domain.ErrRestoreFailed, m.ProjectID, m.UserID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", domain.ErrRestoreFailed, err)
	}
	ref.RestoredAt = time.Now().UTC()

	s.log.Info("snapshot restored",
		"snapshot_id", snapshotID, "subject_id", snapshot.SubjectID,
		"projects", ref.Projects, "scenes", ref.Scenes, "comments", ref.Comments)

	if s.pub != nil {
		for _, p := range export.Projects {
			s.pub.Publish(p.ID, realtime.NewEvent(realtime.EventVersionRestore, p.ID, map[string]any{
				"snapshot_id": snapshotID,
				"subject_id":  snapshot.SubjectID,
				"actor_id":    actorID,
			}))
		}
	}
	return ref, nil
}
