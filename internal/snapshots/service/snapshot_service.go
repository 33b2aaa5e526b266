package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storycanvas-app/collab-backend/config"
	"github.com/storycanvas-app/collab-backend/internal/resilience"
	"github.com/storycanvas-app/collab-backend/internal/snapshots/domain"
	"github.com/storycanvas-app/collab-backend/internal/snapshots/repository"
	vdomain "github.com/storycanvas-app/collab-backend/internal/versioning/domain"
	vrepo "github.com/storycanvas-app/collab-backend/internal/versioning/repository"
)

// SnapshotService exports subjects into snapshots and sweeps expired ones.
// A snapshot row is only written after the whole export succeeded; there is
// no partially persisted snapshot state to clean up after a failure.
type SnapshotService struct {
	db  *sql.DB
	cfg config.SnapshotConfig
	log *slog.Logger

	mu            sync.Mutex // guards lastScheduled; ticks may overlap
	lastScheduled time.Time
}

func NewSnapshotService(db *sql.DB, cfg config.SnapshotConfig, log *slog.Logger) *SnapshotService {
	if log == nil {
		log = slog.Default()
	}
	return &SnapshotService{db: db, cfg: cfg, log: log}
}

// CreateSnapshot exports the subject and persists the snapshot with its
// retention horizon. The export runs within one repeatable-read transaction
// so the blob reflects a single coherent point in time, bounded by the
// configured export timeout.
func (s *SnapshotService) CreateSnapshot(ctx context.Context, subjectID, kind string) (*domain.Snapshot, error) {
	if !domain.ValidKind(kind) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidKind, kind)
	}
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subject id required", domain.ErrInvalidKind)
	}

	var export *domain.Export
	err := resilience.WithTimeout(ctx, s.cfg.ExportTimeout, func(tctx context.Context) error {
		var err error
		export, err = s.export(tctx, subjectID)
		return err
	})
	if err != nil {
		return nil, err
	}

	blob, err := json.Marshal(export)
	if err != nil {
		return nil, fmt.Errorf("marshal export: %w", err)
	}

	snapshot := &domain.Snapshot{
		ID:        uuid.New().String(),
		SubjectID: subjectID,
		Kind:      kind,
		Blob:      blob,
		SizeBytes: int64(len(blob)),
		ExpiresAt: time.Now().UTC().AddDate(0, 0, s.cfg.RetentionDays),
	}

	if err := repository.NewSnapshotRepository(s.db).Insert(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("persist snapshot: %w", err)
	}

	s.log.Info("snapshot created",
		"snapshot_id", snapshot.ID, "subject_id", subjectID,
		"kind", kind, "size_bytes", snapshot.SizeBytes)
	return snapshot, nil
}

// export reads the subject's whole subtree inside a read-only repeatable-read
// transaction.
func (s *SnapshotService) export(ctx context.Context, subjectID string) (*domain.Export, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin export tx: %w", err)
	}
	defer tx.Rollback()

	entities := vrepo.NewEntityRepository(tx)
	snapshots := repository.NewSnapshotRepository(tx)

	export := &domain.Export{SubjectID: subjectID, ExportedAt: time.Now().UTC()}

	if subjectID == domain.SubjectFull {
		if export.Projects, err = entities.ListAll(ctx, vdomain.KindProject); err != nil {
			return nil, fmt.Errorf("export projects: %w", err)
		}
		if export.Scenes, err = entities.ListAll(ctx, vdomain.KindScene); err != nil {
			return nil, fmt.Errorf("export scenes: %w", err)
		}
		if export.Comments, err = entities.ListAll(ctx, vdomain.KindComment); err != nil {
			return nil, fmt.Errorf("export comments: %w", err)
		}
		if export.Members, err = snapshots.ListAllMembers(ctx); err != nil {
			return nil, fmt.Errorf("export members: %w", err)
		}
		return export, nil
	}

	project, err := entities.Get(ctx, vdomain.KindProject, subjectID)
	if err != nil {
		return nil, fmt.Errorf("export project %s: %w", subjectID, err)
	}
	export.Projects = []vdomain.Entity{*project}

	if export.Scenes, err = entities.ListByProject(ctx, vdomain.KindScene, subjectID); err != nil {
		return nil, fmt.Errorf("export scenes: %w", err)
	}
	if export.Comments, err = entities.ListByProject(ctx, vdomain.KindComment, subjectID); err != nil {
		return nil, fmt.Errorf("export comments: %w", err)
	}
	if export.Members, err = snapshots.ListMembers(ctx, subjectID); err != nil {
		return nil, fmt.Errorf("export members: %w", err)
	}
	return export, nil
}

// RunScheduled snapshots only the projects that changed inside the scheduling
// window. Failures are logged per project and never stop the run; the next
// tick picks the project up again if it is still dirty.
func (s *SnapshotService) RunScheduled(ctx context.Context) {
	s.mu.Lock()
	since := s.lastScheduled
	if since.IsZero() {
		since = time.Now().Add(-s.cfg.Window)
	}
	s.lastScheduled = time.Now()
	s.mu.Unlock()

	ids, err := vrepo.NewEntityRepository(s.db).ListUpdatedSince(ctx, vdomain.KindProject, since)
	if err != nil {
		s.log.Error("scheduled snapshot: listing changed projects failed", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	s.log.Info("scheduled snapshot run", "changed_projects", len(ids))

	for _, id := range ids {
		projectID := id
		err := resilience.Retry(ctx, resilience.DefaultRetry(), func(rctx context.Context) error {
			_, err := s.CreateSnapshot(rctx, projectID, domain.KindAuto)
			return err
		})
		if err != nil {
			s.log.Error("scheduled snapshot failed", "project_id", projectID, "error", err)
		}
	}
}

// RunFull creates a whole-system snapshot. Invoked by the daily schedule.
func (s *SnapshotService) RunFull(ctx context.Context) {
	if _, err := s.CreateSnapshot(ctx, domain.SubjectFull, domain.KindScheduled); err != nil {
		s.log.Error("full snapshot failed", "error", err)
	}
}

// CleanupExpired deletes snapshots past their expiry, one by one. A failed
// deletion is logged and the sweep moves on.
func (s *SnapshotService) CleanupExpired(ctx context.Context) (int, error) {
	repo := repository.NewSnapshotRepository(s.db)

	ids, err := repo.ListExpiredIDs(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("list expired snapshots: %w", err)
	}

	deleted := 0
	for _, id := range ids {
		if err := repo.Delete(ctx, id); err != nil {
			s.log.Error("failed to delete expired snapshot", "snapshot_id", id, "error", err)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		s.log.Info("cleaned up expired snapshots", "deleted", deleted)
	}
	return deleted, nil
}

// Get returns one snapshot with its blob.
func (s *SnapshotService) Get(ctx context.Context, id string) (*domain.Snapshot, error) {
	return repository.NewSnapshotRepository(s.db).Get(ctx, id)
}

// List returns snapshot metadata for a subject, newest first.
func (s *SnapshotService) List(ctx context.Context, subjectID string) ([]domain.Snapshot, error) {
	return repository.NewSnapshotRepository(s.db).ListBySubject(ctx, subjectID)
}
