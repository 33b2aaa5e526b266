package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storycanvas-app/collab-backend/internal/realtime"
	"github.com/storycanvas-app/collab-backend/internal/snapshots/domain"
	vdomain "github.com/storycanvas-app/collab-backend/internal/versioning/domain"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (p *fakePublisher) Publish(roomID string, evt realtime.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	evt.RoomID = roomID
	p.events = append(p.events, evt)
}

func (p *fakePublisher) published() []realtime.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]realtime.Event, len(p.events))
	copy(out, p.events)
	return out
}

func setupRestoreService(t *testing.T) (*RestoreService, sqlmock.Sqlmock, *fakePublisher, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	pub := &fakePublisher{}
	return NewRestoreService(db, pub, nil), mock, pub, db
}

func testExportBlob(t *testing.T) []byte {
	t.Helper()
	export := domain.Export{
		SubjectID: "project-1",
		Projects: []vdomain.Entity{{
			ID: "project-1", Kind: vdomain.KindProject, ProjectID: "project-1",
			Version: 3, Payload: json.RawMessage(`{"name":"Storyboard"}`),
		}},
		Scenes: []vdomain.Entity{{
			ID: "scene-1", Kind: vdomain.KindScene, ProjectID: "project-1",
			Version: 2, Payload: json.RawMessage(`{"title":"Opening"}`),
		}},
		Members:    []domain.Member{{ProjectID: "project-1", UserID: "alice", Role: "owner"}},
		ExportedAt: time.Now().UTC(),
	}
	blob, err := json.Marshal(export)
	require.NoError(t, err)
	return blob
}

func expectSnapshotFetch(mock sqlmock.Sqlmock, id string, blob []byte) {
	mock.ExpectQuery(`SELECT .+ FROM snapshots`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "subject_id", "kind", "blob", "size_bytes", "created_at", "expires_at",
		}).AddRow(id, "project-1", domain.KindManual, blob, int64(len(blob)), time.Now(), time.Now().AddDate(0, 0, 30)))
}

func TestRestoreService_Restore(t *testing.T) {
	ctx := context.Background()

	t.Run("upserts entities and records only real changes", func(t *testing.T) {
		svc, mock, pub, db := setupRestoreService(t)
		defer db.Close()

		expectSnapshotFetch(mock, "snap-1", testExportBlob(t))

		mock.ExpectBegin()
		// Project payload differs: written with a version record.
		mock.ExpectQuery(`INSERT INTO projects`).
			WithArgs("project-1", "project-1", sqlmock.AnyArg(), int64(3)).
			WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(4)))
		mock.ExpectQuery(`INSERT INTO entity_versions`).
			WithArgs(sqlmock.AnyArg(), "project", "project-1", sqlmock.AnyArg(), "alice", "Restored from backup snap-1").
			WillReturnRows(sqlmock.NewRows([]string{"version_no", "created_at"}).AddRow(int64(4), time.Now()))
		// Scene already matches the snapshot: no write, no record.
		mock.ExpectQuery(`INSERT INTO scenes`).
			WithArgs("scene-1", "project-1", sqlmock.AnyArg(), int64(2)).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectExec(`INSERT INTO project_members`).
			WithArgs("project-1", "alice", "owner").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		ref, err := svc.Restore(ctx, "snap-1", "alice")
		require.NoError(t, err)
		assert.Equal(t, 1, ref.Projects)
		assert.Zero(t, ref.Scenes)
		assert.Equal(t, "project-1", ref.SubjectID)
		require.NoError(t, mock.ExpectationsWereMet())

		events := pub.published()
		require.Len(t, events, 1)
		assert.Equal(t, realtime.EventVersionRestore, events[0].Type)
		assert.Equal(t, "project-1", events[0].RoomID)
	})

	t.Run("any failed write rolls everything back", func(t *testing.T) {
		svc, mock, pub, db := setupRestoreService(t)
		defer db.Close()

		expectSnapshotFetch(mock, "snap-1", testExportBlob(t))

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO projects`).
			WithArgs("project-1", "project-1", sqlmock.AnyArg(), int64(3)).
			WillReturnError(sql.ErrConnDone)
		mock.ExpectRollback()

		_, err := svc.Restore(ctx, "snap-1", "alice")
		assert.ErrorIs(t, err, domain.ErrRestoreFailed)
		assert.Empty(t, pub.published())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown snapshot", func(t *testing.T) {
		svc, mock, _, db := setupRestoreService(t)
		defer db.Close()

		mock.ExpectQuery(`SELECT .+ FROM snapshots`).
			WithArgs("nope").
			WillReturnError(sql.ErrNoRows)

		_, err := svc.Restore(ctx, "nope", "alice")
		assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)
	})

	t.Run("corrupt blob fails before touching storage", func(t *testing.T) {
		svc, mock, _, db := setupRestoreService(t)
		defer db.Close()

		expectSnapshotFetch(mock, "snap-1", []byte(`{broken`))

		_, err := svc.Restore(ctx, "snap-1", "alice")
		assert.ErrorIs(t, err, domain.ErrRestoreFailed)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
