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

	"github.com/storycanvas-app/collab-backend/config"
	"github.com/storycanvas-app/collab-backend/internal/snapshots/domain"
)

func testSnapshotConfig() config.SnapshotConfig {
	return config.SnapshotConfig{
		Window:        5 * time.Minute,
		RetentionDays: 30,
		ExportTimeout: 5 * time.Second,
	}
}

func setupSnapshotService(t *testing.T) (*SnapshotService, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	return NewSnapshotService(db, testSnapshotConfig(), nil), mock, db
}

func projectRows(id string, version int64, payload string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "project_id", "version", "payload", "created_at", "updated_at"}).
		AddRow(id, id, version, []byte(payload), now, now)
}

func expectProjectExport(mock sqlmock.Sqlmock, projectID string) {
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM projects`).
		WithArgs(projectID).
		WillReturnRows(projectRows(projectID, 3, `{"name":"Storyboard"}`))
	mock.ExpectQuery(`SELECT .+ FROM scenes`).
		WithArgs(projectID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "version", "payload", "created_at", "updated_at"}).
			AddRow("scene-1", projectID, 2, []byte(`{"title":"Opening"}`), time.Now(), time.Now()))
	mock.ExpectQuery(`SELECT .+ FROM comments`).
		WithArgs(projectID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "version", "payload", "created_at", "updated_at"}))
	mock.ExpectQuery(`SELECT .+ FROM project_members`).
		WithArgs(projectID).
		WillReturnRows(sqlmock.NewRows([]string{"project_id", "user_id", "role", "created_at"}).
			AddRow(projectID, "alice", "owner", time.Now()))
	mock.ExpectRollback() // read-only export tx
}

func TestSnapshotService_CreateSnapshot(t *testing.T) {
	ctx := context.Background()

	t.Run("exports the subtree and persists with retention horizon", func(t *testing.T) {
		svc, mock, db := setupSnapshotService(t)
		defer db.Close()

		expectProjectExport(mock, "project-1")
		mock.ExpectQuery(`INSERT INTO snapshots`).
			WithArgs(sqlmock.AnyArg(), "project-1", domain.KindManual,
				sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

		snapshot, err := svc.CreateSnapshot(ctx, "project-1", domain.KindManual)
		require.NoError(t, err)
		assert.Equal(t, "project-1", snapshot.SubjectID)
		assert.Equal(t, int64(len(snapshot.Blob)), snapshot.SizeBytes)
		assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, 30), snapshot.ExpiresAt, time.Minute)
		require.NoError(t, mock.ExpectationsWereMet())

		var export domain.Export
		require.NoError(t, json.Unmarshal(snapshot.Blob, &export))
		require.Len(t, export.Projects, 1)
		require.Len(t, export.Scenes, 1)
		require.Len(t, export.Members, 1)
		assert.Equal(t, "project-1", export.SubjectID)
	})

	t.Run("unknown kind is rejected", func(t *testing.T) {
		svc, _, db := setupSnapshotService(t)
		defer db.Close()

		_, err := svc.CreateSnapshot(ctx, "project-1", "hourly")
		assert.ErrorIs(t, err, domain.ErrInvalidKind)
	})

	t.Run("failed export writes no snapshot row", func(t *testing.T) {
		svc, mock, db := setupSnapshotService(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT .+ FROM projects`).
			WithArgs("gone").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := svc.CreateSnapshot(ctx, "gone", domain.KindManual)
		require.Error(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSnapshotService_RunScheduled(t *testing.T) {
	svc, mock, db := setupSnapshotService(t)
	defer db.Close()

	// One project changed inside the window; it gets an auto snapshot.
	mock.ExpectQuery(`SELECT id FROM projects`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("project-1"))

	expectProjectExport(mock, "project-1")
	mock.ExpectQuery(`INSERT INTO snapshots`).
		WithArgs(sqlmock.AnyArg(), "project-1", domain.KindAuto,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	svc.RunScheduled(context.Background())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotService_RunScheduled_NoChanges(t *testing.T) {
	svc, mock, db := setupSnapshotService(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT id FROM projects`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	svc.RunScheduled(context.Background())
	require.NoError(t, mock.ExpectationsWereMet())
}

// Ticks can overlap when a run outlasts the schedule interval; the window
// bookkeeping must hold up under the race detector.
func TestSnapshotService_RunScheduled_ConcurrentTicks(t *testing.T) {
	svc, mock, db := setupSnapshotService(t)
	defer db.Close()

	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 4; i++ {
		mock.ExpectQuery(`SELECT id FROM projects`).
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.RunScheduled(context.Background())
		}()
	}
	wg.Wait()
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotService_CleanupExpired(t *testing.T) {
	svc, mock, db := setupSnapshotService(t)
	defer db.Close()

	t.Run("one failed delete does not stop the sweep", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id FROM snapshots`).
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).
				AddRow("snap-1").AddRow("snap-2").AddRow("snap-3"))

		mock.ExpectExec(`DELETE FROM snapshots`).
			WithArgs("snap-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`DELETE FROM snapshots`).
			WithArgs("snap-2").
			WillReturnError(sql.ErrConnDone)
		mock.ExpectExec(`DELETE FROM snapshots`).
			WithArgs("snap-3").
			WillReturnResult(sqlmock.NewResult(0, 1))

		deleted, err := svc.CleanupExpired(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, deleted)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nothing expired", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id FROM snapshots`).
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		deleted, err := svc.CleanupExpired(context.Background())
		require.NoError(t, err)
		assert.Zero(t, deleted)
	})
}
