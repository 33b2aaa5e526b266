package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storycanvas-app/collab-backend/internal/versioning/domain"
)

func setupVersionRepo(t *testing.T) (*VersionRepository, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewVersionRepository(db)
	return repo, mock, db
}

func versionRows(recs ...domain.VersionRecord) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "entity_kind", "entity_id", "version_no", "payload",
		"author_id", "change_description", "created_at", "archived", "archived_at",
	})
	for _, rec := range recs {
		var archivedAt any
		if rec.ArchivedAt != nil {
			archivedAt = *rec.ArchivedAt
		}
		rows.AddRow(rec.ID, string(rec.EntityKind), rec.EntityID, rec.VersionNo, []byte(rec.Payload),
			rec.AuthorID, rec.ChangeDescription, rec.CreatedAt, rec.Archived, archivedAt)
	}
	return rows
}

func TestVersionRepository_Append(t *testing.T) {
	repo, mock, db := setupVersionRepo(t)
	defer db.Close()

	payload := json.RawMessage(`{"title":"Opening"}`)

	mock.ExpectQuery(`INSERT INTO entity_versions`).
		WithArgs(sqlmock.AnyArg(), "scene", "scene-1", []byte(payload), "alice", "Edited title").
		WillReturnRows(sqlmock.NewRows([]string{"version_no", "created_at"}).AddRow(int64(4), time.Now()))

	rec, err := repo.Append(context.Background(), domain.KindScene, "scene-1", payload, "alice", "Edited title")
	require.NoError(t, err)
	assert.Equal(t, int64(4), rec.VersionNo)
	assert.Equal(t, domain.KindScene, rec.EntityKind)
	assert.NotEmpty(t, rec.ID)
}

func TestVersionRepository_List(t *testing.T) {
	repo, mock, db := setupVersionRepo(t)
	defer db.Close()

	ctx := context.Background()
	now := time.Now()

	t.Run("newest first, archived excluded", func(t *testing.T) {
		mock.ExpectQuery(`SELECT .+ FROM entity_versions`).
			WithArgs("scene", "scene-1").
			WillReturnRows(versionRows(
				domain.VersionRecord{ID: "v3", EntityKind: domain.KindScene, EntityID: "scene-1", VersionNo: 3, Payload: json.RawMessage(`{}`), AuthorID: "alice", CreatedAt: now},
				domain.VersionRecord{ID: "v2", EntityKind: domain.KindScene, EntityID: "scene-1", VersionNo: 2, Payload: json.RawMessage(`{}`), AuthorID: "bob", CreatedAt: now},
			))

		recs, err := repo.List(ctx, domain.KindScene, "scene-1", false)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, int64(3), recs[0].VersionNo)
		assert.Equal(t, int64(2), recs[1].VersionNo)
	})

	t.Run("empty history", func(t *testing.T) {
		mock.ExpectQuery(`SELECT .+ FROM entity_versions`).
			WithArgs("scene", "fresh").
			WillReturnRows(versionRows())

		recs, err := repo.List(ctx, domain.KindScene, "fresh", false)
		require.NoError(t, err)
		assert.Empty(t, recs)
	})
}

func TestVersionRepository_Get(t *testing.T) {
	repo, mock, db := setupVersionRepo(t)
	defer db.Close()

	ctx := context.Background()

	t.Run("scoped lookup", func(t *testing.T) {
		archivedAt := time.Now()
		rec := domain.VersionRecord{
			ID: "v1", EntityKind: domain.KindScene, EntityID: "scene-1",
			VersionNo: 1, Payload: json.RawMessage(`{"a":1}`), AuthorID: "alice",
			CreatedAt: time.Now(), Archived: true, ArchivedAt: &archivedAt,
		}
		mock.ExpectQuery(`SELECT .+ FROM entity_versions`).
			WithArgs("v1", "scene", "scene-1").
			WillReturnRows(versionRows(rec))

		got, err := repo.Get(ctx, domain.KindScene, "scene-1", "v1")
		require.NoError(t, err)
		assert.True(t, got.Archived)
		require.NotNil(t, got.ArchivedAt)
	})

	t.Run("record of another entity reads as not found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT .+ FROM entity_versions`).
			WithArgs("v1", "scene", "other-scene").
			WillReturnRows(versionRows())

		_, err := repo.Get(ctx, domain.KindScene, "other-scene", "v1")
		assert.ErrorIs(t, err, domain.ErrVersionNotFound)
	})
}

func TestVersionRepository_ArchiveOlderThan(t *testing.T) {
	repo, mock, db := setupVersionRepo(t)
	defer db.Close()

	// Ten records, keep three: seven get archived.
	mock.ExpectExec(`UPDATE entity_versions`).
		WithArgs("scene", "scene-1", 3).
		WillReturnResult(sqlmock.NewResult(0, 7))

	archived, err := repo.ArchiveOlderThan(context.Background(), domain.KindScene, "scene-1", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(7), archived)
}
