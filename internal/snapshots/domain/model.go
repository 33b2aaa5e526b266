package domain

import (
	"time"

	versioning "github.com/storycanvas-app/collab-backend/internal/versioning/domain"
)

// SubjectFull addresses the whole system instead of one project subtree.
const SubjectFull = "full"

// Snapshot kinds.
const (
	KindManual    = "manual"
	KindAuto      = "auto"
	KindScheduled = "scheduled"
)

// ValidKind reports whether k is a known snapshot kind.
func ValidKind(k string) bool {
	return k == KindManual || k == KindAuto || k == KindScheduled
}

// Snapshot is a point-in-time export of a subject. Blob holds the serialized
// export and is omitted from listings.
type Snapshot struct {
	ID        string    `json:"id"`
	SubjectID string    `json:"subject_id"`
	Kind      string    `json:"kind"`
	Blob      []byte    `json:"-"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Member is a project membership row carried through snapshot and restore.
type Member struct {
	ProjectID string    `json:"project_id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Export is the blob payload: every entity of the subject read within one
// consistent transaction.
type Export struct {
	SubjectID  string              `json:"subject_id"`
	Projects   []versioning.Entity `json:"projects"`
	Scenes     []versioning.Entity `json:"scenes"`
	Comments   []versioning.Entity `json:"comments"`
	Members    []Member            `json:"members"`
	ExportedAt time.Time           `json:"exported_at"`
}

// RestoredSubjectRef summarizes what a restore wrote back.
type RestoredSubjectRef struct {
	SnapshotID string    `json:"snapshot_id"`
	SubjectID  string    `json:"subject_id"`
	Projects   int       `json:"projects"`
	Scenes     int       `json:"scenes"`
	Comments   int       `json:"comments"`
	RestoredAt time.Time `json:"restored_at"`
}
