package domain

import (
	"encoding/json"
	"time"
)

// Kind identifies which versioned resource an operation targets.
type Kind string

const (
	KindProject Kind = "project"
	KindScene   Kind = "scene"
	KindComment Kind = "comment"
)

// ParseKind validates a client-supplied kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindProject, KindScene, KindComment:
		return Kind(s), nil
	}
	return "", ErrInvalidKind
}

// Table returns the backing table for the kind. Kinds are a closed set, so
// this never feeds unvalidated input into SQL.
func (k Kind) Table() string {
	switch k {
	case KindProject:
		return "projects"
	case KindScene:
		return "scenes"
	case KindComment:
		return "comments"
	}
	return ""
}

// Entity is a versioned mutable resource. ProjectID is the broadcast room the
// entity belongs to; for projects it equals ID.
type Entity struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	ProjectID string          `json:"project_id"`
	Version   int64           `json:"version"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// VersionRecord is an immutable historical snapshot of one entity at one
// version number. Only the archive fields change after creation.
type VersionRecord struct {
	ID                string          `json:"id"`
	EntityKind        Kind            `json:"entity_kind"`
	EntityID          string          `json:"entity_id"`
	VersionNo         int64           `json:"version_no"`
	Payload           json.RawMessage `json:"payload"`
	AuthorID          string          `json:"author_id"`
	ChangeDescription string          `json:"change_description,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	Archived          bool            `json:"archived"`
	ArchivedAt        *time.Time      `json:"archived_at,omitempty"`
}

// UpdateRequest is a mutation against a single entity guarded by optimistic
// concurrency control.
type UpdateRequest struct {
	ActorID           string
	Kind              Kind
	EntityID          string
	ExpectedVersion   int64
	Payload           json.RawMessage
	ChangeDescription string
}

// CreateRequest creates a new entity at version 1.
type CreateRequest struct {
	ActorID   string
	Kind      Kind
	ProjectID string
	Payload   json.RawMessage
}
