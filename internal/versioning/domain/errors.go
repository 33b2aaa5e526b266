package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("entity not found")
	ErrVersionNotFound = errors.New("version not found")
	ErrInvalidKind     = errors.New("invalid entity kind")
	ErrValidation      = errors.New("invalid mutation input")
)

// ConflictError reports an optimistic-lock failure. CurrentVersion carries the
// authoritative version so the caller can re-fetch and retry.
type ConflictError struct {
	Kind            Kind
	EntityID        string
	ExpectedVersion int64
	CurrentVersion  int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s %s: expected %d, current %d",
		e.Kind, e.EntityID, e.ExpectedVersion, e.CurrentVersion)
}

// IsConflict reports whether err is an optimistic-lock conflict.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
