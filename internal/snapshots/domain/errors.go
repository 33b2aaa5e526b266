package domain

import "errors"

var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrInvalidKind      = errors.New("invalid snapshot kind")
	ErrRestoreFailed    = errors.New("restore transaction failed")
)
