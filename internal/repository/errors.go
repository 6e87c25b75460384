package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrVersionConflict is returned when an optimistic update lost a race.
	ErrVersionConflict = errors.New("version conflict")

	// ErrRideClaimed is returned when a ride is already held by another active group.
	ErrRideClaimed = errors.New("ride already claimed by another active group")
)
