package domain

import (
	"errors"
	"fmt"
)

// Error categories. Every specific error wraps exactly one of these so callers
// can classify with errors.Is. Missing entities use repository.ErrNotFound.
var (
	ErrValidation      = errors.New("validation error")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrConflict        = errors.New("conflict")
	ErrInvalidState    = errors.New("invalid state")
	ErrExternalService = errors.New("external service failure")
)

var (
	// ErrInvalidCoordinates is returned for out-of-range or non-finite points.
	ErrInvalidCoordinates = fmt.Errorf("%w: invalid coordinates", ErrValidation)

	// ErrNotAdmin is returned when a non-admin attempts an admin-only action.
	ErrNotAdmin = fmt.Errorf("%w: only the group admin can perform this action", ErrUnauthorized)

	// ErrAlreadyInvited is returned when the user already holds an invite.
	ErrAlreadyInvited = fmt.Errorf("%w: user already invited", ErrConflict)

	// ErrAlreadyMember is returned when the user is already a member.
	ErrAlreadyMember = fmt.Errorf("%w: user already a member", ErrConflict)

	// ErrAlreadyRequested is returned when the user already has a pending join request.
	ErrAlreadyRequested = fmt.Errorf("%w: join request already pending", ErrConflict)

	// ErrGroupFull is returned when admitting a member would exceed the group size limit.
	ErrGroupFull = fmt.Errorf("%w: group is full", ErrConflict)

	// ErrNoInvite is returned when acting on an invite that does not exist.
	ErrNoInvite = fmt.Errorf("%w: no pending invite for user", ErrInvalidState)

	// ErrNoRequest is returned when acting on a join request that does not exist.
	ErrNoRequest = fmt.Errorf("%w: no pending join request for user", ErrInvalidState)

	// ErrNotMember is returned when the user is not a member of the group.
	ErrNotMember = fmt.Errorf("%w: user is not a member", ErrInvalidState)

	// ErrCannotRemoveAdmin is returned when the admin is targeted by member removal.
	ErrCannotRemoveAdmin = fmt.Errorf("%w: the admin cannot be removed", ErrInvalidState)

	// ErrAdminCannotLeave is returned when the admin tries to leave their own group.
	ErrAdminCannotLeave = fmt.Errorf("%w: the admin cannot leave the group", ErrInvalidState)

	// ErrGroupNotOpen is returned for membership changes outside the open state.
	ErrGroupNotOpen = fmt.Errorf("%w: group is not open for membership changes", ErrInvalidState)

	// ErrGroupClosed is returned for readiness changes on a closed group.
	ErrGroupClosed = fmt.Errorf("%w: group is closed", ErrInvalidState)

	// ErrCountdownUnavailable is returned when the countdown is already started or locked.
	ErrCountdownUnavailable = fmt.Errorf("%w: countdown already started or group locked", ErrInvalidState)
)
