package service

import (
	"fmt"

	"ridepool/internal/domain"
)

var (
	// ErrInvalidRideID is returned when ride ID is empty.
	ErrInvalidRideID = fmt.Errorf("%w: invalid ride id", domain.ErrValidation)

	// ErrInvalidGroupID is returned when group ID is empty.
	ErrInvalidGroupID = fmt.Errorf("%w: invalid group id", domain.ErrValidation)

	// ErrInvalidUserID is returned when a user ID is empty.
	ErrInvalidUserID = fmt.Errorf("%w: invalid user id", domain.ErrValidation)

	// ErrInvalidSourceLocation is returned when source coordinates are invalid.
	ErrInvalidSourceLocation = fmt.Errorf("%w: invalid source location", domain.ErrInvalidCoordinates)

	// ErrInvalidDestinationLocation is returned when destination coordinates are invalid.
	ErrInvalidDestinationLocation = fmt.Errorf("%w: invalid destination location", domain.ErrInvalidCoordinates)

	// ErrInvalidDatetime is returned when a ride has no scheduled time.
	ErrInvalidDatetime = fmt.Errorf("%w: datetime is required", domain.ErrValidation)

	// ErrInvalidGenderPreference is returned for an unknown gender preference.
	ErrInvalidGenderPreference = fmt.Errorf("%w: invalid gender preference", domain.ErrValidation)

	// ErrInvalidStatus is returned for an unknown ride status.
	ErrInvalidStatus = fmt.Errorf("%w: invalid ride status", domain.ErrValidation)

	// ErrInvalidFullName is returned when a profile has no name.
	ErrInvalidFullName = fmt.Errorf("%w: full name is required", domain.ErrValidation)

	// ErrRideNotOwned is returned when acting on another user's ride.
	ErrRideNotOwned = fmt.Errorf("%w: ride belongs to another user", domain.ErrUnauthorized)

	// ErrRideNotOpen is returned when a ride that is not Open is offered to a group.
	ErrRideNotOpen = fmt.Errorf("%w: ride is not open", domain.ErrInvalidState)

	// ErrRideInAnotherGroup is returned when a ride is already held by an active group.
	ErrRideInAnotherGroup = fmt.Errorf("%w: ride already belongs to an active group", domain.ErrConflict)

	// ErrGroupBusy is returned when the group lease could not be acquired in time.
	ErrGroupBusy = fmt.Errorf("%w: group is busy, retry", domain.ErrConflict)

	// ErrNotParticipant is returned when a user has no relation with the group.
	ErrNotParticipant = fmt.Errorf("%w: not a participant of this group", domain.ErrUnauthorized)
)
