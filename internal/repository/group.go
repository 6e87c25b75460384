package repository

import (
	"context"

	"ridepool/internal/domain"
)

// GroupRepository defines the persistence operations for groups.
//
// Update and Finalize are compare-and-swap writes on Group.Version: they fail
// with ErrVersionConflict when the stored version differs and bump the
// version on success.
type GroupRepository interface {
	// Create persists a new group and claims its members' rides.
	Create(ctx context.Context, group *domain.Group) error

	// GetByID retrieves a group by ID.
	GetByID(ctx context.Context, id string) (*domain.Group, error)

	// Update replaces the group state and its ride claims.
	Update(ctx context.Context, group *domain.Group) error

	// Finalize closes the group and marks rideIDs as matched in one atomic write.
	Finalize(ctx context.Context, group *domain.Group, rideIDs []string) error

	// Delete removes a group and releases its ride claims.
	Delete(ctx context.Context, id string) error

	// ListByUser returns groups where the user is admin or member.
	ListByUser(ctx context.Context, userID string) ([]*domain.Group, error)

	// ListInvitesForUser returns open groups holding an invite for the user.
	ListInvitesForUser(ctx context.Context, userID string) ([]*domain.Group, error)

	// ListByStatus returns all groups in the given status.
	ListByStatus(ctx context.Context, status domain.GroupStatus) ([]*domain.Group, error)

	// FindActiveByRide returns IDs of open or locked groups whose members hold the ride.
	FindActiveByRide(ctx context.Context, rideID string) ([]string, error)

	// FindClosedByRide returns the closed group whose members include the ride.
	FindClosedByRide(ctx context.Context, rideID string) (*domain.Group, error)
}
