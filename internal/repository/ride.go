package repository

import (
	"context"
	"time"

	"ridepool/internal/domain"
)

// IntersectQuery selects open rides whose route crosses Route.
type IntersectQuery struct {
	Route         domain.LineString
	ExcludeUserID string
	From          time.Time
	To            time.Time
}

// NearQuery selects open rides whose source lies within RadiusKm of Center.
type NearQuery struct {
	Center        domain.Point
	RadiusKm      float64
	ExcludeUserID string
	From          time.Time
	To            time.Time
}

// RideRepository defines the persistence operations for rides.
type RideRepository interface {
	// Create persists a new ride.
	Create(ctx context.Context, ride *domain.Ride) error

	// GetByID retrieves a ride by ID.
	GetByID(ctx context.Context, id string) (*domain.Ride, error)

	// GetByIDs retrieves the rides that exist among ids. Missing IDs are skipped.
	GetByIDs(ctx context.Context, ids []string) ([]*domain.Ride, error)

	// ListByUser retrieves all rides owned by a user, newest first.
	ListByUser(ctx context.Context, userID string) ([]*domain.Ride, error)

	// Update updates the mutable fields of an existing ride.
	Update(ctx context.Context, ride *domain.Ride) error

	// UpdateStatus sets the status of every listed ride.
	UpdateStatus(ctx context.Context, ids []string, status domain.RideStatus) error

	// Delete removes a ride.
	Delete(ctx context.Context, id string) error

	// ListOpen returns every open ride.
	ListOpen(ctx context.Context) ([]*domain.Ride, error)

	// FindOpenNear returns open rides whose source lies within q.RadiusKm of q.Center.
	FindOpenNear(ctx context.Context, q NearQuery) ([]*domain.Ride, error)

	// FindOpenIntersecting returns open rides whose stored route intersects q.Route.
	FindOpenIntersecting(ctx context.Context, q IntersectQuery) ([]*domain.Ride, error)
}
