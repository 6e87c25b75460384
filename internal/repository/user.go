package repository

import (
	"context"

	"ridepool/internal/domain"
)

// UserRepository reads and upserts rider profiles.
type UserRepository interface {
	// Upsert creates or replaces a user's profile.
	Upsert(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByIDs returns the profiles found among ids, keyed by user ID.
	GetByIDs(ctx context.Context, ids []string) (map[string]*domain.User, error)
}
