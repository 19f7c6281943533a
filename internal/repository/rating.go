package repository

import (
	"context"

	"cabgo/internal/domain"
)

// RatingRepository defines the persistence operations for ratings.
type RatingRepository interface {
	// Create persists a rating. Returns ErrDuplicate if the ride is already rated.
	Create(ctx context.Context, rating *domain.Rating) error

	// ListByDriver retrieves the ratings received by a driver, newest first.
	ListByDriver(ctx context.Context, driverID string) ([]*domain.Rating, error)
}
