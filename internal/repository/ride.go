package repository

import (
	"context"

	"cabgo/internal/domain"
)

// RideRepository defines the persistence operations for rides.
type RideRepository interface {
	// Create persists a new ride and assigns its ID and Version.
	Create(ctx context.Context, ride *domain.Ride) error

	// GetByID retrieves a ride by ID.
	GetByID(ctx context.Context, id int64) (*domain.Ride, error)

	// ListByRider retrieves all rides of a rider ordered by ID.
	ListByRider(ctx context.Context, riderID string) ([]*domain.Ride, error)

	// ListByDriver retrieves the driver's rides whose status is in statuses, ordered by ID.
	ListByDriver(ctx context.Context, driverID string, statuses []domain.RideStatus) ([]*domain.Ride, error)

	// UpdateStatus sets the status when the stored version still equals
	// expectedVersion and bumps the version. Returns ErrStaleVersion otherwise.
	UpdateStatus(ctx context.Context, id int64, expectedVersion int64, status domain.RideStatus) (*domain.Ride, error)
}
