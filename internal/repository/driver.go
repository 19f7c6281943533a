package repository

import (
	"context"
	"time"

	"cabgo/internal/domain"
)

// DriverRepository defines the persistence operations for drivers.
type DriverRepository interface {
	// Create adds a new driver.
	Create(ctx context.Context, driver *domain.Driver) error

	// GetByID retrieves a driver by ID.
	GetByID(ctx context.Context, id string) (*domain.Driver, error)

	// GetByPhone retrieves a driver by phone number.
	GetByPhone(ctx context.Context, phone string) (*domain.Driver, error)

	// ListAvailable retrieves all drivers currently marked available.
	ListAvailable(ctx context.Context) ([]*domain.Driver, error)

	// ReserveFirstAvailable marks one available driver unavailable and returns it,
	// as a single conditional update. Returns ErrNotFound when no driver is
	// available and ErrStaleVersion when every candidate was taken concurrently.
	ReserveFirstAvailable(ctx context.Context) (*domain.Driver, error)

	// Release marks a driver available. Releasing an available driver is a no-op.
	Release(ctx context.Context, id string) error

	// ReleaseIfIdle marks a driver available only when it holds no active ride
	// and has been unavailable for at least grace. Reports whether it was released.
	ReleaseIfIdle(ctx context.Context, id string, grace time.Duration) (bool, error)
}
