package repository

import (
	"context"

	"cabgo/internal/domain"
)

// PaymentRepository defines the persistence operations for payments.
type PaymentRepository interface {
	// Create persists a new payment.
	Create(ctx context.Context, payment *domain.Payment) error

	// GetByRideID retrieves the payment for a ride.
	GetByRideID(ctx context.Context, rideID int64) (*domain.Payment, error)

	// GetByIdempotencyKey retrieves a payment by its idempotency key.
	// Returns nil if no payment exists with the given key.
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, error)

	// UpdateStatus updates the status of a payment.
	UpdateStatus(ctx context.Context, id string, status domain.PaymentStatus) error

	// RestartFailed moves a FAILED payment back to PENDING.
	// Returns ErrStaleVersion if the payment is no longer FAILED.
	RestartFailed(ctx context.Context, id string) error
}
