package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"cabgo/internal/domain"
	"cabgo/internal/repository"
)

const rideColumns = `id, rider_id, driver_id, pickup_location, dropoff_location, fare, status, version, created_at, updated_at`

// RideRepository is a PostgreSQL implementation of repository.RideRepository.
type RideRepository struct {
	q Querier
}

// NewRideRepository creates a new PostgreSQL ride repository.
func NewRideRepository(db *sql.DB) *RideRepository {
	return &RideRepository{q: db}
}

// Create persists a new ride.
func (r *RideRepository) Create(ctx context.Context, ride *domain.Ride) error {
	query := `
		INSERT INTO rides (rider_id, driver_id, pickup_location, dropoff_location, fare, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, version, created_at, updated_at
	`

	return r.q.QueryRowContext(ctx, query,
		ride.RiderID,
		ride.DriverID,
		ride.PickupLocation,
		ride.DropoffLocation,
		ride.Fare,
		ride.Status,
	).Scan(&ride.ID, &ride.Version, &ride.CreatedAt, &ride.UpdatedAt)
}

// GetByID retrieves a ride by ID.
func (r *RideRepository) GetByID(ctx context.Context, id int64) (*domain.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides WHERE id = $1`

	ride, err := scanRide(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return ride, nil
}

// ListByRider retrieves all rides of a rider.
func (r *RideRepository) ListByRider(ctx context.Context, riderID string) ([]*domain.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides WHERE rider_id = $1 ORDER BY id`
	return r.list(ctx, query, riderID)
}

// ListByDriver retrieves a driver's rides in the given statuses.
func (r *RideRepository) ListByDriver(ctx context.Context, driverID string, statuses []domain.RideStatus) ([]*domain.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides WHERE driver_id = $1 AND status = ANY($2) ORDER BY id`
	return r.list(ctx, query, driverID, pq.Array(statusStrings(statuses)))
}

// UpdateStatus applies a status change guarded by the ride's version.
func (r *RideRepository) UpdateStatus(ctx context.Context, id int64, expectedVersion int64, status domain.RideStatus) (*domain.Ride, error) {
	query := `
		UPDATE rides SET status = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3
		RETURNING ` + rideColumns

	ride, err := scanRide(r.q.QueryRowContext(ctx, query, status, id, expectedVersion))
	if err == nil {
		return ride, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	var exists bool
	if err := r.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM rides WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, repository.ErrNotFound
	}
	return nil, repository.ErrStaleVersion
}

func (r *RideRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Ride, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rides []*domain.Ride
	for rows.Next() {
		ride, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		rides = append(rides, ride)
	}
	return rides, rows.Err()
}

func scanRide(s scanner) (*domain.Ride, error) {
	var ride domain.Ride
	err := s.Scan(
		&ride.ID,
		&ride.RiderID,
		&ride.DriverID,
		&ride.PickupLocation,
		&ride.DropoffLocation,
		&ride.Fare,
		&ride.Status,
		&ride.Version,
		&ride.CreatedAt,
		&ride.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ride, nil
}
