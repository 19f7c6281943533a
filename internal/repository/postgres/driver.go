package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"cabgo/internal/domain"
	"cabgo/internal/repository"
)

const defaultReserveAttempts = 3

const driverColumns = `id, name, phone, license_number, vehicle_details, available, updated_at`

// DriverRepository is a PostgreSQL implementation of repository.DriverRepository.
type DriverRepository struct {
	q               Querier
	reserveAttempts int
}

// NewDriverRepository creates a new PostgreSQL driver repository.
// reserveAttempts bounds how often a reservation retries after losing a candidate.
func NewDriverRepository(db *sql.DB, reserveAttempts int) *DriverRepository {
	if reserveAttempts <= 0 {
		reserveAttempts = defaultReserveAttempts
	}
	return &DriverRepository{q: db, reserveAttempts: reserveAttempts}
}

// Create adds a new driver.
func (r *DriverRepository) Create(ctx context.Context, driver *domain.Driver) error {
	query := `
		INSERT INTO drivers (id, name, phone, license_number, vehicle_details, available)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING updated_at
	`
	err := r.q.QueryRowContext(ctx, query,
		driver.ID,
		driver.Name,
		driver.Phone,
		driver.LicenseNumber,
		driver.VehicleDetails,
		driver.Available,
	).Scan(&driver.UpdatedAt)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}
	return err
}

// GetByID retrieves a driver by ID.
func (r *DriverRepository) GetByID(ctx context.Context, id string) (*domain.Driver, error) {
	query := `SELECT ` + driverColumns + ` FROM drivers WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetByPhone retrieves a driver by phone number.
func (r *DriverRepository) GetByPhone(ctx context.Context, phone string) (*domain.Driver, error) {
	query := `SELECT ` + driverColumns + ` FROM drivers WHERE phone = $1`
	return r.getOne(ctx, query, phone)
}

// ListAvailable retrieves all available drivers, longest idle first.
func (r *DriverRepository) ListAvailable(ctx context.Context) ([]*domain.Driver, error) {
	query := `SELECT ` + driverColumns + ` FROM drivers WHERE available ORDER BY updated_at, id`
	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drivers []*domain.Driver
	for rows.Next() {
		driver, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		drivers = append(drivers, driver)
	}
	return drivers, rows.Err()
}

// ReserveFirstAvailable flips one available driver to unavailable in a single
// statement. The inner SELECT skips rows locked by concurrent reservations and
// the outer predicate re-checks availability, so a driver is never handed out twice.
func (r *DriverRepository) ReserveFirstAvailable(ctx context.Context) (*domain.Driver, error) {
	query := `
		UPDATE drivers SET available = FALSE, updated_at = NOW()
		WHERE id = (
			SELECT id FROM drivers
			WHERE available
			ORDER BY updated_at, id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		) AND available
		RETURNING ` + driverColumns

	for attempt := 0; attempt < r.reserveAttempts; attempt++ {
		driver, err := scanDriver(r.q.QueryRowContext(ctx, query))
		if err == nil {
			return driver, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		// Nothing claimed: either the pool is empty or every candidate was locked.
		var anyAvailable bool
		if err := r.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM drivers WHERE available)`).Scan(&anyAvailable); err != nil {
			return nil, err
		}
		if !anyAvailable {
			return nil, repository.ErrNotFound
		}
	}

	return nil, repository.ErrStaleVersion
}

// Release marks a driver available. The timestamp is kept when already available.
func (r *DriverRepository) Release(ctx context.Context, id string) error {
	query := `
		UPDATE drivers
		SET updated_at = CASE WHEN available THEN updated_at ELSE NOW() END,
		    available = TRUE
		WHERE id = $1
	`
	result, err := r.q.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ReleaseIfIdle releases a driver left unavailable without an active ride.
func (r *DriverRepository) ReleaseIfIdle(ctx context.Context, id string, grace time.Duration) (bool, error) {
	query := `
		UPDATE drivers d SET available = TRUE, updated_at = NOW()
		WHERE d.id = $1
		  AND NOT d.available
		  AND d.updated_at < NOW() - make_interval(secs => $2)
		  AND NOT EXISTS (
			SELECT 1 FROM rides r WHERE r.driver_id = d.id AND r.status = ANY($3)
		  )
	`
	result, err := r.q.ExecContext(ctx, query, id, grace.Seconds(), pq.Array(statusStrings(domain.ActiveRideStatuses)))
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected == 1, nil
}

func (r *DriverRepository) getOne(ctx context.Context, query string, arg any) (*domain.Driver, error) {
	driver, err := scanDriver(r.q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return driver, nil
}

func scanDriver(s scanner) (*domain.Driver, error) {
	var driver domain.Driver
	err := s.Scan(
		&driver.ID,
		&driver.Name,
		&driver.Phone,
		&driver.LicenseNumber,
		&driver.VehicleDetails,
		&driver.Available,
		&driver.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &driver, nil
}

func statusStrings(statuses []domain.RideStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
