package postgres

import (
	"context"
	"database/sql"

	"cabgo/internal/domain"
	"cabgo/internal/repository"
)

// RatingRepository is a PostgreSQL implementation of repository.RatingRepository.
type RatingRepository struct {
	q Querier
}

// NewRatingRepository creates a new PostgreSQL rating repository.
func NewRatingRepository(db *sql.DB) *RatingRepository {
	return &RatingRepository{q: db}
}

// Create persists a rating.
func (r *RatingRepository) Create(ctx context.Context, rating *domain.Rating) error {
	query := `
		INSERT INTO ratings (id, ride_id, rider_id, driver_id, score, comments)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	err := r.q.QueryRowContext(ctx, query,
		rating.ID,
		rating.RideID,
		rating.RiderID,
		rating.DriverID,
		rating.Score,
		rating.Comments,
	).Scan(&rating.CreatedAt)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}
	return err
}

// ListByDriver retrieves the ratings received by a driver.
func (r *RatingRepository) ListByDriver(ctx context.Context, driverID string) ([]*domain.Rating, error) {
	query := `
		SELECT id, ride_id, rider_id, driver_id, score, comments, created_at
		FROM ratings WHERE driver_id = $1 ORDER BY created_at DESC
	`
	rows, err := r.q.QueryContext(ctx, query, driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ratings []*domain.Rating
	for rows.Next() {
		var rating domain.Rating
		if err := rows.Scan(
			&rating.ID,
			&rating.RideID,
			&rating.RiderID,
			&rating.DriverID,
			&rating.Score,
			&rating.Comments,
			&rating.CreatedAt,
		); err != nil {
			return nil, err
		}
		ratings = append(ratings, &rating)
	}
	return ratings, rows.Err()
}
