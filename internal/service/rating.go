package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cabgo/internal/domain"
	"cabgo/internal/repository"
)

// RatingService records rider ratings of drivers.
type RatingService struct {
	ratingRepo repository.RatingRepository
	rideRepo   repository.RideRepository
	identity   *IdentityService
	timeout    time.Duration
	logger     *zap.Logger
}

// NewRatingService creates a new RatingService.
func NewRatingService(
	ratingRepo repository.RatingRepository,
	rideRepo repository.RideRepository,
	identity *IdentityService,
	timeout time.Duration,
	logger *zap.Logger,
) *RatingService {
	return &RatingService{
		ratingRepo: ratingRepo,
		rideRepo:   rideRepo,
		identity:   identity,
		timeout:    timeout,
		logger:     logger,
	}
}

// SubmitRatingRequest contains the parameters for rating a ride.
type SubmitRatingRequest struct {
	RideID   int64
	Score    int
	Comments string
}

// SubmitRating rates the bound driver of the caller's completed ride. One rating per ride.
func (s *RatingService) SubmitRating(ctx context.Context, p domain.Principal, req SubmitRatingRequest) (*domain.Rating, error) {
	if req.RideID <= 0 {
		return nil, ErrInvalidRideID
	}
	if req.Score < 1 || req.Score > 5 {
		return nil, ErrInvalidScore
	}

	riderID, err := s.identity.ResolveRider(ctx, p)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	ride, err := s.rideRepo.GetByID(ctx, req.RideID)
	if err != nil {
		return nil, classify(err, ErrRideNotFound)
	}
	if ride.RiderID != riderID {
		return nil, ErrNotRideOwner
	}
	if ride.Status != domain.RideStatusCompleted {
		return nil, ErrRideNotCompleted
	}

	rating := &domain.Rating{
		ID:       uuid.New().String(),
		RideID:   ride.ID,
		RiderID:  riderID,
		DriverID: ride.DriverID,
		Score:    req.Score,
		Comments: strings.TrimSpace(req.Comments),
	}

	if err := s.ratingRepo.Create(ctx, rating); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrAlreadyRated
		}
		return nil, classify(err, nil)
	}

	s.logger.Info("ride rated", zap.Int64("ride_id", ride.ID), zap.Int("score", rating.Score))
	return rating, nil
}

// ListRatingsForDriver returns the ratings received by the calling driver.
func (s *RatingService) ListRatingsForDriver(ctx context.Context, p domain.Principal) ([]*domain.Rating, error) {
	driverID, err := s.identity.ResolveDriver(ctx, p)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	ratings, err := s.ratingRepo.ListByDriver(ctx, driverID)
	if err != nil {
		return nil, classify(err, nil)
	}
	return ratings, nil
}
