package service

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"go.uber.org/zap"

	"cabgo/internal/domain"
	"cabgo/internal/redis"
	"cabgo/internal/repository"
)

const (
	defaultReleaseAttempts = 3
	defaultReleaseBackoff  = 100 * time.Millisecond
	defaultRideLockTTL     = 10 * time.Second
	defaultReconcileGrace  = 2 * time.Minute
)

// FareFunc computes the fare of a new ride.
type FareFunc func() float64

// PlaceholderFare returns a random fare between 50 and 250.
func PlaceholderFare() float64 {
	return math.Round((50+rand.Float64()*200)*100) / 100
}

// WorkflowConfig tunes the ride workflow.
type WorkflowConfig struct {
	CollaboratorTimeout time.Duration
	ReleaseAttempts     int
	ReleaseBackoff      time.Duration
	RideLockTTL         time.Duration
	ReconcileGrace      time.Duration
	Fare                FareFunc
}

func (c WorkflowConfig) withDefaults() WorkflowConfig {
	if c.ReleaseAttempts <= 0 {
		c.ReleaseAttempts = defaultReleaseAttempts
	}
	if c.ReleaseBackoff <= 0 {
		c.ReleaseBackoff = defaultReleaseBackoff
	}
	if c.RideLockTTL <= 0 {
		c.RideLockTTL = defaultRideLockTTL
	}
	if c.ReconcileGrace <= 0 {
		c.ReconcileGrace = defaultReconcileGrace
	}
	if c.Fare == nil {
		c.Fare = PlaceholderFare
	}
	return c
}

// RideService is the ride workflow engine: booking, status transitions,
// cancellation and driver release.
type RideService struct {
	rideRepo            repository.RideRepository
	directory           *DriverDirectory
	identity            *IdentityService
	lockStore           redis.LockStoreInterface
	notificationService *NotificationService
	cfg                 WorkflowConfig
	logger              *zap.Logger
}

// NewRideService creates a new RideService. lockStore and notificationService may be nil.
func NewRideService(
	rideRepo repository.RideRepository,
	directory *DriverDirectory,
	identity *IdentityService,
	lockStore redis.LockStoreInterface,
	notificationService *NotificationService,
	cfg WorkflowConfig,
	logger *zap.Logger,
) *RideService {
	return &RideService{
		rideRepo:            rideRepo,
		directory:           directory,
		identity:            identity,
		lockStore:           lockStore,
		notificationService: notificationService,
		cfg:                 cfg.withDefaults(),
		logger:              logger,
	}
}

// BookRideRequest contains the parameters for booking a ride.
type BookRideRequest struct {
	PickupLocation  string
	DropoffLocation string
}

// BookRide reserves a driver and persists a REQUESTED ride bound to it.
// If the ride cannot be persisted the driver is released before the error is returned.
func (s *RideService) BookRide(ctx context.Context, p domain.Principal, req BookRideRequest) (*domain.Ride, error) {
	pickup := strings.TrimSpace(req.PickupLocation)
	dropoff := strings.TrimSpace(req.DropoffLocation)
	if pickup == "" {
		return nil, ErrInvalidPickupLocation
	}
	if dropoff == "" {
		return nil, ErrInvalidDropoffLocation
	}

	riderID, err := s.identity.ResolveRider(ctx, p)
	if err != nil {
		return nil, err
	}

	driver, err := s.directory.ReserveFirstAvailable(ctx)
	if err != nil {
		return nil, err
	}

	ride := &domain.Ride{
		RiderID:         riderID,
		DriverID:        driver.ID,
		PickupLocation:  pickup,
		DropoffLocation: dropoff,
		Fare:            s.cfg.Fare(),
		Status:          domain.RideStatusRequested,
	}

	cctx, cancel := withTimeout(ctx, s.cfg.CollaboratorTimeout)
	err = s.rideRepo.Create(cctx, ride)
	cancel()
	if err != nil {
		if persisted := s.compensateBooking(ctx, riderID, driver.ID, err); persisted != nil {
			ride = persisted
		} else {
			return nil, classify(err, nil)
		}
	}

	s.logger.Info("ride booked",
		zap.Int64("ride_id", ride.ID),
		zap.String("rider_id", riderID),
		zap.String("driver_id", driver.ID),
	)
	s.notificationService.NotifyRideBooked(ctx, ride)
	return ride, nil
}

// compensateBooking runs after the ride insert failed. If the insert did land
// (e.g. the reply was lost to a timeout) the stored ride is returned. Otherwise
// the reserved driver is released. When neither can be established the driver
// stays reserved and reconciliation repairs it later.
func (s *RideService) compensateBooking(ctx context.Context, riderID, driverID string, cause error) *domain.Ride {
	cctx := context.WithoutCancel(ctx)

	lctx, cancel := withTimeout(cctx, s.cfg.CollaboratorTimeout)
	rides, err := s.rideRepo.ListByDriver(lctx, driverID, domain.ActiveRideStatuses)
	cancel()
	if err != nil {
		s.alert(ctx, "booking compensation skipped: cannot verify driver rides", err,
			zap.String("driver_id", driverID),
			zap.NamedError("cause", cause),
		)
		return nil
	}

	for _, r := range rides {
		if r.RiderID == riderID {
			s.logger.Warn("ride insert reported failure but ride exists",
				zap.Int64("ride_id", r.ID),
				zap.Error(cause),
			)
			return r
		}
	}
	if len(rides) > 0 {
		s.alert(ctx, "reserved driver holds a foreign active ride", ErrInconsistentState,
			zap.String("driver_id", driverID),
		)
		return nil
	}

	if err := s.releaseDriver(cctx, driverID); err != nil {
		s.alert(ctx, "booking compensation failed: driver left reserved", err,
			zap.String("driver_id", driverID),
			zap.NamedError("cause", cause),
		)
		return nil
	}

	s.logger.Warn("booking compensated: driver released",
		zap.String("driver_id", driverID),
		zap.Error(cause),
	)
	return nil
}

// UpdateStatusRequest contains the parameters for a driver-issued transition.
// RideID and ClaimedDriverID are optional; the acting driver always comes from the credential.
type UpdateStatusRequest struct {
	Status          string
	RideID          int64
	ClaimedDriverID string
}

// UpdateStatus applies a transition to the calling driver's active ride.
func (s *RideService) UpdateStatus(ctx context.Context, p domain.Principal, req UpdateStatusRequest) (*domain.Ride, error) {
	status, err := domain.ParseRideStatus(req.Status)
	if err != nil {
		return nil, classify(err, nil)
	}

	driverID, err := s.identity.ResolveDriver(ctx, p)
	if err != nil {
		return nil, err
	}
	if req.ClaimedDriverID != "" && req.ClaimedDriverID != driverID {
		s.logger.Warn("driver id mismatch",
			zap.String("driver_id", driverID),
			zap.String("claimed_driver_id", req.ClaimedDriverID),
		)
		return nil, ErrDriverMismatch
	}

	return s.updateStatusByDriver(ctx, driverID, req.RideID, status)
}

func (s *RideService) updateStatusByDriver(ctx context.Context, driverID string, rideID int64, status domain.RideStatus) (*domain.Ride, error) {
	lctx, cancel := withTimeout(ctx, s.cfg.CollaboratorTimeout)
	rides, err := s.rideRepo.ListByDriver(lctx, driverID, domain.ActiveRideStatuses)
	cancel()
	if err != nil {
		return nil, classify(err, nil)
	}

	if len(rides) > 1 {
		s.alert(ctx, "driver holds multiple active rides", ErrMultipleActiveRides,
			zap.String("driver_id", driverID),
			zap.Int("active_rides", len(rides)),
		)
		return nil, ErrMultipleActiveRides
	}

	if len(rides) == 0 || (rideID > 0 && rides[0].ID != rideID) {
		if rideID > 0 {
			return nil, s.explainTargetedRide(ctx, driverID, rideID, status)
		}
		return nil, ErrRideNotFound
	}

	return s.transition(ctx, rides[0], status, "")
}

// explainTargetedRide reports why a ride named by the driver is not its active ride.
func (s *RideService) explainTargetedRide(ctx context.Context, driverID string, rideID int64, status domain.RideStatus) error {
	ride, err := s.getRide(ctx, rideID)
	if err != nil {
		return err
	}
	if ride.DriverID != driverID {
		return ErrNotRideOwner
	}
	if err := domain.ValidateTransition(ride.Status, status); err != nil {
		return classify(err, nil)
	}
	return ErrRideNotFound
}

// transition validates and applies a status change, then releases the driver
// when the new status is terminal.
func (s *RideService) transition(ctx context.Context, ride *domain.Ride, status domain.RideStatus, reason string) (*domain.Ride, error) {
	previous := ride.Status
	if err := domain.ValidateTransition(previous, status); err != nil {
		return nil, classify(err, nil)
	}

	if s.lockStore != nil {
		actx, cancel := withTimeout(ctx, s.cfg.CollaboratorTimeout)
		token, ok, err := s.lockStore.AcquireRideLock(actx, ride.ID, s.cfg.RideLockTTL)
		cancel()
		switch {
		case err != nil:
			// The version check below still guards the write.
			s.logger.Warn("ride lock unavailable", zap.Int64("ride_id", ride.ID), zap.Error(err))
		case !ok:
			return nil, ErrRideLocked
		default:
			defer func() {
				rctx, cancel := withTimeout(context.WithoutCancel(ctx), s.cfg.CollaboratorTimeout)
				defer cancel()
				if err := s.lockStore.ReleaseRideLock(rctx, ride.ID, token); err != nil {
					s.logger.Warn("ride lock release failed", zap.Int64("ride_id", ride.ID), zap.Error(err))
				}
			}()
		}
	}

	uctx, cancel := withTimeout(ctx, s.cfg.CollaboratorTimeout)
	updated, err := s.rideRepo.UpdateStatus(uctx, ride.ID, ride.Version, status)
	cancel()
	if err != nil {
		return nil, classify(err, ErrRideNotFound)
	}

	s.logger.Info("ride status changed",
		zap.Int64("ride_id", updated.ID),
		zap.String("from", string(previous)),
		zap.String("to", string(updated.Status)),
	)

	if status.ReleasesDriver() {
		// The transition has committed; a caller disconnect must not skip the release.
		if err := s.releaseDriver(context.WithoutCancel(ctx), updated.DriverID); err != nil {
			s.alert(ctx, "driver release failed after terminal transition", err,
				zap.Int64("ride_id", updated.ID),
				zap.String("driver_id", updated.DriverID),
			)
		}
	}

	if status == domain.RideStatusCancelled {
		s.notificationService.NotifyRideCancelled(ctx, updated, previous, reason)
	} else {
		s.notificationService.NotifyStatusChanged(ctx, updated, previous)
	}
	return updated, nil
}

// releaseDriver retries retryable release failures with linear backoff.
func (s *RideService) releaseDriver(ctx context.Context, driverID string) error {
	var err error
	for attempt := 1; attempt <= s.cfg.ReleaseAttempts; attempt++ {
		err = s.directory.Release(ctx, driverID)
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt < s.cfg.ReleaseAttempts {
			time.Sleep(time.Duration(attempt) * s.cfg.ReleaseBackoff)
		}
	}
	return err
}

// CancelRide cancels a non-terminal ride on behalf of its rider, its driver or an operator.
func (s *RideService) CancelRide(ctx context.Context, p domain.Principal, rideID int64, reason string) (*domain.Ride, error) {
	ride, err := s.getRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, p, ride); err != nil {
		return nil, err
	}
	return s.transition(ctx, ride, domain.RideStatusCancelled, strings.TrimSpace(reason))
}

// GetRide returns a ride visible to the principal.
func (s *RideService) GetRide(ctx context.Context, p domain.Principal, rideID int64) (*domain.Ride, error) {
	ride, err := s.getRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, p, ride); err != nil {
		return nil, err
	}
	return ride, nil
}

// GetRidesForUser returns the calling rider's rides ordered by id.
func (s *RideService) GetRidesForUser(ctx context.Context, p domain.Principal) ([]*domain.Ride, error) {
	riderID, err := s.identity.ResolveRider(ctx, p)
	if err != nil {
		return nil, err
	}

	cctx, cancel := withTimeout(ctx, s.cfg.CollaboratorTimeout)
	defer cancel()

	rides, err := s.rideRepo.ListByRider(cctx, riderID)
	if err != nil {
		return nil, classify(err, nil)
	}
	return rides, nil
}

// GetLatestRide returns the calling rider's ride with the highest id.
func (s *RideService) GetLatestRide(ctx context.Context, p domain.Principal) (*domain.Ride, error) {
	rides, err := s.GetRidesForUser(ctx, p)
	if err != nil {
		return nil, err
	}

	latest := domain.LatestRide(rides)
	if latest == nil {
		return nil, ErrRideNotFound
	}
	return latest, nil
}

// GetPendingRidesForDriver returns the calling driver's non-terminal rides.
func (s *RideService) GetPendingRidesForDriver(ctx context.Context, p domain.Principal) ([]*domain.Ride, error) {
	driverID, err := s.identity.ResolveDriver(ctx, p)
	if err != nil {
		return nil, err
	}

	cctx, cancel := withTimeout(ctx, s.cfg.CollaboratorTimeout)
	defer cancel()

	rides, err := s.rideRepo.ListByDriver(cctx, driverID, domain.ActiveRideStatuses)
	if err != nil {
		return nil, classify(err, nil)
	}
	return rides, nil
}

// ReconcileResult describes a driver after reconciliation.
type ReconcileResult struct {
	DriverID    string `json:"driver_id"`
	Available   bool   `json:"available"`
	ActiveRides int    `json:"active_rides"`
	Released    bool   `json:"released"`
}

// ReconcileDriver checks that a driver is available exactly when it holds no
// active ride. A reservation leaked by a failed compensation is released once
// it is older than the grace period. Other violations are reported, not repaired.
func (s *RideService) ReconcileDriver(ctx context.Context, p domain.Principal, driverID string) (*ReconcileResult, error) {
	if !p.Is(domain.RoleOperator) {
		return nil, ErrRoleNotAllowed
	}

	driver, err := s.directory.FindByID(ctx, driverID)
	if err != nil {
		return nil, err
	}

	cctx, cancel := withTimeout(ctx, s.cfg.CollaboratorTimeout)
	rides, err := s.rideRepo.ListByDriver(cctx, driverID, domain.ActiveRideStatuses)
	cancel()
	if err != nil {
		return nil, classify(err, nil)
	}

	result := &ReconcileResult{
		DriverID:    driverID,
		Available:   driver.Available,
		ActiveRides: len(rides),
	}

	switch {
	case len(rides) > 1:
		s.alert(ctx, "driver holds multiple active rides", ErrMultipleActiveRides,
			zap.String("driver_id", driverID),
			zap.Int("active_rides", len(rides)),
		)
		return nil, ErrMultipleActiveRides
	case len(rides) == 1 && driver.Available:
		s.alert(ctx, "driver available while holding an active ride", ErrAvailableWithActiveRide,
			zap.String("driver_id", driverID),
			zap.Int64("ride_id", rides[0].ID),
		)
		return nil, ErrAvailableWithActiveRide
	case len(rides) == 0 && !driver.Available:
		released, err := s.directory.ReleaseIfIdle(ctx, driverID, s.cfg.ReconcileGrace)
		if err != nil {
			return nil, err
		}
		if released {
			s.logger.Warn("released leaked driver reservation", zap.String("driver_id", driverID))
			result.Available = true
			result.Released = true
		}
	}

	return result, nil
}

func (s *RideService) getRide(ctx context.Context, rideID int64) (*domain.Ride, error) {
	if rideID <= 0 {
		return nil, ErrInvalidRideID
	}

	cctx, cancel := withTimeout(ctx, s.cfg.CollaboratorTimeout)
	defer cancel()

	ride, err := s.rideRepo.GetByID(cctx, rideID)
	if err != nil {
		return nil, classify(err, ErrRideNotFound)
	}
	return ride, nil
}

// authorize allows the ride's rider, its bound driver, and operators.
func (s *RideService) authorize(ctx context.Context, p domain.Principal, ride *domain.Ride) error {
	switch p.Role {
	case domain.RoleOperator:
		return nil
	case domain.RoleRider:
		riderID, err := s.identity.ResolveRider(ctx, p)
		if err != nil {
			return err
		}
		if riderID != ride.RiderID {
			return ErrNotRideOwner
		}
		return nil
	case domain.RoleDriver:
		driverID, err := s.identity.ResolveDriver(ctx, p)
		if err != nil {
			return err
		}
		if driverID != ride.DriverID {
			return ErrNotRideOwner
		}
		return nil
	}
	return ErrRoleNotAllowed
}

// alert logs an operational alert and reports it to New Relic when a transaction is active.
func (s *RideService) alert(ctx context.Context, msg string, err error, fields ...zap.Field) {
	s.logger.Error(msg, append(fields, zap.Bool("alert", true), zap.Error(err))...)
	if txn := newrelic.FromContext(ctx); txn != nil {
		txn.NoticeError(err)
	}
}
