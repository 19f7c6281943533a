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

// DriverDirectory owns driver availability. Other services change the
// availability flag only through it.
type DriverDirectory struct {
	driverRepo repository.DriverRepository
	timeout    time.Duration
	logger     *zap.Logger
}

// NewDriverDirectory creates a new DriverDirectory.
func NewDriverDirectory(driverRepo repository.DriverRepository, timeout time.Duration, logger *zap.Logger) *DriverDirectory {
	return &DriverDirectory{
		driverRepo: driverRepo,
		timeout:    timeout,
		logger:     logger,
	}
}

// ReserveFirstAvailable atomically claims one available driver.
func (d *DriverDirectory) ReserveFirstAvailable(ctx context.Context) (*domain.Driver, error) {
	cctx, cancel := withTimeout(ctx, d.timeout)
	defer cancel()

	driver, err := d.driverRepo.ReserveFirstAvailable(cctx)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrNoDriverAvailable
		case errors.Is(err, repository.ErrStaleVersion):
			// Every candidate went to a concurrent booking.
			return nil, ErrNoDriverAvailable
		}
		return nil, classify(err, nil)
	}

	d.logger.Debug("driver reserved", zap.String("driver_id", driver.ID))
	return driver, nil
}

// Release marks a driver available. Releasing an available driver is a no-op.
func (d *DriverDirectory) Release(ctx context.Context, driverID string) error {
	if driverID == "" {
		return ErrInvalidDriverID
	}

	cctx, cancel := withTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.driverRepo.Release(cctx, driverID); err != nil {
		return classify(err, ErrDriverNotFound)
	}
	return nil
}

// ReleaseIfIdle releases a driver that has held no active ride for at least grace.
func (d *DriverDirectory) ReleaseIfIdle(ctx context.Context, driverID string, grace time.Duration) (bool, error) {
	cctx, cancel := withTimeout(ctx, d.timeout)
	defer cancel()

	released, err := d.driverRepo.ReleaseIfIdle(cctx, driverID, grace)
	if err != nil {
		return false, classify(err, ErrDriverNotFound)
	}
	return released, nil
}

// FindByID retrieves a driver by id.
func (d *DriverDirectory) FindByID(ctx context.Context, driverID string) (*domain.Driver, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}

	cctx, cancel := withTimeout(ctx, d.timeout)
	defer cancel()

	driver, err := d.driverRepo.GetByID(cctx, driverID)
	if err != nil {
		return nil, classify(err, ErrDriverNotFound)
	}
	return driver, nil
}

// FindByPhone retrieves a driver by phone number.
func (d *DriverDirectory) FindByPhone(ctx context.Context, phone string) (*domain.Driver, error) {
	cctx, cancel := withTimeout(ctx, d.timeout)
	defer cancel()

	driver, err := d.driverRepo.GetByPhone(cctx, strings.TrimSpace(phone))
	if err != nil {
		return nil, classify(err, ErrDriverNotFound)
	}
	return driver, nil
}

// ListAvailable returns the drivers currently open for reservation.
func (d *DriverDirectory) ListAvailable(ctx context.Context, p domain.Principal) ([]*domain.Driver, error) {
	if !p.Is(domain.RoleOperator) {
		return nil, ErrRoleNotAllowed
	}

	cctx, cancel := withTimeout(ctx, d.timeout)
	defer cancel()

	drivers, err := d.driverRepo.ListAvailable(cctx)
	if err != nil {
		return nil, classify(err, nil)
	}
	return drivers, nil
}

// RegisterDriverRequest contains the parameters for registering a driver.
type RegisterDriverRequest struct {
	Name           string
	Phone          string
	LicenseNumber  string
	VehicleDetails string
}

// Register creates a driver profile. New drivers start available.
func (d *DriverDirectory) Register(ctx context.Context, req RegisterDriverRequest) (*domain.Driver, error) {
	name := strings.TrimSpace(req.Name)
	phone := strings.TrimSpace(req.Phone)
	if name == "" || phone == "" {
		return nil, ErrInvalidProfile
	}

	driver := &domain.Driver{
		ID:             uuid.New().String(),
		Name:           name,
		Phone:          phone,
		LicenseNumber:  strings.TrimSpace(req.LicenseNumber),
		VehicleDetails: strings.TrimSpace(req.VehicleDetails),
		Available:      true,
	}

	cctx, cancel := withTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.driverRepo.Create(cctx, driver); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrAlreadyRegistered
		}
		return nil, classify(err, nil)
	}

	d.logger.Info("driver registered", zap.String("driver_id", driver.ID))
	return driver, nil
}
