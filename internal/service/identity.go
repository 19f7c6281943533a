package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cabgo/internal/domain"
	"cabgo/internal/redis"
	"cabgo/internal/repository"
)

// IdentityService resolves verified principals to rider and driver ids and
// owns rider registration.
type IdentityService struct {
	userRepo   repository.UserRepository
	driverRepo repository.DriverRepository
	cache      redis.IdentityCacheInterface
	timeout    time.Duration
	logger     *zap.Logger
}

// NewIdentityService creates a new IdentityService. cache may be nil.
func NewIdentityService(
	userRepo repository.UserRepository,
	driverRepo repository.DriverRepository,
	cache redis.IdentityCacheInterface,
	timeout time.Duration,
	logger *zap.Logger,
) *IdentityService {
	return &IdentityService{
		userRepo:   userRepo,
		driverRepo: driverRepo,
		cache:      cache,
		timeout:    timeout,
		logger:     logger,
	}
}

// ResolveRider maps a USER principal (subject = email) to its rider id.
func (s *IdentityService) ResolveRider(ctx context.Context, p domain.Principal) (string, error) {
	if !p.Is(domain.RoleRider) {
		return "", ErrRoleNotAllowed
	}
	email := normalizeEmail(p.Subject)
	return s.resolve(ctx, p.Role, email, ErrRiderNotFound, func(ctx context.Context) (string, error) {
		user, err := s.userRepo.GetByEmail(ctx, email)
		if err != nil {
			return "", err
		}
		return user.ID, nil
	})
}

// ResolveDriver maps a DRIVER principal (subject = phone) to its driver id.
func (s *IdentityService) ResolveDriver(ctx context.Context, p domain.Principal) (string, error) {
	if !p.Is(domain.RoleDriver) {
		return "", ErrRoleNotAllowed
	}
	phone := strings.TrimSpace(p.Subject)
	return s.resolve(ctx, p.Role, phone, ErrDriverNotFound, func(ctx context.Context) (string, error) {
		driver, err := s.driverRepo.GetByPhone(ctx, phone)
		if err != nil {
			return "", err
		}
		return driver.ID, nil
	})
}

// normalizeEmail is applied both when a rider registers and when a credential
// subject is resolved, so lookups are case-insensitive.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *IdentityService) resolve(
	ctx context.Context,
	r domain.Role,
	subject string,
	notFound error,
	lookup func(context.Context) (string, error),
) (string, error) {
	if subject == "" {
		return "", notFound
	}

	role := string(r)
	if s.cache != nil {
		cctx, cancel := withTimeout(ctx, s.timeout)
		id, err := s.cache.GetIdentity(cctx, role, subject)
		cancel()
		if err != nil {
			// A cache outage degrades to the store.
			s.logger.Warn("identity cache read failed", zap.String("role", role), zap.Error(err))
		} else if id != "" {
			return id, nil
		}
	}

	lctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	id, err := lookup(lctx)
	if err != nil {
		return "", classify(err, notFound)
	}

	if s.cache != nil {
		cctx, cancel := withTimeout(ctx, s.timeout)
		err := s.cache.SetIdentity(cctx, role, subject, id)
		cancel()
		if err != nil {
			s.logger.Warn("identity cache write failed", zap.String("role", role), zap.Error(err))
		}
	}
	return id, nil
}

// RegisterRiderRequest contains the parameters for registering a rider.
type RegisterRiderRequest struct {
	Name  string
	Email string
	Phone string
}

// RegisterRider creates a rider profile. The email becomes the rider's credential subject.
func (s *IdentityService) RegisterRider(ctx context.Context, req RegisterRiderRequest) (*domain.User, error) {
	name := strings.TrimSpace(req.Name)
	email := normalizeEmail(req.Email)
	if name == "" || email == "" {
		return nil, ErrInvalidProfile
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidProfile
	}

	user := &domain.User{
		ID:    uuid.New().String(),
		Name:  name,
		Email: email,
		Phone: strings.TrimSpace(req.Phone),
	}

	cctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.userRepo.Create(cctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrAlreadyRegistered
		}
		return nil, classify(err, nil)
	}

	s.forget(ctx, domain.RoleRider, email)
	s.logger.Info("rider registered", zap.String("rider_id", user.ID))
	return user, nil
}

// GetRiderProfile returns the calling rider's profile.
func (s *IdentityService) GetRiderProfile(ctx context.Context, p domain.Principal) (*domain.User, error) {
	riderID, err := s.ResolveRider(ctx, p)
	if err != nil {
		return nil, err
	}

	cctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	user, err := s.userRepo.GetByID(cctx, riderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.forget(ctx, p.Role, normalizeEmail(p.Subject))
		}
		return nil, classify(err, ErrRiderNotFound)
	}
	return user, nil
}

// GetDriverProfile returns the calling driver's profile.
func (s *IdentityService) GetDriverProfile(ctx context.Context, p domain.Principal) (*domain.Driver, error) {
	driverID, err := s.ResolveDriver(ctx, p)
	if err != nil {
		return nil, err
	}

	cctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	driver, err := s.driverRepo.GetByID(cctx, driverID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.forget(ctx, p.Role, strings.TrimSpace(p.Subject))
		}
		return nil, classify(err, ErrDriverNotFound)
	}
	return driver, nil
}

// forget drops a cached mapping whose profile no longer exists.
func (s *IdentityService) forget(ctx context.Context, r domain.Role, subject string) {
	if s.cache == nil {
		return
	}
	cctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.cache.InvalidateIdentity(cctx, string(r), subject); err != nil {
		s.logger.Warn("identity cache invalidate failed", zap.String("role", string(r)), zap.Error(err))
	}
}
