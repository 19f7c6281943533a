package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cabgo/internal/domain"
	"cabgo/internal/repository"
)

// PSP is the interface for a Payment Service Provider.
type PSP interface {
	Charge(ctx context.Context, amount float64) (bool, error)
}

// MockPSP is a mock implementation of PSP.
type MockPSP struct{}

// NewMockPSP creates a new mock PSP.
func NewMockPSP() *MockPSP {
	return &MockPSP{}
}

// Charge simulates a payment charge. Always succeeds.
func (p *MockPSP) Charge(ctx context.Context, amount float64) (bool, error) {
	return true, nil
}

// PaymentService accepts payment for completed rides.
type PaymentService struct {
	paymentRepo    repository.PaymentRepository
	rideRepo       repository.RideRepository
	identity       *IdentityService
	psp            PSP
	receiptService *ReceiptService
	timeout        time.Duration
	logger         *zap.Logger
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(
	paymentRepo repository.PaymentRepository,
	rideRepo repository.RideRepository,
	identity *IdentityService,
	psp PSP,
	receiptService *ReceiptService,
	timeout time.Duration,
	logger *zap.Logger,
) *PaymentService {
	return &PaymentService{
		paymentRepo:    paymentRepo,
		rideRepo:       rideRepo,
		identity:       identity,
		psp:            psp,
		receiptService: receiptService,
		timeout:        timeout,
		logger:         logger,
	}
}

// ProcessPaymentRequest contains the parameters for processing a payment.
// A zero Amount charges the ride's fare.
type ProcessPaymentRequest struct {
	RideID int64
	Amount float64
	Method string
}

// ProcessPayment charges the calling rider for a completed ride. Repeated
// calls for the same ride return the first payment.
func (s *PaymentService) ProcessPayment(ctx context.Context, p domain.Principal, req ProcessPaymentRequest) (*domain.Payment, error) {
	if req.RideID <= 0 {
		return nil, ErrInvalidRideID
	}
	if req.Amount < 0 {
		return nil, ErrInvalidPaymentAmount
	}
	method, err := ValidatePaymentMethod(req.Method)
	if err != nil {
		return nil, err
	}

	ride, err := s.payableRide(ctx, p, req.RideID)
	if err != nil {
		return nil, err
	}

	amount := req.Amount
	if amount == 0 {
		amount = ride.Fare
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	idempotencyKey := paymentKey(ride.ID)

	existing, err := s.paymentRepo.GetByIdempotencyKey(ctx, idempotencyKey)
	if err != nil {
		return nil, classify(err, nil)
	}
	if existing != nil {
		if existing.Status != domain.PaymentStatusFailed {
			return existing, nil
		}
		// A declined charge may be retried on the same payment record.
		if err := s.paymentRepo.RestartFailed(ctx, existing.ID); err != nil {
			if errors.Is(err, repository.ErrStaleVersion) {
				return nil, ErrPaymentInProgress
			}
			return nil, classify(err, ErrPaymentNotFound)
		}
		existing.Status = domain.PaymentStatusPending
		return s.charge(ctx, existing)
	}

	payment := &domain.Payment{
		ID:             uuid.New().String(),
		RideID:         ride.ID,
		RiderID:        ride.RiderID,
		Amount:         amount,
		Method:         method,
		Status:         domain.PaymentStatusPending,
		IdempotencyKey: idempotencyKey,
	}

	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// Lost a race with a concurrent submission for the same ride.
			existing, gerr := s.paymentRepo.GetByIdempotencyKey(ctx, idempotencyKey)
			if gerr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, classify(err, nil)
	}

	return s.charge(ctx, payment)
}

// charge submits a PENDING payment to the PSP and records the outcome.
func (s *PaymentService) charge(ctx context.Context, payment *domain.Payment) (*domain.Payment, error) {
	success, err := s.psp.Charge(ctx, payment.Amount)
	status := domain.PaymentStatusSuccess
	if err != nil || !success {
		status = domain.PaymentStatusFailed
		s.logger.Warn("payment charge failed", zap.Int64("ride_id", payment.RideID), zap.Error(err))
	}

	if err := s.paymentRepo.UpdateStatus(ctx, payment.ID, status); err != nil {
		return nil, classify(err, ErrPaymentNotFound)
	}
	payment.Status = status

	s.logger.Info("payment processed",
		zap.Int64("ride_id", payment.RideID),
		zap.String("payment_id", payment.ID),
		zap.String("status", string(status)),
	)
	return payment, nil
}

// GetReceipt returns the receipt of a paid ride to its rider.
func (s *PaymentService) GetReceipt(ctx context.Context, p domain.Principal, rideID int64) (*domain.Receipt, error) {
	if rideID <= 0 {
		return nil, ErrInvalidRideID
	}

	ride, err := s.ownedRide(ctx, p, rideID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	payment, err := s.paymentRepo.GetByRideID(ctx, rideID)
	if err != nil {
		return nil, classify(err, ErrPaymentNotFound)
	}
	return s.receiptService.GenerateReceipt(ride, payment), nil
}

func (s *PaymentService) payableRide(ctx context.Context, p domain.Principal, rideID int64) (*domain.Ride, error) {
	ride, err := s.ownedRide(ctx, p, rideID)
	if err != nil {
		return nil, err
	}
	if ride.Status != domain.RideStatusCompleted {
		return nil, ErrRideNotCompleted
	}
	return ride, nil
}

// ownedRide loads a ride and checks the principal is its rider.
func (s *PaymentService) ownedRide(ctx context.Context, p domain.Principal, rideID int64) (*domain.Ride, error) {
	riderID, err := s.identity.ResolveRider(ctx, p)
	if err != nil {
		return nil, err
	}

	cctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	ride, err := s.rideRepo.GetByID(cctx, rideID)
	if err != nil {
		return nil, classify(err, ErrRideNotFound)
	}
	if ride.RiderID != riderID {
		return nil, ErrNotRideOwner
	}
	return ride, nil
}

func paymentKey(rideID int64) string {
	return "payment:ride:" + strconv.FormatInt(rideID, 10)
}

// ValidatePaymentMethod validates a payment method string. Empty defaults to CASH.
func ValidatePaymentMethod(method string) (domain.PaymentMethod, error) {
	m := domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(method)))
	switch m {
	case domain.PaymentMethodCash, domain.PaymentMethodCard,
		domain.PaymentMethodWallet, domain.PaymentMethodUPI:
		return m, nil
	case "":
		return domain.PaymentMethodCash, nil
	default:
		return "", ErrInvalidPaymentMethod
	}
}
