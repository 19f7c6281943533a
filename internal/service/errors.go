package service

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"syscall"

	"cabgo/internal/domain"
	"cabgo/internal/repository"
)

// Error kinds. Every error returned by a service wraps exactly one of these,
// so callers can branch on the kind with errors.Is.
var (
	ErrNotFound                = errors.New("not found")
	ErrNoCapacity              = errors.New("no capacity")
	ErrInvalidTransition       = errors.New("invalid transition")
	ErrUnauthorized            = errors.New("unauthorized")
	ErrConflict                = errors.New("conflict")
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	ErrInconsistentState       = errors.New("inconsistent state")
	ErrInvalidInput            = errors.New("invalid input")
	ErrFailedPrecondition      = errors.New("failed precondition")
)

var (
	// ErrRiderNotFound is returned when a principal does not resolve to a rider.
	ErrRiderNotFound = fmt.Errorf("rider not found: %w", ErrNotFound)

	// ErrDriverNotFound is returned when a principal or id does not resolve to a driver.
	ErrDriverNotFound = fmt.Errorf("driver not found: %w", ErrNotFound)

	// ErrRideNotFound is returned when a ride does not exist or the driver has no active ride.
	ErrRideNotFound = fmt.Errorf("ride not found: %w", ErrNotFound)

	// ErrPaymentNotFound is returned when a ride has no payment.
	ErrPaymentNotFound = fmt.Errorf("payment not found: %w", ErrNotFound)

	// ErrNoDriverAvailable is returned when no driver can be reserved.
	ErrNoDriverAvailable = fmt.Errorf("no driver available: %w", ErrNoCapacity)

	// ErrRideModified is returned when a ride changed between read and write.
	ErrRideModified = fmt.Errorf("ride was modified concurrently: %w", ErrConflict)

	// ErrRideLocked is returned when another transition holds the ride lock.
	ErrRideLocked = fmt.Errorf("ride is being updated: %w", ErrConflict)

	// ErrAlreadyRegistered is returned when a profile with the same email or phone exists.
	ErrAlreadyRegistered = fmt.Errorf("already registered: %w", ErrConflict)

	// ErrPaymentInProgress is returned when another request is already retrying a failed payment.
	ErrPaymentInProgress = fmt.Errorf("payment is being processed: %w", ErrConflict)

	// ErrAlreadyRated is returned when a ride already carries a rating.
	ErrAlreadyRated = fmt.Errorf("ride already rated: %w", ErrConflict)

	// ErrMultipleActiveRides is returned when a driver holds more than one non-terminal ride.
	ErrMultipleActiveRides = fmt.Errorf("driver holds multiple active rides: %w", ErrInconsistentState)

	// ErrAvailableWithActiveRide is returned when a driver is available while holding an active ride.
	ErrAvailableWithActiveRide = fmt.Errorf("driver available while holding an active ride: %w", ErrInconsistentState)

	// ErrNotRideOwner is returned when a principal acts on a ride it is not part of.
	ErrNotRideOwner = fmt.Errorf("principal does not own this ride: %w", ErrUnauthorized)

	// ErrDriverMismatch is returned when a claimed driver id differs from the credential's driver.
	ErrDriverMismatch = fmt.Errorf("driver id does not match credential: %w", ErrUnauthorized)

	// ErrRoleNotAllowed is returned when the principal's role cannot perform the operation.
	ErrRoleNotAllowed = fmt.Errorf("role not allowed: %w", ErrUnauthorized)

	// ErrRideNotCompleted is returned when payment or rating is attempted before completion.
	ErrRideNotCompleted = fmt.Errorf("ride is not completed: %w", ErrFailedPrecondition)

	// ErrInvalidPickupLocation is returned when the pickup location is empty.
	ErrInvalidPickupLocation = fmt.Errorf("invalid pickup location: %w", ErrInvalidInput)

	// ErrInvalidDropoffLocation is returned when the dropoff location is empty.
	ErrInvalidDropoffLocation = fmt.Errorf("invalid dropoff location: %w", ErrInvalidInput)

	// ErrInvalidRideID is returned when a ride id is not positive.
	ErrInvalidRideID = fmt.Errorf("invalid ride id: %w", ErrInvalidInput)

	// ErrInvalidDriverID is returned when a driver id is empty.
	ErrInvalidDriverID = fmt.Errorf("invalid driver id: %w", ErrInvalidInput)

	// ErrInvalidStatus is returned when a status is not part of the ride lifecycle.
	ErrInvalidStatus = fmt.Errorf("invalid ride status: %w", ErrInvalidInput)

	// ErrInvalidPaymentAmount is returned when payment amount is invalid.
	ErrInvalidPaymentAmount = fmt.Errorf("invalid payment amount: %w", ErrInvalidInput)

	// ErrInvalidPaymentMethod is returned when payment method is invalid.
	ErrInvalidPaymentMethod = fmt.Errorf("invalid payment method: %w", ErrInvalidInput)

	// ErrInvalidScore is returned when a rating score is outside 1..5.
	ErrInvalidScore = fmt.Errorf("score must be between 1 and 5: %w", ErrInvalidInput)

	// ErrInvalidProfile is returned when registration fields are missing.
	ErrInvalidProfile = fmt.Errorf("invalid profile: %w", ErrInvalidInput)
)

// IsRetryable reports whether a caller may retry the request unmodified.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrCollaboratorUnavailable)
}

// classify maps errors from collaborators (stores, caches, brokers) onto the
// taxonomy. notFound is used for repository.ErrNotFound. Errors already
// carrying a kind pass through unchanged.
func classify(err error, notFound error) error {
	if err == nil {
		return nil
	}

	switch {
	case isKind(err):
		return err
	case errors.Is(err, repository.ErrNotFound):
		if notFound != nil {
			return notFound
		}
		return &kindError{kind: ErrNotFound, cause: err}
	case errors.Is(err, repository.ErrStaleVersion):
		return ErrRideModified
	case errors.Is(err, repository.ErrDuplicate):
		return &kindError{kind: ErrConflict, cause: err}
	case errors.Is(err, domain.ErrIllegalTransition):
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	case errors.Is(err, domain.ErrUnknownRideStatus):
		return fmt.Errorf("%w: %v", ErrInvalidStatus, err)
	case isUnavailable(err):
		return &kindError{kind: ErrCollaboratorUnavailable, cause: err}
	}
	return err
}

// kindError reports only its kind. The collaborator's cause can name hosts,
// addresses or constraints, so it stays reachable through Cause for logs.
type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string   { return e.kind.Error() }
func (e *kindError) Unwrap() []error { return []error{e.kind, e.cause} }

// Cause returns the collaborator error behind a classified error, or nil.
func Cause(err error) error {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.cause
	}
	return nil
}

var kinds = []error{
	ErrNotFound, ErrNoCapacity, ErrInvalidTransition, ErrUnauthorized, ErrConflict,
	ErrCollaboratorUnavailable, ErrInconsistentState, ErrInvalidInput, ErrFailedPrecondition,
}

func isKind(err error) bool {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
