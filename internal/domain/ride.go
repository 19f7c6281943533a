package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RideStatus represents the current status of a ride.
type RideStatus string

const (
	RideStatusRequested RideStatus = "REQUESTED"
	RideStatusAssigned  RideStatus = "ASSIGNED"
	RideStatusOngoing   RideStatus = "ONGOING"
	RideStatusCompleted RideStatus = "COMPLETED"
	RideStatusCancelled RideStatus = "CANCELLED"

	// rideStatusInProgress is accepted from clients as a synonym of ONGOING.
	rideStatusInProgress = "IN_PROGRESS"
)

var (
	// ErrUnknownRideStatus is returned when a status string is not part of the ride lifecycle.
	ErrUnknownRideStatus = errors.New("unknown ride status")

	// ErrIllegalTransition is returned when a status change is not in the transition table.
	ErrIllegalTransition = errors.New("illegal ride status transition")
)

// rank orders the forward path. CANCELLED sits outside the path.
var rank = map[RideStatus]int{
	RideStatusRequested: 0,
	RideStatusAssigned:  1,
	RideStatusOngoing:   2,
	RideStatusCompleted: 3,
}

// ActiveRideStatuses are the non-terminal statuses. A driver holding a ride in
// one of these is unavailable.
var ActiveRideStatuses = []RideStatus{
	RideStatusRequested,
	RideStatusAssigned,
	RideStatusOngoing,
}

// ParseRideStatus validates a client-supplied status. IN_PROGRESS is normalized to ONGOING.
func ParseRideStatus(s string) (RideStatus, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	if normalized == rideStatusInProgress {
		return RideStatusOngoing, nil
	}

	status := RideStatus(normalized)
	switch status {
	case RideStatusRequested, RideStatusAssigned, RideStatusOngoing,
		RideStatusCompleted, RideStatusCancelled:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRideStatus, s)
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s RideStatus) IsTerminal() bool {
	return s == RideStatusCompleted || s == RideStatusCancelled
}

// IsActive reports whether the status holds a driver.
func (s RideStatus) IsActive() bool {
	_, onPath := rank[s]
	return onPath && !s.IsTerminal()
}

// ReleasesDriver reports whether entering this status frees the bound driver.
func (s RideStatus) ReleasesDriver() bool {
	return s.IsTerminal()
}

// ValidateTransition checks a status change against the transition table:
// forward along REQUESTED → ASSIGNED → ONGOING → COMPLETED (skipping allowed),
// or to CANCELLED from any non-terminal status.
func ValidateTransition(from, to RideStatus) error {
	if from.IsTerminal() {
		return fmt.Errorf("%w: ride is already %s", ErrIllegalTransition, from)
	}

	if to == RideStatusCancelled {
		return nil
	}

	fromRank, okFrom := rank[from]
	toRank, okTo := rank[to]
	if !okFrom || !okTo {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	if toRank <= fromRank {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// Ride represents a booked ride. DriverID is bound at booking and never changes.
type Ride struct {
	ID              int64
	RiderID         string
	DriverID        string
	PickupLocation  string
	DropoffLocation string
	Fare            float64
	Status          RideStatus
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LatestRide returns the ride with the highest id, or nil for an empty slice.
func LatestRide(rides []*Ride) *Ride {
	var latest *Ride
	for _, r := range rides {
		if latest == nil || r.ID > latest.ID {
			latest = r
		}
	}
	return latest
}
