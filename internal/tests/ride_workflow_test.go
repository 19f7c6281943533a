package tests

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cabgo/internal/domain"
	"cabgo/internal/service"
)

// ──────────────────────────────────────────────
// 1. BOOKING
// ──────────────────────────────────────────────

func TestBookRide_ReservesDriverAndPersistsRequestedRide(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	rider := env.addRider("rider-1", "r1@example.com")
	env.addDriver("driver-1", "555-0001")

	ride, err := env.rideService.BookRide(context.Background(), rider, service.BookRideRequest{
		PickupLocation:  "Airport",
		DropoffLocation: "Downtown",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), ride.ID)
	assert.Equal(t, "rider-1", ride.RiderID)
	assert.Equal(t, "driver-1", ride.DriverID)
	assert.Equal(t, domain.RideStatusRequested, ride.Status)
	assert.Equal(t, 100.0, ride.Fare)
	assert.False(t, env.drivers.IsAvailable("driver-1"))
	assert.Equal(t, []string{"ride.requested"}, env.publisher.Keys())
}

func TestBookRide_ValidatesLocations(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		req     service.BookRideRequest
		wantErr error
	}{
		{"missing pickup", service.BookRideRequest{DropoffLocation: "B"}, service.ErrInvalidPickupLocation},
		{"blank pickup", service.BookRideRequest{PickupLocation: "  ", DropoffLocation: "B"}, service.ErrInvalidPickupLocation},
		{"missing dropoff", service.BookRideRequest{PickupLocation: "A"}, service.ErrInvalidDropoffLocation},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv()
			rider := env.addRider("rider-1", "r1@example.com")
			env.addDriver("driver-1", "555-0001")

			_, err := env.rideService.BookRide(context.Background(), rider, tc.req)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.ErrorIs(t, err, service.ErrInvalidInput)
			assert.True(t, env.drivers.IsAvailable("driver-1"), "no reservation on invalid input")
		})
	}
}

func TestBookRide_UnknownRider(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	env.addDriver("driver-1", "555-0001")
	ghost := domain.Principal{Subject: "ghost@example.com", Role: domain.RoleRider}

	_, err := env.rideService.BookRide(context.Background(), ghost, service.BookRideRequest{PickupLocation: "A", DropoffLocation: "B"})
	assert.ErrorIs(t, err, service.ErrRiderNotFound)
	assert.ErrorIs(t, err, service.ErrNotFound)
	assert.True(t, env.drivers.IsAvailable("driver-1"))
}

func TestBookRide_DriverPrincipalRejected(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	driver := env.addDriver("driver-1", "555-0001")

	_, err := env.rideService.BookRide(context.Background(), driver, service.BookRideRequest{PickupLocation: "A", DropoffLocation: "B"})
	assert.ErrorIs(t, err, service.ErrUnauthorized)
}

func TestBookRide_NoDrivers_NoCapacityAndNoRide(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	rider := env.addRider("rider-1", "r1@example.com")

	_, err := env.rideService.BookRide(context.Background(), rider, service.BookRideRequest{PickupLocation: "A", DropoffLocation: "B"})
	assert.ErrorIs(t, err, service.ErrNoDriverAvailable)
	assert.ErrorIs(t, err, service.ErrNoCapacity)
	assert.False(t, service.IsRetryable(err))
	assert.Equal(t, 0, env.rides.CountRides())
}

func TestBookRide_ConcurrentBookingsAgainstOneDriver(t *testing.T) {
	t.Parallel()

	const n = 20
	env := newTestEnv()
	env.addDriver("driver-1", "555-0001")
	riders := make([]domain.Principal, n)
	for i := range riders {
		riders[i] = env.addRider("rider-"+string(rune('a'+i)), string(rune('a'+i))+"@example.com")
	}

	var (
		wg         sync.WaitGroup
		successes  int32
		noCapacity int32
		start      = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(p domain.Principal) {
			defer wg.Done()
			<-start
			_, err := env.rideService.BookRide(context.Background(), p, service.BookRideRequest{PickupLocation: "A", DropoffLocation: "B"})
			switch {
			case err == nil:
				atomic.AddInt32(&successes, 1)
			case errors.Is(err, service.ErrNoCapacity):
				atomic.AddInt32(&noCapacity, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(riders[i])
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), successes)
	assert.Equal(t, int32(n-1), noCapacity)
	assert.Equal(t, 1, env.rides.CountRides())
	assert.Empty(t, env.availabilityViolations())
}

// ──────────────────────────────────────────────
// 2. COMPENSATION
// ──────────────────────────────────────────────

func TestBookRide_PersistenceFailure_ReleasesDriver(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	rider := env.addRider("rider-1", "r1@example.com")
	env.addDriver("driver-1", "555-0001")
	env.rides.CreateError = errStoreDown

	_, err := env.rideService.BookRide(context.Background(), rider, service.BookRideRequest{PickupLocation: "A", DropoffLocation: "B"})
	require.Error(t, err)

	assert.True(t, env.drivers.IsAvailable("driver-1"), "compensation must release the driver")
	assert.Equal(t, 0, env.rides.CountRides())
	assert.Equal(t, int32(1), atomic.LoadInt32(&env.drivers.ReleaseCallCount))
	assert.Empty(t, env.publisher.Keys())
}

func TestBookRide_PersistenceTimeout_IsRetryable(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	rider := env.addRider("rider-1", "r1@example.com")
	env.addDriver("driver-1", "555-0001")
	env.rides.CreateError = context.DeadlineExceeded

	_, err := env.rideService.BookRide(context.Background(), rider, service.BookRideRequest{PickupLocation: "A", DropoffLocation: "B"})
	assert.ErrorIs(t, err, service.ErrCollaboratorUnavailable)
	assert.True(t, service.IsRetryable(err))
	assert.True(t, env.drivers.IsAvailable("driver-1"))
}

func TestBookRide_CompensationRetriesRelease(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	rider := env.addRider("rider-1", "r1@example.com")
	env.addDriver("driver-1", "555-0001")
	env.rides.CreateError = errStoreDown
	env.drivers.ReleaseError = context.DeadlineExceeded
	env.drivers.ReleaseFailures = 2

	_, err := env.rideService.BookRide(context.Background(), rider, service.BookRideRequest{PickupLocation: "A", DropoffLocation: "B"})
	require.Error(t, err)

	assert.True(t, env.drivers.IsAvailable("driver-1"))
	assert.Equal(t, int32(3), atomic.LoadInt32(&env.drivers.ReleaseCallCount))
}

func TestBookRide_InsertLandedDespiteError_ReturnsStoredRide(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	rider := env.addRider("rider-1", "r1@example.com")
	env.addDriver("driver-1", "555-0001")
	env.rides.CreateError = context.DeadlineExceeded
	env.rides.CreatePersistsOnError = true

	ride, err := env.rideService.BookRide(context.Background(), rider, service.BookRideRequest{PickupLocation: "A", DropoffLocation: "B"})
	require.NoError(t, err)

	assert.Equal(t, "driver-1", ride.DriverID)
	assert.False(t, env.drivers.IsAvailable("driver-1"), "driver stays bound to the stored ride")
	assert.Empty(t, env.availabilityViolations())
}

func TestBookRide_UnverifiableInsert_KeepsReservation(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	rider := env.addRider("rider-1", "r1@example.com")
	env.addDriver("driver-1", "555-0001")
	env.rides.CreateError = context.DeadlineExceeded
	env.rides.ListByDriverError = errStoreDown

	_, err := env.rideService.BookRide(context.Background(), rider, service.BookRideRequest{PickupLocation: "A", DropoffLocation: "B"})
	require.Error(t, err)

	assert.False(t, env.drivers.IsAvailable("driver-1"), "never release while the ride may exist")
	assert.Equal(t, int32(0), atomic.LoadInt32(&env.drivers.ReleaseCallCount))
}

// ──────────────────────────────────────────────
// 3. STATUS TRANSITIONS
// ──────────────────────────────────────────────

func TestRideLifecycle_BookOngoingComplete(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	ctx := context.Background()
	rider := env.addRider("rider-1", "r1@example.com")
	driver := env.addDriver("driver-1", "555-0001")

	ride, err := env.rideService.BookRide(ctx, rider, service.BookRideRequest{PickupLocation: "A", DropoffLocation: "B"})
	require.NoError(t, err)
	assert.False(t, env.drivers.IsAvailable("driver-1"))

	updated, err := env.rideService.UpdateStatus(ctx, driver, service.UpdateStatusRequest{Status: "ONGOING"})
	require.NoError(t, err)
	assert.Equal(t, domain.RideStatusOngoing, updated.Status)
	assert.False(t, env.drivers.IsAvailable("driver-1"))

	updated, err = env.rideService.UpdateStatus(ctx, driver, service.UpdateStatusRequest{Status: "COMPLETED"})
	require.NoError(t, err)
	assert.Equal(t, domain.RideStatusCompleted, updated.Status)
	assert.True(t, env.drivers.IsAvailable("driver-1"))

	// The completed ride is immutable.
	_, err = env.rideService.UpdateStatus(ctx, driver, service.UpdateStatusRequest{Status: "CANCELLED", RideID: ride.ID})
	assert.ErrorIs(t, err, service.ErrInvalidTransition)
	_, err = env.rideService.UpdateStatus(ctx, driver, service.UpdateStatusRequest{Status: "ONGOING"})
	assert.ErrorIs(t, err, service.ErrRideNotFound)
	assert.Equal(t, domain.RideStatusCompleted, env.rides.GetRide(ride.ID).Status)

	assert.Equal(t, []string{"ride.requested", "ride.ongoing", "ride.completed"}, env.publisher.Keys())
	assert.Empty(t, env.availabilityViolations())
	assert.False(t, env.locks.IsLocked(ride.ID))
}

func TestUpdateStatus_InProgressIsOngoing(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	ctx := context.Background()
	rider := env.addRider("rider-1", "r1@example.com")
	driver := env.addDriver("driver-1", "555-0001")

	_, err := env.rideService.BookRide(ctx, rider, service.BookRideRequest{PickupLocation: "A", DropoffLocation: "B"})
	require.NoError(t, err)

	updated, err := env.rideService.UpdateStatus(ctx, driver, service.UpdateStatusRequest{Status: "in_progress"})
	require.NoError(t, err)
	assert.Equal(t, domain.RideStatusOngoing, updated.Status)
}

func TestUpdateStatus_RejectsBackwardAndUnknown(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	ctx := context.Background()
	rider := env.addRider("rider-1", "r1@example.com")
	driver := env.addDriver("driver-1", "555-0001")

	ride, err := env.rideService.BookRide(ctx, rider, service.BookRideRequest{PickupLocation: "A", DropoffLocation: "B"})
	require.NoError(t, err)
	_, err = env.rideService.UpdateStatus(ctx, driver, service.UpdateStatusRequest{Status: "ONGOING"})
	require.NoError(t, err)

	_, err = env.rideService.UpdateStatus(ctx, driver, service.UpdateStatusRequest{Status: "ASSIGNED"})
	assert.ErrorIs(t, err, service.ErrInvalidTransition)

	_, err = env.rideService.UpdateStatus(ctx, driver, service.UpdateStatusRequest{Status: "REQUESTED"})
	assert.ErrorIs(t, err, service.ErrInvalidTransition)

	_, err = env.rideService.UpdateStatus(ctx, driver, service.UpdateStatusRequest{Status: "PAID"})
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	assert.Equal(t, domain.RideStatusOngoing, env.rides.GetRide(ride.ID).Status, "state unchanged")
}

func TestUpdateStatus_ForeignDriverIDIsUnauthorized(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	ctx := context.Background()
	rider := env.addRider("rider-1", "r1@example.com")
	env.addDriver("driver-1", "555-0001")
	intruder := env.addDriver("driver-2", "555-0002")

	ride, err := env.rideService.BookRide(ctx, rider, service.BookRideRequest{PickupLocation: "A", DropoffLocation: "B"})
	require.NoError(t, err)
	require.Equal(t, "driver-1", ride.DriverID)

	_, err = env.rideService.UpdateStatus(ctx, intruder, service.UpdateStatusRequest{
		Status:          "COMPLETED",
		ClaimedDriverID: "driver-1",
	})
	assert.ErrorIs(t, err, service.ErrUnauthorized)

	_, err = env.rideService.UpdateStatus(ctx, intruder, service.UpdateStatusRequest{
		Status: "COMPLETED",
		RideID: ride.ID,
	})
	assert.ErrorIs(t, err, service.ErrUnauthorized)

	assert.Equal(t, domain.RideStatusRequested, env.rides.GetRide(ride.ID).Status)
	assert.False(t, env.drivers.IsAvailable("driver-1"))
}

func TestUpdateStatus_MatchingClaimedDriverIDAccepted(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	ctx := context.Background()
	rider := env.addRider("rider-1", "r1@example.com")
	driver := env.addDriver("driver-1", "555-0001")

	ride, err := env.rideService.BookRide(ctx, rider, service.BookRideRequest{PickupLocation: "A", DropoffLocation: "B"})
	require.NoError(t, err)

	updated, err := env.rideService.UpdateStatus(ctx, driver, service.UpdateStatusRequest{
		Status:          "ASSIGNED",
		RideID:          ride.ID,
		ClaimedDriverID: "driver-1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RideStatusAssigned, updated.Status)
}

func TestUpdateStatus_NoActiveRide(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	driver := env.addDriver("driver-1", "555-0001")

	_, err := env.rideService.UpdateStatus(context.Background(), driver, service.UpdateStatusRequest{Status: "ONGOING"})
	assert.ErrorIs(t, err, service.ErrRideNotFound)
}

func TestUpdateStatus_MultipleActiveRidesIsInconsistent(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	driver := env.addDriver("driver-1", "555-0001")
	env.rides.AddRide(&domain.Ride{ID: 1, RiderID: "r1", DriverID: "driver-1", Status: domain.RideStatusRequested})
	env.rides.AddRide(&domain.Ride{ID: 2, RiderID: "r2", DriverID: "driver-1", Status: domain.RideStatusOngoing})

	_, err := env.rideService.UpdateStatus(context.Background(), driver, service.UpdateStatusRequest{Status: "COMPLETED"})
	assert.ErrorIs(t, err, service.ErrInconsistentState)
	assert.False(t, service.IsRetryable(err))
	assert.Equal(t, int32(0), atomic.LoadInt32(&env.rides.UpdateCallCount))
}

func TestUpdateStatus_ConcurrentTransitions_OneConflict(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	ctx := context.Background()
	rider := env.addRider("rider-1", "r1@example.com")
	driver := env.addDriver("driver-1", "555-0001")

	ride, err := env.rideService.BookRide(ctx, rider, service.BookRideRequest{PickupLocation: "A", DropoffLocation: "B"})
	require.NoError(t, err)

	// Both requests read the ride before either writes.
	var arrived sync.WaitGroup
	arrived.Add(2)
	var calls int32
	env.rides.AfterListByDriver = func() {
		if atomic.AddInt32(&calls, 1) <= 2 {
			arrived.Done()
			arrived.Wait()
		}
	}

	targets := []string{"ONGOING", "COMPLETED"}
	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, status := range targets {
		wg.Add(1)
		go func(i int, status string) {
			defer wg.Done()
			_, errs[i] = env.rideService.UpdateStatus(ctx, driver, service.UpdateStatusRequest{Status: status})
		}(i, status)
	}
	wg.Wait()

	var succeeded, conflicted int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, service.ErrConflict):
			conflicted++
			assert.True(t, service.IsRetryable(err))
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicted)
	assert.Equal(t, int64(2), env.rides.GetRide(ride.ID).Version)
	assert.Empty(t, env.availabilityViolations())
}

func TestUpdateStatus_RideLockHeld_Conflict(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	ctx := context.Background()
	rider := env.addRider("rider-1", "r1@example.com")
	driver := env.addDriver("driver-1", "555-0001")

	ride, err := env.rideService.BookRide(ctx, rider, service.BookRideRequest{PickupLocation: "A", DropoffLocation: "B"})
	require.NoError(t, err)
	env.locks.Hold(ride.ID)

	_, err = env.rideService.UpdateStatus(ctx, driver, service.UpdateStatusRequest{Status: "ONGOING"})
	assert.ErrorIs(t, err, service.ErrRideLocked)
	assert.ErrorIs(t, err, service.ErrConflict)
}

func TestUpdateStatus_LockStoreDown_FallsBackToVersionCheck(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	ctx := context.Background()
	rider := env.addRider("rider-1", "r1@example.com")
	driver := env.addDriver("driver-1", "555-0001")
	env.locks.AcquireError = errStoreDown

	_, err := env.rideService.BookRide(ctx, rider, service.BookRideRequest{PickupLocation: "A", DropoffLocation: "B"})
	require.NoError(t, err)

	updated, err := env.rideService.UpdateStatus(ctx, driver, service.UpdateStatusRequest{Status: "ONGOING"})
	require.NoError(t, err)
	assert.Equal(t, domain.RideStatusOngoing, updated.Status)
}

func TestUpdateStatus_StalledLockStoreIsBounded(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	ctx := context.Background()
	rider := env.addRider("rider-1", "r1@example.com")
	driver := env.addDriver("driver-1", "555-0001")

	_, err := env.rideService.BookRide(ctx, rider, service.BookRideRequest{PickupLocation: "A", DropoffLocation: "B"})
	require.NoError(t, err)

	env.locks.Stall = true
	start := time.Now()
	updated, err := env.rideService.UpdateStatus(ctx, driver, service.UpdateStatusRequest{Status: "ONGOING"})
	require.NoError(t, err)
	assert.Equal(t, domain.RideStatusOngoing, updated.Status)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestUpdateStatus_ReleaseFailureStillCommits(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	ctx := context.Background()
	rider := env.addRider("rider-1", "r1@example.com")
	driver := env.addDriver("driver-1", "555-0001")

	_, err := env.rideService.BookRide(ctx, rider, service.BookRideRequest{PickupLocation: "A", DropoffLocation: "B"})
	require.NoError(t, err)

	env.drivers.ReleaseError = context.DeadlineExceeded
	env.drivers.ReleaseFailures = 100

	updated, err := env.rideService.UpdateStatus(ctx, driver, service.UpdateStatusRequest{Status: "COMPLETED"})
	require.NoError(t, err)
	assert.Equal(t, domain.RideStatusCompleted, updated.Status)
	assert.False(t, env.drivers.IsAvailable("driver-1"), "leak left for reconciliation")
	assert.Equal(t, int32(3), atomic.LoadInt32(&env.drivers.ReleaseCallCount))
}

// ──────────────────────────────────────────────
// 4. CANCELLATION
// ──────────────────────────────────────────────

func TestCancelRide_ByRiderReleasesDriver(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	ctx := context.Background()
	rider := env.addRider("rider-1", "r1@example.com")
	env.addDriver("driver-1", "555-0001")

	ride, err := env.rideService.BookRide(ctx, rider, service.BookRideRequest{PickupLocation: "A", DropoffLocation: "B"})
	require.NoError(t, err)

	cancelled, err := env.rideService.CancelRide(ctx, rider, ride.ID, "changed plans")
	require.NoError(t, err)
	assert.Equal(t, domain.RideStatusCancelled, cancelled.Status)
	assert.True(t, env.drivers.IsAvailable("driver-1"))
	assert.Contains(t, env.publisher.Keys(), "ride.cancelled")

	_, err = env.rideService.CancelRide(ctx, rider, ride.ID, "again")
	assert.ErrorIs(t, err, service.ErrInvalidTransition)
}

func TestCancelRide_Authorization(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	ctx := context.Background()
	owner := env.addRider("rider-1", "r1@example.com")
	stranger := env.addRider("rider-2", "r2@example.com")
	bound := env.addDriver("driver-1", "555-0001")
	otherDriver := env.addDriver("driver-2", "555-0002")

	ride, err := env.rideService.BookRide(ctx, owner, service.BookRideRequest{PickupLocation: "A", DropoffLocation: "B"})
	require.NoError(t, err)
	require.Equal(t, "driver-1", ride.DriverID)

	_, err = env.rideService.CancelRide(ctx, stranger, ride.ID, "")
	assert.ErrorIs(t, err, service.ErrUnauthorized)
	_, err = env.rideService.CancelRide(ctx, otherDriver, ride.ID, "")
	assert.ErrorIs(t, err, service.ErrUnauthorized)

	_, err = env.rideService.CancelRide(ctx, bound, ride.ID, "vehicle issue")
	require.NoError(t, err)
	assert.True(t, env.drivers.IsAvailable("driver-1"))
}

func TestCancelRide_ByOperator(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	ctx := context.Background()
	rider := env.addRider("rider-1", "r1@example.com")
	env.addDriver("driver-1", "555-0001")

	ride, err := env.rideService.BookRide(ctx, rider, service.BookRideRequest{PickupLocation: "A", DropoffLocation: "B"})
	require.NoError(t, err)

	_, err = env.rideService.CancelRide(ctx, operator(), ride.ID, "fraud check")
	require.NoError(t, err)

	_, err = env.rideService.CancelRide(ctx, operator(), 999, "")
	assert.ErrorIs(t, err, service.ErrRideNotFound)
	_, err = env.rideService.CancelRide(ctx, operator(), 0, "")
	assert.ErrorIs(t, err, service.ErrInvalidInput)
}

// ──────────────────────────────────────────────
// 5. QUERIES
// ──────────────────────────────────────────────

func TestGetRide_Ownership(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	ctx := context.Background()
	owner := env.addRider("rider-1", "r1@example.com")
	stranger := env.addRider("rider-2", "r2@example.com")
	driver := env.addDriver("driver-1", "555-0001")

	ride, err := env.rideService.BookRide(ctx, owner, service.BookRideRequest{PickupLocation: "A", DropoffLocation: "B"})
	require.NoError(t, err)

	for _, p := range []domain.Principal{owner, driver, operator()} {
		got, err := env.rideService.GetRide(ctx, p, ride.ID)
		require.NoError(t, err, "role %s", p.Role)
		assert.Equal(t, ride.ID, got.ID)
	}

	_, err = env.rideService.GetRide(ctx, stranger, ride.ID)
	assert.ErrorIs(t, err, service.ErrUnauthorized)
}

func TestGetLatestRide_PicksMaxID(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	ctx := context.Background()
	rider := env.addRider("rider-1", "r1@example.com")

	_, err := env.rideService.GetLatestRide(ctx, rider)
	assert.ErrorIs(t, err, service.ErrRideNotFound)

	env.rides.AddRide(&domain.Ride{ID: 3, RiderID: "rider-1", DriverID: "d", Status: domain.RideStatusCompleted})
	env.rides.AddRide(&domain.Ride{ID: 9, RiderID: "rider-1", DriverID: "d", Status: domain.RideStatusCancelled})
	env.rides.AddRide(&domain.Ride{ID: 5, RiderID: "rider-1", DriverID: "d", Status: domain.RideStatusCompleted})
	env.rides.AddRide(&domain.Ride{ID: 12, RiderID: "rider-2", DriverID: "d", Status: domain.RideStatusCompleted})

	latest, err := env.rideService.GetLatestRide(ctx, rider)
	require.NoError(t, err)
	assert.Equal(t, int64(9), latest.ID)

	rides, err := env.rideService.GetRidesForUser(ctx, rider)
	require.NoError(t, err)
	assert.Len(t, rides, 3)
}

func TestGetPendingRidesForDriver(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	driver := env.addDriver("driver-1", "555-0001")
	env.rides.AddRide(&domain.Ride{ID: 1, RiderID: "r", DriverID: "driver-1", Status: domain.RideStatusCompleted})
	env.rides.AddRide(&domain.Ride{ID: 2, RiderID: "r", DriverID: "driver-1", Status: domain.RideStatusAssigned})
	env.rides.AddRide(&domain.Ride{ID: 3, RiderID: "r", DriverID: "driver-2", Status: domain.RideStatusRequested})

	rides, err := env.rideService.GetPendingRidesForDriver(context.Background(), driver)
	require.NoError(t, err)
	require.Len(t, rides, 1)
	assert.Equal(t, int64(2), rides[0].ID)
}

// ──────────────────────────────────────────────
// 6. AVAILABILITY INVARIANT AND RECONCILIATION
// ──────────────────────────────────────────────

func TestAvailabilityInvariant_AfterMixedOperations(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	ctx := context.Background()
	drivers := []domain.Principal{
		env.addDriver("driver-1", "555-0001"),
		env.addDriver("driver-2", "555-0002"),
		env.addDriver("driver-3", "555-0003"),
	}
	riders := []domain.Principal{
		env.addRider("rider-1", "r1@example.com"),
		env.addRider("rider-2", "r2@example.com"),
		env.addRider("rider-3", "r3@example.com"),
		env.addRider("rider-4", "r4@example.com"),
	}

	var booked []*domain.Ride
	for _, r := range riders {
		ride, err := env.rideService.BookRide(ctx, r, service.BookRideRequest{PickupLocation: "A", DropoffLocation: "B"})
		if err == nil {
			booked = append(booked, ride)
		}
		require.Empty(t, env.availabilityViolations())
	}
	require.Len(t, booked, 3)

	_, err := env.rideService.UpdateStatus(ctx, drivers[0], service.UpdateStatusRequest{Status: "COMPLETED"})
	require.NoError(t, err)
	require.Empty(t, env.availabilityViolations())

	_, err = env.rideService.CancelRide(ctx, riders[1], booked[1].ID, "")
	require.NoError(t, err)
	require.Empty(t, env.availabilityViolations())

	_, err = env.rideService.UpdateStatus(ctx, drivers[2], service.UpdateStatusRequest{Status: "ONGOING"})
	require.NoError(t, err)
	require.Empty(t, env.availabilityViolations())

	ride, err := env.rideService.BookRide(ctx, riders[3], service.BookRideRequest{PickupLocation: "C", DropoffLocation: "D"})
	require.NoError(t, err)
	assert.Equal(t, "driver-1", ride.DriverID)
	assert.Empty(t, env.availabilityViolations())
}

func TestReconcileDriver_ReleasesLeakedReservation(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	env.addDriver("driver-1", "555-0001")
	env.drivers.SetAvailable("driver-1", false, time.Now().Add(-time.Hour))

	result, err := env.rideService.ReconcileDriver(context.Background(), operator(), "driver-1")
	require.NoError(t, err)
	assert.True(t, result.Released)
	assert.True(t, result.Available)
	assert.True(t, env.drivers.IsAvailable("driver-1"))
}

func TestReconcileDriver_RecentReservationKept(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	env.addDriver("driver-1", "555-0001")
	env.drivers.SetAvailable("driver-1", false, time.Now())

	result, err := env.rideService.ReconcileDriver(context.Background(), operator(), "driver-1")
	require.NoError(t, err)
	assert.False(t, result.Released)
	assert.False(t, env.drivers.IsAvailable("driver-1"))
}

func TestReconcileDriver_AvailableWithActiveRideIsReported(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	env.addDriver("driver-1", "555-0001")
	env.rides.AddRide(&domain.Ride{ID: 1, RiderID: "r", DriverID: "driver-1", Status: domain.RideStatusOngoing})

	_, err := env.rideService.ReconcileDriver(context.Background(), operator(), "driver-1")
	assert.ErrorIs(t, err, service.ErrAvailableWithActiveRide)
	assert.ErrorIs(t, err, service.ErrInconsistentState)
	assert.True(t, env.drivers.IsAvailable("driver-1"), "not repaired")
}

func TestReconcileDriver_Consistent(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	env.addDriver("driver-1", "555-0001")
	env.drivers.SetAvailable("driver-1", false, time.Now().Add(-time.Hour))
	env.rides.AddRide(&domain.Ride{ID: 1, RiderID: "r", DriverID: "driver-1", Status: domain.RideStatusAssigned})

	result, err := env.rideService.ReconcileDriver(context.Background(), operator(), "driver-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.ActiveRides)
	assert.False(t, result.Released)
}

func TestReconcileDriver_RequiresOperator(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	driver := env.addDriver("driver-1", "555-0001")

	_, err := env.rideService.ReconcileDriver(context.Background(), driver, "driver-1")
	assert.ErrorIs(t, err, service.ErrUnauthorized)

	_, err = env.rideService.ReconcileDriver(context.Background(), operator(), "missing")
	assert.ErrorIs(t, err, service.ErrDriverNotFound)
}
