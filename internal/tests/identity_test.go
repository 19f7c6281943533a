package tests

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cabgo/internal/domain"
	"cabgo/internal/service"
)

func TestIdentity_ResolveUsesCache(t *testing.T) {
	t.Parallel()

	users := NewMockUserRepository()
	drivers := NewMockDriverRepository(nil)
	cache := NewMockIdentityCache()
	identity := service.NewIdentityService(users, drivers, cache, time.Second, zap.NewNop())

	users.AddUser(&domain.User{ID: "rider-1", Email: "r1@example.com"})
	p := domain.Principal{Subject: "r1@example.com", Role: domain.RoleRider}

	for i := 0; i < 3; i++ {
		id, err := identity.ResolveRider(context.Background(), p)
		require.NoError(t, err)
		assert.Equal(t, "rider-1", id)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&users.GetByEmailCallCount))
}

func TestIdentity_CacheOutageFallsBackToStore(t *testing.T) {
	t.Parallel()

	users := NewMockUserRepository()
	cache := NewMockIdentityCache()
	cache.GetError = errStoreDown
	identity := service.NewIdentityService(users, NewMockDriverRepository(nil), cache, time.Second, zap.NewNop())

	users.AddUser(&domain.User{ID: "rider-1", Email: "r1@example.com"})

	id, err := identity.ResolveRider(context.Background(), domain.Principal{Subject: "r1@example.com", Role: domain.RoleRider})
	require.NoError(t, err)
	assert.Equal(t, "rider-1", id)
}

func TestIdentity_StoreTimeoutIsRetryable(t *testing.T) {
	t.Parallel()

	users := NewMockUserRepository()
	users.GetByEmailError = context.DeadlineExceeded
	identity := service.NewIdentityService(users, NewMockDriverRepository(nil), nil, time.Second, zap.NewNop())

	_, err := identity.ResolveRider(context.Background(), domain.Principal{Subject: "r1@example.com", Role: domain.RoleRider})
	assert.ErrorIs(t, err, service.ErrCollaboratorUnavailable)
	assert.True(t, service.IsRetryable(err))
}

func TestIdentity_RiderSubjectIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	ctx := context.Background()

	user, err := env.identity.RegisterRider(ctx, service.RegisterRiderRequest{Name: "Ana", Email: "Ana@Example.com"})
	require.NoError(t, err)

	for _, subject := range []string{"Ana@Example.com", " ANA@example.com ", "ana@example.com"} {
		id, err := env.identity.ResolveRider(ctx, domain.Principal{Subject: subject, Role: domain.RoleRider})
		require.NoError(t, err, subject)
		assert.Equal(t, user.ID, id, subject)
	}

	env.addDriver("driver-1", "555-0001")
	ride, err := env.rideService.BookRide(ctx, domain.Principal{Subject: "Ana@Example.com", Role: domain.RoleRider},
		service.BookRideRequest{PickupLocation: "A", DropoffLocation: "B"})
	require.NoError(t, err)
	assert.Equal(t, user.ID, ride.RiderID)
}

func TestIdentity_CacheKeyUsesNormalizedSubject(t *testing.T) {
	t.Parallel()

	users := NewMockUserRepository()
	cache := NewMockIdentityCache()
	identity := service.NewIdentityService(users, NewMockDriverRepository(nil), cache, time.Second, zap.NewNop())
	users.AddUser(&domain.User{ID: "rider-1", Email: "r1@example.com"})

	_, err := identity.ResolveRider(context.Background(), domain.Principal{Subject: "R1@Example.com", Role: domain.RoleRider})
	require.NoError(t, err)
	assert.Equal(t, "rider-1", cache.Entry(domain.RoleRider, "r1@example.com"))
	assert.Empty(t, cache.Entry(domain.RoleRider, "R1@Example.com"))
}

func TestIdentity_StaleCacheEntryIsDropped(t *testing.T) {
	t.Parallel()

	users := NewMockUserRepository()
	drivers := NewMockDriverRepository(nil)
	cache := NewMockIdentityCache()
	identity := service.NewIdentityService(users, drivers, cache, time.Second, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, cache.SetIdentity(ctx, string(domain.RoleRider), "gone@example.com", "rider-gone"))
	_, err := identity.GetRiderProfile(ctx, domain.Principal{Subject: "gone@example.com", Role: domain.RoleRider})
	assert.ErrorIs(t, err, service.ErrRiderNotFound)
	assert.Empty(t, cache.Entry(domain.RoleRider, "gone@example.com"))

	require.NoError(t, cache.SetIdentity(ctx, string(domain.RoleDriver), "555-0009", "driver-gone"))
	_, err = identity.GetDriverProfile(ctx, domain.Principal{Subject: "555-0009", Role: domain.RoleDriver})
	assert.ErrorIs(t, err, service.ErrDriverNotFound)
	assert.Empty(t, cache.Entry(domain.RoleDriver, "555-0009"))

	// Registering again replaces whatever an earlier profile left behind.
	require.NoError(t, cache.SetIdentity(ctx, string(domain.RoleRider), "new@example.com", "rider-old"))
	user, err := identity.RegisterRider(ctx, service.RegisterRiderRequest{Name: "New", Email: "new@example.com"})
	require.NoError(t, err)

	id, err := identity.ResolveRider(ctx, domain.Principal{Subject: "new@example.com", Role: domain.RoleRider})
	require.NoError(t, err)
	assert.Equal(t, user.ID, id)
}

func TestIdentity_StalledCacheIsBounded(t *testing.T) {
	t.Parallel()

	users := NewMockUserRepository()
	cache := NewMockIdentityCache()
	cache.Stall = true
	identity := service.NewIdentityService(users, NewMockDriverRepository(nil), cache, 50*time.Millisecond, zap.NewNop())
	users.AddUser(&domain.User{ID: "rider-1", Email: "r1@example.com"})

	start := time.Now()
	id, err := identity.ResolveRider(context.Background(), domain.Principal{Subject: "r1@example.com", Role: domain.RoleRider})
	require.NoError(t, err)
	assert.Equal(t, "rider-1", id)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestIdentity_RoleMismatch(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	rider := env.addRider("rider-1", "r1@example.com")
	driver := env.addDriver("driver-1", "555-0001")

	_, err := env.identity.ResolveDriver(context.Background(), rider)
	assert.ErrorIs(t, err, service.ErrUnauthorized)
	_, err = env.identity.ResolveRider(context.Background(), driver)
	assert.ErrorIs(t, err, service.ErrUnauthorized)

	_, err = env.identity.ResolveDriver(context.Background(), domain.Principal{Subject: "555-9999", Role: domain.RoleDriver})
	assert.ErrorIs(t, err, service.ErrDriverNotFound)
}

func TestRegistration(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	ctx := context.Background()

	user, err := env.identity.RegisterRider(ctx, service.RegisterRiderRequest{Name: "Ana", Email: "Ana@Example.com", Phone: "555"})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", user.Email)

	_, err = env.identity.RegisterRider(ctx, service.RegisterRiderRequest{Name: "Ana 2", Email: "ana@example.com"})
	assert.ErrorIs(t, err, service.ErrAlreadyRegistered)

	_, err = env.identity.RegisterRider(ctx, service.RegisterRiderRequest{Name: "Bad", Email: "not-an-email"})
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	profile, err := env.identity.GetRiderProfile(ctx, domain.Principal{Subject: "ana@example.com", Role: domain.RoleRider})
	require.NoError(t, err)
	assert.Equal(t, user.ID, profile.ID)

	driver, err := env.directory.Register(ctx, service.RegisterDriverRequest{Name: "Ben", Phone: "555-0101", LicenseNumber: "L-1"})
	require.NoError(t, err)
	assert.True(t, driver.Available)

	_, err = env.directory.Register(ctx, service.RegisterDriverRequest{Name: "Ben", Phone: "555-0101"})
	assert.ErrorIs(t, err, service.ErrConflict)

	dp, err := env.identity.GetDriverProfile(ctx, domain.Principal{Subject: "555-0101", Role: domain.RoleDriver})
	require.NoError(t, err)
	assert.Equal(t, driver.ID, dp.ID)

	available, err := env.directory.ListAvailable(ctx, operator())
	require.NoError(t, err)
	assert.Len(t, available, 1)

	_, err = env.directory.ListAvailable(ctx, domain.Principal{Subject: "555-0101", Role: domain.RoleDriver})
	assert.ErrorIs(t, err, service.ErrUnauthorized)
}

func TestDirectory_ReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	env.addDriver("driver-1", "555-0001")

	require.NoError(t, env.directory.Release(context.Background(), "driver-1"))
	require.NoError(t, env.directory.Release(context.Background(), "driver-1"))
	assert.True(t, env.drivers.IsAvailable("driver-1"))

	err := env.directory.Release(context.Background(), "ghost")
	assert.ErrorIs(t, err, service.ErrDriverNotFound)
}

func TestDirectory_Lookups(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	env.addDriver("driver-1", "555-0001")
	ctx := context.Background()

	byPhone, err := env.directory.FindByPhone(ctx, " 555-0001 ")
	require.NoError(t, err)
	assert.Equal(t, "driver-1", byPhone.ID)

	byID, err := env.directory.FindByID(ctx, "driver-1")
	require.NoError(t, err)
	assert.Equal(t, "555-0001", byID.Phone)

	_, err = env.directory.FindByID(ctx, "")
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	_, err = env.directory.FindByPhone(ctx, "555-9999")
	assert.ErrorIs(t, err, service.ErrDriverNotFound)
}
