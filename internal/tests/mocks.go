package tests

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"cabgo/internal/domain"
	"cabgo/internal/repository"
	"cabgo/internal/service"
)

// ──────────────────────────────────────────────
// MOCK USER REPOSITORY
// ──────────────────────────────────────────────

// MockUserRepository is a mock implementation of UserRepository.
type MockUserRepository struct {
	mu    sync.RWMutex
	users map[string]*domain.User

	// Counters for verification
	GetByEmailCallCount int32

	// Error injection
	CreateError     error
	GetByEmailError error
}

// NewMockUserRepository creates a new mock user repository.
func NewMockUserRepository() *MockUserRepository {
	return &MockUserRepository{
		users: make(map[string]*domain.User),
	}
}

// AddUser adds a user to the mock repository.
func (m *MockUserRepository) AddUser(user *domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
}

func (m *MockUserRepository) Create(ctx context.Context, user *domain.User) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return repository.ErrDuplicate
		}
	}
	user.CreatedAt = time.Now()
	copy := *user
	m.users[user.ID] = &copy
	return nil
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *user
	return &copy, nil
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	atomic.AddInt32(&m.GetByEmailCallCount, 1)
	if m.GetByEmailError != nil {
		return nil, m.GetByEmailError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			copy := *u
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

// ──────────────────────────────────────────────
// MOCK DRIVER REPOSITORY
// ──────────────────────────────────────────────

// MockDriverRepository is a mock implementation of DriverRepository.
// ReserveFirstAvailable is atomic under the repository mutex.
type MockDriverRepository struct {
	mu      sync.RWMutex
	drivers map[string]*domain.Driver
	rides   *MockRideRepository

	// Counters for verification
	ReserveCallCount int32
	ReleaseCallCount int32

	// Error injection
	ReserveError error
	ReleaseError error
	// ReleaseFailures makes the first N Release calls fail with ReleaseError.
	ReleaseFailures int32
}

// NewMockDriverRepository creates a new mock driver repository. rides backs
// the active-ride check of ReleaseIfIdle and may be nil.
func NewMockDriverRepository(rides *MockRideRepository) *MockDriverRepository {
	return &MockDriverRepository{
		drivers: make(map[string]*domain.Driver),
		rides:   rides,
	}
}

// AddDriver adds a driver to the mock repository.
func (m *MockDriverRepository) AddDriver(driver *domain.Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[driver.ID] = driver
}

// SetAvailable overrides a driver's availability and timestamp.
func (m *MockDriverRepository) SetAvailable(id string, available bool, updatedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.drivers[id]; ok {
		d.Available = available
		d.UpdatedAt = updatedAt
	}
}

// IsAvailable returns a driver's availability for test assertions.
func (m *MockDriverRepository) IsAvailable(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	return ok && d.Available
}

// IDs returns all driver ids.
func (m *MockDriverRepository) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.drivers))
	for id := range m.drivers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *MockDriverRepository) Create(ctx context.Context, driver *domain.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.drivers {
		if d.Phone == driver.Phone {
			return repository.ErrDuplicate
		}
	}
	driver.UpdatedAt = time.Now()
	copy := *driver
	m.drivers[driver.ID] = &copy
	return nil
}

func (m *MockDriverRepository) GetByID(ctx context.Context, id string) (*domain.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	driver, ok := m.drivers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	// Return a copy to avoid mutation issues.
	copy := *driver
	return &copy, nil
}

func (m *MockDriverRepository) GetByPhone(ctx context.Context, phone string) (*domain.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.drivers {
		if d.Phone == phone {
			copy := *d
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *MockDriverRepository) ListAvailable(ctx context.Context) ([]*domain.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Driver
	for _, d := range m.drivers {
		if d.Available {
			copy := *d
			result = append(result, &copy)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MockDriverRepository) ReserveFirstAvailable(ctx context.Context) (*domain.Driver, error) {
	atomic.AddInt32(&m.ReserveCallCount, 1)
	if m.ReserveError != nil {
		return nil, m.ReserveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var picked *domain.Driver
	for _, d := range m.drivers {
		if d.Available && (picked == nil || d.ID < picked.ID) {
			picked = d
		}
	}
	if picked == nil {
		return nil, repository.ErrNotFound
	}
	picked.Available = false
	picked.UpdatedAt = time.Now()
	copy := *picked
	return &copy, nil
}

func (m *MockDriverRepository) Release(ctx context.Context, id string) error {
	atomic.AddInt32(&m.ReleaseCallCount, 1)
	if m.ReleaseError != nil {
		if atomic.AddInt32(&m.ReleaseFailures, -1) >= 0 {
			return m.ReleaseError
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	driver, ok := m.drivers[id]
	if !ok {
		return repository.ErrNotFound
	}
	if !driver.Available {
		driver.Available = true
		driver.UpdatedAt = time.Now()
	}
	return nil
}

func (m *MockDriverRepository) ReleaseIfIdle(ctx context.Context, id string, grace time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	driver, ok := m.drivers[id]
	if !ok || driver.Available || time.Since(driver.UpdatedAt) < grace {
		return false, nil
	}
	if m.rides != nil && m.rides.CountActiveForDriver(id) > 0 {
		return false, nil
	}
	driver.Available = true
	driver.UpdatedAt = time.Now()
	return true, nil
}

// ──────────────────────────────────────────────
// MOCK RIDE REPOSITORY
// ──────────────────────────────────────────────

// MockRideRepository is a mock implementation of RideRepository with
// version-checked status updates.
type MockRideRepository struct {
	mu     sync.RWMutex
	rides  map[int64]*domain.Ride
	nextID int64

	// Counters for verification
	CreateCallCount int32
	UpdateCallCount int32

	// Error injection
	CreateError       error
	ListByDriverError error
	UpdateError       error

	// CreatePersistsOnError stores the ride even when CreateError is returned.
	CreatePersistsOnError bool

	// AfterListByDriver runs after ListByDriver has read its snapshot.
	AfterListByDriver func()
}

// NewMockRideRepository creates a new mock ride repository.
func NewMockRideRepository() *MockRideRepository {
	return &MockRideRepository{
		rides: make(map[int64]*domain.Ride),
	}
}

// AddRide adds a ride to the mock repository, keeping its id.
func (m *MockRideRepository) AddRide(ride *domain.Ride) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ride.Version == 0 {
		ride.Version = 1
	}
	m.rides[ride.ID] = ride
	if ride.ID > m.nextID {
		m.nextID = ride.ID
	}
}

func (m *MockRideRepository) Create(ctx context.Context, ride *domain.Ride) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil && !m.CreatePersistsOnError {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	ride.ID = m.nextID
	ride.Version = 1
	ride.CreatedAt = time.Now()
	ride.UpdatedAt = ride.CreatedAt
	copy := *ride
	m.rides[ride.ID] = &copy
	return m.CreateError
}

func (m *MockRideRepository) GetByID(ctx context.Context, id int64) (*domain.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ride, ok := m.rides[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *ride
	return &copy, nil
}

func (m *MockRideRepository) ListByRider(ctx context.Context, riderID string) ([]*domain.Ride, error) {
	return m.filter(func(r *domain.Ride) bool { return r.RiderID == riderID }), nil
}

func (m *MockRideRepository) ListByDriver(ctx context.Context, driverID string, statuses []domain.RideStatus) ([]*domain.Ride, error) {
	if m.ListByDriverError != nil {
		return nil, m.ListByDriverError
	}
	rides := m.filter(func(r *domain.Ride) bool {
		if r.DriverID != driverID {
			return false
		}
		for _, s := range statuses {
			if r.Status == s {
				return true
			}
		}
		return false
	})
	if m.AfterListByDriver != nil {
		m.AfterListByDriver()
	}
	return rides, nil
}

func (m *MockRideRepository) UpdateStatus(ctx context.Context, id int64, expectedVersion int64, status domain.RideStatus) (*domain.Ride, error) {
	atomic.AddInt32(&m.UpdateCallCount, 1)
	if m.UpdateError != nil {
		return nil, m.UpdateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ride, ok := m.rides[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if ride.Version != expectedVersion {
		return nil, repository.ErrStaleVersion
	}
	ride.Status = status
	ride.Version++
	ride.UpdatedAt = time.Now()
	copy := *ride
	return &copy, nil
}

// CountRides returns the number of stored rides.
func (m *MockRideRepository) CountRides() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rides)
}

// CountActiveForDriver returns the number of non-terminal rides bound to a driver.
func (m *MockRideRepository) CountActiveForDriver(driverID string) int {
	return len(m.filter(func(r *domain.Ride) bool {
		return r.DriverID == driverID && r.Status.IsActive()
	}))
}

// GetRide returns a stored ride for test assertions.
func (m *MockRideRepository) GetRide(id int64) *domain.Ride {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.rides[id]; ok {
		copy := *r
		return &copy
	}
	return nil
}

func (m *MockRideRepository) filter(keep func(*domain.Ride) bool) []*domain.Ride {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Ride
	for _, r := range m.rides {
		if keep(r) {
			copy := *r
			result = append(result, &copy)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// ──────────────────────────────────────────────
// MOCK PAYMENT REPOSITORY
// ──────────────────────────────────────────────

// MockPaymentRepository is a mock implementation of PaymentRepository.
type MockPaymentRepository struct {
	mu       sync.RWMutex
	payments map[string]*domain.Payment

	// Counters for verification
	CreateCallCount int32

	// Error injection
	CreateError error
}

// NewMockPaymentRepository creates a new mock payment repository.
func NewMockPaymentRepository() *MockPaymentRepository {
	return &MockPaymentRepository{
		payments: make(map[string]*domain.Payment),
	}
}

func (m *MockPaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.IdempotencyKey == payment.IdempotencyKey {
			return repository.ErrDuplicate
		}
	}
	payment.CreatedAt = time.Now()
	copy := *payment
	m.payments[payment.ID] = &copy
	return nil
}

func (m *MockPaymentRepository) GetByRideID(ctx context.Context, rideID int64) (*domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.payments {
		if p.RideID == rideID {
			copy := *p
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *MockPaymentRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.payments {
		if p.IdempotencyKey == key {
			copy := *p
			return &copy, nil
		}
	}
	return nil, nil
}

func (m *MockPaymentRepository) UpdateStatus(ctx context.Context, id string, status domain.PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.Status = status
	return nil
}

func (m *MockPaymentRepository) RestartFailed(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return repository.ErrNotFound
	}
	if p.Status != domain.PaymentStatusFailed {
		return repository.ErrStaleVersion
	}
	p.Status = domain.PaymentStatusPending
	return nil
}

// CountPayments returns the number of stored payments.
func (m *MockPaymentRepository) CountPayments() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.payments)
}

// ──────────────────────────────────────────────
// MOCK RATING REPOSITORY
// ──────────────────────────────────────────────

// MockRatingRepository is a mock implementation of RatingRepository.
type MockRatingRepository struct {
	mu      sync.RWMutex
	ratings []*domain.Rating
}

// NewMockRatingRepository creates a new mock rating repository.
func NewMockRatingRepository() *MockRatingRepository {
	return &MockRatingRepository{}
}

func (m *MockRatingRepository) Create(ctx context.Context, rating *domain.Rating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.ratings {
		if r.RideID == rating.RideID {
			return repository.ErrDuplicate
		}
	}
	rating.CreatedAt = time.Now()
	copy := *rating
	m.ratings = append(m.ratings, &copy)
	return nil
}

func (m *MockRatingRepository) ListByDriver(ctx context.Context, driverID string) ([]*domain.Rating, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Rating
	for i := len(m.ratings) - 1; i >= 0; i-- {
		if m.ratings[i].DriverID == driverID {
			copy := *m.ratings[i]
			result = append(result, &copy)
		}
	}
	return result, nil
}

// ──────────────────────────────────────────────
// MOCK LOCK STORE
// ──────────────────────────────────────────────

// MockLockStore is a mock implementation of LockStoreInterface.
type MockLockStore struct {
	mu    sync.Mutex
	locks map[int64]string
	seq   int

	// Counters for verification
	AcquireCallCount int32

	// Error injection
	AcquireError error

	// Stall makes AcquireRideLock block until its context is done.
	Stall bool
}

// NewMockLockStore creates a new mock lock store.
func NewMockLockStore() *MockLockStore {
	return &MockLockStore{
		locks: make(map[int64]string),
	}
}

func (m *MockLockStore) AcquireRideLock(ctx context.Context, rideID int64, ttl time.Duration) (string, bool, error) {
	atomic.AddInt32(&m.AcquireCallCount, 1)
	if m.Stall {
		<-ctx.Done()
		return "", false, ctx.Err()
	}
	if m.AcquireError != nil {
		return "", false, m.AcquireError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.locks[rideID]; held {
		return "", false, nil
	}
	m.seq++
	token := "token-" + strconv.Itoa(m.seq)
	m.locks[rideID] = token
	return token, true, nil
}

func (m *MockLockStore) ReleaseRideLock(ctx context.Context, rideID int64, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[rideID] == token {
		delete(m.locks, rideID)
	}
	return nil
}

// Hold marks a ride as locked by someone else.
func (m *MockLockStore) Hold(rideID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks[rideID] = "held"
}

// IsLocked reports whether a ride lock is held.
func (m *MockLockStore) IsLocked(rideID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.locks[rideID]
	return ok
}

// ──────────────────────────────────────────────
// MOCK IDENTITY CACHE
// ──────────────────────────────────────────────

// MockIdentityCache is a mock implementation of IdentityCacheInterface.
type MockIdentityCache struct {
	mu      sync.Mutex
	entries map[string]string

	// Error injection
	GetError error

	// Stall makes every call block until its context is done.
	Stall bool
}

// NewMockIdentityCache creates a new mock identity cache.
func NewMockIdentityCache() *MockIdentityCache {
	return &MockIdentityCache{entries: make(map[string]string)}
}

func (m *MockIdentityCache) GetIdentity(ctx context.Context, role, subject string) (string, error) {
	if m.Stall {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if m.GetError != nil {
		return "", m.GetError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[role+":"+subject], nil
}

func (m *MockIdentityCache) SetIdentity(ctx context.Context, role, subject, id string) error {
	if m.Stall {
		<-ctx.Done()
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[role+":"+subject] = id
	return nil
}

func (m *MockIdentityCache) InvalidateIdentity(ctx context.Context, role, subject string) error {
	if m.Stall {
		<-ctx.Done()
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, role+":"+subject)
	return nil
}

// Entry returns the cached id for a subject, or "".
func (m *MockIdentityCache) Entry(role domain.Role, subject string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[string(role)+":"+subject]
}

// ──────────────────────────────────────────────
// MOCK PSP
// ──────────────────────────────────────────────

// MockPSP is a mock payment provider with configurable failure.
type MockPSP struct {
	mu          sync.Mutex
	shouldFail  bool
	failErr     error
	ChargeCount int32
}

// NewMockPSP creates a new mock PSP.
func NewMockPSP() *MockPSP {
	return &MockPSP{}
}

func (m *MockPSP) Charge(ctx context.Context, amount float64) (bool, error) {
	atomic.AddInt32(&m.ChargeCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return false, m.failErr
	}
	return !m.shouldFail, nil
}

// SetFailure configures the PSP to decline or error.
func (m *MockPSP) SetFailure(shouldFail bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFail = shouldFail
	m.failErr = err
}

// ──────────────────────────────────────────────
// MOCK PUBLISHER
// ──────────────────────────────────────────────

// MockPublisher records published notifications.
type MockPublisher struct {
	mu   sync.Mutex
	keys []string

	// Error injection
	PublishError error
}

// NewMockPublisher creates a new mock publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	if m.PublishError != nil {
		return m.PublishError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, routingKey)
	return nil
}

// Keys returns the routing keys published so far.
func (m *MockPublisher) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.keys...)
}

// ──────────────────────────────────────────────
// TEST ENVIRONMENT
// ──────────────────────────────────────────────

var errStoreDown = errors.New("connection refused")

// testEnv wires the services over mocks.
type testEnv struct {
	users     *MockUserRepository
	drivers   *MockDriverRepository
	rides     *MockRideRepository
	payments  *MockPaymentRepository
	ratings   *MockRatingRepository
	locks     *MockLockStore
	psp       *MockPSP
	publisher *MockPublisher

	identity      *service.IdentityService
	directory     *service.DriverDirectory
	rideService   *service.RideService
	paymentSvc    *service.PaymentService
	ratingService *service.RatingService
}

func newTestEnv() *testEnv {
	logger := zap.NewNop()
	e := &testEnv{
		users:     NewMockUserRepository(),
		rides:     NewMockRideRepository(),
		payments:  NewMockPaymentRepository(),
		ratings:   NewMockRatingRepository(),
		locks:     NewMockLockStore(),
		psp:       NewMockPSP(),
		publisher: NewMockPublisher(),
	}
	e.drivers = NewMockDriverRepository(e.rides)

	timeout := time.Second
	e.identity = service.NewIdentityService(e.users, e.drivers, nil, timeout, logger)
	e.directory = service.NewDriverDirectory(e.drivers, timeout, logger)
	notifier := service.NewNotificationService(e.publisher, timeout, logger)
	e.rideService = service.NewRideService(e.rides, e.directory, e.identity, e.locks, notifier, service.WorkflowConfig{
		CollaboratorTimeout: timeout,
		ReleaseAttempts:     3,
		ReleaseBackoff:      time.Millisecond,
		ReconcileGrace:      time.Minute,
		Fare:                func() float64 { return 100 },
	}, logger)
	e.paymentSvc = service.NewPaymentService(e.payments, e.rides, e.identity, e.psp, service.NewReceiptService(), timeout, logger)
	e.ratingService = service.NewRatingService(e.ratings, e.rides, e.identity, timeout, logger)
	return e
}

// addRider registers a rider and returns its principal.
func (e *testEnv) addRider(id, email string) domain.Principal {
	e.users.AddUser(&domain.User{ID: id, Name: id, Email: email})
	return domain.Principal{Subject: email, Role: domain.RoleRider}
}

// addDriver registers an available driver and returns its principal.
func (e *testEnv) addDriver(id, phone string) domain.Principal {
	e.drivers.AddDriver(&domain.Driver{ID: id, Name: id, Phone: phone, Available: true, UpdatedAt: time.Now()})
	return domain.Principal{Subject: phone, Role: domain.RoleDriver}
}

func operator() domain.Principal {
	return domain.Principal{Subject: "ops@example.com", Role: domain.RoleOperator}
}

// availabilityViolations lists drivers whose availability disagrees with their active rides.
func (e *testEnv) availabilityViolations() []string {
	var bad []string
	for _, id := range e.drivers.IDs() {
		active := e.rides.CountActiveForDriver(id)
		available := e.drivers.IsAvailable(id)
		if available != (active == 0) {
			bad = append(bad, id)
		}
	}
	return bad
}
