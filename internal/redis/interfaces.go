package redis

import (
	"context"
	"time"
)

// IdentityCacheInterface defines the interface for principal lookup caching.
type IdentityCacheInterface interface {
	GetIdentity(ctx context.Context, role, subject string) (string, error)
	SetIdentity(ctx context.Context, role, subject, id string) error
	InvalidateIdentity(ctx context.Context, role, subject string) error
}

// LockStoreInterface defines the interface for per-ride locking.
type LockStoreInterface interface {
	AcquireRideLock(ctx context.Context, rideID int64, ttl time.Duration) (string, bool, error)
	ReleaseRideLock(ctx context.Context, rideID int64, token string) error
}

// Ensure concrete types implement interfaces.
var (
	_ IdentityCacheInterface = (*CacheStore)(nil)
	_ LockStoreInterface     = (*LockStore)(nil)
)
