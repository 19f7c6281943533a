package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultIdentityTTL bounds how long a resolved principal mapping is trusted.
const DefaultIdentityTTL = 5 * time.Minute

const identityCachePrefix = "cache:identity:"

// CacheStore caches principal subject to profile id lookups.
type CacheStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCacheStore creates a new CacheStore. A non-positive ttl uses DefaultIdentityTTL.
func NewCacheStore(client *redis.Client, ttl time.Duration) *CacheStore {
	if ttl <= 0 {
		ttl = DefaultIdentityTTL
	}
	return &CacheStore{client: client, ttl: ttl}
}

func identityKey(role, subject string) string {
	return identityCachePrefix + role + ":" + subject
}

// GetIdentity returns the cached profile id for a subject. A miss returns "" and no error.
func (s *CacheStore) GetIdentity(ctx context.Context, role, subject string) (string, error) {
	id, err := s.client.Get(ctx, identityKey(role, subject)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

// SetIdentity stores the profile id resolved for a subject.
func (s *CacheStore) SetIdentity(ctx context.Context, role, subject, id string) error {
	return s.client.Set(ctx, identityKey(role, subject), id, s.ttl).Err()
}

// InvalidateIdentity removes a cached mapping.
func (s *CacheStore) InvalidateIdentity(ctx context.Context, role, subject string) error {
	return s.client.Del(ctx, identityKey(role, subject)).Err()
}
