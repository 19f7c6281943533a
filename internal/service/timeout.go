package service

import (
	"context"
	"time"
)

// DefaultCollaboratorTimeout bounds every call to a store or cache.
const DefaultCollaboratorTimeout = 3 * time.Second

// withTimeout derives a context bounded by d. A non-positive d uses the default.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultCollaboratorTimeout
	}
	return context.WithTimeout(ctx, d)
}
