package outbound

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RateLimiterPort defines rate limiting operations.
type RateLimiterPort interface {
	// Allow checks if a request is allowed within rate limits.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)

	// GetRemaining returns remaining requests in window.
	GetRemaining(ctx context.Context, key string, limit int, window time.Duration) (int, error)
}

// PublicIPCachePort shares a resolved public IP across instances.
type PublicIPCachePort interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, ip string, ttl time.Duration) error
}

// EventPublisherPort defines event publishing operations.
type EventPublisherPort interface {
	// Publish publishes a domain event off the caller's path.
	Publish(ctx context.Context, eventType string, aggregateID uuid.UUID, data any)
}
