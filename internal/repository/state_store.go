package repository

import (
	"context"
	"time"
)

// StateStore is short-lived key/value state with expiry.
// Implementations: Redis (production) or in-memory (development, single instance).
type StateStore interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns nil, nil for a missing or expired key.
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
