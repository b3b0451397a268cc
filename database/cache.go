package database

import (
	"context"
	"time"
)

// CacheDBHandlerFunctions is the contract of a durable answer cache.
type CacheDBHandlerFunctions interface {
	// Get returns the stored value and whether the key was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key. A ttl of zero means no expiry.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	FlushAll(ctx context.Context) error
}
