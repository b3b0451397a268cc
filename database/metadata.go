package database

import (
	"context"
)

// MetadataDBHandlerFunctions is the key-value contract of a chunk metadata
// store. Values are the JSON encoded metadata records.
type MetadataDBHandlerFunctions interface {
	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
	// SetMany writes all entries in one round trip.
	SetMany(ctx context.Context, entries map[string][]byte) error
	// GetMany returns one value per key in key order, nil for absent keys.
	GetMany(ctx context.Context, keys []string) ([][]byte, error)
	// Clear removes every entry.
	Clear(ctx context.Context) error
}
