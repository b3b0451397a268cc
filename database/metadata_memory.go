package database

import (
	"context"
	"sync"
)

// MemoryMetadataDBHandler keeps metadata in process memory. Nothing survives
// a restart, so it only suits tests and throwaway runs.
type MemoryMetadataDBHandler struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func NewMemoryMetadataDBHandler() *MemoryMetadataDBHandler {
	return &MemoryMetadataDBHandler{entries: map[string][]byte{}}
}

func (h *MemoryMetadataDBHandler) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (h *MemoryMetadataDBHandler) SetMany(ctx context.Context, entries map[string][]byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, value := range entries {
		h.entries[key] = append([]byte(nil), value...)
	}
	return nil
}

func (h *MemoryMetadataDBHandler) GetMany(ctx context.Context, keys []string) ([][]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	result := make([][]byte, len(keys))
	for i, key := range keys {
		result[i] = h.entries[key]
	}
	return result, nil
}

func (h *MemoryMetadataDBHandler) Clear(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = map[string][]byte{}
	return nil
}

// Delete removes a single key.
func (h *MemoryMetadataDBHandler) Delete(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.entries, key)
}

// Len returns the number of stored entries.
func (h *MemoryMetadataDBHandler) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
