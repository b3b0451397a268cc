package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/siherrmann/webgraph/helper"
)

// RedisMetadataDBHandler stores metadata records as plain Redis strings.
type RedisMetadataDBHandler struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisMetadataDBHandler creates a handler on an existing client.
// The database the client points to is owned by the handler: Clear flushes it.
func NewRedisMetadataDBHandler(client *redis.Client, logger *slog.Logger) (*RedisMetadataDBHandler, error) {
	if client == nil {
		return nil, helper.NewError("redis client validation", fmt.Errorf("redis client is nil"))
	}
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("Initialized RedisMetadataDBHandler")

	return &RedisMetadataDBHandler{
		client: client,
		logger: logger,
	}, nil
}

func (h *RedisMetadataDBHandler) Ping(ctx context.Context) error {
	err := h.client.Ping(ctx).Err()
	if err != nil {
		return helper.NewError("ping", err)
	}
	return nil
}

// SetMany writes all entries in one pipeline.
func (h *RedisMetadataDBHandler) SetMany(ctx context.Context, entries map[string][]byte) error {
	if len(entries) == 0 {
		return nil
	}

	_, err := h.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for key, value := range entries {
			pipe.Set(ctx, key, value, 0)
		}
		return nil
	})
	if err != nil {
		return helper.NewError("pipeline set", err)
	}
	return nil
}

// GetMany resolves all keys with a single MGET.
func (h *RedisMetadataDBHandler) GetMany(ctx context.Context, keys []string) ([][]byte, error) {
	if len(keys) == 0 {
		return [][]byte{}, nil
	}

	values, err := h.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, helper.NewError("mget", err)
	}

	result := make([][]byte, len(values))
	for i, v := range values {
		switch s := v.(type) {
		case nil:
		case string:
			result[i] = []byte(s)
		default:
			return nil, helper.NewError("mget value", fmt.Errorf("unexpected type %T for key %s", v, keys[i]))
		}
	}
	return result, nil
}

// Clear flushes the selected Redis database.
func (h *RedisMetadataDBHandler) Clear(ctx context.Context) error {
	err := h.client.FlushDB(ctx).Err()
	if err != nil {
		return helper.NewError("flushdb", err)
	}
	h.logger.Info("Flushed redis metadata database")
	return nil
}
