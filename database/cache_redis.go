package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/siherrmann/webgraph/helper"
)

// RedisCacheDBHandler is the primary answer cache.
type RedisCacheDBHandler struct {
	client *redis.Client
	prefix string
}

// NewRedisCacheDBHandler creates a cache whose keys are namespaced with prefix
// so it can share a Redis database with other data.
func NewRedisCacheDBHandler(client *redis.Client, prefix string) (*RedisCacheDBHandler, error) {
	if client == nil {
		return nil, helper.NewError("redis client validation", fmt.Errorf("redis client is nil"))
	}
	return &RedisCacheDBHandler{client: client, prefix: prefix}, nil
}

func (h *RedisCacheDBHandler) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := h.client.Get(ctx, h.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, helper.NewError("get", err)
	}
	return value, true, nil
}

func (h *RedisCacheDBHandler) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	err := h.client.Set(ctx, h.prefix+key, value, ttl).Err()
	if err != nil {
		return helper.NewError("set", err)
	}
	return nil
}

// FlushAll deletes every key carrying the cache prefix.
func (h *RedisCacheDBHandler) FlushAll(ctx context.Context) error {
	iter := h.client.Scan(ctx, 0, h.prefix+"*", 500).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return helper.NewError("scan", err)
	}
	if len(keys) == 0 {
		return nil
	}

	err := h.client.Del(ctx, keys...).Err()
	if err != nil {
		return helper.NewError("del", err)
	}
	return nil
}
