package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/siherrmann/webgraph/database"
	"github.com/siherrmann/webgraph/helper"
	"github.com/siherrmann/webgraph/metrics"
	"github.com/siherrmann/webgraph/model"
)

const (
	tierPrimary  = "primary"
	tierFallback = "fallback"
)

// TwoTierCache serves every call from the primary store and switches to the
// fallback store for calls the primary cannot serve. Values are written to
// exactly one store per call.
type TwoTierCache struct {
	primary  database.CacheDBHandlerFunctions
	fallback database.CacheDBHandlerFunctions
	logger   *slog.Logger
}

// NewTwoTierCache creates the cache. primary may be nil, in which case every
// call goes to fallback.
func NewTwoTierCache(primary database.CacheDBHandlerFunctions, fallback database.CacheDBHandlerFunctions, logger *slog.Logger) (*TwoTierCache, error) {
	if fallback == nil {
		return nil, helper.NewError("fallback validation", fmt.Errorf("%w: fallback cache is nil", model.ErrDependencyUnavailable))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TwoTierCache{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}, nil
}

// Get looks key up. A missing key is not an error.
func (c *TwoTierCache) Get(ctx context.Context, key string) (string, bool, error) {
	if c.primary != nil {
		value, found, err := c.primary.Get(ctx, key)
		if err == nil {
			metrics.RecordCacheLookup(tierPrimary, found)
			return value, found, nil
		}
		c.logger.Warn("Primary cache unavailable, using fallback", slog.String("operation", "get"), slog.Any("error", err))
		metrics.CacheFallbacks.WithLabelValues("get").Inc()
	}

	value, found, err := c.fallback.Get(ctx, key)
	if err != nil {
		return "", false, helper.NewError("fallback get", fmt.Errorf("%w: %w", model.ErrDependencyUnavailable, err))
	}
	metrics.RecordCacheLookup(tierFallback, found)
	return value, found, nil
}

// Set stores value under key. The ttl only applies to the primary store,
// the fallback keeps entries until it is flushed.
func (c *TwoTierCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if c.primary != nil {
		err := c.primary.Set(ctx, key, value, ttl)
		if err == nil {
			return nil
		}
		c.logger.Warn("Primary cache unavailable, using fallback", slog.String("operation", "set"), slog.Any("error", err))
		metrics.CacheFallbacks.WithLabelValues("set").Inc()
	}

	err := c.fallback.Set(ctx, key, value, 0)
	if err != nil {
		return helper.NewError("fallback set", fmt.Errorf("%w: %w", model.ErrDependencyUnavailable, err))
	}
	return nil
}

// FlushAll empties both stores. An unreachable primary is logged and skipped.
func (c *TwoTierCache) FlushAll(ctx context.Context) error {
	if c.primary != nil {
		if err := c.primary.FlushAll(ctx); err != nil {
			c.logger.Warn("Could not flush primary cache", slog.Any("error", err))
		}
	}
	return helper.NewError("fallback flush", c.fallback.FlushAll(ctx))
}
