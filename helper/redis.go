package helper

import (
	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates a client from a redis:// URL. The connection is
// established lazily on the first command.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, NewError("parse redis url", err)
	}
	return redis.NewClient(opts), nil
}
