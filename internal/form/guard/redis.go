package guard

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGuard backs cooldowns with SET NX PX so they survive a restart of the
// process.
type RedisGuard struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisGuard(rdb *redis.Client, prefix string) *RedisGuard {
	if prefix == "" {
		prefix = "formflow:guard:"
	}
	return &RedisGuard{rdb: rdb, prefix: prefix}
}

func (g *RedisGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return g.rdb.SetNX(ctx, g.prefix+key, time.Now().UnixMilli(), ttl).Result()
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	return g.rdb.Del(ctx, g.prefix+key).Err()
}
