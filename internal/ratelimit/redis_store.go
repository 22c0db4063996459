package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements WindowStore on a go-redis client using one sorted set
// per window key.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) RemoveOlderThan(ctx context.Context, key string, cutoff int64) error {
	return s.rdb.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff, 10)).Err()
}

func (s *RedisStore) Count(ctx context.Context, key string) (int64, error) {
	return s.rdb.ZCard(ctx, key).Result()
}

func (s *RedisStore) Add(ctx context.Context, key string, member string, ts int64, ttl time.Duration) error {
	if err := s.rdb.ZAdd(ctx, key, redis.Z{Score: float64(ts), Member: member}).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, key, ttl).Err()
}
