package lock

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"ImageSync/internal/domain"
	"ImageSync/internal/ports"
)

const redisKeyPrefix = "imagesync:lock:"

// Owner checks and mutation must be one atomic step, hence Lua.
var (
	releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0`)

	renewScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		end
		return 0`)
)

// RedisLocks keeps locks as expiring keys; SET NX carries both the
// conditional insert and the TTL in one operation.
type RedisLocks struct {
	client *redis.Client
}

var _ ports.LockManager = (*RedisLocks)(nil)

// NewRedisLocks wraps an existing client.
func NewRedisLocks(client *redis.Client) *RedisLocks {
	return &RedisLocks{client: client}
}

// Ping verifies the lock store before a run starts.
func (l *RedisLocks) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrLockStoreUnavailable, err)
	}
	return nil
}

// Acquire claims the item via SET NX with the TTL attached.
func (l *RedisLocks) Acquire(ctx context.Context, itemID int64, owner string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, lockKey(itemID), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %d: %w", itemID, err)
	}
	return ok, nil
}

// Renew extends the TTL if the caller still owns the key.
func (l *RedisLocks) Renew(ctx context.Context, itemID int64, owner string, ttl time.Duration) error {
	res, err := renewScript.Run(ctx, l.client,
		[]string{lockKey(itemID)}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("renew lock %d: %w", itemID, err)
	}
	if res == 0 {
		return fmt.Errorf("renew lock %d: %w", itemID, ErrNotHeld)
	}
	return nil
}

// Release deletes the key only if the owner still matches.
func (l *RedisLocks) Release(ctx context.Context, itemID int64, owner string) error {
	if _, err := releaseScript.Run(ctx, l.client,
		[]string{lockKey(itemID)}, owner).Result(); err != nil {
		return fmt.Errorf("release lock %d: %w", itemID, err)
	}
	return nil
}

func lockKey(itemID int64) string {
	return redisKeyPrefix + strconv.FormatInt(itemID, 10)
}
