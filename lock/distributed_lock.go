package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// DistributedLock coordinates exclusive access to shared Redis-backed
// job state — such as the one-time flush of a spider's queue and
// dupefilter on startup — across however many scrapyctl processes are
// working the same spider name concurrently.
type DistributedLock struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewDistributedLock creates a new distributed lock instance
func NewDistributedLock(redisClient *redis.Client, logger *slog.Logger) *DistributedLock {
	if logger == nil {
		logger = slog.Default()
	}
	return &DistributedLock{
		redisClient: redisClient,
		logger:      logger,
	}
}

// LockResult represents the result of a lock operation
type LockResult struct {
	Key       string
	Value     string
	Acquired  bool
	ExpiresAt time.Time
}

// AcquireLock attempts to acquire a distributed lock
func (dl *DistributedLock) AcquireLock(ctx context.Context, key string, value string, expiration time.Duration) (*LockResult, error) {
	lockKey := fmt.Sprintf("lock:%s", key)

	// Try to set the lock with NX (only if not exists) and EX (expiration)
	result, err := dl.redisClient.SetNX(ctx, lockKey, value, expiration).Result()
	if err != nil {
		dl.logger.Error("Failed to acquire distributed lock",
			"key", lockKey,
			"value", value,
			"error", err)
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	lockResult := &LockResult{
		Key:       lockKey,
		Value:     value,
		Acquired:  result,
		ExpiresAt: time.Now().Add(expiration),
	}

	if result {
		dl.logger.Info("Distributed lock acquired successfully",
			"key", lockKey,
			"value", value,
			"expiration", expiration)
	} else {
		dl.logger.Debug("Failed to acquire distributed lock - already held",
			"key", lockKey,
			"value", value)
	}

	return lockResult, nil
}

// ReleaseLock releases a distributed lock using Lua script for atomicity
func (dl *DistributedLock) ReleaseLock(ctx context.Context, lockResult *LockResult) error {
	// Use Lua script to ensure atomicity: only release if the value matches
	luaScript := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`

	result, err := dl.redisClient.Eval(ctx, luaScript, []string{lockResult.Key}, lockResult.Value).Result()
	if err != nil {
		dl.logger.Error("Failed to release distributed lock",
			"key", lockResult.Key,
			"value", lockResult.Value,
			"error", err)
		return fmt.Errorf("failed to release lock: %w", err)
	}

	released := result.(int64) == 1
	if released {
		dl.logger.Info("Distributed lock released successfully",
			"key", lockResult.Key,
			"value", lockResult.Value)
	} else {
		dl.logger.Warn("Lock was not released - value mismatch or already expired",
			"key", lockResult.Key,
			"value", lockResult.Value)
	}

	return nil
}

// WithLock executes a function while holding a distributed lock
func (dl *DistributedLock) WithLock(ctx context.Context, key string, expiration time.Duration, fn func(ctx context.Context) error) error {
	lockValue := fmt.Sprintf("%d_%s", time.Now().UnixNano(), key)

	// Acquire lock
	lockResult, err := dl.AcquireLock(ctx, key, lockValue, expiration)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	if !lockResult.Acquired {
		return fmt.Errorf("could not acquire lock for key: %s", key)
	}

	// Ensure lock is released
	defer func() {
		if err := dl.ReleaseLock(context.Background(), lockResult); err != nil {
			dl.logger.Error("Failed to release lock in defer",
				"key", lockResult.Key,
				"error", err)
		}
	}()

	// Execute the protected function
	return fn(ctx)
}
