package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lockKeyPrefix   = "netbase:scheduler:lock:"
	defaultLockTTL  = 30 * time.Second
	lockRetryDelay  = 50 * time.Millisecond
	lockAcquireWait = 10 * time.Second
)

// Locker serializes scheduler event handling per workflow instance.
// Acquire blocks until the lock is held or the wait budget runs out.
type Locker interface {
	Acquire(ctx context.Context, workflowInstanceID int64) (release func(), err error)
}

// RedisLocker implements Locker with a per-workflow advisory lock
// (SET NX PX). The token guards release against expiry races: a lock that
// expired and was re-acquired by another holder is never deleted.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisLocker creates a locker with default TTL and wait budget.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, ttl: defaultLockTTL, wait: lockAcquireWait}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *RedisLocker) Acquire(ctx context.Context, workflowInstanceID int64) (func(), error) {
	key := fmt.Sprintf("%s%d", lockKeyPrefix, workflowInstanceID)
	token := uuid.NewString()

	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire workflow lock: %w", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for workflow %d lock", workflowInstanceID)
		}
		select {
		case <-time.After(lockRetryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	release := func() {
		bg, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(bg, l.client, []string{key}, token).Err()
	}
	return release, nil
}

// NoopLocker satisfies Locker without coordination. Used in tests and in
// single-replica deployments where the unique task constraint alone is
// enough.
type NoopLocker struct{}

func (NoopLocker) Acquire(ctx context.Context, workflowInstanceID int64) (func(), error) {
	return func() {}, nil
}
