package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

// cycleLockKey is shared by every process of a deployment, so only one of
// them runs a detection cycle at a time.
const cycleLockKey = "lock:detect-cycle"

// unlockLua deletes the lock key only if its value matches the caller's
// unique token, so one holder cannot release another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// CycleLock implements domain.CycleLocker using Redis SETNX with a TTL and a
// Lua-based conditional unlock.
type CycleLock struct {
	rdb      *redis.Client
	unlockSc *redis.Script
}

// NewCycleLock creates a CycleLock backed by the given Client.
func NewCycleLock(c *Client) *CycleLock {
	return &CycleLock{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
	}
}

// TryAcquire attempts to obtain the cycle lock with the specified TTL. On
// success it returns a release function that is safe to call multiple times.
// It returns domain.ErrCycleInFlight if another process holds the lock.
func (cl *CycleLock) TryAcquire(ctx context.Context, ttl time.Duration) (func(), error) {
	token := uuid.New().String()

	ok, err := cl.rdb.SetNX(ctx, cycleLockKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire cycle lock: %w", err)
	}
	if !ok {
		return nil, domain.ErrCycleInFlight
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true

		// A background context lets release succeed even when the caller's
		// context is already cancelled.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = cl.unlockSc.Run(unlockCtx, cl.rdb, []string{cycleLockKey}, token).Err()
	}

	return release, nil
}

// Compile-time interface check.
var _ domain.CycleLocker = (*CycleLock)(nil)
