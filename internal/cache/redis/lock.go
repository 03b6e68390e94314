package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// unlockLua deletes a lock key only if it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua resets the TTL of a lock key only if it still holds the
// caller's token.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager using Redis SETNX with a TTL and
// token-checked release and extension.
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	extendSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:      c.rdb,
		unlockSc: redis.NewScript(unlockLua),
		extendSc: redis.NewScript(extendLua),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire obtains the lock for key with the given TTL. The returned unlock
// function is safe to call more than once. It returns domain.ErrLockHeld if
// another holder owns the lock.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	_, unlock, err := lm.acquire(ctx, key, ttl)
	return unlock, err
}

func (lm *LockManager) acquire(ctx context.Context, key string, ttl time.Duration) (string, func(), error) {
	token := uuid.NewString()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return "", nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", nil, domain.ErrLockHeld
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// The caller's context may already be cancelled on shutdown.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
		})
	}
	return token, unlock, nil
}

// Hold acquires the lock and keeps extending it every ttl/3 until ctx is
// cancelled or unlock is called. lost is closed when an extension finds the
// lock owned by someone else or fails outright; the holder must stop acting
// on the locked resource at that point.
func (lm *LockManager) Hold(ctx context.Context, key string, ttl time.Duration) (unlock func(), lost <-chan struct{}, err error) {
	token, release, err := lm.acquire(ctx, key, ttl)
	if err != nil {
		return nil, nil, err
	}

	lostCh := make(chan struct{})
	stop := make(chan struct{})
	var stopOnce sync.Once
	unlock = func() {
		stopOnce.Do(func() { close(stop) })
		release()
	}

	go func() {
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				n, err := lm.extendSc.Run(ctx, lm.rdb, []string{lockKey(key)}, token, ttl.Milliseconds()).Int64()
				if err != nil && ctx.Err() != nil {
					return
				}
				if err != nil || n == 0 {
					close(lostCh)
					return
				}
			}
		}
	}()

	return unlock, lostCh, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
