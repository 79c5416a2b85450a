package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/exitwatch/internal/domain"
)

// unlockLua deletes a lock key only if its value matches the caller's unique
// token, so one holder can never release another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua pushes the expiry of a lock forward if the caller still owns it.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager hands out Redis leases using SETNX with a TTL and Lua-based
// conditional extend and unlock.
type LockManager struct {
	c        *Client
	rdb      *redis.Client
	unlockSc *redis.Script
	extendSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		c:        c,
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
		extendSc: redis.NewScript(extendLua),
	}
}

func (lm *LockManager) lockKey(key string) string {
	return lm.c.Key("lock", key)
}

// Lease is a held lock that can be kept alive past its initial TTL.
type Lease struct {
	lm    *LockManager
	key   string
	token string
	ttl   time.Duration
	once  sync.Once
}

// AcquireLease obtains the lock and returns a Lease whose Keepalive extends
// it until the lease is released.
func (lm *LockManager) AcquireLease(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	return lm.acquire(ctx, key, ttl)
}

func (lm *LockManager) acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	token := uuid.New().String()
	lk := lm.lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}
	return &Lease{lm: lm, key: lk, token: token, ttl: ttl}, nil
}

// Keepalive extends the lease every ttl/3 until ctx is done. It returns
// domain.ErrLockHeld if ownership was lost.
func (l *Lease) Keepalive(ctx context.Context) error {
	interval := l.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := l.lm.extendSc.Run(ctx, l.lm.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("redis: extend lock %s: %w", l.key, err)
			}
			if n == 0 {
				return fmt.Errorf("redis: extend lock %s: %w", l.key, domain.ErrLockHeld)
			}
		}
	}
}

// Release deletes the lock if this lease still owns it. It is safe to call
// more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		// Background context so release works after the caller's context
		// is cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.lm.unlockSc.Run(ctx, l.lm.rdb, []string{l.key}, l.token).Err()
	})
}
