package redis

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

//go:embed scripts/release_lock.lua
var releaseLockLua string

var releaseLock = redis.NewScript(releaseLockLua)

const releaseTimeout = 5 * time.Second

// LockManager is a token-guarded Redis lock. The coordinator holds it around
// each broadcast so engine processes sharing a wallet never trade at once.
type LockManager struct {
	rdb *redis.Client
}

func NewLockManager(c *Client) *LockManager {
	return &LockManager{rdb: c.Underlying()}
}

// Acquire takes "lock:<key>" for ttl or fails with domain.ErrLockHeld. The
// release func may be called any number of times. A holder whose ttl lapsed
// cannot release a later holder's lock.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	name := "lock:" + key
	token := uuid.NewString()

	err := lm.rdb.SetArgs(ctx, name, token, redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, domain.ErrLockHeld)
	case err != nil:
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Runs at shutdown too, after the caller's ctx is gone.
			rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			_ = releaseLock.Run(rctx, lm.rdb, []string{name}, token).Err()
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
