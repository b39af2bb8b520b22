package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock is a held distributed lock.
type Lock struct {
	scope *Scope
	key   string
	token string
}

// TryLock attempts to acquire the lock for component and id. It returns
// (nil, false, nil) when the lock is held by someone else.
func (sc *Scope) TryLock(ctx context.Context, component, id string, ttl time.Duration) (*Lock, bool, error) {
	token, err := randomToken()
	if err != nil {
		return nil, false, err
	}
	key := sc.Key(component+":lock", id)
	ok, err := sc.store.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		cacheErrors.WithLabelValues("lock").Inc()
		return nil, false, fmt.Errorf("cache: lock %s: %w", component, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lock{scope: sc, key: key, token: token}, true, nil
}

// Locked reports whether the lock for component and id is currently held.
func (sc *Scope) Locked(ctx context.Context, component, id string) (bool, error) {
	n, err := sc.store.client.Exists(ctx, sc.Key(component+":lock", id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Release deletes the lock if it is still owned by this holder.
func (l *Lock) Release(ctx context.Context) {
	if l == nil {
		return
	}
	if err := releaseScript.Run(ctx, l.scope.store.client, []string{l.key}, l.token).Err(); err != nil {
		l.scope.store.log.Warn("cache: lock release failed", "tenant", l.scope.tenant, "error", err)
	}
}

func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("cache: lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
