package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Scope is a tenant-bound view of the Store. Keys are built as
// <tenant>:<component>:<sha256(id)>.
type Scope struct {
	store  *Store
	tenant string
}

func (sc *Scope) Tenant() string { return sc.tenant }

// Key returns the full Redis key for component and id.
func (sc *Scope) Key(component, id string) string {
	return sc.tenant + ":" + component + ":" + Hash(id)
}

// Get returns the raw value, or false on miss or failure.
func (sc *Scope) Get(ctx context.Context, component, id string) ([]byte, bool) {
	key := sc.Key(component, id)
	val, err := sc.store.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		cacheMisses.WithLabelValues(component).Inc()
		return nil, false
	}
	if err != nil {
		sc.store.log.Warn("cache: get failed", "tenant", sc.tenant, "component", component, "error", err)
		cacheErrors.WithLabelValues("get").Inc()
		return nil, false
	}
	cacheHits.WithLabelValues(component).Inc()
	return val, true
}

// Set stores value. A zero ttl uses the store default.
func (sc *Scope) Set(ctx context.Context, component, id string, value []byte, ttl time.Duration) {
	if err := sc.store.client.Set(ctx, sc.Key(component, id), value, sc.store.ttl(ttl)).Err(); err != nil {
		sc.store.log.Warn("cache: set failed", "tenant", sc.tenant, "component", component, "error", err)
		cacheErrors.WithLabelValues("set").Inc()
	}
}

// GetJSON decodes the cached value into v and reports whether it was found.
func (sc *Scope) GetJSON(ctx context.Context, component, id string, v any) bool {
	raw, ok := sc.Get(ctx, component, id)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		sc.store.log.Warn("cache: decode failed", "tenant", sc.tenant, "component", component, "error", err)
		cacheErrors.WithLabelValues("decode").Inc()
		return false
	}
	return true
}

func (sc *Scope) SetJSON(ctx context.Context, component, id string, v any, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		sc.store.log.Warn("cache: encode failed", "tenant", sc.tenant, "component", component, "error", err)
		cacheErrors.WithLabelValues("encode").Inc()
		return
	}
	sc.Set(ctx, component, id, raw, ttl)
}

// BulkSet writes all entries in a single pipeline.
func (sc *Scope) BulkSet(ctx context.Context, component string, entries map[string][]byte, ttl time.Duration) {
	if len(entries) == 0 {
		return
	}
	ttl = sc.store.ttl(ttl)
	pipe := sc.store.client.Pipeline()
	for id, value := range entries {
		pipe.Set(ctx, sc.Key(component, id), value, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		sc.store.log.Warn("cache: bulk set failed", "tenant", sc.tenant, "component", component, "entries", len(entries), "error", err)
		cacheErrors.WithLabelValues("bulk_set").Inc()
	}
}

// ListAppend pushes values onto the list, keeps only the newest maxLen
// entries when maxLen > 0, and refreshes the TTL.
func (sc *Scope) ListAppend(ctx context.Context, component, id string, ttl time.Duration, maxLen int64, values ...[]byte) error {
	if len(values) == 0 {
		return nil
	}
	key := sc.Key(component, id)
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	pipe := sc.store.client.TxPipeline()
	pipe.RPush(ctx, key, args...)
	if maxLen > 0 {
		pipe.LTrim(ctx, key, -maxLen, -1)
	}
	pipe.Expire(ctx, key, sc.store.ttl(ttl))
	if _, err := pipe.Exec(ctx); err != nil {
		cacheErrors.WithLabelValues("list_append").Inc()
		return err
	}
	return nil
}

// ListRange returns up to the last n entries in insertion order.
func (sc *Scope) ListRange(ctx context.Context, component, id string, n int64) ([][]byte, error) {
	start := int64(0)
	if n > 0 {
		start = -n
	}
	vals, err := sc.store.client.LRange(ctx, sc.Key(component, id), start, -1).Result()
	if err != nil {
		cacheErrors.WithLabelValues("list_range").Inc()
		return nil, err
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}
