package embed

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/malbeclabs/ada/pkg/cache"
	"github.com/malbeclabs/ada/pkg/tenant"
)

const (
	cacheComponent  = "embedding"
	DefaultCacheTTL = 30 * 24 * time.Hour
)

// Cached looks up vectors in an in-process cache, then Redis under the
// tenant from the context, before calling the wrapped embedder. Cache
// failures degrade to a miss.
type Cached struct {
	log   *slog.Logger
	next  Embedder
	store *cache.Store
	local *ristretto.Cache
	ttl   time.Duration
}

// NewCached wraps next. store may be nil, in which case only the in-process
// cache is used.
func NewCached(log *slog.Logger, next Embedder, store *cache.Store, ttl time.Duration) (*Cached, error) {
	local, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     2_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("embed: create local cache: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{log: log, next: next, store: store, local: local, ttl: ttl}, nil
}

func (c *Cached) Dimension() int { return c.next.Dimension() }
func (c *Cached) Model() string  { return c.next.Model() }

// Key returns the cache id for text: the model id and the sha256 of text.
func (c *Cached) Key(text string) string {
	return c.next.Model() + ":" + cache.Hash(text)
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	scope := c.scope(ctx)
	out := make([][]float32, len(texts))
	var missing []int
	for i, text := range texts {
		key := c.Key(text)
		if v, ok := c.local.Get(localKey(scope, key)); ok {
			out[i] = v.([]float32)
			continue
		}
		if scope != nil {
			if raw, ok := scope.Get(ctx, cacheComponent, key); ok {
				if v, ok := decode(raw, c.Dimension()); ok {
					out[i] = v
					c.local.SetWithTTL(localKey(scope, key), v, 1, c.ttl)
					continue
				}
			}
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	pending := make([]string, len(missing))
	for j, i := range missing {
		pending[j] = texts[i]
	}
	vecs, err := c.next.EmbedBatch(ctx, pending)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(pending) {
		return nil, fmt.Errorf("embed: got %d vectors for %d inputs", len(vecs), len(pending))
	}

	entries := make(map[string][]byte, len(missing))
	for j, i := range missing {
		if len(vecs[j]) != c.Dimension() {
			return nil, fmt.Errorf("embed: vector dimension %d, want %d", len(vecs[j]), c.Dimension())
		}
		out[i] = vecs[j]
		key := c.Key(texts[i])
		c.local.SetWithTTL(localKey(scope, key), vecs[j], 1, c.ttl)
		entries[key] = encode(vecs[j])
	}
	c.local.Wait()
	if scope != nil {
		scope.BulkSet(ctx, cacheComponent, entries, c.ttl)
	}
	return out, nil
}

func (c *Cached) scope(ctx context.Context) *cache.Scope {
	if c.store == nil {
		return nil
	}
	id, ok := tenant.FromContext(ctx)
	if !ok {
		return nil
	}
	scope, err := c.store.Tenant(id)
	if err != nil {
		c.log.Warn("embed: invalid tenant for cache", "error", err)
		return nil
	}
	return scope
}

func localKey(scope *cache.Scope, key string) string {
	if scope == nil {
		return key
	}
	return scope.Tenant() + ":" + key
}

func encode(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
	}
	return b
}

func decode(b []byte, dim int) ([]float32, bool) {
	if len(b) != 4*dim {
		return nil, false
	}
	v := make([]float32, dim)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, true
}
