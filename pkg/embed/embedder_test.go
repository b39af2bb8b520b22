package embed_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/ada/pkg/cache"
	"github.com/malbeclabs/ada/pkg/embed"
	"github.com/malbeclabs/ada/pkg/logger"
	"github.com/malbeclabs/ada/pkg/tenant"
)

type fakeEmbeddings struct {
	calls    atomic.Int32
	inputs   atomic.Int32
	failures atomic.Int32
}

// vector is a deterministic 4-dim embedding of s.
func vector(s string) []float32 {
	v := []float32{float32(len(s)), 1, 0, 0}
	for _, r := range s {
		v[2] += float32(r)
	}
	return v
}

func (f *fakeEmbeddings) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		f.calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if f.failures.Load() > 0 {
			f.failures.Add(-1)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.inputs.Add(int32(len(req.Input)))

		type item struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		resp := struct {
			Data  []item         `json:"data"`
			Usage map[string]int `json:"usage"`
		}{Usage: map[string]int{"total_tokens": len(req.Input)}}
		// Reply out of order to exercise index handling.
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, item{Embedding: vector(req.Input[i]), Index: i})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
}

func newClient(t *testing.T, f *fakeEmbeddings, batch int) *embed.Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	c, err := embed.NewClient(&embed.Config{
		Logger:    logger.Discard(),
		APIKey:    "test-key",
		BaseURL:   srv.URL + "/",
		Model:     "test-embed",
		Dimension: 4,
		BatchSize: batch,
	})
	require.NoError(t, err)
	return c
}

func TestAda_Embed_Client_Batches(t *testing.T) {
	t.Parallel()
	f := &fakeEmbeddings{}
	c := newClient(t, f, 2)

	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "bb", "ccc", "dddd", "e"})
	require.NoError(t, err)
	require.Len(t, vecs, 5)
	require.Equal(t, vector("ccc"), vecs[2])
	require.Equal(t, int32(3), f.calls.Load())
	require.Equal(t, int32(5), f.inputs.Load())
}

func TestAda_Embed_Client_RetriesServerErrors(t *testing.T) {
	t.Parallel()
	f := &fakeEmbeddings{}
	f.failures.Store(1)
	c := newClient(t, f, 8)

	v, err := c.Embed(context.Background(), "spend")
	require.NoError(t, err)
	require.Equal(t, vector("spend"), v)
	require.Equal(t, int32(2), f.calls.Load())
}

func TestAda_Embed_Client_DimensionMismatch(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"embedding":[1,2],"index":0}]}`))
	}))
	t.Cleanup(srv.Close)
	c, err := embed.NewClient(&embed.Config{Logger: logger.Discard(), APIKey: "k", BaseURL: srv.URL, Dimension: 4})
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "x")
	require.ErrorContains(t, err, "dimension 2, want 4")
}

func TestAda_Embed_Cached(t *testing.T) {
	t.Parallel()
	f := &fakeEmbeddings{}
	c := newClient(t, f, 16)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := cache.NewFromClient(logger.Discard(), client, time.Hour)

	cached, err := embed.NewCached(logger.Discard(), c, store, time.Hour)
	require.NoError(t, err)

	ctx := tenant.WithTenant(context.Background(), "T1")
	first, err := cached.EmbedBatch(ctx, []string{"top suppliers", "spend by region"})
	require.NoError(t, err)
	require.Equal(t, int32(1), f.calls.Load())

	again, err := cached.EmbedBatch(ctx, []string{"spend by region", "top suppliers", "new question"})
	require.NoError(t, err)
	require.Equal(t, first[1], again[0])
	require.Equal(t, first[0], again[1])
	require.Equal(t, int32(2), f.calls.Load())
	require.Equal(t, int32(3), f.inputs.Load())

	scope, err := store.Tenant("T1")
	require.NoError(t, err)
	require.True(t, mr.Exists(scope.Key("embedding", cached.Key("top suppliers"))))

	// Another tenant never reads T1's entries.
	other := tenant.WithTenant(context.Background(), "T2")
	_, err = cached.Embed(other, "top suppliers")
	require.NoError(t, err)
	require.Equal(t, int32(3), f.calls.Load())

	// A fresh process reads through Redis.
	fresh, err := embed.NewCached(logger.Discard(), c, store, time.Hour)
	require.NoError(t, err)
	v, err := fresh.Embed(ctx, "top suppliers")
	require.NoError(t, err)
	require.Equal(t, first[0], v)
	require.Equal(t, int32(3), f.calls.Load())
}
