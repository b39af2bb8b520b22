package cache_test

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/ada/pkg/cache"
	"github.com/malbeclabs/ada/pkg/logger"
)

func newTestStore(t *testing.T) (*cache.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewFromClient(logger.Discard(), client, time.Hour), mr
}

func TestAda_Cache_Config_Validate(t *testing.T) {
	t.Parallel()

	t.Run("defaults for local host", func(t *testing.T) {
		t.Parallel()
		cfg := &cache.Config{Logger: logger.Discard(), Host: "localhost"}
		require.NoError(t, cfg.Validate())
		require.Equal(t, 6379, cfg.Port)
		require.True(t, cfg.DisableTLS)
		require.Equal(t, 20*time.Second, cfg.DialTimeout)
		require.Equal(t, 20*time.Second, cfg.ReadTimeout)
		require.Equal(t, time.Hour, cfg.DefaultTTL)
	})

	t.Run("timeouts are capped", func(t *testing.T) {
		t.Parallel()
		cfg := &cache.Config{Logger: logger.Discard(), Host: "redis", ReadTimeout: time.Minute, DialTimeout: 3 * time.Second}
		require.NoError(t, cfg.Validate())
		require.Equal(t, 20*time.Second, cfg.ReadTimeout)
		require.Equal(t, 3*time.Second, cfg.DialTimeout)
	})

	t.Run("remote host requires tls", func(t *testing.T) {
		t.Parallel()
		cfg := &cache.Config{Logger: logger.Discard(), Host: "cache.internal.example.com", DisableTLS: true}
		require.ErrorIs(t, cfg.Validate(), cache.ErrCleartextRemote)

		cfg = &cache.Config{Logger: logger.Discard(), Host: "cache.internal.example.com"}
		require.NoError(t, cfg.Validate())
		require.False(t, cfg.DisableTLS)
	})

	t.Run("missing host", func(t *testing.T) {
		t.Parallel()
		cfg := &cache.Config{Logger: logger.Discard()}
		require.ErrorContains(t, cfg.Validate(), "host is required")
	})
}

func TestAda_Cache_Config_URL(t *testing.T) {
	t.Parallel()

	cfg := &cache.Config{Logger: logger.Discard(), Host: "cache.example.com", Port: 6380, Password: "s3cret", DB: 2}
	require.NoError(t, cfg.Validate())
	require.Equal(t, "rediss://:***@cache.example.com:6380/2", cfg.URL(true))
	require.Equal(t, "rediss://:s3cret@cache.example.com:6380/2", cfg.URL(false))

	local := &cache.Config{Logger: logger.Discard(), Host: "localhost"}
	require.NoError(t, local.Validate())
	require.Equal(t, "redis://localhost:6379/0", local.URL(true))
}

func TestAda_Cache_New_Miniredis(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	store, err := cache.New(context.Background(), &cache.Config{
		Logger: logger.Discard(),
		Host:   mr.Host(),
		Port:   port,
	})
	require.NoError(t, err)
	defer store.Close()

	require.Equal(t, "redis://"+mr.Addr()+"/0", store.ConnectionURL(true))
	require.NoError(t, store.Ping(context.Background()))
}

func TestAda_Cache_Scope_GetSet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, mr := newTestStore(t)

	scope, err := store.Tenant("T1")
	require.NoError(t, err)

	_, ok := scope.Get(ctx, "text2sql", "q1")
	require.False(t, ok)

	scope.Set(ctx, "text2sql", "q1", []byte("v1"), 0)
	got, ok := scope.Get(ctx, "text2sql", "q1")
	require.True(t, ok)
	require.Equal(t, "v1", string(got))

	key := scope.Key("text2sql", "q1")
	require.Equal(t, "T1:text2sql:"+cache.Hash("q1"), key)
	require.Equal(t, time.Hour, mr.TTL(key))

	mr.FastForward(2 * time.Hour)
	_, ok = scope.Get(ctx, "text2sql", "q1")
	require.False(t, ok)
}

func TestAda_Cache_Scope_JSONAndBulk(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, mr := newTestStore(t)
	scope, err := store.Tenant("T1")
	require.NoError(t, err)

	type entry struct {
		SQL string `json:"sql"`
	}
	scope.SetJSON(ctx, "result", "k", entry{SQL: "SELECT 1"}, time.Minute)
	var got entry
	require.True(t, scope.GetJSON(ctx, "result", "k", &got))
	require.Equal(t, "SELECT 1", got.SQL)

	// Corrupt values degrade to a miss.
	require.NoError(t, mr.Set(scope.Key("result", "bad"), "{not json"))
	require.False(t, scope.GetJSON(ctx, "result", "bad", &got))

	scope.BulkSet(ctx, "embedding", map[string][]byte{"a": []byte("1"), "b": []byte("2")}, time.Minute)
	a, ok := scope.Get(ctx, "embedding", "a")
	require.True(t, ok)
	require.Equal(t, "1", string(a))
	require.Equal(t, time.Minute, mr.TTL(scope.Key("embedding", "b")))
}

func TestAda_Cache_TenantIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newTestStore(t)

	t1, err := store.Tenant("T1")
	require.NoError(t, err)
	t2, err := store.Tenant("T2")
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		id := "key-" + strconv.Itoa(i)
		t2.Set(ctx, "text2sql", id, []byte("secret"), 0)
		_, ok := t1.Get(ctx, "text2sql", id)
		require.False(t, ok, "tenant T1 read T2 key %s", id)
		require.NotEqual(t, t1.Key("text2sql", id), t2.Key("text2sql", id))
	}

	_, err = store.Tenant("")
	require.Error(t, err)
	_, err = store.Tenant("T1:text2sql")
	require.Error(t, err)
}

func TestAda_Cache_FailuresDegradeToMiss(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, mr := newTestStore(t)
	scope, err := store.Tenant("T1")
	require.NoError(t, err)

	mr.Close()

	scope.Set(ctx, "text2sql", "q", []byte("v"), 0)
	_, ok := scope.Get(ctx, "text2sql", "q")
	require.False(t, ok)
	require.Equal(t, int64(0), store.QueueLength(ctx, "celery"))
}

func TestAda_Cache_QueueLength(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, mr := newTestStore(t)

	_, err := mr.Push("celery", "a", "b", "c")
	require.NoError(t, err)
	require.Equal(t, int64(3), store.QueueLength(ctx, "celery"))
	require.Equal(t, int64(0), store.QueueLength(ctx, "unacked"))
}

func TestAda_Cache_List(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newTestStore(t)
	scope, err := store.Tenant("T1")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, scope.ListAppend(ctx, "chat_history", "s1", time.Hour, 3, []byte(strconv.Itoa(i))))
	}
	vals, err := scope.ListRange(ctx, "chat_history", "s1", 10)
	require.NoError(t, err)
	require.Len(t, vals, 3)
	require.Equal(t, "2", string(vals[0]))
	require.Equal(t, "4", string(vals[2]))

	vals, err = scope.ListRange(ctx, "chat_history", "s1", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"3", "4"}, []string{string(vals[0]), string(vals[1])})
}

func TestAda_Cache_Lock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newTestStore(t)
	scope, err := store.Tenant("T1")
	require.NoError(t, err)

	var (
		mu       sync.Mutex
		acquired int
		wg       sync.WaitGroup
		held     []*cache.Lock
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, ok, err := scope.TryLock(ctx, "text2sql", "k", time.Minute)
			require.NoError(t, err)
			if ok {
				mu.Lock()
				acquired++
				held = append(held, l)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, acquired)

	locked, err := scope.Locked(ctx, "text2sql", "k")
	require.NoError(t, err)
	require.True(t, locked)

	held[0].Release(ctx)
	locked, err = scope.Locked(ctx, "text2sql", "k")
	require.NoError(t, err)
	require.False(t, locked)

	_, ok, err := scope.TryLock(ctx, "text2sql", "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}
