package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/malbeclabs/ada/pkg/tenant"
)

// Store is a best-effort Redis cache. Keyed operations are only reachable
// through a tenant Scope so every key carries its tenant prefix.
type Store struct {
	log        *slog.Logger
	client     redis.UniversalClient
	defaultTTL time.Duration
	url        func(mask bool) string
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg *Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        []string{cfg.Addr()},
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		TLSConfig:    cfg.tlsConfig(),
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: ping %s: %w", cfg.URL(true), err)
	}

	cfg.Logger.Info("cache: connected", "url", cfg.URL(true), "poolSize", cfg.PoolSize)

	return &Store{
		log:        cfg.Logger,
		client:     client,
		defaultTTL: cfg.DefaultTTL,
		url:        cfg.URL,
	}, nil
}

// NewFromClient wraps an existing client. Used by tests and by callers that
// manage the client lifecycle themselves.
func NewFromClient(log *slog.Logger, client redis.UniversalClient, defaultTTL time.Duration) *Store {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Store{
		log:        log,
		client:     client,
		defaultTTL: defaultTTL,
		url:        clientURL(client),
	}
}

func clientURL(client redis.UniversalClient) func(bool) string {
	c, ok := client.(*redis.Client)
	if !ok {
		return func(bool) string { return "" }
	}
	opts := c.Options()
	host, port, err := net.SplitHostPort(opts.Addr)
	if err != nil {
		host, port = opts.Addr, strconv.Itoa(DefaultPort)
	}
	p, _ := strconv.Atoi(port)
	cfg := &Config{Host: host, Port: p, Password: opts.Password, DB: opts.DB, DisableTLS: opts.TLSConfig == nil}
	return cfg.URL
}

// Tenant returns the scope for the given tenant.
func (s *Store) Tenant(id string) (*Scope, error) {
	if err := tenant.Validate(id); err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return &Scope{store: s, tenant: id}, nil
}

// QueueLength returns the length of the list at name, or 0 on failure.
func (s *Store) QueueLength(ctx context.Context, name string) int64 {
	n, err := s.client.LLen(ctx, name).Result()
	if err != nil {
		s.log.Warn("cache: queue length failed", "queue", name, "error", err)
		return 0
	}
	return n
}

// ConnectionURL returns the redis(s):// URL for the store.
func (s *Store) ConnectionURL(mask bool) string {
	return s.url(mask)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) ttl(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return s.defaultTTL
	}
	return ttl
}

// Hash returns the hex sha256 of the given parts joined by a NUL byte.
func Hash(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
