// Package history stores the messages of a conversation, keyed by tenant
// and session.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/malbeclabs/ada/pkg/cache"
)

const (
	Component = "chat_history"
	// Window is the number of messages used for routing and rewrites.
	Window        = 20
	DefaultTTL    = 30 * 24 * time.Hour
	DefaultMaxLen = 200
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	TurnID    string    `json:"turn_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Intent    string    `json:"intent,omitempty"`
	SQL       string    `json:"sql,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists conversation messages.
type Store interface {
	Append(ctx context.Context, tenantID, sessionID string, msgs ...Message) error
	// Recent returns up to n of the newest messages, oldest first.
	Recent(ctx context.Context, tenantID, sessionID string, n int) ([]Message, error)
}

// Archiver receives a durable copy of every appended message.
type Archiver interface {
	Archive(ctx context.Context, tenantID, sessionID string, msgs []Message) error
}

type RedisConfig struct {
	Logger   *slog.Logger
	Cache    *cache.Store
	TTL      time.Duration
	MaxLen   int64
	Archiver Archiver
}

func (c *RedisConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("history: logger is required")
	}
	if c.Cache == nil {
		return errors.New("history: cache is required")
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.MaxLen <= 0 {
		c.MaxLen = DefaultMaxLen
	}
	return nil
}

// Redis keeps a bounded list per session in the cache store. Unlike the
// cache itself, append failures are returned: a turn is not complete until
// its messages are recorded.
type Redis struct {
	log      *slog.Logger
	cache    *cache.Store
	ttl      time.Duration
	maxLen   int64
	archiver Archiver
}

func NewRedis(cfg *RedisConfig) (*Redis, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Redis{
		log:      cfg.Logger,
		cache:    cfg.Cache,
		ttl:      cfg.TTL,
		maxLen:   cfg.MaxLen,
		archiver: cfg.Archiver,
	}, nil
}

func (r *Redis) Append(ctx context.Context, tenantID, sessionID string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	scope, err := r.cache.Tenant(tenantID)
	if err != nil {
		return err
	}
	values := make([][]byte, 0, len(msgs))
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("history: marshal message: %w", err)
		}
		values = append(values, b)
	}
	if err := scope.ListAppend(ctx, Component, sessionID, r.ttl, r.maxLen, values...); err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	if r.archiver != nil {
		if err := r.archiver.Archive(ctx, tenantID, sessionID, msgs); err != nil {
			r.log.Warn("history: archive failed", "tenant", tenantID, "session", sessionID, "error", err)
		}
	}
	return nil
}

func (r *Redis) Recent(ctx context.Context, tenantID, sessionID string, n int) ([]Message, error) {
	scope, err := r.cache.Tenant(tenantID)
	if err != nil {
		return nil, err
	}
	raw, err := scope.ListRange(ctx, Component, sessionID, int64(n))
	if err != nil {
		return nil, fmt.Errorf("history: range: %w", err)
	}
	out := make([]Message, 0, len(raw))
	for _, b := range raw {
		var m Message
		if err := json.Unmarshal(b, &m); err != nil {
			r.log.Warn("history: skipping malformed message", "tenant", tenantID, "session", sessionID, "error", err)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
