package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres archives messages durably. It also implements Store for
// deployments without Redis history.
type Postgres struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

// NewPostgresPool connects to url and applies migrations.
func NewPostgresPool(ctx context.Context, log *slog.Logger, url string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	log.Info("history: connected to postgres", "host", poolConfig.ConnConfig.Host, "database", poolConfig.ConnConfig.Database)

	if err := migrate(connectCtx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS chat_messages (
			id BIGSERIAL PRIMARY KEY,
			tenant_id VARCHAR(255) NOT NULL,
			session_id VARCHAR(255) NOT NULL,
			turn_id VARCHAR(64) NOT NULL,
			role VARCHAR(16) NOT NULL CHECK (role IN ('user', 'assistant')),
			content TEXT NOT NULL,
			intent VARCHAR(64),
			sql_text TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create chat_messages table: %w", err)
	}
	_, err = pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_chat_messages_session
		ON chat_messages (tenant_id, session_id, id DESC)
	`)
	if err != nil {
		return fmt.Errorf("failed to create chat_messages index: %w", err)
	}
	return nil
}

func NewPostgres(log *slog.Logger, pool *pgxpool.Pool) *Postgres {
	return &Postgres{log: log, pool: pool}
}

func (p *Postgres) Archive(ctx context.Context, tenantID, sessionID string, msgs []Message) error {
	return p.Append(ctx, tenantID, sessionID, msgs...)
}

func (p *Postgres) Append(ctx context.Context, tenantID, sessionID string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range msgs {
		batch.Queue(`
			INSERT INTO chat_messages (tenant_id, session_id, turn_id, role, content, intent, sql_text, created_at)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8)
		`, tenantID, sessionID, m.TurnID, string(m.Role), m.Content, m.Intent, m.SQL, m.CreatedAt)
	}
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("history: insert messages: %w", err)
	}
	return nil
}

func (p *Postgres) Recent(ctx context.Context, tenantID, sessionID string, n int) ([]Message, error) {
	if n <= 0 {
		n = Window
	}
	rows, err := p.pool.Query(ctx, `
		SELECT turn_id, role, content, COALESCE(intent, ''), COALESCE(sql_text, ''), created_at
		FROM (
			SELECT id, turn_id, role, content, intent, sql_text, created_at
			FROM chat_messages
			WHERE tenant_id = $1 AND session_id = $2
			ORDER BY id DESC
			LIMIT $3
		) recent
		ORDER BY id ASC
	`, tenantID, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("history: query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var role string
		if err := rows.Scan(&m.TurnID, &role, &m.Content, &m.Intent, &m.SQL, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("history: scan message: %w", err)
		}
		m.Role = Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}
