package warehouse

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/snowflakedb/gosnowflake"
	"github.com/sony/gobreaker/v2"

	"github.com/malbeclabs/ada/pkg/sqldialect"
)

// DB is the subset of *sql.DB used by the executor.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PingContext(ctx context.Context) error
	Close() error
}

// Snowflake executes SQL on Snowflake. Dry-runs use EXPLAIN so nothing is
// materialised.
type Snowflake struct {
	log          *slog.Logger
	db           DB
	maxTries     uint
	queryTimeout time.Duration
	maxRows      int
	breaker      *gobreaker.CircuitBreaker[Result]
}

// NewSnowflake opens a pooled connection and verifies it with a ping.
func NewSnowflake(ctx context.Context, cfg *Config) (*Snowflake, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open("snowflake", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("warehouse: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxIdleTime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("warehouse: ping: %w", err)
	}
	cfg.Logger.Info("warehouse: connected", "account", cfg.Account, "database", cfg.Database, "schema", cfg.Schema, "warehouse", cfg.Warehouse)
	return NewSnowflakeWithDB(cfg.Logger, db, cfg.MaxTries, cfg.QueryTimeout, cfg.MaxRows), nil
}

// NewSnowflakeWithDB wraps an existing DB. Used by tests.
func NewSnowflakeWithDB(log *slog.Logger, db DB, maxTries uint, queryTimeout time.Duration, maxRows int) *Snowflake {
	if maxTries == 0 {
		maxTries = DefaultMaxTries
	}
	if queryTimeout <= 0 {
		queryTimeout = DefaultQueryTimeout
	}
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return &Snowflake{
		log:          log,
		db:           db,
		maxTries:     maxTries,
		queryTimeout: queryTimeout,
		maxRows:      maxRows,
		breaker: gobreaker.NewCircuitBreaker[Result](gobreaker.Settings{
			Name:        "warehouse",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			// Caller cancellation says nothing about warehouse health.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("warehouse: circuit breaker state change", "from", from.String(), "to", to.String())
			},
		}),
	}
}

func (s *Snowflake) Close() error {
	return s.db.Close()
}

// Execute runs sql. Transient failures are retried with exponential backoff
// and reported as TRANSIENT once retries are exhausted or the breaker is
// open.
func (s *Snowflake) Execute(ctx context.Context, q sqldialect.Quoted, opts ExecOptions) Result {
	mode := "execute"
	if opts.DryRun {
		mode = "dry_run"
	}
	correlationID := uuid.NewString()
	tag := correlationID
	if opts.ProjectID != "" {
		tag = opts.ProjectID + ":" + correlationID
	}

	start := time.Now()
	attempt := 0
	res, err := backoff.Retry(ctx, func() (Result, error) {
		attempt++
		r, err := s.breaker.Execute(func() (Result, error) {
			return s.run(ctx, q, opts.DryRun, tag)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || ctx.Err() != nil {
			return Result{}, backoff.Permanent(err)
		}
		return r, err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(s.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.log.Warn("warehouse: transient failure, retrying", "attempt", attempt, "next", next, "error", err)
		}),
	)

	outcome := "ok"
	if err != nil {
		res = Result{Meta: Meta{ErrorKind: ErrorKindTransient, ErrorMessage: err.Error()}}
	}
	res.Meta.CorrelationID = correlationID
	if !res.OK {
		outcome = string(res.Meta.ErrorKind)
	}
	queriesTotal.WithLabelValues(mode, outcome).Inc()
	queryDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	s.log.Debug("warehouse: statement finished", "mode", mode, "outcome", outcome, "correlationID", correlationID, "attempts", attempt, "duration", time.Since(start))
	return res
}

// run executes once. It returns an error only for transient failures;
// engine errors are encoded in the Result.
func (s *Snowflake) run(ctx context.Context, q sqldialect.Quoted, dryRun bool, tag string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	ctx = gosnowflake.WithQueryTag(ctx, tag)

	stmt := q.String()
	if dryRun {
		stmt = "EXPLAIN USING TEXT " + stmt
	}
	rows, err := s.db.QueryContext(ctx, stmt)
	if err != nil {
		return classify(err)
	}
	defer rows.Close()

	if dryRun {
		for rows.Next() {
		}
		if err := rows.Err(); err != nil {
			return classify(err)
		}
		return Result{OK: true}, nil
	}

	data, err := scanRows(rows, s.maxRows)
	if err != nil {
		return classify(err)
	}
	if data.Truncated {
		s.log.Warn("warehouse: result truncated", "maxRows", s.maxRows)
	}
	return Result{OK: true, Rows: data}, nil
}

func classify(err error) (Result, error) {
	if isTransient(err) {
		return Result{}, err
	}
	msg := err.Error()
	var sfErr *gosnowflake.SnowflakeError
	if errors.As(err, &sfErr) && sfErr.Message != "" {
		msg = sfErr.Message
	}
	return Result{Meta: Meta{ErrorKind: ErrorKindDryRun, ErrorMessage: msg}}, nil
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func scanRows(rows *sql.Rows, limit int) (*Rows, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := &Rows{Columns: cols, Data: [][]any{}}
	for rows.Next() {
		if len(out.Data) == limit {
			// The deferred Close stops the remaining rows from streaming.
			out.Truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out.Data = append(out.Data, vals)
	}
	return out, rows.Err()
}
