package warehouse

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"
)

const (
	DefaultSchema       = "PUBLIC"
	DefaultMaxOpenConns = 10
	DefaultMaxTries     = 3
	DefaultQueryTimeout = 60 * time.Second
	DefaultMaxRows      = 10000
)

// Config holds the Snowflake connection settings.
type Config struct {
	Logger *slog.Logger

	Account   string
	User      string
	Password  string
	Database  string
	Schema    string
	Warehouse string
	Role      string

	MaxOpenConns int
	// MaxTries bounds attempts for transient failures.
	MaxTries uint
	// QueryTimeout bounds a single statement when the caller context has no
	// earlier deadline.
	QueryTimeout time.Duration
	// MaxRows caps the rows returned by Execute. Extra rows are dropped and
	// the result is marked truncated.
	MaxRows int
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("warehouse: logger is required")
	}
	if c.Account == "" {
		return errors.New("warehouse: account is required")
	}
	if c.User == "" {
		return errors.New("warehouse: user is required")
	}
	if c.Password == "" {
		return errors.New("warehouse: password is required")
	}
	if c.Database == "" {
		return errors.New("warehouse: database is required")
	}
	if c.Warehouse == "" {
		return errors.New("warehouse: warehouse is required")
	}
	if c.Schema == "" {
		c.Schema = DefaultSchema
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = DefaultMaxOpenConns
	}
	if c.MaxTries == 0 {
		c.MaxTries = DefaultMaxTries
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = DefaultQueryTimeout
	}
	if c.MaxRows <= 0 {
		c.MaxRows = DefaultMaxRows
	}
	return nil
}

// DSN returns the gosnowflake connection string.
func (c *Config) DSN() string {
	q := url.Values{}
	q.Set("warehouse", c.Warehouse)
	if c.Role != "" {
		q.Set("role", c.Role)
	}
	return fmt.Sprintf("%s:%s@%s/%s/%s?%s",
		url.QueryEscape(c.User), url.QueryEscape(c.Password), c.Account, c.Database, c.Schema, q.Encode())
}
