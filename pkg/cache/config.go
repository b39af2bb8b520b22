package cache

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"
)

const (
	DefaultPort       = 6379
	DefaultTimeout    = 20 * time.Second
	DefaultPoolSize   = 10
	DefaultTTL        = time.Hour
	DefaultMaxRetries = 3
)

var ErrCleartextRemote = errors.New("cache: TLS is required for non-local redis hosts")

// Config holds the Redis connection settings.
type Config struct {
	Logger *slog.Logger

	Host     string
	Port     int
	Password string
	DB       int

	// DisableTLS turns TLS off. Only allowed for local hosts.
	DisableTLS bool
	// TLSConfig overrides the default TLS configuration.
	TLSConfig *tls.Config

	PoolSize     int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// DefaultTTL is used when Set is called with a zero TTL.
	DefaultTTL time.Duration
}

// IsLocalHost reports whether host is a loopback or in-cluster sidecar name
// for which cleartext connections are allowed.
func IsLocalHost(host string) bool {
	switch host {
	case "localhost", "redis", "127.0.0.1", "::1":
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("cache: logger is required")
	}
	if c.Host == "" {
		return errors.New("cache: host is required")
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("cache: invalid port %d", c.Port)
	}
	if c.DB < 0 {
		return fmt.Errorf("cache: invalid db %d", c.DB)
	}
	if !IsLocalHost(c.Host) {
		if c.DisableTLS {
			return ErrCleartextRemote
		}
	} else if c.TLSConfig == nil {
		c.DisableTLS = true
	}
	if c.PoolSize <= 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	// Connect and socket timeouts are capped at 20s.
	c.DialTimeout = clampTimeout(c.DialTimeout)
	c.ReadTimeout = clampTimeout(c.ReadTimeout)
	c.WriteTimeout = clampTimeout(c.WriteTimeout)
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = DefaultTTL
	}
	return nil
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Config) tlsConfig() *tls.Config {
	if c.DisableTLS {
		return nil
	}
	if c.TLSConfig != nil {
		return c.TLSConfig
	}
	return &tls.Config{MinVersion: tls.VersionTLS12, ServerName: c.Host}
}

// URL returns the connection URL. The password is replaced by *** when mask
// is true.
func (c *Config) URL(mask bool) string {
	scheme := "rediss"
	if c.DisableTLS {
		scheme = "redis"
	}
	auth := ""
	if c.Password != "" {
		pw := c.Password
		if mask {
			pw = "***"
		}
		auth = ":" + pw + "@"
	}
	return fmt.Sprintf("%s://%s%s/%d", scheme, auth, c.Addr(), c.DB)
}

func clampTimeout(d time.Duration) time.Duration {
	if d <= 0 || d > DefaultTimeout {
		return DefaultTimeout
	}
	return d
}
