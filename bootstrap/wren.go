package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultWrenEndpoint = "http://wren-ui:3000"
	deployMutation      = "mutation Deploy($force: Boolean) { deploy(force: $force) }"
)

type WrenConfig struct {
	Logger     *slog.Logger
	Endpoint   string
	Timeout    time.Duration
	MaxTries   uint
	MaxElapsed time.Duration
	HTTPClient *http.Client

	// NewBackOff overrides the retry schedule. Used by tests.
	NewBackOff func() backoff.BackOff
}

func (c *WrenConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("bootstrap: logger is required")
	}
	if c.Endpoint == "" {
		c.Endpoint = DefaultWrenEndpoint
	}
	c.Endpoint = strings.TrimRight(c.Endpoint, "/")
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.MaxTries == 0 {
		c.MaxTries = 3
	}
	if c.MaxElapsed <= 0 {
		c.MaxElapsed = 60 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	if c.NewBackOff == nil {
		c.NewBackOff = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}
	return nil
}

// Wren notifies the semantic layer UI that the models should be redeployed.
type Wren struct {
	log *slog.Logger
	cfg WrenConfig
}

func NewWren(cfg *WrenConfig) (*Wren, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Wren{log: cfg.Logger, cfg: *cfg}, nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Deploy runs the deploy mutation. Transport failures and 5xx responses are
// retried; after the last attempt they are connectivity errors. GraphQL
// errors are upstream errors.
func (w *Wren) Deploy(ctx context.Context, force bool) error {
	body, err := json.Marshal(graphQLRequest{Query: deployMutation, Variables: map[string]any{"force": force}})
	if err != nil {
		return err
	}
	url := w.cfg.Endpoint + "/api/graphql"

	attempt := 0
	resp, err := backoff.Retry(ctx, func() (*graphQLResponse, error) {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		res, err := w.cfg.HTTPClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnectivity, err)
		}
		defer res.Body.Close()
		raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("%w: read response: %v", ErrConnectivity, err)
		}
		if res.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: wren returned %d: %s", ErrConnectivity, res.StatusCode, truncate(raw))
		}
		if res.StatusCode != http.StatusOK {
			return nil, backoff.Permanent(fmt.Errorf("%w: wren returned %d: %s", ErrUpstream, res.StatusCode, truncate(raw)))
		}
		var out graphQLResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("%w: decode wren response: %v", ErrUpstream, err))
		}
		return &out, nil
	},
		backoff.WithBackOff(w.cfg.NewBackOff()),
		backoff.WithMaxTries(w.cfg.MaxTries),
		backoff.WithMaxElapsedTime(w.cfg.MaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			w.log.Warn("bootstrap: wren deploy failed, retrying", "attempt", attempt, "next", next, "error", err)
		}),
	)
	if err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, len(resp.Errors))
		for i, e := range resp.Errors {
			msgs[i] = e.Message
		}
		return fmt.Errorf("%w: wren deploy: %s", ErrUpstream, strings.Join(msgs, "; "))
	}
	w.log.Info("bootstrap: wren deploy requested", "endpoint", w.cfg.Endpoint, "force", force, "data", string(resp.Data))
	return nil
}

func truncate(b []byte) string {
	if len(b) > 256 {
		return string(b[:256]) + "..."
	}
	return string(b)
}
