package respond

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/malbeclabs/ada/pkg/errkind"
)

// Dispatcher routes a turn to the handler registered for its label.
// Labels without a handler are acknowledged with DispatchedTo only.
type Dispatcher struct {
	log      *slog.Logger
	handlers map[string]Handler
}

func NewDispatcher(log *slog.Logger) *Dispatcher {
	return &Dispatcher{log: log, handlers: make(map[string]Handler)}
}

// Register sets the handler for label. Not safe to call concurrently with
// Respond.
func (d *Dispatcher) Register(label string, h Handler) {
	d.handlers[label] = h
}

func (d *Dispatcher) Respond(ctx context.Context, req Request) (Reply, error) {
	h, ok := d.handlers[req.Label]
	if !ok {
		d.log.Info("respond: no handler registered, acknowledging", "turn", req.TurnID, "intent", req.Label)
		return Reply{DispatchedTo: req.Label}, nil
	}
	return h.Respond(ctx, req)
}

// Forwarder posts the turn to a downstream service and relays its answer.
type Forwarder struct {
	log        *slog.Logger
	url        string
	httpClient *http.Client
}

func NewForwarder(log *slog.Logger, url string, timeout time.Duration) (*Forwarder, error) {
	if url == "" {
		return nil, errors.New("respond: forward URL is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Forwarder{log: log, url: url, httpClient: &http.Client{Timeout: timeout}}, nil
}

func (f *Forwarder) Respond(ctx context.Context, req Request) (Reply, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Reply{}, fmt.Errorf("respond: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("respond: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return Reply{}, errkind.Wrap(errkind.Internal, "dispatch failed", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Reply{}, fmt.Errorf("respond: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Reply{}, errkind.New(errkind.Internal, fmt.Sprintf("dispatch to %s failed: status %d", req.Label, resp.StatusCode))
	}
	var reply Reply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return Reply{}, fmt.Errorf("respond: decode response: %w", err)
	}
	if reply.DispatchedTo == "" {
		reply.DispatchedTo = req.Label
	}
	f.log.Debug("respond: forwarded", "turn", req.TurnID, "intent", req.Label, "url", f.url)
	return reply, nil
}
