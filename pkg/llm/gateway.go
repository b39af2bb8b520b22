package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/jsonschema-go/jsonschema"
	"golang.org/x/time/rate"

	"github.com/malbeclabs/ada/pkg/errkind"
	"github.com/malbeclabs/ada/pkg/tenant"
)

const (
	DefaultMaxTries    = 3
	DefaultMaxTokens   = 4096
	DefaultTenantRate  = rate.Limit(5)
	DefaultTenantBurst = 10
)

type GatewayConfig struct {
	Logger   *slog.Logger
	Provider Provider

	MaxTries  uint
	MaxTokens int64

	// TenantRate and TenantBurst configure the per-tenant token bucket.
	// A negative TenantRate disables limiting.
	TenantRate  rate.Limit
	TenantBurst int

	// NewBackOff overrides the retry schedule. Used by tests.
	NewBackOff func() backoff.BackOff
}

func (c *GatewayConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("llm: logger is required")
	}
	if c.Provider == nil {
		return errors.New("llm: provider is required")
	}
	if c.MaxTries == 0 {
		c.MaxTries = DefaultMaxTries
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.TenantRate == 0 {
		c.TenantRate = DefaultTenantRate
	}
	if c.TenantBurst <= 0 {
		c.TenantBurst = DefaultTenantBurst
	}
	if c.NewBackOff == nil {
		c.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.RandomizationFactor = 0.5
			return b
		}
	}
	return nil
}

// Gateway wraps a Provider with validation, retries and rate limiting.
type Gateway struct {
	log *slog.Logger
	cfg GatewayConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	resolved sync.Map // *jsonschema.Schema -> *jsonschema.Resolved
}

func NewGateway(cfg *GatewayConfig) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Gateway{
		log:      cfg.Logger,
		cfg:      *cfg,
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

// Complete sends the prompts to the provider. With WithSchema the returned
// string is the validated JSON document; a reply that cannot be parsed into
// the schema yields a *SchemaError (kind LLM_SCHEMA). Exhausted retries
// yield kind LLM_UNAVAILABLE.
func (g *Gateway) Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error) {
	var o CompleteOptions
	for _, opt := range opts {
		opt(&o)
	}
	req := Request{
		System:            systemPrompt,
		User:              userPrompt,
		Temperature:       o.Temperature,
		MaxTokens:         o.MaxTokens,
		Schema:            o.Schema,
		SchemaName:        o.SchemaName,
		CacheSystemPrompt: o.CacheSystemPrompt,
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = g.cfg.MaxTokens
	}

	tenantID, _ := tenant.FromContext(ctx)
	if err := g.wait(ctx, tenantID); err != nil {
		return "", err
	}

	provider := g.cfg.Provider.Name()
	start := time.Now()
	attempt := 0
	resp, err := backoff.Retry(ctx, func() (Response, error) {
		attempt++
		resp, err := g.cfg.Provider.Complete(ctx, req)
		if err != nil {
			if ctx.Err() != nil || !IsTransient(err) {
				return Response{}, backoff.Permanent(err)
			}
			return Response{}, err
		}
		return resp, nil
	},
		backoff.WithBackOff(g.cfg.NewBackOff()),
		backoff.WithMaxTries(g.cfg.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			g.log.Warn("llm: completion failed, retrying", "provider", provider, "attempt", attempt, "next", next, "error", err)
		}),
	)
	duration := time.Since(start)
	llmDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if err != nil {
		llmCalls.WithLabelValues(provider, "error").Inc()
		g.log.Error("llm: completion failed", "provider", provider, "tenant", tenantID, "attempts", attempt, "duration", duration, "error", err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("llm: %w", ctxErr)
		}
		return "", errkind.Wrap(errkind.LLMUnavailable, "language model unavailable", err)
	}

	llmTokens.WithLabelValues(provider, resp.Model, "input").Add(float64(resp.Usage.InputTokens))
	llmTokens.WithLabelValues(provider, resp.Model, "output").Add(float64(resp.Usage.OutputTokens))
	g.log.Info("llm: token usage",
		"provider", provider,
		"model", resp.Model,
		"tenant", tenantID,
		"schema", req.SchemaName,
		"inputTokens", resp.Usage.InputTokens,
		"outputTokens", resp.Usage.OutputTokens,
		"attempts", attempt,
		"duration", duration,
	)

	if req.Schema == nil {
		llmCalls.WithLabelValues(provider, "ok").Inc()
		return resp.Text, nil
	}
	doc, err := g.validate(req.Schema, resp.Text)
	if err != nil {
		llmCalls.WithLabelValues(provider, "schema_error").Inc()
		g.log.Warn("llm: reply failed schema validation", "provider", provider, "schema", req.SchemaName, "error", err)
		return "", errkind.Wrap(errkind.LLMSchema, "reply does not match "+req.SchemaName, &SchemaError{Reply: resp.Text, Err: err})
	}
	llmCalls.WithLabelValues(provider, "ok").Inc()
	return doc, nil
}

func (g *Gateway) validate(schema *jsonschema.Schema, reply string) (string, error) {
	doc := ExtractJSON(reply)
	if doc == "" {
		return "", errors.New("no JSON object in reply")
	}
	var instance any
	if err := json.Unmarshal([]byte(doc), &instance); err != nil {
		return "", fmt.Errorf("invalid JSON: %w", err)
	}
	resolved, err := g.resolve(schema)
	if err != nil {
		return "", err
	}
	if err := resolved.Validate(instance); err != nil {
		return "", err
	}
	return doc, nil
}

func (g *Gateway) resolve(schema *jsonschema.Schema) (*jsonschema.Resolved, error) {
	if r, ok := g.resolved.Load(schema); ok {
		return r.(*jsonschema.Resolved), nil
	}
	r, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema: %w", err)
	}
	g.resolved.Store(schema, r)
	return r, nil
}

func (g *Gateway) wait(ctx context.Context, tenantID string) error {
	if g.cfg.TenantRate < 0 || tenantID == "" {
		return nil
	}
	g.mu.Lock()
	lim, ok := g.limiters[tenantID]
	if !ok {
		lim = rate.NewLimiter(g.cfg.TenantRate, g.cfg.TenantBurst)
		g.limiters[tenantID] = lim
	}
	g.mu.Unlock()
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("llm: rate limit wait: %w", err)
	}
	return nil
}

// SchemaFor derives a JSON schema from T.
func SchemaFor[T any]() *jsonschema.Schema {
	s, err := jsonschema.For[T](nil)
	if err != nil {
		panic(fmt.Sprintf("llm: schema for %T: %v", *new(T), err))
	}
	return s
}
