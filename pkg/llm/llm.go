// Package llm is the gateway to chat-completion models: JSON-schema
// constrained replies, retries with jittered backoff, per-tenant rate limits
// and token accounting.
package llm

import (
	"context"
	"errors"

	"github.com/google/jsonschema-go/jsonschema"
)

// Request is a single completion call sent to a Provider.
type Request struct {
	System      string
	User        string
	Temperature *float64
	MaxTokens   int64
	// Schema, when set, asks the provider for JSON matching it. Providers may
	// ignore it; the gateway validates the reply regardless.
	Schema     *jsonschema.Schema
	SchemaName string
	// CacheSystemPrompt marks the system prompt as cacheable where the
	// provider supports it.
	CacheSystemPrompt bool
}

type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

type Response struct {
	Text  string
	Model string
	Usage Usage
}

// Provider performs one completion. Retryable failures are wrapped with
// Transient.
type Provider interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Name() string
}

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked retryable.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// SchemaError reports a reply that does not satisfy the requested schema.
type SchemaError struct {
	Reply string
	Err   error
}

func (e *SchemaError) Error() string { return "llm: reply does not match schema: " + e.Err.Error() }
func (e *SchemaError) Unwrap() error { return e.Err }

// CompleteOptions holds per-call options.
type CompleteOptions struct {
	Schema            *jsonschema.Schema
	SchemaName        string
	Temperature       *float64
	MaxTokens         int64
	CacheSystemPrompt bool
}

type CompleteOption func(*CompleteOptions)

// WithSchema requires the reply to be JSON matching schema. The gateway then
// returns the extracted JSON document rather than the raw reply.
func WithSchema(name string, schema *jsonschema.Schema) CompleteOption {
	return func(o *CompleteOptions) {
		o.Schema = schema
		o.SchemaName = name
	}
}

func WithTemperature(t float64) CompleteOption {
	return func(o *CompleteOptions) { o.Temperature = &t }
}

func WithMaxTokens(n int64) CompleteOption {
	return func(o *CompleteOptions) { o.MaxTokens = n }
}

// WithCacheControl marks the system prompt as cacheable.
func WithCacheControl() CompleteOption {
	return func(o *CompleteOptions) { o.CacheSystemPrompt = true }
}

// Completer is what pipeline steps depend on.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error)
}
