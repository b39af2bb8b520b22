// Package tenant carries the tenant identifier through a context.
package tenant

import (
	"context"
	"errors"
	"strings"
)

// System is the tenant used for process-wide keys such as deploy locks.
const System = "_system"

var (
	ErrMissing = errors.New("tenant is required")
	ErrInvalid = errors.New("tenant must not contain ':' or whitespace")
)

type ctxKey struct{}

// Validate reports whether id can be used as a key prefix.
func Validate(id string) error {
	if id == "" {
		return ErrMissing
	}
	if strings.ContainsAny(id, ": \t\r\n") {
		return ErrInvalid
	}
	return nil
}

func WithTenant(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}
