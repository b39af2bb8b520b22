// Package errkind defines the error kinds surfaced to callers of the Ada
// router.
package errkind

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	Auth                 Kind = "AUTH"
	BadRequest           Kind = "BAD_REQUEST"
	Timeout              Kind = "TIMEOUT"
	LLMUnavailable       Kind = "LLM_UNAVAILABLE"
	LLMSchema            Kind = "LLM_SCHEMA"
	RetrievalUnavailable Kind = "RETRIEVAL_UNAVAILABLE"
	UnresolvedSQL        Kind = "UNRESOLVED_SQL"
	WarehouseTransient   Kind = "WAREHOUSE_TRANSIENT"
	Cancelled            Kind = "CANCELLED"
	Internal             Kind = "INTERNAL"
)

// Error is an error tagged with a Kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Message == "" {
			return fmt.Sprintf("%s: %v", e.Kind, e.Err)
		}
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Of returns the kind carried by err. Context cancellation and deadline
// errors map to Cancelled and Timeout; anything else is Internal.
func Of(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return Cancelled
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	}
	return Internal
}

// Message returns the user-facing message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
