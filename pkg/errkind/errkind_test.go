package errkind_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/malbeclabs/ada/pkg/errkind"
	"github.com/stretchr/testify/require"
)

func TestAda_ErrKind_Of(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("generate: %w", errkind.New(errkind.LLMSchema, "bad reply"))
	require.Equal(t, errkind.LLMSchema, errkind.Of(wrapped))
	require.Equal(t, "bad reply", errkind.Message(wrapped))

	require.Equal(t, errkind.Cancelled, errkind.Of(fmt.Errorf("x: %w", context.Canceled)))
	require.Equal(t, errkind.Timeout, errkind.Of(context.DeadlineExceeded))
	require.Equal(t, errkind.Internal, errkind.Of(errors.New("boom")))
	require.Equal(t, errkind.Kind(""), errkind.Of(nil))
}

func TestAda_ErrKind_UnwrapKeepsCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := errkind.Wrap(errkind.RetrievalUnavailable, "search failed", cause)
	require.ErrorIs(t, err, cause)
	require.Equal(t, "RETRIEVAL_UNAVAILABLE: search failed: connection refused", err.Error())
}
