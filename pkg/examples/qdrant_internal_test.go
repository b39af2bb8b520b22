package examples

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/malbeclabs/ada/pkg/logger"
)

func TestAda_Examples_Qdrant_Classify(t *testing.T) {
	t.Parallel()

	require.NoError(t, classify(nil))

	err := classify(status.Error(codes.NotFound, "Collection `sql_examples` doesn't exist!"))
	require.ErrorIs(t, err, ErrCollectionNotFound)

	transient := status.Error(codes.Unavailable, "connection refused")
	require.Equal(t, transient, classify(transient))
}

func TestAda_Examples_Qdrant_RetryStopsOnPermanent(t *testing.T) {
	t.Parallel()

	q := &Qdrant{
		log:        logger.Discard(),
		maxTries:   5,
		maxElapsed: time.Second,
		newBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}
	tests := []struct {
		name  string
		err   error
		calls int
		is    error
	}{
		{name: "not found", err: status.Error(codes.NotFound, "missing"), calls: 1, is: ErrCollectionNotFound},
		{name: "invalid argument", err: status.Error(codes.InvalidArgument, "Vector dimension error"), calls: 1},
		{name: "unavailable", err: status.Error(codes.Unavailable, "down"), calls: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			calls := 0
			_, err := retry(context.Background(), q, "test", func() (int, error) {
				calls++
				return 0, tt.err
			})
			require.Error(t, err)
			require.Equal(t, tt.calls, calls)
			if tt.is != nil {
				require.True(t, errors.Is(err, tt.is), fmt.Sprint(err))
			}
		})
	}
}
