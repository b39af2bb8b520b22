package bootstrap_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/ada/bootstrap"
	"github.com/malbeclabs/ada/pkg/logger"
)

func newWren(t *testing.T, endpoint string) *bootstrap.Wren {
	t.Helper()
	w, err := bootstrap.NewWren(&bootstrap.WrenConfig{
		Logger:     logger.Discard(),
		Endpoint:   endpoint + "/",
		NewBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	})
	require.NoError(t, err)
	return w
}

func TestAda_Bootstrap_WrenDeploy(t *testing.T) {
	t.Parallel()

	var got struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/graphql", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"data":{"deploy":{"status":"SUCCESS"}}}`))
	}))
	defer srv.Close()

	require.NoError(t, newWren(t, srv.URL).Deploy(context.Background(), true))
	require.Equal(t, "mutation Deploy($force: Boolean) { deploy(force: $force) }", got.Query)
	require.Equal(t, map[string]any{"force": true}, got.Variables)
}

func TestAda_Bootstrap_WrenRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"deploy":true}}`))
	}))
	defer srv.Close()

	require.NoError(t, newWren(t, srv.URL).Deploy(context.Background(), false))
	require.Equal(t, int32(3), calls.Load())
}

func TestAda_Bootstrap_WrenFailures(t *testing.T) {
	t.Parallel()

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	err := newWren(t, down.URL).Deploy(context.Background(), true)
	require.Equal(t, bootstrap.ExitConnectivity, bootstrap.ExitCodeFor(err))

	rejected := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":null,"errors":[{"message":"deploy failed: invalid model"}]}`))
	}))
	defer rejected.Close()
	err = newWren(t, rejected.URL).Deploy(context.Background(), true)
	require.ErrorContains(t, err, "deploy failed: invalid model")
	require.Equal(t, bootstrap.ExitUpstream, bootstrap.ExitCodeFor(err))

	var calls atomic.Int32
	badRequest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer badRequest.Close()
	err = newWren(t, badRequest.URL).Deploy(context.Background(), true)
	require.Equal(t, bootstrap.ExitUpstream, bootstrap.ExitCodeFor(err))
	require.Equal(t, int32(1), calls.Load())
}
