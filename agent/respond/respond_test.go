package respond_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/ada/agent/history"
	"github.com/malbeclabs/ada/agent/respond"
	"github.com/malbeclabs/ada/pkg/llm"
	"github.com/malbeclabs/ada/pkg/logger"
)

type mockLLM struct {
	CompleteFunc func(ctx context.Context, system, user string, opts ...llm.CompleteOption) (string, error)
}

func (m *mockLLM) Complete(ctx context.Context, system, user string, opts ...llm.CompleteOption) (string, error) {
	return m.CompleteFunc(ctx, system, user, opts...)
}

func TestAda_Respond_Knowledge(t *testing.T) {
	t.Parallel()

	var gotUser string
	k, err := respond.NewKnowledge(logger.Discard(), &mockLLM{CompleteFunc: func(_ context.Context, system, user string, _ ...llm.CompleteOption) (string, error) {
		require.Contains(t, system, "procurement")
		gotUser = user
		return "  Hello! How can I help?  ", nil
	}})
	require.NoError(t, err)

	reply, err := k.Respond(context.Background(), respond.Request{
		TurnID:   "t1",
		Tenant:   "acme",
		Label:    "source-ai-knowledge",
		Text:     "hi",
		Language: "German",
		History: []history.Message{
			{Role: history.RoleUser, Content: "earlier"},
			{Role: history.RoleAssistant, Content: "answer"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "Hello! How can I help?", reply.Answer)
	require.Equal(t, "source-ai-knowledge", reply.DispatchedTo)
	require.Contains(t, gotUser, "User: earlier")
	require.Contains(t, gotUser, "Assistant: answer")
	require.Contains(t, gotUser, "Answer in: German")
	require.Contains(t, gotUser, "Current question: hi")
}

func TestAda_Respond_KnowledgeError(t *testing.T) {
	t.Parallel()

	k, err := respond.NewKnowledge(logger.Discard(), &mockLLM{CompleteFunc: func(context.Context, string, string, ...llm.CompleteOption) (string, error) {
		return "", errors.New("boom")
	}})
	require.NoError(t, err)
	_, err = k.Respond(context.Background(), respond.Request{Text: "hi"})
	require.Error(t, err)

	_, err = respond.NewKnowledge(nil, nil)
	require.EqualError(t, err, "respond: logger is required")
}

func TestAda_Respond_Dispatcher(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req respond.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "negotiation", req.Label)
		_ = json.NewEncoder(w).Encode(respond.Reply{Answer: "Open at 5% below list"})
	}))
	defer srv.Close()

	fwd, err := respond.NewForwarder(logger.Discard(), srv.URL, 0)
	require.NoError(t, err)

	d := respond.NewDispatcher(logger.Discard())
	d.Register("negotiation", fwd)

	reply, err := d.Respond(context.Background(), respond.Request{Label: "negotiation", Text: "prep"})
	require.NoError(t, err)
	require.Equal(t, "Open at 5% below list", reply.Answer)
	require.Equal(t, "negotiation", reply.DispatchedTo)

	reply, err = d.Respond(context.Background(), respond.Request{Label: "news-qna", Text: "steel"})
	require.NoError(t, err)
	require.Empty(t, reply.Answer)
	require.Equal(t, "news-qna", reply.DispatchedTo)
}

func TestAda_Respond_ForwarderStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	fwd, err := respond.NewForwarder(logger.Discard(), srv.URL, 0)
	require.NoError(t, err)
	_, err = fwd.Respond(context.Background(), respond.Request{Label: "contract-qa"})
	require.ErrorContains(t, err, "status 502")

	_, err = respond.NewForwarder(logger.Discard(), "", 0)
	require.Error(t, err)
}
