// Package respond produces answers for intents that do not need SQL.
package respond

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/malbeclabs/ada/agent/history"
	"github.com/malbeclabs/ada/pkg/llm"
)

//go:embed RESPOND.md
var respondPrompt string

type Request struct {
	TurnID   string            `json:"turn_id"`
	Tenant   string            `json:"tenant_id"`
	Label    string            `json:"intent"`
	Text     string            `json:"query"`
	Category string            `json:"category,omitempty"`
	Language string            `json:"language,omitempty"`
	Currency string            `json:"preferred_currency,omitempty"`
	History  []history.Message `json:"history,omitempty"`
}

type Reply struct {
	Answer       string `json:"answer,omitempty"`
	DispatchedTo string `json:"dispatched_to,omitempty"`
}

// Handler answers one turn for a non-data intent.
type Handler interface {
	Respond(ctx context.Context, req Request) (Reply, error)
}

// Knowledge answers from general knowledge using the language model.
type Knowledge struct {
	log    *slog.Logger
	llm    llm.Completer
	prompt string
}

func NewKnowledge(log *slog.Logger, completer llm.Completer) (*Knowledge, error) {
	if log == nil {
		return nil, errors.New("respond: logger is required")
	}
	if completer == nil {
		return nil, errors.New("respond: LLM is required")
	}
	return &Knowledge{log: log, llm: completer, prompt: strings.TrimSpace(respondPrompt)}, nil
}

func (k *Knowledge) Respond(ctx context.Context, req Request) (Reply, error) {
	var userPrompt strings.Builder
	if len(req.History) > 0 {
		userPrompt.WriteString("Previous conversation:\n")
		for _, msg := range req.History {
			content := msg.Content
			if msg.Role == history.RoleUser {
				fmt.Fprintf(&userPrompt, "User: %s\n", content)
				continue
			}
			if len(content) > 1000 {
				content = content[:1000] + "..."
			}
			fmt.Fprintf(&userPrompt, "Assistant: %s\n", content)
		}
		userPrompt.WriteString("\n")
	}
	if req.Language != "" {
		fmt.Fprintf(&userPrompt, "Answer in: %s\n", req.Language)
	}
	if req.Currency != "" {
		fmt.Fprintf(&userPrompt, "Preferred currency: %s\n", req.Currency)
	}
	fmt.Fprintf(&userPrompt, "Current question: %s", req.Text)

	answer, err := k.llm.Complete(ctx, k.prompt, userPrompt.String(), llm.WithCacheControl())
	if err != nil {
		return Reply{}, fmt.Errorf("respond: knowledge: %w", err)
	}
	k.log.Debug("respond: knowledge answer", "turn", req.TurnID, "tenant", req.Tenant, "answerLen", len(answer))
	return Reply{Answer: strings.TrimSpace(answer), DispatchedTo: req.Label}, nil
}
