package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const DefaultAnthropicModel = anthropic.ModelClaudeHaiku4_5_20251001

// Anthropic implements Provider with the Anthropic messages API.
type Anthropic struct {
	log    *slog.Logger
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropic creates a provider. Client-side retries are disabled; the
// gateway owns the retry policy.
func NewAnthropic(log *slog.Logger, apiKey string, model string, opts ...option.RequestOption) *Anthropic {
	if model == "" {
		model = string(DefaultAnthropicModel)
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	return &Anthropic{
		log:    log,
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(model),
	}
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Complete(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	system := anthropic.TextBlockParam{Text: req.System}
	if req.CacheSystemPrompt {
		system.CacheControl = anthropic.NewCacheControlEphemeralParam()
	}
	userPrompt := req.User
	if req.Schema != nil {
		userPrompt += "\n\nRespond with a single JSON object only."
	}
	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: req.MaxTokens,
		System:    []anthropic.TextBlockParam{system},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	msg, err := a.client.Messages.New(ctx, params)
	duration := time.Since(start)
	if err != nil {
		a.log.Debug("llm: anthropic call failed", "duration", duration, "error", err)
		err = fmt.Errorf("anthropic API error: %w", err)
		if anthropicRetryable(err) {
			return Response{}, Transient(err)
		}
		return Response{}, err
	}
	a.log.Debug("llm: anthropic call completed", "duration", duration, "stopReason", msg.StopReason)

	resp := Response{
		Model: string(msg.Model),
		Usage: Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}
	for _, block := range msg.Content {
		if block.Type == "text" {
			resp.Text = block.Text
			return resp, nil
		}
	}
	return Response{}, errors.New("no text content in response")
}

func anthropicRetryable(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.StatusCode)
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// retryableStatus covers rate limiting and server-side failures, including
// the 529 overloaded status.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
