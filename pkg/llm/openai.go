package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-4o-mini"
)

type OpenAIConfig struct {
	Logger     *slog.Logger
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

func (c *OpenAIConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("llm: logger is required")
	}
	if c.APIKey == "" {
		return errors.New("llm: OpenAI API key is required")
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultOpenAIBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/") + "/"
	if c.Model == "" {
		c.Model = DefaultOpenAIModel
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	return nil
}

// OpenAI implements Provider against an OpenAI-compatible chat completions
// endpoint.
type OpenAI struct {
	log    *slog.Logger
	client openai.Client
	model  string
}

// NewOpenAI creates a provider. Client-side retries are disabled; the
// gateway owns the retry policy.
func NewOpenAI(cfg *OpenAIConfig) (*OpenAI, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &OpenAI{
		log: cfg.Logger,
		client: openai.NewClient(
			option.WithAPIKey(cfg.APIKey),
			option.WithBaseURL(cfg.BaseURL),
			option.WithHTTPClient(cfg.HTTPClient),
			option.WithMaxRetries(0),
		),
		model: cfg.Model,
	}, nil
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Complete(ctx context.Context, req Request) (Response, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(req.MaxTokens)
	}
	if req.Schema != nil {
		name := req.SchemaName
		if name == "" {
			name = "reply"
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   name,
					Schema: req.Schema,
				},
			},
		}
	}

	start := time.Now()
	completion, err := o.client.Chat.Completions.New(ctx, params)
	duration := time.Since(start)
	if err != nil {
		o.log.Debug("llm: openai call failed", "duration", duration, "error", err)
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			msg := apiErr.Message
			if msg == "" {
				msg = apiErr.Error()
			}
			err = fmt.Errorf("chat completions API error: status %d: %s", apiErr.StatusCode, msg)
			if retryableStatus(apiErr.StatusCode) {
				return Response{}, Transient(err)
			}
			return Response{}, err
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return Response{}, Transient(fmt.Errorf("send request: %w", err))
		}
		return Response{}, fmt.Errorf("chat completions: %w", err)
	}
	o.log.Debug("llm: openai call completed", "duration", duration, "model", completion.Model)

	if len(completion.Choices) == 0 {
		return Response{}, errors.New("no choices in response")
	}
	return Response{
		Text:  completion.Choices[0].Message.Content,
		Model: completion.Model,
		Usage: Usage{
			InputTokens:  completion.Usage.PromptTokens,
			OutputTokens: completion.Usage.CompletionTokens,
		},
	}, nil
}
