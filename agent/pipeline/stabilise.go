package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/malbeclabs/ada/pkg/llm"
)

type stabiliseReply struct {
	FixedQuery string `json:"fixed_query"`
}

var stabiliseSchema = llm.SchemaFor[stabiliseReply]()

// Stabiliser rewrites a question into its canonical form.
type Stabiliser struct {
	log    *slog.Logger
	llm    llm.Completer
	prompt string
	rules  *RulesSource
}

func NewStabiliser(log *slog.Logger, completer llm.Completer, prompts *Prompts, rules *RulesSource) *Stabiliser {
	return &Stabiliser{log: log, llm: completer, prompt: prompts.Stabilise, rules: rules}
}

// Stabilise never fails: on any error, or an empty rewrite, it returns text
// unchanged.
func (s *Stabiliser) Stabilise(ctx context.Context, tenantID, text, category string) string {
	input := text
	if category != "" {
		input = fmt.Sprintf("%s for category '%s'", text, category)
	}

	system := s.prompt
	if rules := s.rules.Rules(tenantID); len(rules) > 0 {
		var sb strings.Builder
		sb.WriteString(system)
		sb.WriteString("\n\n## Tenant rules\n")
		for _, r := range rules {
			sb.WriteString("- ")
			sb.WriteString(r)
			sb.WriteString("\n")
		}
		system = strings.TrimRight(sb.String(), "\n")
	}

	reply, err := s.llm.Complete(ctx, system, input,
		llm.WithSchema("stabilise", stabiliseSchema),
		llm.WithTemperature(0.1),
		llm.WithCacheControl(),
	)
	if err != nil {
		s.log.Info("pipeline: stabilise failed, using original text", "tenant", tenantID, "error", err)
		return text
	}
	var parsed stabiliseReply
	if err := json.Unmarshal([]byte(reply), &parsed); err != nil {
		s.log.Info("pipeline: stabilise parse failed, using original text", "tenant", tenantID, "error", err)
		return text
	}
	fixed := strings.TrimSpace(parsed.FixedQuery)
	if fixed == "" {
		return text
	}
	return fixed
}
