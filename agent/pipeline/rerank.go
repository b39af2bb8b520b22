package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/malbeclabs/ada/pkg/llm"
)

const DefaultRerankThreshold = 0.7

type rerankItem struct {
	Question   string  `json:"question"`
	Confidence float64 `json:"confidence"`
}

type rerankReply struct {
	Response []rerankItem `json:"response"`
}

var rerankSchema = llm.SchemaFor[rerankReply]()

// Reranker orders retrieved samples by their relevance to the question.
type Reranker struct {
	log       *slog.Logger
	llm       llm.Completer
	prompt    string
	threshold float64
}

func NewReranker(log *slog.Logger, completer llm.Completer, prompts *Prompts, threshold float64) *Reranker {
	if threshold <= 0 {
		threshold = DefaultRerankThreshold
	}
	return &Reranker{log: log, llm: completer, prompt: prompts.Rerank, threshold: threshold}
}

// Rerank keeps samples the model scores at or above the threshold, highest
// confidence first, ties in retrieval order. Any failure returns samples in
// retrieval order.
func (r *Reranker) Rerank(ctx context.Context, query string, samples []Sample, schemaDocs []string) []Sample {
	if len(samples) == 0 {
		return nil
	}

	var user strings.Builder
	fmt.Fprintf(&user, "User question: %s\n\nSamples:\n", query)
	for i, s := range samples {
		fmt.Fprintf(&user, "%d. %s\n", i+1, s.Question)
	}
	if len(schemaDocs) > 0 {
		user.WriteString("\nSchema:\n")
		for _, d := range schemaDocs {
			user.WriteString(d)
			user.WriteString("\n")
		}
	}

	reply, err := r.llm.Complete(ctx, r.prompt, user.String(), llm.WithSchema("rerank", rerankSchema), llm.WithTemperature(0))
	if err != nil {
		r.log.Info("pipeline: rerank failed, using retrieval order", "error", err)
		return samples
	}
	var parsed rerankReply
	if err := json.Unmarshal([]byte(reply), &parsed); err != nil {
		r.log.Info("pipeline: rerank parse failed, using retrieval order", "error", err)
		return samples
	}
	return r.apply(samples, parsed.Response)
}

func (r *Reranker) apply(samples []Sample, items []rerankItem) []Sample {
	index := make(map[string]int, len(samples))
	for i, s := range samples {
		if _, ok := index[s.Question]; !ok {
			index[s.Question] = i
		}
	}

	type ranked struct {
		pos        int
		confidence float64
	}
	seen := make(map[string]bool, len(items))
	var kept []ranked
	for _, it := range items {
		pos, ok := index[it.Question]
		if !ok || seen[it.Question] {
			continue
		}
		seen[it.Question] = true
		// Only confidences strictly above the threshold are kept.
		if it.Confidence < 0 || it.Confidence > 1 || it.Confidence <= r.threshold {
			continue
		}
		kept = append(kept, ranked{pos: pos, confidence: it.Confidence})
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].confidence != kept[j].confidence {
			return kept[i].confidence > kept[j].confidence
		}
		return kept[i].pos < kept[j].pos
	})

	out := make([]Sample, 0, len(kept))
	for _, k := range kept {
		out = append(out, samples[k.pos])
	}
	return out
}
