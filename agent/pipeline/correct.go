package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Corrector asks the model to repair invalid candidates.
type Corrector struct {
	log *slog.Logger
	gen *Generator
}

func NewCorrector(log *slog.Logger, gen *Generator) *Corrector {
	return &Corrector{log: log, gen: gen}
}

// Correct issues one prompt per invalid candidate concurrently. The first
// SQL of each reply becomes a pending corrected candidate for round. Failed
// prompts keep the original invalid candidate so its error is not lost.
func (c *Corrector) Correct(ctx context.Context, in GenerateInput, invalid []Candidate, round int) []Candidate {
	out := make([]Candidate, len(invalid))
	var wg sync.WaitGroup
	for i, cand := range invalid {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i] = c.correctOne(ctx, in, cand, round)
		}()
	}
	wg.Wait()
	return out
}

func (c *Corrector) correctOne(ctx context.Context, in GenerateInput, cand Candidate, round int) Candidate {
	var user strings.Builder
	writeContext(&user, in.Schema, in.Samples)
	fmt.Fprintf(&user, "Question: %s\n\n", in.Query)
	fmt.Fprintf(&user, "Failed SQL:\n%s\n\n", cand.SQL)
	fmt.Fprintf(&user, "Error (%s):\n%s\n\n", cand.ErrorKind, cand.ErrorMessage)
	user.WriteString("Generate a corrected SQL query that avoids this error.")

	sqls, err := c.gen.complete(ctx, c.gen.prompts.Correct, user.String())
	if err != nil {
		c.log.Info("pipeline: correction failed", "round", round, "error", err)
		return cand
	}
	return Candidate{
		SQL:        sqls[0],
		Provenance: ProvenanceCorrected,
		Attempt:    round,
		Validation: ValidationPending,
	}
}
