package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/ada/pkg/errkind"
	"github.com/malbeclabs/ada/pkg/llm"
	"github.com/malbeclabs/ada/pkg/sqldialect"
	"github.com/malbeclabs/ada/pkg/warehouse"
)

type sqlResult struct {
	SQL string `json:"sql"`
}

type sqlReply struct {
	Results []sqlResult `json:"results"`
}

var sqlSchema = llm.SchemaFor[sqlReply]()

// GenerateInput is everything SQL generation needs for one turn.
type GenerateInput struct {
	Tenant    string
	Query     string
	Category  string
	Schema    []string
	Samples   []Sample
	ProjectID string
}

type GeneratorConfig struct {
	Logger   *slog.Logger
	LLM      llm.Completer
	Executor warehouse.Executor
	Prompts  *Prompts
	Clock    clockwork.Clock
	// PoolSize bounds concurrent candidate cleaning, transpiling and
	// contract checks. Defaults to runtime.NumCPU(). Dry-runs are not
	// bounded by it.
	PoolSize int
	// RemoveLimit strips a trailing LIMIT from candidates before validation.
	RemoveLimit bool
}

func (c *GeneratorConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("pipeline: logger is required")
	}
	if c.LLM == nil {
		return errors.New("pipeline: LLM is required")
	}
	if c.Executor == nil {
		return errors.New("pipeline: executor is required")
	}
	if c.Prompts == nil {
		return errors.New("pipeline: prompts are required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.PoolSize <= 0 {
		c.PoolSize = runtime.NumCPU()
	}
	return nil
}

// Generator produces SQL candidates and validates them against the
// warehouse.
type Generator struct {
	log         *slog.Logger
	llm         llm.Completer
	exec        warehouse.Executor
	prompts     *Prompts
	clock       clockwork.Clock
	pool        pond.ResultPool[prepared]
	removeLimit bool
}

func NewGenerator(cfg *GeneratorConfig) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Generator{
		log:         cfg.Logger,
		llm:         cfg.LLM,
		exec:        cfg.Executor,
		prompts:     cfg.Prompts,
		clock:       cfg.Clock,
		pool:        pond.NewResultPool[prepared](cfg.PoolSize),
		removeLimit: cfg.RemoveLimit,
	}, nil
}

// Close stops the post-processing pool after queued work drains.
func (g *Generator) Close() {
	g.pool.StopAndWait()
}

// Generate asks the model for candidates. The returned candidates are
// pending validation.
func (g *Generator) Generate(ctx context.Context, in GenerateInput) ([]Candidate, error) {
	var user strings.Builder
	writeContext(&user, in.Schema, in.Samples)
	if in.Category != "" {
		fmt.Fprintf(&user, "Category: %s\n", in.Category)
	}
	fmt.Fprintf(&user, "Current time: %s\n\n", g.clock.Now().UTC().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&user, "Question: %s", in.Query)

	sqls, err := g.complete(ctx, g.prompts.Generate, user.String())
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(sqls))
	for _, sql := range sqls {
		out = append(out, Candidate{SQL: sql, Provenance: ProvenanceGenerated, Validation: ValidationPending})
	}
	return out, nil
}

// complete runs a SQL-producing prompt. A reply that fails the schema is
// searched for SQL in code blocks before giving up.
func (g *Generator) complete(ctx context.Context, system, user string) ([]string, error) {
	reply, err := g.llm.Complete(ctx, system, user, llm.WithSchema("sql", sqlSchema), llm.WithTemperature(0), llm.WithCacheControl())
	if err != nil {
		var se *llm.SchemaError
		if errors.As(err, &se) {
			if sql := extractSQL(se.Reply); sql != "" {
				g.log.Info("pipeline: recovered SQL from non-JSON reply")
				return []string{sql}, nil
			}
		}
		return nil, err
	}
	var parsed sqlReply
	if err := json.Unmarshal([]byte(reply), &parsed); err != nil {
		return nil, errkind.Wrap(errkind.LLMSchema, "invalid SQL reply", err)
	}
	var out []string
	for _, r := range parsed.Results {
		if sql := strings.TrimSpace(r.SQL); sql != "" {
			out = append(out, sql)
		}
	}
	if len(out) == 0 {
		return nil, errkind.New(errkind.LLMSchema, "no SQL generated")
	}
	return out, nil
}

// Validate post-processes and dry-runs every pending candidate concurrently
// and returns all candidates split by outcome, each list in input order.
// Candidates that are already invalid pass through without a warehouse call.
func (g *Generator) Validate(ctx context.Context, cands []Candidate, projectID string) (valid, invalid []Candidate) {
	checked := make([]Candidate, len(cands))
	copy(checked, cands)
	var wg sync.WaitGroup
	for i, c := range cands {
		if c.Validation != ValidationPending {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			checked[i] = g.check(ctx, c, projectID)
		}()
	}
	wg.Wait()

	for _, c := range checked {
		if c.Validation == ValidationOK {
			valid = append(valid, c)
		} else {
			invalid = append(invalid, c)
		}
	}
	return valid, invalid
}

// prepared is a candidate after local checks. cand is still pending when
// it passed them.
type prepared struct {
	cand  Candidate
	query sqldialect.Quoted
}

// check runs the local checks on the CPU pool and the dry-run on the
// calling goroutine.
func (g *Generator) check(ctx context.Context, c Candidate, projectID string) Candidate {
	p, err := g.pool.Submit(func() prepared { return g.prepare(c) }).Wait()
	if err != nil {
		g.log.Error("pipeline: candidate validation failed", "error", err)
		return c.invalid(warehouse.ErrorKindTransient, "validation did not complete")
	}
	if p.cand.Validation != ValidationPending {
		return p.cand
	}

	c = p.cand
	res := g.exec.Execute(ctx, p.query, warehouse.ExecOptions{DryRun: true, ProjectID: projectID})
	c.CorrelationID = res.Meta.CorrelationID
	if !res.OK {
		return c.invalid(res.Meta.ErrorKind, res.Meta.ErrorMessage)
	}
	c.Validation = ValidationOK
	c.ErrorKind = ""
	c.ErrorMessage = ""
	return c
}

func (g *Generator) prepare(c Candidate) prepared {
	sql := sqldialect.Clean(c.SQL)
	if g.removeLimit {
		sql = sqldialect.RemoveLimit(sql)
	}
	c.SQL = sql

	q, err := sqldialect.Transpile(sql)
	if err != nil {
		return prepared{cand: c.invalid(warehouse.ErrorKindAddQuotes, "add_quotes failed: "+err.Error())}
	}
	c.SQL = q.String()

	if vs := sqldialect.CheckContract(q.String()); len(vs) > 0 {
		msgs := make([]string, len(vs))
		for i, v := range vs {
			msgs[i] = v.String()
		}
		return prepared{cand: c.invalid(InvalidContract, strings.Join(msgs, "; "))}
	}
	return prepared{cand: c, query: q}
}

func writeContext(sb *strings.Builder, schema []string, samples []Sample) {
	if len(schema) > 0 {
		sb.WriteString("## Database Schema\n\n```\n")
		for _, d := range schema {
			sb.WriteString(d)
			sb.WriteString("\n")
		}
		sb.WriteString("```\n\n")
	}
	if len(samples) > 0 {
		sb.WriteString("## Samples\n\n")
		for i, s := range samples {
			fmt.Fprintf(sb, "#### Sample: %d\n##### Question: %s\n###### SQL Query: %s\n\n", i, s.Question, s.SQL)
		}
	}
}

// extractSQL finds SQL in markdown code blocks, or accepts the whole reply
// if it looks like SQL.
func extractSQL(response string) string {
	response = strings.TrimSpace(response)
	if start := strings.Index(response, "```sql"); start != -1 {
		start += len("```sql")
		if end := strings.Index(response[start:], "```"); end != -1 {
			return sqldialect.Clean(response[start : start+end])
		}
	}
	if start := strings.Index(response, "```"); start != -1 {
		start += 3
		if end := strings.Index(response[start:], "```"); end != -1 {
			content := strings.TrimSpace(response[start : start+end])
			if sqldialect.LooksLikeSQL(content) {
				return sqldialect.Clean(content)
			}
		}
	}
	if sqldialect.LooksLikeSQL(response) {
		return sqldialect.Clean(response)
	}
	return ""
}
