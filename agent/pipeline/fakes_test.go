package pipeline_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/ada/agent/history"
	"github.com/malbeclabs/ada/agent/intent"
	"github.com/malbeclabs/ada/agent/pipeline"
	"github.com/malbeclabs/ada/agent/respond"
	"github.com/malbeclabs/ada/pkg/cache"
	"github.com/malbeclabs/ada/pkg/examples"
	"github.com/malbeclabs/ada/pkg/llm"
	"github.com/malbeclabs/ada/pkg/logger"
	"github.com/malbeclabs/ada/pkg/sqldialect"
	"github.com/malbeclabs/ada/pkg/warehouse"
)

const testDim = 4

// stepFunc answers one kind of LLM call.
type stepFunc func(ctx context.Context, user string) (string, error)

// fakeLLM routes calls by schema name: "stabilise", "rerank", "sql" and
// "correct" (a "sql" call carrying a failed query). Calls without a schema
// are intent classification.
type fakeLLM struct {
	mu      sync.Mutex
	steps   map[string]stepFunc
	calls   map[string]int
	prompts map[string][]string
	systems map[string][]string
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{
		steps:   make(map[string]stepFunc),
		calls:   make(map[string]int),
		prompts: make(map[string][]string),
		systems: make(map[string][]string),
	}
}

func (f *fakeLLM) on(step string, fn stepFunc) *fakeLLM {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps[step] = fn
	return f
}

func (f *fakeLLM) reply(step, text string) *fakeLLM {
	return f.on(step, func(context.Context, string) (string, error) { return text, nil })
}

func (f *fakeLLM) Complete(ctx context.Context, system, user string, opts ...llm.CompleteOption) (string, error) {
	var o llm.CompleteOptions
	for _, opt := range opts {
		opt(&o)
	}
	step := o.SchemaName
	switch {
	case step == "":
		step = "classify"
	case step == "sql" && strings.Contains(user, "Failed SQL:"):
		step = "correct"
	}
	f.mu.Lock()
	f.calls[step]++
	f.prompts[step] = append(f.prompts[step], user)
	f.systems[step] = append(f.systems[step], system)
	fn := f.steps[step]
	f.mu.Unlock()
	if fn == nil {
		return "", fmt.Errorf("fake llm: no reply for %s", step)
	}
	return fn(ctx, user)
}

func (f *fakeLLM) count(step string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[step]
}

func (f *fakeLLM) lastPrompt(step string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.prompts[step]
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

func (f *fakeLLM) lastSystem(step string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.systems[step]
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

func sqlReply(sqls ...string) string {
	parts := make([]string, len(sqls))
	for i, s := range sqls {
		parts[i] = fmt.Sprintf("{\"sql\": %q}", s)
	}
	return `{"results": [` + strings.Join(parts, ", ") + `]}`
}

func stabiliseReply(text string) string {
	return fmt.Sprintf("{\"fixed_query\": %q}", text)
}

type fakeExecutor struct {
	mu      sync.Mutex
	fn      func(sql string, dryRun bool) warehouse.Result
	dryRuns int
	runs    int
	seen    []string
}

func (e *fakeExecutor) Execute(_ context.Context, q sqldialect.Quoted, opts warehouse.ExecOptions) warehouse.Result {
	e.mu.Lock()
	if opts.DryRun {
		e.dryRuns++
	} else {
		e.runs++
	}
	e.seen = append(e.seen, q.String())
	n := e.dryRuns + e.runs
	fn := e.fn
	e.mu.Unlock()

	res := warehouse.Result{OK: true}
	if fn != nil {
		res = fn(q.String(), opts.DryRun)
	}
	res.Meta.CorrelationID = fmt.Sprintf("corr-%d", n)
	return res
}

func (e *fakeExecutor) counts() (dryRuns, runs int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dryRuns, e.runs
}

// fakeEmbedder maps text to a deterministic vector.
type fakeEmbedder struct {
	dim int
}

func (e *fakeEmbedder) Dimension() int { return e.dim }
func (e *fakeEmbedder) Model() string  { return "fake-embedding" }

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, e.dim)
	for i, c := range strings.ToLower(text) {
		v[i%e.dim] += float32(c%7) + 1
	}
	return v, nil
}

func (e *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

type fakeResponder struct {
	mu   sync.Mutex
	reqs []respond.Request
}

func (r *fakeResponder) Respond(_ context.Context, req respond.Request) (respond.Reply, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return respond.Reply{Answer: "answer for " + req.Text, DispatchedTo: req.Label}, nil
}

func (r *fakeResponder) requests() []respond.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]respond.Request(nil), r.reqs...)
}

type harness struct {
	cfg       *pipeline.Config
	orch      *pipeline.Orchestrator
	llm       *fakeLLM
	exec      *fakeExecutor
	index     *examples.Memory
	history   *history.Redis
	responder *fakeResponder
	mr        *miniredis.Miniredis
}

var testNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func newHarness(t *testing.T, mutate func(*pipeline.Config)) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := cache.NewFromClient(logger.Discard(), client, time.Hour)

	hist, err := history.NewRedis(&history.RedisConfig{Logger: logger.Discard(), Cache: store})
	require.NoError(t, err)

	fake := newFakeLLM().reply("classify", "data-lookup")
	router, err := intent.NewRouter(&intent.Config{Logger: logger.Discard(), LLM: fake})
	require.NoError(t, err)

	index := examples.NewMemory()
	require.NoError(t, index.ReplaceCollection(context.Background(), examples.DefaultCollection, testDim))
	emb := &fakeEmbedder{dim: testDim}
	seed := []examples.Payload{
		{Content: "What is the total spend last year?", SolutionExample: "SELECT SUM(spend) FROM spend_cube WHERE YEAR(TO_DATE(invoice_date, 'YYYYMMDD')) = YEAR(CURRENT_DATE) - 1", Tenant: "acme"},
		{Content: "Top suppliers by spend for another tenant", SolutionExample: "SELECT supplier FROM other_cube", Tenant: "globex"},
	}
	for i, p := range seed {
		vec, _ := emb.Embed(context.Background(), p.Content)
		require.NoError(t, index.Upsert(context.Background(), examples.DefaultCollection, []examples.Point{{ID: fmt.Sprintf("p%d", i), Vector: vec, Payload: p}}))
	}

	h := &harness{
		llm:       fake,
		exec:      &fakeExecutor{},
		index:     index,
		history:   hist,
		responder: &fakeResponder{},
		mr:        mr,
	}
	h.cfg = &pipeline.Config{
		Logger:       logger.Discard(),
		Clock:        clockwork.NewFakeClockAt(testNow),
		LLM:          fake,
		Executor:     h.exec,
		Embedder:     emb,
		Index:        index,
		Cache:        store,
		History:      hist,
		Router:       router,
		Responder:    h.responder,
		Schema:       pipeline.NewStaticSchemaSource("TABLE spend_cube (supplier VARCHAR, spend NUMBER, invoice_date VARCHAR)"),
		PollInterval: 10 * time.Millisecond,
	}
	if mutate != nil {
		mutate(h.cfg)
	}
	h.orch = h.newOrchestrator(t)
	return h
}

// newOrchestrator builds another orchestrator over the same backends, the
// way a second worker process would.
func (h *harness) newOrchestrator(t *testing.T) *pipeline.Orchestrator {
	t.Helper()
	cfg := *h.cfg
	o, err := pipeline.New(&cfg)
	require.NoError(t, err)
	t.Cleanup(o.Close)
	return o
}

func turn(id, session, text string) pipeline.Turn {
	return pipeline.Turn{ID: id, Tenant: "acme", Text: text, SessionID: session, CreatedAt: testNow}
}
