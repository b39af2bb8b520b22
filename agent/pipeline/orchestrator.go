// Package pipeline turns procurement questions into validated Snowflake SQL:
// stabilise, retrieve examples, rerank, generate, validate and correct,
// coordinated per turn by the Orchestrator.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/malbeclabs/ada/agent/history"
	"github.com/malbeclabs/ada/agent/intent"
	"github.com/malbeclabs/ada/agent/respond"
	"github.com/malbeclabs/ada/pkg/cache"
	"github.com/malbeclabs/ada/pkg/embed"
	"github.com/malbeclabs/ada/pkg/errkind"
	"github.com/malbeclabs/ada/pkg/examples"
	"github.com/malbeclabs/ada/pkg/llm"
	"github.com/malbeclabs/ada/pkg/tenant"
	"github.com/malbeclabs/ada/pkg/warehouse"
)

const (
	ResultComponent           = "result"
	DefaultResultTTL          = time.Hour
	DefaultTopK               = 5
	MaxCorrectionRounds       = 2
	DefaultLockTTL            = 2 * time.Minute
	DefaultPollInterval       = 250 * time.Millisecond
	DefaultIndexCheckInterval = 5 * time.Minute
	persistTimeout            = 5 * time.Second
	indexMismatchMessage      = "example index dimension does not match the embedder; redeploy the examples"
)

// Deadlines bound each step of a data turn.
type Deadlines struct {
	Stabilise time.Duration
	Retrieve  time.Duration
	Rerank    time.Duration
	Generate  time.Duration
	Execute   time.Duration
	Correct   time.Duration
}

func DefaultDeadlines() Deadlines {
	return Deadlines{
		Stabilise: 5 * time.Second,
		Retrieve:  2 * time.Second,
		Rerank:    5 * time.Second,
		Generate:  15 * time.Second,
		Execute:   60 * time.Second,
		Correct:   10 * time.Second,
	}
}

func (d *Deadlines) fill() {
	def := DefaultDeadlines()
	for _, p := range []struct {
		v   *time.Duration
		def time.Duration
	}{
		{&d.Stabilise, def.Stabilise},
		{&d.Retrieve, def.Retrieve},
		{&d.Rerank, def.Rerank},
		{&d.Generate, def.Generate},
		{&d.Execute, def.Execute},
		{&d.Correct, def.Correct},
	} {
		if *p.v <= 0 {
			*p.v = p.def
		}
	}
}

// IntentRouter classifies a turn.
type IntentRouter interface {
	Route(ctx context.Context, tenantID, text string, recent []history.Message) (intent.Decision, error)
}

type Config struct {
	Logger    *slog.Logger
	Clock     clockwork.Clock
	LLM       llm.Completer
	Executor  warehouse.Executor
	Embedder  embed.Embedder
	Index     examples.Index
	Cache     *cache.Store
	History   history.Store
	Router    IntentRouter
	Responder respond.Handler
	Schema    SchemaSource
	Rules     *RulesSource
	Prompts   *Prompts

	Collection      string
	Deadlines       Deadlines
	ResultTTL       time.Duration
	TopK            int
	RerankThreshold float64
	// CorrectionRounds is capped at MaxCorrectionRounds.
	CorrectionRounds int
	LockTTL          time.Duration
	PollInterval     time.Duration
	// IndexCheckInterval controls how often the example collection's
	// dimension is compared with the embedder's.
	IndexCheckInterval time.Duration
	ProjectID          string
	// FetchRows executes the chosen SQL after validation and attaches rows.
	FetchRows   bool
	RemoveLimit bool
	PoolSize    int
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("pipeline: logger is required")
	}
	if c.LLM == nil {
		return errors.New("pipeline: LLM is required")
	}
	if c.Executor == nil {
		return errors.New("pipeline: executor is required")
	}
	if c.Embedder == nil {
		return errors.New("pipeline: embedder is required")
	}
	if c.Index == nil {
		return errors.New("pipeline: example index is required")
	}
	if c.Cache == nil {
		return errors.New("pipeline: cache is required")
	}
	if c.History == nil {
		return errors.New("pipeline: history is required")
	}
	if c.Router == nil {
		return errors.New("pipeline: intent router is required")
	}
	if c.Responder == nil {
		return errors.New("pipeline: responder is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Schema == nil {
		c.Schema = NewStaticSchemaSource()
	}
	if c.Prompts == nil {
		p, err := LoadPrompts()
		if err != nil {
			return err
		}
		c.Prompts = p
	}
	if c.Collection == "" {
		c.Collection = examples.DefaultCollection
	}
	c.Deadlines.fill()
	if c.ResultTTL < 0 {
		return errors.New("pipeline: result TTL must be positive")
	}
	if c.ResultTTL == 0 {
		c.ResultTTL = DefaultResultTTL
	}
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.CorrectionRounds <= 0 || c.CorrectionRounds > MaxCorrectionRounds {
		c.CorrectionRounds = MaxCorrectionRounds
	}
	if c.LockTTL <= 0 {
		c.LockTTL = DefaultLockTTL
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.IndexCheckInterval <= 0 {
		c.IndexCheckInterval = DefaultIndexCheckInterval
	}
	return nil
}

// Orchestrator runs turns end to end.
type Orchestrator struct {
	log *slog.Logger
	cfg Config

	stabiliser *Stabiliser
	reranker   *Reranker
	generator  *Generator
	corrector  *Corrector
	sequencer  *Sequencer
	flight     singleflight.Group

	indexMu      sync.Mutex
	indexChecked time.Time
	indexErr     error
}

func New(cfg *Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	gen, err := NewGenerator(&GeneratorConfig{
		Logger:      cfg.Logger,
		LLM:         cfg.LLM,
		Executor:    cfg.Executor,
		Prompts:     cfg.Prompts,
		Clock:       cfg.Clock,
		PoolSize:    cfg.PoolSize,
		RemoveLimit: cfg.RemoveLimit,
	})
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		log:        cfg.Logger,
		cfg:        *cfg,
		stabiliser: NewStabiliser(cfg.Logger, cfg.LLM, cfg.Prompts, cfg.Rules),
		reranker:   NewReranker(cfg.Logger, cfg.LLM, cfg.Prompts, cfg.RerankThreshold),
		generator:  gen,
		corrector:  NewCorrector(cfg.Logger, gen),
		sequencer:  NewSequencer(),
	}, nil
}

func (o *Orchestrator) Close() {
	o.generator.Close()
}

// Admit reserves the turn's place in its conversation. Call it
// synchronously when the turn is accepted so arrival order is preserved.
func (o *Orchestrator) Admit(turn Turn) *Ticket {
	return o.sequencer.Ticket(turn.ConversationKey())
}

// run tracks the state of one turn for transition logging.
type run struct {
	o     *Orchestrator
	turn  Turn
	state State
	// recorded is set once the user message is in history.
	recorded bool
}

func (r *run) to(next State) {
	r.o.log.Info("orchestrator: transition", "turn_id", r.turn.ID, "tenant", r.turn.Tenant, "from", r.state, "to", next)
	r.state = next
}

// Run executes a turn. ticket comes from Admit; nil takes a new one. The
// returned error is an *errkind.Error.
func (o *Orchestrator) Run(ctx context.Context, turn Turn, ticket *Ticket) (res *Result, err error) {
	if ticket == nil {
		ticket = o.Admit(turn)
	}
	r := &run{o: o, turn: turn}
	label := "unknown"
	defer func() {
		ticket.Done()
		if p := recover(); p != nil {
			o.log.Error("orchestrator: panic in turn", "turn_id", turn.ID, "tenant", turn.Tenant, "panic", p, "stack", string(debug.Stack()))
			res, err = nil, errkind.New(errkind.Internal, "internal error")
			r.to(StateFailed)
		}
		status := "completed"
		if err != nil {
			status = strings.ToLower(string(errkind.Of(err)))
		}
		turnsTotal.WithLabelValues(label, status).Inc()
	}()
	r.to(StateReceived)

	if err := tenant.Validate(turn.Tenant); err != nil {
		return nil, r.fail(ctx, errkind.Wrap(errkind.BadRequest, "invalid tenant_id", err))
	}
	ctx = tenant.WithTenant(ctx, turn.Tenant)

	if err := ticket.Wait(ctx); err != nil {
		return nil, r.fail(ctx, err)
	}
	recent, err := o.cfg.History.Recent(ctx, turn.Tenant, turn.Session(), history.Window)
	if err != nil {
		o.log.Warn("orchestrator: history unavailable for routing", "turn_id", turn.ID, "error", err)
	}
	decision, err := o.cfg.Router.Route(ctx, turn.Tenant, turn.Text, recent)
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	label = string(decision.Label)
	if err := o.persist(ctx, turn, history.Message{
		TurnID:    turn.ID,
		Role:      history.RoleUser,
		Content:   turn.Text,
		Intent:    label,
		CreatedAt: turn.CreatedAt,
	}); err != nil {
		return nil, r.fail(ctx, err)
	}
	r.recorded = true
	ticket.Done()
	r.to(StateIntentClassified)

	if decision.Label != intent.DataLookup {
		res, err = o.dispatch(ctx, r, decision, recent)
	} else {
		res, err = o.runData(ctx, r, decision)
	}
	if err != nil {
		return nil, r.fail(ctx, err)
	}

	content := res.Answer
	if content == "" {
		content = res.SQL
	}
	if err := o.persist(ctx, turn, history.Message{
		TurnID:    turn.ID,
		Role:      history.RoleAssistant,
		Content:   content,
		Intent:    label,
		SQL:       res.SQL,
		CreatedAt: o.cfg.Clock.Now().UTC(),
	}); err != nil {
		return nil, r.fail(ctx, err)
	}
	r.to(StateDone)
	return res, nil
}

// fail records err as the turn's outcome and returns it as an
// *errkind.Error. Cancellation of the turn wins over the step error.
func (r *run) fail(ctx context.Context, err error) error {
	var kerr *errkind.Error
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		kerr = errkind.Wrap(errkind.Cancelled, "turn cancelled", err)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		kerr = errkind.Wrap(errkind.Timeout, "turn deadline exceeded", err)
	case !errors.As(err, &kerr):
		kerr = errkind.Wrap(errkind.Of(err), errkind.Message(err), err)
	}
	if kerr.Kind == errkind.Cancelled {
		r.to(StateCancelled)
	} else {
		r.to(StateFailed)
	}
	if r.recorded {
		_ = r.o.persist(ctx, r.turn, history.Message{
			TurnID:    r.turn.ID,
			Role:      history.RoleAssistant,
			Content:   fmt.Sprintf("%s: %s", kerr.Kind, kerr.Message),
			CreatedAt: r.o.cfg.Clock.Now().UTC(),
		})
	}
	r.o.log.Info("orchestrator: turn failed", "turn_id", r.turn.ID, "tenant", r.turn.Tenant, "kind", kerr.Kind, "error", err)
	return kerr
}

// persist appends to history even when the turn's context is done.
func (o *Orchestrator) persist(ctx context.Context, turn Turn, msg history.Message) error {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := o.cfg.History.Append(pctx, turn.Tenant, turn.Session(), msg); err != nil {
		return errkind.Wrap(errkind.Internal, "failed to persist history", err)
	}
	return nil
}

func (o *Orchestrator) dispatch(ctx context.Context, r *run, decision intent.Decision, recent []history.Message) (*Result, error) {
	reply, err := o.cfg.Responder.Respond(ctx, respond.Request{
		TurnID:   r.turn.ID,
		Tenant:   r.turn.Tenant,
		Label:    string(decision.Label),
		Text:     decision.Text,
		Category: r.turn.Category,
		Language: r.turn.Language,
		Currency: r.turn.Currency,
		History:  recent,
	})
	if err != nil {
		return nil, err
	}
	r.to(StateDispatched)
	dispatchedTo := reply.DispatchedTo
	if dispatchedTo == "" {
		dispatchedTo = string(decision.Label)
	}
	return &Result{
		TurnID:            r.turn.ID,
		Intent:            string(decision.Label),
		ActualQuestion:    decision.Text,
		Category:          r.turn.Category,
		PreferredCurrency: r.turn.Currency,
		PreferredLanguage: r.turn.Language,
		Answer:            reply.Answer,
		DispatchedTo:      dispatchedTo,
		CreatedAt:         o.cfg.Clock.Now().UTC(),
	}, nil
}

func (o *Orchestrator) runData(ctx context.Context, r *run, decision intent.Decision) (*Result, error) {
	stabilised := o.stabilise(ctx, r.turn, decision.Text)
	r.to(StateStabilised)

	docs, err := o.cfg.Schema.Schema(ctx, r.turn.Tenant)
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, "schema documents unavailable", err)
	}
	scope, err := o.cfg.Cache.Tenant(r.turn.Tenant)
	if err != nil {
		return nil, errkind.Wrap(errkind.BadRequest, "invalid tenant_id", err)
	}

	base := Result{
		Intent:            string(decision.Label),
		FixedQuery:        stabilised,
		ActualQuestion:    decision.Text,
		Category:          r.turn.Category,
		PreferredCurrency: r.turn.Currency,
		PreferredLanguage: r.turn.Language,
	}
	id := ResultKey(stabilised, docs.Fingerprint, string(decision.Label))

	for {
		ran := false
		ch := o.flight.DoChan(scope.Key(ResultComponent, id), func() (any, error) {
			ran = true
			return o.coalesced(ctx, r, scope, id, base, stabilised, docs)
		})
		var v any
		select {
		case <-ctx.Done():
			// The owner may be another turn; this one stops waiting.
			return nil, ctx.Err()
		case res := <-ch:
			v, err = res.Val, res.Err
		}
		if err != nil {
			// The shared computation belonged to a turn that was cancelled;
			// this turn is still live, so compute again.
			if !ran && errkind.Of(err) == errkind.Cancelled && ctx.Err() == nil {
				continue
			}
			return nil, err
		}
		res := *v.(*Result)
		if !ran {
			res.FromCache = true
			coalescedTotal.WithLabelValues("inflight").Inc()
		}
		res.TurnID = r.turn.ID
		return &res, nil
	}
}

func (o *Orchestrator) stabilise(ctx context.Context, turn Turn, text string) string {
	start := time.Now()
	defer func() { stepDuration.WithLabelValues("stabilise").Observe(time.Since(start).Seconds()) }()
	sctx, cancel := context.WithTimeout(ctx, o.cfg.Deadlines.Stabilise)
	defer cancel()
	return o.stabiliser.Stabilise(sctx, turn.Tenant, text, turn.Category)
}

// coalesced answers from the result cache or computes under the
// cross-process lock. Waiters poll the cache until the owner writes the
// result or releases the lock.
func (o *Orchestrator) coalesced(ctx context.Context, r *run, scope *cache.Scope, id string, base Result, stabilised string, docs SchemaDocs) (*Result, error) {
	for {
		var cached Result
		if scope.GetJSON(ctx, ResultComponent, id, &cached) {
			cached.FromCache = true
			coalescedTotal.WithLabelValues("cache").Inc()
			return &cached, nil
		}

		lock, acquired, err := scope.TryLock(ctx, ResultComponent, id, o.cfg.LockTTL)
		if err != nil {
			o.log.Warn("orchestrator: result lock unavailable, computing without it", "turn_id", r.turn.ID, "error", err)
			return o.compute(ctx, r, scope, id, base, stabilised, docs)
		}
		if acquired {
			defer lock.Release(context.WithoutCancel(ctx))
			if scope.GetJSON(ctx, ResultComponent, id, &cached) {
				cached.FromCache = true
				return &cached, nil
			}
			return o.compute(ctx, r, scope, id, base, stabilised, docs)
		}

		o.log.Debug("orchestrator: waiting for result owned by another worker", "turn_id", r.turn.ID)
		if err := o.awaitOwner(ctx, scope, id); err != nil {
			return nil, err
		}
	}
}

func (o *Orchestrator) awaitOwner(ctx context.Context, scope *cache.Scope, id string) error {
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if _, ok := scope.Get(ctx, ResultComponent, id); ok {
			return nil
		}
		locked, err := scope.Locked(ctx, ResultComponent, id)
		if err != nil || !locked {
			return nil
		}
	}
}

func (o *Orchestrator) compute(ctx context.Context, r *run, scope *cache.Scope, id string, base Result, stabilised string, docs SchemaDocs) (*Result, error) {
	samples, err := o.retrieve(ctx, r.turn.Tenant, stabilised)
	if err != nil {
		return nil, err
	}
	r.to(StateRetrieved)

	if len(samples) > 0 {
		start := time.Now()
		rctx, cancel := context.WithTimeout(ctx, o.cfg.Deadlines.Rerank)
		samples = o.reranker.Rerank(rctx, stabilised, samples, docs.Documents)
		cancel()
		stepDuration.WithLabelValues("rerank").Observe(time.Since(start).Seconds())
	}
	r.to(StateReranked)

	in := GenerateInput{
		Tenant:    r.turn.Tenant,
		Query:     stabilised,
		Category:  r.turn.Category,
		Schema:    docs.Documents,
		Samples:   samples,
		ProjectID: o.cfg.ProjectID,
	}

	r.to(StateGenerating)
	start := time.Now()
	gctx, cancel := context.WithTimeout(ctx, o.cfg.Deadlines.Generate)
	cands, err := o.generator.Generate(gctx, in)
	timedOut := errors.Is(gctx.Err(), context.DeadlineExceeded)
	cancel()
	stepDuration.WithLabelValues("generate").Observe(time.Since(start).Seconds())
	if err != nil {
		if timedOut && ctx.Err() == nil {
			return nil, errkind.Wrap(errkind.Timeout, "SQL generation timed out", err)
		}
		return nil, err
	}

	r.to(StateExecuting)
	valid, invalid, err := o.validate(ctx, in, cands)
	if err != nil {
		return nil, err
	}
	all := append(append([]Candidate(nil), valid...), invalid...)

	rounds := 0
	for len(valid) == 0 && rounds < o.cfg.CorrectionRounds {
		fixable := correctable(invalid)
		if len(fixable) == 0 {
			break
		}
		rounds++
		r.to(StateCorrecting)
		start := time.Now()
		cctx, cancel := context.WithTimeout(ctx, o.cfg.Deadlines.Correct)
		corrected := o.corrector.Correct(cctx, in, fixable, rounds)
		cancel()
		stepDuration.WithLabelValues("correct").Observe(time.Since(start).Seconds())
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		r.to(StateExecuting)
		valid, invalid, err = o.validate(ctx, in, corrected)
		if err != nil {
			return nil, err
		}
		for _, c := range append(append([]Candidate(nil), valid...), invalid...) {
			if c.Provenance == ProvenanceCorrected {
				all = append(all, c)
			}
		}
	}
	correctionRounds.Observe(float64(rounds))

	if len(valid) == 0 {
		return nil, unresolved(invalid)
	}

	chosen := valid[0]
	res := base
	res.SQL = chosen.SQL
	res.CorrelationID = chosen.CorrelationID
	res.Candidates = all
	res.CreatedAt = o.cfg.Clock.Now().UTC()

	cacheable := true
	if o.cfg.FetchRows {
		cacheable = o.fetchRows(ctx, r, &res, chosen)
	}
	if cacheable {
		scope.SetJSON(ctx, ResultComponent, id, &res, o.cfg.ResultTTL)
		r.to(StateResultCached)
	}
	return &res, nil
}

// validate runs the execute step. When every candidate failed for
// transient reasons the turn aborts instead of correcting.
func (o *Orchestrator) validate(ctx context.Context, in GenerateInput, cands []Candidate) (valid, invalid []Candidate, err error) {
	start := time.Now()
	ectx, cancel := context.WithTimeout(ctx, o.cfg.Deadlines.Execute)
	defer cancel()
	valid, invalid = o.generator.Validate(ectx, cands, in.ProjectID)
	stepDuration.WithLabelValues("execute").Observe(time.Since(start).Seconds())
	if ctx.Err() != nil {
		return nil, nil, ctx.Err()
	}
	if len(valid) > 0 || len(invalid) == 0 {
		return valid, invalid, nil
	}
	if len(correctable(invalid)) > 0 {
		return valid, invalid, nil
	}
	last := invalid[len(invalid)-1]
	if errors.Is(ectx.Err(), context.DeadlineExceeded) {
		return nil, nil, errkind.New(errkind.Timeout, "SQL validation timed out")
	}
	return nil, nil, errkind.New(errkind.WarehouseTransient, last.ErrorMessage)
}

func (o *Orchestrator) fetchRows(ctx context.Context, r *run, res *Result, chosen Candidate) bool {
	ectx, cancel := context.WithTimeout(ctx, o.cfg.Deadlines.Execute)
	defer cancel()
	_, out := warehouse.Submit(ectx, o.cfg.Executor, chosen.SQL, warehouse.ExecOptions{ProjectID: o.cfg.ProjectID})
	if !out.OK {
		o.log.Warn("orchestrator: fetching rows failed", "turn_id", r.turn.ID, "kind", out.Meta.ErrorKind, "error", out.Meta.ErrorMessage)
		return false
	}
	res.Rows = out.Rows
	return true
}

func (o *Orchestrator) retrieve(ctx context.Context, tenantID, text string) ([]Sample, error) {
	start := time.Now()
	defer func() { stepDuration.WithLabelValues("retrieve").Observe(time.Since(start).Seconds()) }()
	rctx, cancel := context.WithTimeout(ctx, o.cfg.Deadlines.Retrieve)
	defer cancel()

	if err := o.checkIndex(rctx); err != nil {
		return nil, o.retrievalError(ctx, rctx, err)
	}
	vec, err := o.cfg.Embedder.Embed(rctx, text)
	if err != nil {
		return nil, o.retrievalError(ctx, rctx, err)
	}
	hits, err := o.cfg.Index.Search(rctx, o.cfg.Collection, vec, o.cfg.TopK, examples.Filter{Tenant: tenantID})
	if err != nil {
		if errors.Is(err, examples.ErrCollectionNotFound) {
			o.log.Warn("orchestrator: example collection missing, generating without samples", "collection", o.cfg.Collection)
			return nil, nil
		}
		return nil, o.retrievalError(ctx, rctx, err)
	}
	out := make([]Sample, 0, len(hits))
	for _, h := range hits {
		out = append(out, Sample{Question: h.Payload.Content, SQL: h.Payload.SolutionExample, Score: h.Score})
	}
	return out, nil
}

func (o *Orchestrator) retrievalError(ctx, rctx context.Context, err error) error {
	if ctx.Err() == nil && errors.Is(rctx.Err(), context.DeadlineExceeded) {
		return errkind.Wrap(errkind.Timeout, "example retrieval timed out", err)
	}
	var kerr *errkind.Error
	if errors.As(err, &kerr) {
		return err
	}
	return errkind.Wrap(errkind.RetrievalUnavailable, "example retrieval failed", err)
}

// checkIndex refuses retrieval against a collection whose dimension differs
// from the embedder's. The result is reused for IndexCheckInterval.
func (o *Orchestrator) checkIndex(ctx context.Context) error {
	o.indexMu.Lock()
	defer o.indexMu.Unlock()
	now := o.cfg.Clock.Now()
	if !o.indexChecked.IsZero() && now.Sub(o.indexChecked) < o.cfg.IndexCheckInterval {
		return o.indexErr
	}
	dim, exists, err := o.cfg.Index.Dimension(ctx, o.cfg.Collection)
	if err != nil {
		return err
	}
	o.indexChecked = now
	o.indexErr = nil
	if exists && dim != uint64(o.cfg.Embedder.Dimension()) {
		o.log.Error("orchestrator: example index dimension mismatch", "collection", o.cfg.Collection, "index", dim, "embedder", o.cfg.Embedder.Dimension())
		o.indexErr = errkind.Wrap(errkind.RetrievalUnavailable, indexMismatchMessage, examples.ErrDimensionMismatch)
	}
	return o.indexErr
}

// CheckIndex reports whether the example index can serve retrieval.
func (o *Orchestrator) CheckIndex(ctx context.Context) error {
	return o.checkIndex(ctx)
}

func correctable(invalid []Candidate) []Candidate {
	var out []Candidate
	for _, c := range invalid {
		if c.ErrorKind != warehouse.ErrorKindTransient {
			out = append(out, c)
		}
	}
	return out
}

func unresolved(invalid []Candidate) error {
	msg := "no valid SQL"
	for i := len(invalid) - 1; i >= 0; i-- {
		if invalid[i].ErrorKind != warehouse.ErrorKindTransient && invalid[i].ErrorMessage != "" {
			msg = invalid[i].ErrorMessage
			break
		}
	}
	return errkind.New(errkind.UnresolvedSQL, msg)
}

// ResultKey identifies a cached result: the stabilised text with spacing,
// quotes and brackets removed, the schema fingerprint, and the intent.
func ResultKey(stabilised, fingerprint, label string) string {
	norm := strings.Map(func(c rune) rune {
		switch c {
		case ' ', '\t', '\n', '\'', '"', '[', ']':
			return -1
		}
		return c
	}, strings.ToLower(stabilised))
	return norm + "\x00" + fingerprint + "\x00" + label
}
