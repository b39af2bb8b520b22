package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/ada/pkg/cache"
	"github.com/malbeclabs/ada/pkg/embed"
	"github.com/malbeclabs/ada/pkg/examples"
	"github.com/malbeclabs/ada/pkg/tenant"
)

const (
	lockComponent     = "deploy"
	DefaultLockTTL    = 30 * time.Minute
	DefaultEmbedBatch = embed.DefaultBatchSize
)

type DeployerConfig struct {
	Logger   *slog.Logger
	Index    examples.Index
	Embedder embed.Embedder
	// Cache holds the deploy lock.
	Cache *cache.Store
	Clock clockwork.Clock

	Collection string
	// Force recreates the collection even when it exists with the right
	// dimension.
	Force      bool
	EmbedBatch int
	LockTTL    time.Duration
}

func (c *DeployerConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("bootstrap: logger is required")
	}
	if c.Index == nil {
		return errors.New("bootstrap: index is required")
	}
	if c.Embedder == nil {
		return errors.New("bootstrap: embedder is required")
	}
	if c.Cache == nil {
		return errors.New("bootstrap: cache is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Collection == "" {
		c.Collection = examples.DefaultCollection
	}
	if c.EmbedBatch <= 0 {
		c.EmbedBatch = DefaultEmbedBatch
	}
	if c.LockTTL <= 0 {
		c.LockTTL = DefaultLockTTL
	}
	return nil
}

// Report summarises a deploy.
type Report struct {
	Collection string
	Examples   int
	PerTenant  map[string]int
	Recreated  bool
	Points     uint64
	Duration   time.Duration
}

type Deployer struct {
	log *slog.Logger
	cfg DeployerConfig
}

func NewDeployer(cfg *DeployerConfig) (*Deployer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Deployer{log: cfg.Logger, cfg: *cfg}, nil
}

// Deploy writes the examples to the index under the deploy lock. The
// collection is created when missing and recreated only when Force is set;
// an existing collection with a different dimension is left untouched and
// reported as a configuration error.
func (d *Deployer) Deploy(ctx context.Context, exs []Example) (report *Report, err error) {
	start := d.cfg.Clock.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		deploysTotal.WithLabelValues(status).Inc()
		deployDuration.Observe(d.cfg.Clock.Since(start).Seconds())
	}()

	scope, err := d.cfg.Cache.Tenant(tenant.System)
	if err != nil {
		return nil, err
	}
	lock, ok, err := scope.TryLock(ctx, lockComponent, d.cfg.Collection, d.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, ErrDeployInProgress)
	}
	defer lock.Release(context.WithoutCancel(ctx))

	want := uint64(d.cfg.Embedder.Dimension())
	dim, exists, err := d.cfg.Index.Dimension(ctx, d.cfg.Collection)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	report = &Report{Collection: d.cfg.Collection, Examples: len(exs), PerTenant: make(map[string]int)}
	switch {
	case exists && dim != want && !d.cfg.Force:
		return nil, fmt.Errorf("%w: collection %s has dimension %d, embedder produces %d; redeploy with force",
			ErrConfig, d.cfg.Collection, dim, want)
	case !exists || d.cfg.Force:
		d.log.Info("bootstrap: recreating collection", "collection", d.cfg.Collection, "dim", want, "existed", exists)
		if err := d.cfg.Index.ReplaceCollection(ctx, d.cfg.Collection, want); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		report.Recreated = true
	}

	points, err := d.embed(ctx, exs)
	if err != nil {
		return nil, err
	}
	if err := d.cfg.Index.Upsert(ctx, d.cfg.Collection, points); err != nil {
		return nil, fmt.Errorf("%w: upsert: %v", ErrUpstream, err)
	}
	for _, ex := range exs {
		report.PerTenant[ex.Tenant]++
	}
	for t, n := range report.PerTenant {
		pointsUpserted.WithLabelValues(t).Add(float64(n))
	}

	count, err := d.cfg.Index.Count(ctx, d.cfg.Collection)
	if err != nil {
		return nil, fmt.Errorf("%w: count: %v", ErrUpstream, err)
	}
	report.Points = count
	if report.Recreated && count != uint64(len(exs)) {
		return nil, fmt.Errorf("%w: collection %s holds %d points after deploy, want %d", ErrUpstream, d.cfg.Collection, count, len(exs))
	}
	report.Duration = d.cfg.Clock.Since(start)
	d.log.Info("bootstrap: deploy complete",
		"collection", d.cfg.Collection,
		"examples", len(exs),
		"tenants", len(report.PerTenant),
		"points", count,
		"recreated", report.Recreated,
		"duration", report.Duration)
	return report, nil
}

// embed computes vectors in batches. Each batch is embedded under its
// tenant so cached embeddings stay tenant scoped.
func (d *Deployer) embed(ctx context.Context, exs []Example) ([]examples.Point, error) {
	points := make([]examples.Point, 0, len(exs))
	for start := 0; start < len(exs); {
		end := start + 1
		for end < len(exs) && end-start < d.cfg.EmbedBatch && exs[end].Tenant == exs[start].Tenant {
			end++
		}
		batch := exs[start:end]
		texts := make([]string, len(batch))
		for i, ex := range batch {
			texts[i] = ex.Question
		}
		vecs, err := d.cfg.Embedder.EmbedBatch(tenant.WithTenant(ctx, batch[0].Tenant), texts)
		if err != nil {
			return nil, fmt.Errorf("%w: embed: %v", ErrUpstream, err)
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("%w: embed: got %d vectors for %d texts", ErrUpstream, len(vecs), len(batch))
		}
		for i, ex := range batch {
			points = append(points, examples.Point{
				ID:     ex.ID,
				Vector: vecs[i],
				Payload: examples.Payload{
					Content:         ex.Question,
					SolutionExample: ex.SQL,
					QuestionType:    ex.QuestionType,
					Tenant:          ex.Tenant,
				},
			})
		}
		d.log.Debug("bootstrap: embedded batch", "tenant", batch[0].Tenant, "size", len(batch), "done", end, "total", len(exs))
		start = end
	}
	return points, nil
}
