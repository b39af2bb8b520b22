package examples

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/malbeclabs/ada/pkg/errkind"
)

const (
	DefaultQdrantPort = 6334
	defaultMaxTries   = 3
	defaultMaxElapsed = 60 * time.Second
)

type QdrantConfig struct {
	Logger *slog.Logger
	Host   string
	Port   int
	APIKey string
	UseTLS bool

	MaxTries   uint
	MaxElapsed time.Duration
	NewBackOff func() backoff.BackOff
}

func (c *QdrantConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("examples: logger is required")
	}
	if c.Host == "" {
		return errors.New("examples: qdrant host is required")
	}
	if c.Port == 0 {
		c.Port = DefaultQdrantPort
	}
	if c.MaxTries == 0 {
		c.MaxTries = defaultMaxTries
	}
	if c.MaxElapsed <= 0 {
		c.MaxElapsed = defaultMaxElapsed
	}
	if c.NewBackOff == nil {
		c.NewBackOff = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}
	return nil
}

// Qdrant is an Index backed by a Qdrant server over gRPC.
type Qdrant struct {
	log        *slog.Logger
	client     *qdrant.Client
	maxTries   uint
	maxElapsed time.Duration
	newBackOff func() backoff.BackOff
}

func NewQdrant(cfg *QdrantConfig) (*Qdrant, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("examples: qdrant client: %w", err)
	}
	return &Qdrant{
		log:        cfg.Logger,
		client:     client,
		maxTries:   cfg.MaxTries,
		maxElapsed: cfg.MaxElapsed,
		newBackOff: cfg.NewBackOff,
	}, nil
}

func (q *Qdrant) Close() error {
	return q.client.Close()
}

// Ping checks that the server is reachable.
func (q *Qdrant) Ping(ctx context.Context) error {
	_, err := q.client.HealthCheck(ctx)
	return err
}

func retry[T any](ctx context.Context, q *Qdrant, op string, fn func() (T, error)) (T, error) {
	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := fn()
		return v, classify(err)
	},
		backoff.WithBackOff(q.newBackOff()),
		backoff.WithMaxTries(q.maxTries),
		backoff.WithMaxElapsedTime(q.maxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			q.log.Warn("examples: qdrant call failed, retrying", "op", op, "attempt", attempt, "next", next, "error", err)
		}),
	)
}

// classify maps gRPC failures that a retry cannot fix to permanent errors.
// NotFound becomes ErrCollectionNotFound.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.NotFound:
		return backoff.Permanent(fmt.Errorf("%w: %w", ErrCollectionNotFound, err))
	case codes.InvalidArgument, codes.AlreadyExists, codes.FailedPrecondition,
		codes.PermissionDenied, codes.Unauthenticated, codes.Unimplemented,
		codes.Canceled:
		return backoff.Permanent(err)
	}
	return err
}

func (q *Qdrant) ReplaceCollection(ctx context.Context, name string, dim uint64) error {
	if dim == 0 {
		return fmt.Errorf("examples: dimension must be positive")
	}
	_, err := retry(ctx, q, "replace_collection", func() (struct{}, error) {
		exists, err := q.client.CollectionExists(ctx, name)
		if err != nil {
			return struct{}{}, err
		}
		if exists {
			if err := q.client.DeleteCollection(ctx, name); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     dim,
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		return fmt.Errorf("examples: replace collection %s: %w", name, err)
	}
	q.log.Info("examples: collection recreated", "collection", name, "dim", dim)
	return nil
}

func (q *Qdrant) Upsert(ctx context.Context, collection string, points []Point) error {
	for i, batch := range batches(points, MaxUpsertBatch) {
		structs := make([]*qdrant.PointStruct, 0, len(batch))
		for _, p := range batch {
			structs = append(structs, &qdrant.PointStruct{
				Id:      qdrant.NewID(p.ID),
				Vectors: qdrant.NewVectors(p.Vector...),
				Payload: qdrant.NewValueMap(payloadMap(p.Payload)),
			})
		}
		_, err := retry(ctx, q, "upsert", func() (*qdrant.UpdateResult, error) {
			return q.client.Upsert(ctx, &qdrant.UpsertPoints{
				CollectionName: collection,
				Wait:           qdrant.PtrOf(true),
				Points:         structs,
			})
		})
		if err != nil {
			return fmt.Errorf("examples: upsert batch %d: %w", i, err)
		}
	}
	return nil
}

func (q *Qdrant) Search(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]Hit, error) {
	if filter.Tenant == "" {
		return nil, ErrTenantFilterRequired
	}
	must := []*qdrant.Condition{qdrant.NewMatch("tenant", filter.Tenant)}
	if filter.QuestionType != "" {
		must = append(must, qdrant.NewMatch("question_type", filter.QuestionType))
	}
	points, err := retry(ctx, q, "search", func() ([]*qdrant.ScoredPoint, error) {
		return q.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQuery(vector...),
			Filter:         &qdrant.Filter{Must: must},
			Limit:          qdrant.PtrOf(uint64(topK)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
	})
	if errors.Is(err, ErrCollectionNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.RetrievalUnavailable, "example search failed", err)
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		payload := payloadFromValues(p.GetPayload())
		if payload.Tenant != filter.Tenant {
			continue
		}
		hits = append(hits, Hit{ID: p.GetId().GetUuid(), Score: p.GetScore(), Payload: payload})
	}
	return hits, nil
}

func (q *Qdrant) Count(ctx context.Context, collection string) (uint64, error) {
	return retry(ctx, q, "count", func() (uint64, error) {
		return q.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: collection,
			Exact:          qdrant.PtrOf(true),
		})
	})
}

func (q *Qdrant) Dimension(ctx context.Context, collection string) (uint64, bool, error) {
	exists, err := retry(ctx, q, "collection_exists", func() (bool, error) {
		return q.client.CollectionExists(ctx, collection)
	})
	if err != nil || !exists {
		return 0, false, err
	}
	info, err := retry(ctx, q, "collection_info", func() (*qdrant.CollectionInfo, error) {
		return q.client.GetCollectionInfo(ctx, collection)
	})
	if err != nil {
		return 0, true, err
	}
	return info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize(), true, nil
}

func payloadMap(p Payload) map[string]any {
	return map[string]any{
		"content":          p.Content,
		"solution_example": p.SolutionExample,
		"question_type":    p.QuestionType,
		"tenant":           p.Tenant,
	}
}

func payloadFromValues(values map[string]*qdrant.Value) Payload {
	str := func(k string) string {
		if v, ok := values[k]; ok {
			return v.GetStringValue()
		}
		return ""
	}
	return Payload{
		Content:         str("content"),
		SolutionExample: str("solution_example"),
		QuestionType:    str("question_type"),
		Tenant:          str("tenant"),
	}
}
