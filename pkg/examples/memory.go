package examples

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
)

// Memory is an in-process Index. It is used by tests and local runs.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*memCollection

	upsertRequests int
}

type memCollection struct {
	dim    uint64
	order  []string
	points map[string]Point
}

func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*memCollection)}
}

func (m *Memory) ReplaceCollection(_ context.Context, name string, dim uint64) error {
	if dim == 0 {
		return fmt.Errorf("examples: dimension must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[name] = &memCollection{dim: dim, points: make(map[string]Point)}
	return nil
}

func (m *Memory) Upsert(ctx context.Context, collection string, points []Point) error {
	for _, batch := range batches(points, MaxUpsertBatch) {
		if err := m.upsertBatch(ctx, collection, batch); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) upsertBatch(_ context.Context, collection string, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	m.upsertRequests++
	for _, p := range points {
		if uint64(len(p.Vector)) != c.dim {
			return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(p.Vector), c.dim)
		}
		if _, exists := c.points[p.ID]; !exists {
			c.order = append(c.order, p.ID)
		}
		p.Vector = Normalize(slices.Clone(p.Vector))
		c.points[p.ID] = p
	}
	return nil
}

func (m *Memory) Search(_ context.Context, collection string, vector []float32, topK int, filter Filter) ([]Hit, error) {
	if filter.Tenant == "" {
		return nil, ErrTenantFilterRequired
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	if uint64(len(vector)) != c.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), c.dim)
	}
	query := Normalize(slices.Clone(vector))

	var hits []Hit
	for _, id := range c.order {
		p := c.points[id]
		if p.Payload.Tenant != filter.Tenant {
			continue
		}
		if filter.QuestionType != "" && p.Payload.QuestionType != filter.QuestionType {
			continue
		}
		hits = append(hits, Hit{ID: id, Score: dot(query, p.Vector), Payload: p.Payload})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (m *Memory) Count(_ context.Context, collection string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	return uint64(len(c.points)), nil
}

func (m *Memory) Dimension(_ context.Context, collection string) (uint64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return 0, false, nil
	}
	return c.dim, true, nil
}

// UpsertRequests returns the number of upsert requests served so far.
func (m *Memory) UpsertRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.upsertRequests
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
