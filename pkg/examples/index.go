// Package examples stores (question, SQL) examples as vectors partitioned by
// tenant and answers nearest-neighbour lookups.
package examples

import (
	"context"
	"errors"
	"math"
)

const (
	// DefaultCollection holds the SQL examples.
	DefaultCollection = "sql_examples"
	// MaxUpsertBatch is the largest number of points sent per upsert request.
	MaxUpsertBatch = 256
)

var (
	ErrTenantFilterRequired = errors.New("examples: search requires a tenant filter")
	ErrCollectionNotFound   = errors.New("examples: collection not found")
	ErrDimensionMismatch    = errors.New("examples: vector dimension does not match collection")
)

// Payload is stored alongside each vector.
type Payload struct {
	Content         string `json:"content"`
	SolutionExample string `json:"solution_example"`
	QuestionType    string `json:"question_type"`
	Tenant          string `json:"tenant"`
}

type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Filter restricts a search. Tenant is mandatory.
type Filter struct {
	Tenant       string
	QuestionType string
}

type Hit struct {
	ID      string
	Score   float32
	Payload Payload
}

// Index is a cosine-metric vector store.
type Index interface {
	// ReplaceCollection drops the collection (if any) and recreates it with
	// the given dimension. Destructive; callers guard it behind a deploy mode.
	ReplaceCollection(ctx context.Context, name string, dim uint64) error
	// Upsert writes points, splitting into requests of at most
	// MaxUpsertBatch points.
	Upsert(ctx context.Context, collection string, points []Point) error
	Search(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]Hit, error)
	Count(ctx context.Context, collection string) (uint64, error)
	// Dimension returns the vector size of the collection and whether it
	// exists.
	Dimension(ctx context.Context, collection string) (uint64, bool, error)
}

// Normalize scales v to unit length in place and returns it.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}

func batches(points []Point, size int) [][]Point {
	var out [][]Point
	for len(points) > 0 {
		n := min(size, len(points))
		out = append(out, points[:n])
		points = points[n:]
	}
	return out
}
