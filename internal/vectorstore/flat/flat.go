package flat

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"ragchat/internal/vectorstore"
)

// Index is an exact in-memory index using brute-force squared Euclidean (L2) distance.
// Vectors are stored contiguously; position i is the i-th added vector.
type Index struct {
	mu        sync.RWMutex
	dimension int
	data      []float32
	count     int
}

// New creates an empty index for vectors of the given dimension.
func New(dimension int) (*Index, error) {
	if dimension <= 0 {
		return nil, errors.New("invalid dimension")
	}
	return &Index{dimension: dimension}, nil
}

// Add appends vectors; their positions continue from the current length.
func (x *Index) Add(vectors [][]float32) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, v := range vectors {
		if len(v) != x.dimension {
			return fmt.Errorf("vector dimension mismatch: expected %d, got %d", x.dimension, len(v))
		}
	}
	for _, v := range vectors {
		x.data = append(x.data, v...)
	}
	x.count += len(vectors)
	return nil
}

// Len returns the number of stored vectors.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.count
}

// Dimension returns the vector size.
func (x *Index) Dimension() int { return x.dimension }

// Vector returns a copy of the vector stored at position i.
func (x *Index) Vector(i int) ([]float32, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if i < 0 || i >= x.count {
		return nil, fmt.Errorf("index out of bounds: %d >= %d", i, x.count)
	}
	out := make([]float32, x.dimension)
	copy(out, x.data[i*x.dimension:(i+1)*x.dimension])
	return out, nil
}

// Search returns exactly k hits ordered by ascending distance (ties by position).
// Slots beyond the number of stored vectors are filled with vectorstore.NoMatch.
func (x *Index) Search(_ context.Context, query []float32, k int) ([]vectorstore.Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(query) != x.dimension {
		return nil, fmt.Errorf("query dimension mismatch: expected %d, got %d", x.dimension, len(query))
	}
	x.mu.RLock()
	defer x.mu.RUnlock()

	hits := make([]vectorstore.Hit, x.count)
	for i := 0; i < x.count; i++ {
		hits[i] = vectorstore.Hit{
			Position: int64(i),
			Distance: squaredL2(x.data[i*x.dimension:(i+1)*x.dimension], query),
		}
	}
	sort.Slice(hits, func(a, b int) bool {
		if hits[a].Distance != hits[b].Distance {
			return hits[a].Distance < hits[b].Distance
		}
		return hits[a].Position < hits[b].Position
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	for len(hits) < k {
		hits = append(hits, vectorstore.Hit{Position: vectorstore.NoMatch, Distance: float32(math.Inf(1))})
	}
	return hits, nil
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
