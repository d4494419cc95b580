package vectorstore

import "context"

// NoMatch is the position reported for a neighbor slot that could not be filled,
// e.g. when k exceeds the number of stored vectors. Callers must filter it out.
const NoMatch int64 = -1

// Hit is one k-NN result: the position of the stored vector and its distance to the query.
type Hit struct {
	Position int64
	Distance float32
}

// Searcher performs k-nearest-neighbor search under a distance metric.
// Hits come back in ascending distance order; positions index the chunk list 1:1.
type Searcher interface {
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	Len() int
	Dimension() int
}
