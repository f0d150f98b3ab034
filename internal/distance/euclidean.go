package distance

import (
	"gonum.org/v1/gonum/blas/blas32"

	"clip-similarity/internal/embeddings"
)

// Euclidean scores rows by L2 distance; lower is more similar, 0 for identical rows.
type Euclidean struct{}

func (Euclidean) Metric() Metric { return MetricEuclidean }

func (Euclidean) CalculateDistance(x1, x2 embeddings.Matrix) ([]float32, error) {
	if err := checkShapes(x1, x2); err != nil {
		return nil, err
	}
	scores := make([]float32, x1.Rows())
	diff := make([]float32, x1.Dim())
	for i := range scores {
		copy(diff, x1.Row(i))
		d := blasVector(diff)
		blas32.Axpy(-1, blasVector(x2.Row(i)), d)
		scores[i] = blas32.Nrm2(d)
	}
	return scores, nil
}
