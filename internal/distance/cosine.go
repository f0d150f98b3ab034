package distance

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas/blas32"

	"clip-similarity/internal/embeddings"
)

// Cosine scores rows by cosine similarity, in [-1, 1]; higher is more similar.
// A zero-magnitude row fails the whole call with ErrZeroVector.
type Cosine struct{}

func (Cosine) Metric() Metric { return MetricCosine }

func (Cosine) CalculateDistance(x1, x2 embeddings.Matrix) ([]float32, error) {
	if err := checkShapes(x1, x2); err != nil {
		return nil, err
	}
	scores := make([]float32, x1.Rows())
	for i := range scores {
		a, b := blasVector(x1.Row(i)), blasVector(x2.Row(i))
		// float64 accumulation keeps tiny and huge rows from under/overflowing.
		na, nb := math.Sqrt(blas32.DDot(a, a)), math.Sqrt(blas32.DDot(b, b))
		if na == 0 || nb == 0 {
			return nil, fmt.Errorf("%w: row %d", ErrZeroVector, i)
		}
		scores[i] = float32(clamp(blas32.DDot(a, b)/na/nb, -1, 1))
	}
	return scores, nil
}

func blasVector(v embeddings.Vector) blas32.Vector {
	return blas32.Vector{N: len(v), Data: v, Inc: 1}
}

// clamp absorbs rounding that pushes |cos| slightly past 1.
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
