package distance

import (
	"errors"
	"fmt"
	"strings"

	"clip-similarity/internal/embeddings"
)

// Metric names a supported distance function.
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricEuclidean Metric = "euclidean"
)

var (
	ErrUnknownMetric = errors.New("unknown distance metric")
	ErrShapeMismatch = errors.New("embedding batches have different shapes")
	ErrZeroVector    = errors.New("cosine similarity is undefined for a zero vector")
)

// Calculator compares two batches row by row and returns one score per row.
type Calculator interface {
	CalculateDistance(x1, x2 embeddings.Matrix) ([]float32, error)
	Metric() Metric
}

// ParseMetric maps a config or request value onto a Metric. Empty means cosine.
func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case "", MetricCosine:
		return MetricCosine, nil
	case MetricEuclidean:
		return MetricEuclidean, nil
	default:
		return "", fmt.Errorf("%w: %q (valid options: cosine, euclidean)", ErrUnknownMetric, s)
	}
}

// New returns the calculator for m.
func New(m Metric) (Calculator, error) {
	switch m {
	case MetricCosine:
		return Cosine{}, nil
	case MetricEuclidean:
		return Euclidean{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, m)
	}
}

// HigherIsBetter reports the score direction of m.
func (m Metric) HigherIsBetter() bool {
	return m == MetricCosine
}

func checkShapes(x1, x2 embeddings.Matrix) error {
	if x1.Rows() == 0 || x1.Dim() == 0 {
		return fmt.Errorf("%w: empty batch", ErrShapeMismatch)
	}
	if x1.Rows() != x2.Rows() || x1.Dim() != x2.Dim() {
		return fmt.Errorf("%w: %s vs %s", ErrShapeMismatch, x1.Shape(), x2.Shape())
	}
	return nil
}
