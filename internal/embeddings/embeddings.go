package embeddings

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrEmptyMatrix = errors.New("matrix must have at least one row and one column")
	ErrRaggedRows  = errors.New("matrix rows have different dimensions")
)

// Vector is a single embedding row.
type Vector []float32

// Matrix is a fixed-shape batch of embeddings, one row per input.
// Rows are stored contiguously in row-major order.
type Matrix struct {
	rows int
	dim  int
	data []float32
}

// NewMatrix copies rows into a Matrix. Every row must have the same, non-zero length.
func NewMatrix(rows []Vector) (Matrix, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return Matrix{}, ErrEmptyMatrix
	}
	dim := len(rows[0])
	data := make([]float32, 0, len(rows)*dim)
	for i, r := range rows {
		if len(r) != dim {
			return Matrix{}, fmt.Errorf("%w: row %d has %d values, want %d", ErrRaggedRows, i, len(r), dim)
		}
		data = append(data, r...)
	}
	return Matrix{rows: len(rows), dim: dim, data: data}, nil
}

// MustMatrix is NewMatrix for literals in tests and examples.
func MustMatrix(rows ...Vector) Matrix {
	m, err := NewMatrix(rows)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Matrix) Rows() int { return m.rows }
func (m Matrix) Dim() int  { return m.dim }

// Shape returns "NxD", used in error messages.
func (m Matrix) Shape() string { return fmt.Sprintf("%dx%d", m.rows, m.dim) }

// Row returns a view of row i. Callers must not modify it.
func (m Matrix) Row(i int) Vector {
	return m.data[i*m.dim : (i+1)*m.dim : (i+1)*m.dim]
}

// Vectors returns a copy of every row.
func (m Matrix) Vectors() []Vector {
	out := make([]Vector, m.rows)
	for i := range out {
		out[i] = append(Vector(nil), m.Row(i)...)
	}
	return out
}

// Concat appends the rows of b after the rows of a.
func Concat(a, b Matrix) (Matrix, error) {
	if a.rows == 0 {
		return b, nil
	}
	if b.rows == 0 {
		return a, nil
	}
	if a.dim != b.dim {
		return Matrix{}, fmt.Errorf("%w: cannot concat %s and %s", ErrRaggedRows, a.Shape(), b.Shape())
	}
	data := make([]float32, 0, len(a.data)+len(b.data))
	data = append(data, a.data...)
	data = append(data, b.data...)
	return Matrix{rows: a.rows + b.rows, dim: a.dim, data: data}, nil
}

func (m Matrix) MarshalJSON() ([]byte, error) {
	if m.rows == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(m.Vectors())
}

func (m *Matrix) UnmarshalJSON(b []byte) error {
	var rows []Vector
	if err := json.Unmarshal(b, &rows); err != nil {
		return err
	}
	if len(rows) == 0 {
		*m = Matrix{}
		return nil
	}
	parsed, err := NewMatrix(rows)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
