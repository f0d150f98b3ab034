package distance

import (
	"github.com/stretchr/testify/mock"

	"clip-similarity/internal/embeddings"
)

// MockCalculator is a mock implementation of Calculator using testify/mock.
type MockCalculator struct {
	mock.Mock
}

func (m *MockCalculator) CalculateDistance(x1, x2 embeddings.Matrix) ([]float32, error) {
	args := m.Called(x1, x2)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func (m *MockCalculator) Metric() Metric {
	args := m.Called()
	return args.Get(0).(Metric)
}
