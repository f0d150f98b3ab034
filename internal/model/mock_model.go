package model

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockModel is a mock implementation of Model using testify/mock.
type MockModel struct {
	mock.Mock
}

func (m *MockModel) Predict(ctx context.Context, inputs []Input) (Prediction, error) {
	args := m.Called(ctx, inputs)
	return args.Get(0).(Prediction), args.Error(1)
}
