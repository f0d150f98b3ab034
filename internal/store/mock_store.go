package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockStore is a mock implementation of Store using testify/mock.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateJob(ctx context.Context, job Job) (Job, error) {
	args := m.Called(ctx, job)
	return args.Get(0).(Job), args.Error(1)
}

func (m *MockStore) GetJob(ctx context.Context, id uuid.UUID) (Job, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Job), args.Error(1)
}

func (m *MockStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status JobStatus, errMsg string) error {
	args := m.Called(ctx, id, status, errMsg)
	return args.Error(0)
}

func (m *MockStore) SaveResults(ctx context.Context, id uuid.UUID, results []Result) error {
	args := m.Called(ctx, id, results)
	return args.Error(0)
}
