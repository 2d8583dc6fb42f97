// Package mocks provides mock implementations for testing batch consumers.
package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	batchDomain "github.com/allisson/batchdonations/internal/batch/domain"
)

// MockBatchUseCase is a mock implementation of BatchUseCase for testing.
type MockBatchUseCase struct {
	mock.Mock
}

// CreateBatch mocks the CreateBatch method of BatchUseCase.
func (m *MockBatchUseCase) CreateBatch(
	ctx context.Context,
	input batchDomain.CreateBatchInput,
) (*batchDomain.BatchOperation, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*batchDomain.BatchOperation), args.Error(1)
}

// StartProcessing mocks the StartProcessing method of BatchUseCase.
func (m *MockBatchUseCase) StartProcessing(
	ctx context.Context,
	batchID uuid.UUID,
) (*batchDomain.ProcessingResult, error) {
	args := m.Called(ctx, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*batchDomain.ProcessingResult), args.Error(1)
}

// GetStatus mocks the GetStatus method of BatchUseCase.
func (m *MockBatchUseCase) GetStatus(ctx context.Context, batchID uuid.UUID) (*batchDomain.StatusSnapshot, error) {
	args := m.Called(ctx, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*batchDomain.StatusSnapshot), args.Error(1)
}

// RetryFailed mocks the RetryFailed method of BatchUseCase.
func (m *MockBatchUseCase) RetryFailed(
	ctx context.Context,
	batchID uuid.UUID,
) (*batchDomain.ProcessingResult, error) {
	args := m.Called(ctx, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*batchDomain.ProcessingResult), args.Error(1)
}

// Cancel mocks the Cancel method of BatchUseCase.
func (m *MockBatchUseCase) Cancel(ctx context.Context, batchID uuid.UUID, reason string) error {
	args := m.Called(ctx, batchID, reason)
	return args.Error(0)
}

// ListBatches mocks the ListBatches method of BatchUseCase.
func (m *MockBatchUseCase) ListBatches(
	ctx context.Context,
	offset, limit int,
) ([]*batchDomain.BatchOperation, error) {
	args := m.Called(ctx, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*batchDomain.BatchOperation), args.Error(1)
}

// ListItems mocks the ListItems method of BatchUseCase.
func (m *MockBatchUseCase) ListItems(ctx context.Context, batchID uuid.UUID) ([]*batchDomain.DonationItem, error) {
	args := m.Called(ctx, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*batchDomain.DonationItem), args.Error(1)
}

// CleanupExpired mocks the CleanupExpired method of BatchUseCase.
func (m *MockBatchUseCase) CleanupExpired(ctx context.Context, olderThanDays int, dryRun bool) (int64, error) {
	args := m.Called(ctx, olderThanDays, dryRun)
	return args.Get(0).(int64), args.Error(1)
}
