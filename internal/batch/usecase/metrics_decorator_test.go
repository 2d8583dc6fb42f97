package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	batchDomain "github.com/allisson/batchdonations/internal/batch/domain"
	batchUsecaseMocks "github.com/allisson/batchdonations/internal/batch/usecase/mocks"
	"github.com/allisson/batchdonations/internal/metrics"
)

// mockBusinessMetrics is a mock implementation of metrics.BusinessMetrics for testing.
type mockBusinessMetrics struct {
	mock.Mock
}

func (m *mockBusinessMetrics) RecordOperation(ctx context.Context, domain, operation, status string) {
	m.Called(ctx, domain, operation, status)
}

func (m *mockBusinessMetrics) RecordDuration(
	ctx context.Context,
	domain, operation string,
	duration time.Duration,
	status string,
) {
	m.Called(ctx, domain, operation, duration, status)
}

var _ metrics.BusinessMetrics = (*mockBusinessMetrics)(nil)

func expectMetrics(m *mockBusinessMetrics, ctx context.Context, operation, status string) {
	m.On("RecordOperation", ctx, "batch", operation, status).Return().Once()
	m.On("RecordDuration", ctx, "batch", operation, mock.AnythingOfType("time.Duration"), status).Return().Once()
}

func TestNewBatchUseCaseWithMetrics(t *testing.T) {
	decorator := NewBatchUseCaseWithMetrics(&batchUsecaseMocks.MockBatchUseCase{}, &mockBusinessMetrics{})

	assert.NotNil(t, decorator)
	assert.Implements(t, (*BatchUseCase)(nil), decorator)
}

func TestMetricsDecorator_CreateBatch(t *testing.T) {
	ctx := context.Background()
	input := batchDomain.CreateBatchInput{CreatedBy: "admin"}

	t.Run("Success_RecordsSuccessMetrics", func(t *testing.T) {
		mockUseCase := &batchUsecaseMocks.MockBatchUseCase{}
		mockMetrics := &mockBusinessMetrics{}
		op := &batchDomain.BatchOperation{ID: uuid.Must(uuid.NewV7())}

		mockUseCase.On("CreateBatch", ctx, input).Return(op, nil).Once()
		expectMetrics(mockMetrics, ctx, "batch_create", "success")

		result, err := NewBatchUseCaseWithMetrics(mockUseCase, mockMetrics).CreateBatch(ctx, input)

		require.NoError(t, err)
		assert.Equal(t, op, result)
		mockUseCase.AssertExpectations(t)
		mockMetrics.AssertExpectations(t)
	})

	t.Run("Error_RecordsErrorMetrics", func(t *testing.T) {
		mockUseCase := &batchUsecaseMocks.MockBatchUseCase{}
		mockMetrics := &mockBusinessMetrics{}

		mockUseCase.On("CreateBatch", ctx, input).Return(nil, batchDomain.ErrEmptyBatch).Once()
		expectMetrics(mockMetrics, ctx, "batch_create", "error")

		result, err := NewBatchUseCaseWithMetrics(mockUseCase, mockMetrics).CreateBatch(ctx, input)

		assert.ErrorIs(t, err, batchDomain.ErrEmptyBatch)
		assert.Nil(t, result)
		mockMetrics.AssertExpectations(t)
	})
}

func TestMetricsDecorator_Operations(t *testing.T) {
	ctx := context.Background()
	batchID := uuid.Must(uuid.NewV7())
	processing := &batchDomain.ProcessingResult{BatchID: batchID}
	failure := errors.New("database unavailable")

	tests := []struct {
		name      string
		operation string
		setup     func(m *batchUsecaseMocks.MockBatchUseCase, err error)
		call      func(uc BatchUseCase) error
	}{
		{
			name:      "StartProcessing",
			operation: "batch_process",
			setup: func(m *batchUsecaseMocks.MockBatchUseCase, err error) {
				m.On("StartProcessing", ctx, batchID).Return(processing, err).Once()
			},
			call: func(uc BatchUseCase) error {
				_, err := uc.StartProcessing(ctx, batchID)
				return err
			},
		},
		{
			name:      "GetStatus",
			operation: "batch_status",
			setup: func(m *batchUsecaseMocks.MockBatchUseCase, err error) {
				m.On("GetStatus", ctx, batchID).Return(&batchDomain.StatusSnapshot{}, err).Once()
			},
			call: func(uc BatchUseCase) error {
				_, err := uc.GetStatus(ctx, batchID)
				return err
			},
		},
		{
			name:      "RetryFailed",
			operation: "batch_retry",
			setup: func(m *batchUsecaseMocks.MockBatchUseCase, err error) {
				m.On("RetryFailed", ctx, batchID).Return(processing, err).Once()
			},
			call: func(uc BatchUseCase) error {
				_, err := uc.RetryFailed(ctx, batchID)
				return err
			},
		},
		{
			name:      "Cancel",
			operation: "batch_cancel",
			setup: func(m *batchUsecaseMocks.MockBatchUseCase, err error) {
				m.On("Cancel", ctx, batchID, "reason").Return(err).Once()
			},
			call: func(uc BatchUseCase) error {
				return uc.Cancel(ctx, batchID, "reason")
			},
		},
		{
			name:      "ListBatches",
			operation: "batch_list",
			setup: func(m *batchUsecaseMocks.MockBatchUseCase, err error) {
				m.On("ListBatches", ctx, 0, 50).Return([]*batchDomain.BatchOperation{}, err).Once()
			},
			call: func(uc BatchUseCase) error {
				_, err := uc.ListBatches(ctx, 0, 50)
				return err
			},
		},
		{
			name:      "ListItems",
			operation: "batch_items_list",
			setup: func(m *batchUsecaseMocks.MockBatchUseCase, err error) {
				m.On("ListItems", ctx, batchID).Return([]*batchDomain.DonationItem{}, err).Once()
			},
			call: func(uc BatchUseCase) error {
				_, err := uc.ListItems(ctx, batchID)
				return err
			},
		},
		{
			name:      "CleanupExpired",
			operation: "batch_cleanup",
			setup: func(m *batchUsecaseMocks.MockBatchUseCase, err error) {
				m.On("CleanupExpired", ctx, 90, true).Return(int64(3), err).Once()
			},
			call: func(uc BatchUseCase) error {
				_, err := uc.CleanupExpired(ctx, 90, true)
				return err
			},
		},
	}

	for _, tt := range tests {
		for _, failing := range []bool{false, true} {
			status := "success"
			var callErr error
			if failing {
				status = "error"
				callErr = failure
			}

			t.Run(tt.name+"_"+status, func(t *testing.T) {
				mockUseCase := &batchUsecaseMocks.MockBatchUseCase{}
				mockMetrics := &mockBusinessMetrics{}
				tt.setup(mockUseCase, callErr)
				expectMetrics(mockMetrics, ctx, tt.operation, status)

				err := tt.call(NewBatchUseCaseWithMetrics(mockUseCase, mockMetrics))

				assert.Equal(t, callErr, err)
				mockUseCase.AssertExpectations(t)
				mockMetrics.AssertExpectations(t)
			})
		}
	}
}
