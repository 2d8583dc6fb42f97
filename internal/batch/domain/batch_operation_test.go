package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/allisson/batchdonations/internal/errors"
)

func newProcessingOperation(t *testing.T, total int) (*BatchOperation, time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	op := NewBatchOperation("admin", total, 0, 3, 0, now)
	require.NoError(t, op.Start("worker-1", now))
	return op, now
}

func TestNewBatchOperation(t *testing.T) {
	now := time.Now().UTC()
	op := NewBatchOperation("admin", 10, 0, -1, 2, now)

	assert.NotEqual(t, uuid.Nil, op.ID)
	assert.Equal(t, OperationTypeDonations, op.OperationType)
	assert.Equal(t, OperationStatusQueued, op.Status)
	assert.Equal(t, 10, op.TotalItems)
	assert.Equal(t, DefaultBatchSize, op.BatchSize)
	assert.Equal(t, DefaultMaxRetries, op.MaxRetries)
	assert.Equal(t, 2, op.Priority)
	assert.Equal(t, ErrorLogCapacity, op.ErrorLog.Cap())
	assert.Nil(t, op.StartedAt)
	assert.Equal(t, 0.0, op.ProgressPercentage())
}

func TestBatchOperation_Start(t *testing.T) {
	t.Run("Success_FromQueued", func(t *testing.T) {
		now := time.Now().UTC()
		op := NewBatchOperation("admin", 2, 0, 3, 0, now)

		require.NoError(t, op.Start("worker-1", now))
		assert.Equal(t, OperationStatusProcessing, op.Status)
		require.NotNil(t, op.WorkerID)
		assert.Equal(t, "worker-1", *op.WorkerID)
		require.NotNil(t, op.StartedAt)
	})

	t.Run("Error_AlreadyProcessing", func(t *testing.T) {
		op, now := newProcessingOperation(t, 2)

		err := op.Start("worker-2", now)
		assert.ErrorIs(t, err, ErrBatchAlreadyProcessing)
		assert.True(t, apperrors.Is(err, apperrors.ErrConflict))
	})

	t.Run("Error_FinalStatus", func(t *testing.T) {
		for _, status := range []OperationStatus{
			OperationStatusCompleted,
			OperationStatusCancelled,
			OperationStatusPartial,
			OperationStatusFailed,
		} {
			op := NewBatchOperation("admin", 1, 0, 3, 0, time.Now())
			op.Status = status
			assert.ErrorIs(t, op.Start("w", time.Now()), ErrInvalidTransition, status)
		}
	})
}

func TestBatchOperation_Finalize(t *testing.T) {
	tests := []struct {
		name     string
		counters Counters
		expected OperationStatus
	}{
		{"Completed_NoFailures", Counters{Processed: 2, Successful: 2}, OperationStatusCompleted},
		{"Partial_MixedOutcome", Counters{Processed: 2, Successful: 1, Failed: 1}, OperationStatusPartial},
		{"Failed_AllFailed", Counters{Processed: 2, Failed: 2}, OperationStatusFailed},
		{"Failed_AllSkipped", Counters{Processed: 2, Skipped: 2}, OperationStatusFailed},
		{"Completed_SuccessAndSkipped", Counters{Processed: 2, Successful: 1, Skipped: 1}, OperationStatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, start := newProcessingOperation(t, 2)
			end := start.Add(2 * time.Second)
			require.NoError(t, op.ApplyCounters(tt.counters, end))

			require.NoError(t, op.Finalize(end))
			assert.Equal(t, tt.expected, op.Status)
			require.NotNil(t, op.CompletedAt)
			require.NotNil(t, op.Summary)
			assert.Equal(t, int64(2000), op.Summary.DurationMillis)
			assert.InDelta(t, 1.0, op.Summary.ItemsPerSecond, 0.0001)
			assert.Equal(t, op.ProcessedItems, op.TotalItems)
		})
	}

	t.Run("Error_NotAllProcessed", func(t *testing.T) {
		op, now := newProcessingOperation(t, 3)
		require.NoError(t, op.ApplyCounters(Counters{Processed: 1, Successful: 1}, now))

		assert.ErrorIs(t, op.Finalize(now), ErrInvalidTransition)
		assert.Equal(t, OperationStatusProcessing, op.Status)
	})

	t.Run("Error_NotProcessing", func(t *testing.T) {
		op := NewBatchOperation("admin", 0, 0, 3, 0, time.Now())
		assert.ErrorIs(t, op.Finalize(time.Now()), ErrInvalidTransition)
	})
}

func TestBatchOperation_ApplyCounters(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		op, now := newProcessingOperation(t, 4)
		require.NoError(t, op.ApplyCounters(Counters{Processed: 3, Successful: 1, Failed: 1, Skipped: 1}, now))
		assert.Equal(t, 75.0, op.ProgressPercentage())
	})

	t.Run("Error_SumMismatch", func(t *testing.T) {
		op, now := newProcessingOperation(t, 4)
		err := op.ApplyCounters(Counters{Processed: 3, Successful: 1}, now)
		assert.ErrorIs(t, err, ErrProgressInvariant)
		assert.Equal(t, 0, op.ProcessedItems)
	})

	t.Run("Error_ExceedsTotal", func(t *testing.T) {
		op, now := newProcessingOperation(t, 1)
		err := op.ApplyCounters(Counters{Processed: 2, Successful: 2}, now)
		assert.ErrorIs(t, err, ErrProgressInvariant)
	})
}

func TestBatchOperation_BeginRetry(t *testing.T) {
	t.Run("Success_FromPartial", func(t *testing.T) {
		op, now := newProcessingOperation(t, 2)
		require.NoError(t, op.ApplyCounters(Counters{Processed: 2, Successful: 1, Failed: 1}, now))
		require.NoError(t, op.Finalize(now))
		require.True(t, op.CanRetry())

		require.NoError(t, op.BeginRetry("worker-2", now))
		assert.Equal(t, OperationStatusProcessing, op.Status)
		assert.Equal(t, 1, op.RetryPasses)
		assert.Nil(t, op.CompletedAt)
		assert.Nil(t, op.Summary)
	})

	t.Run("Error_PassesExhausted", func(t *testing.T) {
		op := NewBatchOperation("admin", 1, 0, 1, 0, time.Now())
		op.Status = OperationStatusFailed
		op.RetryPasses = 1

		assert.False(t, op.CanRetry())
		assert.ErrorIs(t, op.BeginRetry("w", time.Now()), ErrRetryPassesExhausted)
	})

	t.Run("Error_Completed", func(t *testing.T) {
		op := NewBatchOperation("admin", 1, 0, 3, 0, time.Now())
		op.Status = OperationStatusCompleted
		assert.ErrorIs(t, op.BeginRetry("w", time.Now()), ErrInvalidTransition)
	})

	t.Run("Error_Processing", func(t *testing.T) {
		op, now := newProcessingOperation(t, 1)
		assert.ErrorIs(t, op.BeginRetry("w", now), ErrBatchAlreadyProcessing)
	})
}

func TestBatchOperation_Cancel(t *testing.T) {
	t.Run("Success_WhileProcessing", func(t *testing.T) {
		op, now := newProcessingOperation(t, 5)
		require.NoError(t, op.ApplyCounters(Counters{Processed: 2, Successful: 2}, now))

		require.NoError(t, op.Cancel("operator request", now))
		assert.Equal(t, OperationStatusCancelled, op.Status)
		require.NotNil(t, op.CompletedAt)
		assert.Equal(t, 2, op.ProcessedItems)
		assert.Equal(t, 1, op.ErrorCount)
		require.NotNil(t, op.LastError)
		assert.Contains(t, *op.LastError, "operator request")

		entries := op.ErrorLog.Entries()
		require.Len(t, entries, 1)
		assert.Equal(t, ErrorCodeCancelled, entries[0].Code)
	})

	t.Run("Success_WhileQueued", func(t *testing.T) {
		op := NewBatchOperation("admin", 1, 0, 3, 0, time.Now())
		require.NoError(t, op.Cancel("duplicate upload", time.Now()))
		assert.Equal(t, OperationStatusCancelled, op.Status)
	})

	t.Run("Success_EmptyReason", func(t *testing.T) {
		op := NewBatchOperation("admin", 1, 0, 3, 0, time.Now())
		require.NoError(t, op.Cancel("", time.Now()))
		require.NotNil(t, op.LastError)
		assert.Equal(t, "batch cancelled: no reason given", *op.LastError)
	})

	t.Run("Error_AlreadyFinal", func(t *testing.T) {
		for _, status := range []OperationStatus{OperationStatusCompleted, OperationStatusCancelled} {
			op := NewBatchOperation("admin", 1, 0, 3, 0, time.Now())
			op.Status = status
			assert.ErrorIs(t, op.Cancel("late", time.Now()), ErrInvalidTransition)
		}
	})
}

func TestBatchOperation_RecordErrors(t *testing.T) {
	op := NewBatchOperation("admin", 1, 0, 3, 0, time.Now())
	op.ErrorLog = nil

	op.RecordErrors()
	assert.Nil(t, op.ErrorLog)

	op.RecordErrors(
		ErrorEntry{Code: ErrorCodeExecution, Message: "first"},
		ErrorEntry{Code: ErrorCodeExecution, Message: "second"},
	)
	require.NotNil(t, op.ErrorLog)
	assert.Equal(t, 2, op.ErrorCount)
	assert.Equal(t, "second", *op.LastError)
}

func TestEstimateCompletion(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("NilWithoutProgress", func(t *testing.T) {
		assert.Nil(t, EstimateCompletion(Counters{Total: 10}, &start, start.Add(time.Second)))
		assert.Nil(t, EstimateCompletion(Counters{Total: 10, Processed: 1, Successful: 1}, nil, start))
	})

	t.Run("LinearProjection", func(t *testing.T) {
		now := start.Add(4 * time.Second)
		eta := EstimateCompletion(Counters{Total: 10, Processed: 4, Successful: 4}, &start, now)
		require.NotNil(t, eta)
		assert.Equal(t, now.Add(6*time.Second), *eta)
	})

	t.Run("NowWhenDone", func(t *testing.T) {
		now := start.Add(time.Minute)
		eta := EstimateCompletion(Counters{Total: 2, Processed: 2, Successful: 2}, &start, now)
		require.NotNil(t, eta)
		assert.Equal(t, now, *eta)
	})
}
