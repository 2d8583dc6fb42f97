package commands

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	batchDomain "github.com/allisson/batchdonations/internal/batch/domain"
	batchMocks "github.com/allisson/batchdonations/internal/batch/usecase/mocks"
)

func newQueuedOperation() *batchDomain.BatchOperation {
	return batchDomain.NewBatchOperation("admin", 2, 50, 3, 0, time.Now().UTC())
}

func TestRunCreateBatch(t *testing.T) {
	ctx := context.Background()
	logger := slog.Default()
	donations := `[{"user_id":"u1","onlus_id":"o1","amount":10},{"user_id":"u2","onlus_id":"o1","amount":5.5}]`

	t.Run("text-output", func(t *testing.T) {
		mockUseCase := &batchMocks.MockBatchUseCase{}
		op := newQueuedOperation()
		mockUseCase.On("CreateBatch", ctx, mock.MatchedBy(func(in batchDomain.CreateBatchInput) bool {
			return in.CreatedBy == "admin" &&
				len(in.Items) == 2 &&
				in.Items[1].Amount == 5.5 &&
				in.MaxRetries == nil &&
				in.Configuration["source"] == "cli"
		})).Return(op, nil)

		var out bytes.Buffer
		err := RunCreateBatch(ctx, mockUseCase, logger, Streams{
			Reader: strings.NewReader(donations),
			Writer: &out,
		}, CreateBatchOptions{CreatedBy: "admin", MaxRetries: -1, Format: "text"})

		require.NoError(t, err)
		assert.Contains(t, out.String(), "Batch created successfully")
		assert.Contains(t, out.String(), op.ID.String())
		mockUseCase.AssertExpectations(t)
	})

	t.Run("json-output-with-max-retries", func(t *testing.T) {
		mockUseCase := &batchMocks.MockBatchUseCase{}
		op := newQueuedOperation()
		mockUseCase.On("CreateBatch", ctx, mock.MatchedBy(func(in batchDomain.CreateBatchInput) bool {
			return in.MaxRetries != nil && *in.MaxRetries == 0 && in.Priority == 7
		})).Return(op, nil)

		var out bytes.Buffer
		err := RunCreateBatch(ctx, mockUseCase, logger, Streams{
			Reader: strings.NewReader(donations),
			Writer: &out,
		}, CreateBatchOptions{CreatedBy: "admin", MaxRetries: 0, Priority: 7, Format: "json"})

		require.NoError(t, err)
		assert.Contains(t, out.String(), `"id": "`+op.ID.String()+`"`)
		assert.Contains(t, out.String(), `"status": "queued"`)
		mockUseCase.AssertExpectations(t)
	})

	t.Run("invalid-json", func(t *testing.T) {
		mockUseCase := &batchMocks.MockBatchUseCase{}

		err := RunCreateBatch(ctx, mockUseCase, logger, Streams{
			Reader: strings.NewReader("{not json"),
			Writer: &bytes.Buffer{},
		}, CreateBatchOptions{CreatedBy: "admin", MaxRetries: -1, Format: "text"})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse donations JSON")
		mockUseCase.AssertNotCalled(t, "CreateBatch", mock.Anything, mock.Anything)
	})

	t.Run("empty-array", func(t *testing.T) {
		mockUseCase := &batchMocks.MockBatchUseCase{}

		err := RunCreateBatch(ctx, mockUseCase, logger, Streams{
			Reader: strings.NewReader("[]"),
			Writer: &bytes.Buffer{},
		}, CreateBatchOptions{CreatedBy: "admin", MaxRetries: -1, Format: "text"})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least one donation is required")
	})

	t.Run("missing-created-by", func(t *testing.T) {
		mockUseCase := &batchMocks.MockBatchUseCase{}

		err := RunCreateBatch(ctx, mockUseCase, logger, Streams{
			Reader: strings.NewReader(donations),
			Writer: &bytes.Buffer{},
		}, CreateBatchOptions{CreatedBy: "", MaxRetries: -1, Format: "text"})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid batch")
	})

	t.Run("rejected-items", func(t *testing.T) {
		mockUseCase := &batchMocks.MockBatchUseCase{}
		validationErr := &batchDomain.ValidationError{Items: []batchDomain.ItemValidationError{
			{Index: 1, Errors: []string{"amount: must be no greater than 10000"}},
		}}
		mockUseCase.On("CreateBatch", ctx, mock.Anything).Return(nil, validationErr)

		err := RunCreateBatch(ctx, mockUseCase, logger, Streams{
			Reader: strings.NewReader(donations),
			Writer: &bytes.Buffer{},
		}, CreateBatchOptions{CreatedBy: "admin", MaxRetries: -1, Format: "text"})

		require.Error(t, err)
		assert.ErrorIs(t, err, validationErr)
		assert.Contains(t, err.Error(), "item 1")
	})

	t.Run("invalid-format", func(t *testing.T) {
		err := RunCreateBatch(ctx, &batchMocks.MockBatchUseCase{}, logger, Streams{
			Reader: strings.NewReader(donations),
			Writer: &bytes.Buffer{},
		}, CreateBatchOptions{CreatedBy: "admin", Format: "yaml"})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid format")
	})
}

func TestRunProcessBatch(t *testing.T) {
	ctx := context.Background()
	logger := slog.Default()
	batchID := uuid.Must(uuid.NewV7())
	result := &batchDomain.ProcessingResult{
		BatchID:   batchID,
		Status:    batchDomain.OperationStatusPartial,
		Attempted: 3,
		Counters:  batchDomain.Counters{Total: 3, Processed: 3, Successful: 2, Failed: 1},
		Duration:  1500 * time.Millisecond,
		Errors: []batchDomain.ErrorEntry{
			{Timestamp: time.Now().UTC(), Code: "EXECUTION_ERROR", Message: "processor unavailable"},
		},
	}

	t.Run("text-output", func(t *testing.T) {
		mockUseCase := &batchMocks.MockBatchUseCase{}
		mockUseCase.On("StartProcessing", ctx, batchID).Return(result, nil)

		var out bytes.Buffer
		err := RunProcessBatch(ctx, mockUseCase, logger, &out, batchID.String(), "text")

		require.NoError(t, err)
		assert.Contains(t, out.String(), "finished with status partial")
		assert.Contains(t, out.String(), "successful: 2, failed: 1")
		assert.Contains(t, out.String(), "[EXECUTION_ERROR] processor unavailable")
		mockUseCase.AssertExpectations(t)
	})

	t.Run("json-output", func(t *testing.T) {
		mockUseCase := &batchMocks.MockBatchUseCase{}
		mockUseCase.On("StartProcessing", ctx, batchID).Return(result, nil)

		var out bytes.Buffer
		err := RunProcessBatch(ctx, mockUseCase, logger, &out, batchID.String(), "json")

		require.NoError(t, err)
		assert.Contains(t, out.String(), `"status": "partial"`)
		assert.Contains(t, out.String(), `"duration_ms": 1500`)
		mockUseCase.AssertExpectations(t)
	})

	t.Run("already-processing", func(t *testing.T) {
		mockUseCase := &batchMocks.MockBatchUseCase{}
		mockUseCase.On("StartProcessing", ctx, batchID).Return(nil, batchDomain.ErrBatchAlreadyProcessing)

		err := RunProcessBatch(ctx, mockUseCase, logger, &bytes.Buffer{}, batchID.String(), "text")

		assert.ErrorIs(t, err, batchDomain.ErrBatchAlreadyProcessing)
	})

	t.Run("invalid-id", func(t *testing.T) {
		err := RunProcessBatch(ctx, &batchMocks.MockBatchUseCase{}, logger, &bytes.Buffer{}, "nope", "text")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid batch ID format")
	})
}

func TestRunRetryBatch(t *testing.T) {
	ctx := context.Background()
	logger := slog.Default()
	batchID := uuid.Must(uuid.NewV7())

	t.Run("nothing-to-retry", func(t *testing.T) {
		mockUseCase := &batchMocks.MockBatchUseCase{}
		mockUseCase.On("RetryFailed", ctx, batchID).Return(&batchDomain.ProcessingResult{
			BatchID:        batchID,
			Status:         batchDomain.OperationStatusFailed,
			NothingToRetry: true,
		}, nil)

		var out bytes.Buffer
		err := RunRetryBatch(ctx, mockUseCase, logger, &out, batchID.String(), "text")

		require.NoError(t, err)
		assert.Contains(t, out.String(), "Nothing to retry")
		mockUseCase.AssertExpectations(t)
	})

	t.Run("retried", func(t *testing.T) {
		mockUseCase := &batchMocks.MockBatchUseCase{}
		mockUseCase.On("RetryFailed", ctx, batchID).Return(&batchDomain.ProcessingResult{
			BatchID:   batchID,
			Status:    batchDomain.OperationStatusCompleted,
			Attempted: 1,
			Counters:  batchDomain.Counters{Total: 3, Processed: 3, Successful: 3},
		}, nil)

		var out bytes.Buffer
		err := RunRetryBatch(ctx, mockUseCase, logger, &out, batchID.String(), "text")

		require.NoError(t, err)
		assert.Contains(t, out.String(), "finished with status completed")
		assert.Contains(t, out.String(), "Attempted: 1")
		mockUseCase.AssertExpectations(t)
	})

	t.Run("not-retryable", func(t *testing.T) {
		mockUseCase := &batchMocks.MockBatchUseCase{}
		mockUseCase.On("RetryFailed", ctx, batchID).Return(nil, batchDomain.ErrInvalidTransition)

		err := RunRetryBatch(ctx, mockUseCase, logger, &bytes.Buffer{}, batchID.String(), "json")

		assert.ErrorIs(t, err, batchDomain.ErrInvalidTransition)
	})
}

func TestRunCancelBatch(t *testing.T) {
	ctx := context.Background()
	logger := slog.Default()
	batchID := uuid.Must(uuid.NewV7())

	t.Run("text-output", func(t *testing.T) {
		mockUseCase := &batchMocks.MockBatchUseCase{}
		mockUseCase.On("Cancel", ctx, batchID, "duplicate upload").Return(nil)

		var out bytes.Buffer
		err := RunCancelBatch(ctx, mockUseCase, logger, &out, batchID.String(), "duplicate upload", "text")

		require.NoError(t, err)
		assert.Contains(t, out.String(), "cancelled")
		mockUseCase.AssertExpectations(t)
	})

	t.Run("json-output", func(t *testing.T) {
		mockUseCase := &batchMocks.MockBatchUseCase{}
		mockUseCase.On("Cancel", ctx, batchID, "").Return(nil)

		var out bytes.Buffer
		err := RunCancelBatch(ctx, mockUseCase, logger, &out, batchID.String(), "", "json")

		require.NoError(t, err)
		assert.Contains(t, out.String(), `"status": "cancelled"`)
		mockUseCase.AssertExpectations(t)
	})

	t.Run("already-final", func(t *testing.T) {
		mockUseCase := &batchMocks.MockBatchUseCase{}
		mockUseCase.On("Cancel", ctx, batchID, "").Return(batchDomain.ErrInvalidTransition)

		err := RunCancelBatch(ctx, mockUseCase, logger, &bytes.Buffer{}, batchID.String(), "", "text")

		assert.ErrorIs(t, err, batchDomain.ErrInvalidTransition)
	})
}

func TestRunBatchStatus(t *testing.T) {
	ctx := context.Background()
	logger := slog.Default()
	op := newQueuedOperation()
	eta := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	snapshot := &batchDomain.StatusSnapshot{
		Operation: op,
		ItemCounts: map[batchDomain.ItemStatus]int{
			batchDomain.ItemStatusPending:   1,
			batchDomain.ItemStatusCompleted: 1,
		},
		RecentErrors:        []batchDomain.ErrorEntry{},
		ProgressPercentage:  50,
		EstimatedCompletion: &eta,
	}

	t.Run("text-output", func(t *testing.T) {
		mockUseCase := &batchMocks.MockBatchUseCase{}
		mockUseCase.On("GetStatus", ctx, op.ID).Return(snapshot, nil)

		var out bytes.Buffer
		err := RunBatchStatus(ctx, mockUseCase, logger, &out, op.ID.String(), "text")

		require.NoError(t, err)
		assert.Contains(t, out.String(), "Progress: 50.00%")
		assert.Contains(t, out.String(), "Estimated completion: 2026-01-02T03:04:05Z")
		assert.Contains(t, out.String(), "retrying")
		mockUseCase.AssertExpectations(t)
	})

	t.Run("json-output", func(t *testing.T) {
		mockUseCase := &batchMocks.MockBatchUseCase{}
		mockUseCase.On("GetStatus", ctx, op.ID).Return(snapshot, nil)

		var out bytes.Buffer
		err := RunBatchStatus(ctx, mockUseCase, logger, &out, op.ID.String(), "json")

		require.NoError(t, err)
		assert.Contains(t, out.String(), `"progress_percentage": 50`)
		assert.Contains(t, out.String(), `"skipped": 0`)
		mockUseCase.AssertExpectations(t)
	})

	t.Run("not-found", func(t *testing.T) {
		mockUseCase := &batchMocks.MockBatchUseCase{}
		mockUseCase.On("GetStatus", ctx, op.ID).Return(nil, batchDomain.ErrBatchNotFound)

		err := RunBatchStatus(ctx, mockUseCase, logger, &bytes.Buffer{}, op.ID.String(), "text")

		assert.ErrorIs(t, err, batchDomain.ErrBatchNotFound)
	})
}

func TestRunCleanBatches(t *testing.T) {
	ctx := context.Background()
	logger := slog.Default()
	days := 30

	t.Run("text-output", func(t *testing.T) {
		mockUseCase := &batchMocks.MockBatchUseCase{}
		mockUseCase.On("CleanupExpired", ctx, days, false).Return(int64(12), nil)

		var out bytes.Buffer
		err := RunCleanBatches(ctx, mockUseCase, logger, &out, days, false, "text")

		require.NoError(t, err)
		assert.Contains(t, out.String(), "Successfully deleted 12 batch(es)")
		mockUseCase.AssertExpectations(t)
	})

	t.Run("json-dry-run", func(t *testing.T) {
		mockUseCase := &batchMocks.MockBatchUseCase{}
		mockUseCase.On("CleanupExpired", ctx, days, true).Return(int64(4), nil)

		var out bytes.Buffer
		err := RunCleanBatches(ctx, mockUseCase, logger, &out, days, true, "json")

		require.NoError(t, err)
		assert.Contains(t, out.String(), `"count": 4`)
		assert.Contains(t, out.String(), `"dry_run": true`)
		mockUseCase.AssertExpectations(t)
	})

	t.Run("invalid-days", func(t *testing.T) {
		err := RunCleanBatches(ctx, &batchMocks.MockBatchUseCase{}, logger, &bytes.Buffer{}, -1, false, "text")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "days must be a positive number")
	})
}
