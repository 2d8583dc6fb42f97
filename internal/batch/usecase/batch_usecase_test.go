package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	batchDomain "github.com/allisson/batchdonations/internal/batch/domain"
	apperrors "github.com/allisson/batchdonations/internal/errors"
)

func TestBatchUseCase_CreateBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		e := newEngine(t, nil)
		message := "keep going"

		op, err := e.useCase.CreateBatch(ctx, batchDomain.CreateBatchInput{
			CreatedBy:     "admin",
			Priority:      7,
			Configuration: map[string]any{"campaign": "spring"},
			Items: []batchDomain.DonationInput{
				{UserID: "user-1", OnlusID: "onlus-1", Amount: 10, Message: &message},
				{UserID: "user-2", OnlusID: "onlus-2", Amount: 20, IsAnonymous: true},
			},
		})
		require.NoError(t, err)

		assert.Equal(t, batchDomain.OperationStatusQueued, op.Status)
		assert.Equal(t, batchDomain.OperationTypeDonations, op.OperationType)
		assert.Equal(t, 2, op.TotalItems)
		assert.Equal(t, batchDomain.DefaultMaxRetries, op.MaxRetries)
		assert.Equal(t, 7, op.Priority)
		assert.Equal(t, "spring", op.Configuration["campaign"])
		assert.Equal(t, 1, e.tx.Calls())

		stored, err := e.repo.LoadOperation(ctx, op.ID)
		require.NoError(t, err)
		assert.Equal(t, op.ID, stored.ID)

		items, err := e.repo.LoadItemsByBatch(ctx, op.ID)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, 0, items[0].ProcessingOrder)
		assert.Equal(t, "user-1", items[0].UserID)
		assert.Equal(t, &message, items[0].Message)
		assert.Equal(t, 1, items[1].ProcessingOrder)
		assert.True(t, items[1].IsAnonymous)
		for _, item := range items {
			assert.Equal(t, batchDomain.ItemStatusPending, item.Status)
			assert.Equal(t, batchDomain.DefaultMaxRetries, item.MaxRetries)
			assert.True(t, item.PreValidationPassed)
		}
	})

	t.Run("Error_NegativeAmountCreatesNothing", func(t *testing.T) {
		e := newEngine(t, nil)

		_, err := e.useCase.CreateBatch(ctx, batchDomain.CreateBatchInput{
			CreatedBy: "admin",
			Items:     []batchDomain.DonationInput{donation("u1", 10), donation("u2", -5), donation("u3", 20)},
		})
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.ErrInvalidInput))

		var verr *batchDomain.ValidationError
		require.ErrorAs(t, err, &verr)
		require.Len(t, verr.Items, 1)
		assert.Equal(t, 1, verr.Items[0].Index)
		assert.Equal(t, 0, e.repo.OperationCount())
		assert.Equal(t, 0, e.tx.Calls())
	})

	t.Run("Error_TooManyItemsForConfiguredLimit", func(t *testing.T) {
		e := newEngine(t, nil, func(o *engineOptions) {
			o.uc.Limits.MaxItems = 2
		})

		_, err := e.useCase.CreateBatch(ctx, batchDomain.CreateBatchInput{
			CreatedBy: "admin",
			Items:     []batchDomain.DonationInput{donation("u1", 1), donation("u2", 1), donation("u3", 1)},
		})
		assert.ErrorIs(t, err, batchDomain.ErrTooManyItems)
	})

	t.Run("Error_UnsupportedOperationType", func(t *testing.T) {
		e := newEngine(t, nil)

		_, err := e.useCase.CreateBatch(ctx, batchDomain.CreateBatchInput{
			CreatedBy:     "admin",
			OperationType: batchDomain.OperationTypeRefunds,
			Items:         []batchDomain.DonationInput{donation("u1", 1)},
		})
		assert.ErrorIs(t, err, batchDomain.ErrUnsupportedOperationType)
	})

	t.Run("Error_MissingCreatedBy", func(t *testing.T) {
		e := newEngine(t, nil)

		_, err := e.useCase.CreateBatch(ctx, batchDomain.CreateBatchInput{
			Items: []batchDomain.DonationInput{donation("u1", 1)},
		})
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		assert.Contains(t, err.Error(), "created_by")
	})

	t.Run("Error_PersistenceRollsBack", func(t *testing.T) {
		e := newEngine(t, nil)
		e.repo.SaveOperationErr = errors.New("database unavailable")

		_, err := e.useCase.CreateBatch(ctx, batchDomain.CreateBatchInput{
			CreatedBy: "admin",
			Items:     []batchDomain.DonationInput{donation("u1", 1)},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create batch")
	})

	t.Run("Success_DuplicatesKeptWhenDisabled", func(t *testing.T) {
		e := newEngine(t, nil, func(o *engineOptions) {
			o.uc.SkipDuplicates = false
		})
		op := e.createBatch(t, 0, donation("u1", 1), donation("u1", 1))

		items, err := e.repo.LoadItemsByBatch(ctx, op.ID)
		require.NoError(t, err)
		assert.True(t, items[1].PreValidationPassed)
		assert.Equal(t, 0, op.MaxRetries)
	})
}

func TestBatchUseCase_GetStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("Success_Queued", func(t *testing.T) {
		e := newEngine(t, nil)
		op := e.createBatch(t, 3, donation("u1", 1), donation("u2", 1))

		snapshot, err := e.useCase.GetStatus(ctx, op.ID)
		require.NoError(t, err)

		assert.Equal(t, op.ID, snapshot.Operation.ID)
		assert.Len(t, snapshot.ItemCounts, len(batchDomain.AllItemStatuses))
		assert.Equal(t, 2, snapshot.ItemCounts[batchDomain.ItemStatusPending])
		assert.Equal(t, 0, snapshot.ItemCounts[batchDomain.ItemStatusCompleted])
		assert.Empty(t, snapshot.RecentErrors)
		assert.Equal(t, 0.0, snapshot.ProgressPercentage)
		assert.Nil(t, snapshot.EstimatedCompletion)
	})

	t.Run("Success_LastTenErrors", func(t *testing.T) {
		e := newEngine(t, func(ctx context.Context, req batchDomain.DonationRequest) (batchDomain.DonationReceipt, error) {
			return batchDomain.DonationReceipt{}, batchDomain.NewTerminalError("DECLINED", "declined "+req.UserID, nil)
		})
		inputs := make([]batchDomain.DonationInput, 12)
		for i := range inputs {
			inputs[i] = donation(fmt.Sprintf("user-%02d", i), 1)
		}
		op := e.createBatch(t, 3, inputs...)
		_, err := e.useCase.StartProcessing(ctx, op.ID)
		require.NoError(t, err)

		snapshot, err := e.useCase.GetStatus(ctx, op.ID)
		require.NoError(t, err)

		assert.Equal(t, batchDomain.OperationStatusFailed, snapshot.Operation.Status)
		assert.Equal(t, 12, snapshot.ItemCounts[batchDomain.ItemStatusFailed])
		assert.Len(t, snapshot.RecentErrors, batchDomain.StatusErrorTail)
		assert.Equal(t, 12, snapshot.Operation.ErrorCount)
		assert.Equal(t, 100.0, snapshot.ProgressPercentage)
		assert.Nil(t, snapshot.EstimatedCompletion)
	})

	t.Run("Success_EstimateWhileProcessing", func(t *testing.T) {
		e := newEngine(t, nil)
		op := e.createBatch(t, 3, donation("u1", 1), donation("u2", 1))

		stored, err := e.repo.LoadOperation(ctx, op.ID)
		require.NoError(t, err)
		require.NoError(t, stored.Start("w", time.Now().UTC().Add(-time.Minute)))
		require.NoError(t, e.repo.TransitionOperation(ctx, stored, batchDomain.OperationStatusQueued))
		require.NoError(t, e.repo.UpdateOperationProgress(ctx, op.ID,
			batchDomain.Counters{Total: 2, Processed: 1, Successful: 1}, time.Now().UTC()))

		snapshot, err := e.useCase.GetStatus(ctx, op.ID)
		require.NoError(t, err)
		assert.Equal(t, 50.0, snapshot.ProgressPercentage)
		require.NotNil(t, snapshot.EstimatedCompletion)
		assert.True(t, snapshot.EstimatedCompletion.After(time.Now().UTC()))
	})

	t.Run("Error_NotFound", func(t *testing.T) {
		e := newEngine(t, nil)
		_, err := e.useCase.GetStatus(ctx, uuid.Must(uuid.NewV7()))
		assert.ErrorIs(t, err, batchDomain.ErrBatchNotFound)
		assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	})
}

func TestBatchUseCase_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("Success_Queued", func(t *testing.T) {
		e := newEngine(t, nil)
		op := e.createBatch(t, 3, donation("u1", 1))

		require.NoError(t, e.useCase.Cancel(ctx, op.ID, "uploaded twice"))

		stored, err := e.repo.LoadOperation(ctx, op.ID)
		require.NoError(t, err)
		assert.Equal(t, batchDomain.OperationStatusCancelled, stored.Status)
		require.NotNil(t, stored.CompletedAt)
		assert.Equal(t, 1, stored.ErrorCount)
		entries := stored.ErrorLog.Entries()
		require.Len(t, entries, 1)
		assert.Equal(t, batchDomain.ErrorCodeCancelled, entries[0].Code)
		assert.Equal(t, "batch cancelled: uploaded twice", entries[0].Message)

		_, err = e.useCase.StartProcessing(ctx, op.ID)
		assert.ErrorIs(t, err, batchDomain.ErrInvalidTransition)
		assert.Equal(t, 0, e.executor.TotalCalls())
	})

	t.Run("Success_PartialKeepsItemResults", func(t *testing.T) {
		e := newEngine(t, func(ctx context.Context, req batchDomain.DonationRequest) (batchDomain.DonationReceipt, error) {
			if req.UserID == "u2" {
				return batchDomain.DonationReceipt{}, errors.New("timeout talking to wallet")
			}
			return batchDomain.DonationReceipt{TransactionID: "tx"}, nil
		})
		op := e.createBatch(t, 3, donation("u1", 1), donation("u2", 1))
		_, err := e.useCase.StartProcessing(ctx, op.ID)
		require.NoError(t, err)
		before, err := e.repo.LoadItemsByBatch(ctx, op.ID)
		require.NoError(t, err)

		require.NoError(t, e.useCase.Cancel(ctx, op.ID, "giving up"))

		after, err := e.repo.LoadItemsByBatch(ctx, op.ID)
		require.NoError(t, err)
		assert.Equal(t, before, after)

		_, err = e.useCase.RetryFailed(ctx, op.ID)
		assert.ErrorIs(t, err, batchDomain.ErrInvalidTransition)
	})

	t.Run("Error_AlreadyCompleted", func(t *testing.T) {
		e := newEngine(t, nil)
		op := e.createBatch(t, 3, donation("u1", 1))
		_, err := e.useCase.StartProcessing(ctx, op.ID)
		require.NoError(t, err)

		err = e.useCase.Cancel(ctx, op.ID, "late")
		assert.ErrorIs(t, err, batchDomain.ErrInvalidTransition)
		assert.True(t, apperrors.Is(err, apperrors.ErrConflict))
	})

	t.Run("Error_NotFound", func(t *testing.T) {
		e := newEngine(t, nil)
		err := e.useCase.Cancel(ctx, uuid.Must(uuid.NewV7()), "reason")
		assert.ErrorIs(t, err, batchDomain.ErrBatchNotFound)
	})
}

func TestBatchUseCase_RetryFailed(t *testing.T) {
	ctx := context.Background()

	t.Run("Error_Queued", func(t *testing.T) {
		e := newEngine(t, nil)
		op := e.createBatch(t, 3, donation("u1", 1))

		_, err := e.useCase.RetryFailed(ctx, op.ID)
		assert.ErrorIs(t, err, batchDomain.ErrInvalidTransition)
	})

	t.Run("Error_RetryPassesExhausted", func(t *testing.T) {
		e := newEngine(t, func(ctx context.Context, req batchDomain.DonationRequest) (batchDomain.DonationReceipt, error) {
			return batchDomain.DonationReceipt{}, errors.New("unavailable")
		})
		op := e.createBatch(t, 3, donation("u1", 1))
		_, err := e.useCase.StartProcessing(ctx, op.ID)
		require.NoError(t, err)

		stored, err := e.repo.LoadOperation(ctx, op.ID)
		require.NoError(t, err)
		stored.RetryPasses = stored.MaxRetries
		require.NoError(t, e.repo.SaveOperation(ctx, stored))

		_, err = e.useCase.RetryFailed(ctx, op.ID)
		assert.ErrorIs(t, err, batchDomain.ErrRetryPassesExhausted)
		assert.Equal(t, 1, e.executor.TotalCalls())
	})

	t.Run("Error_NotFound", func(t *testing.T) {
		e := newEngine(t, nil)
		_, err := e.useCase.RetryFailed(ctx, uuid.Must(uuid.NewV7()))
		assert.ErrorIs(t, err, batchDomain.ErrBatchNotFound)
	})
}

func TestBatchUseCase_ListBatches(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)
	first := e.createBatch(t, 3, donation("u1", 1))
	time.Sleep(time.Millisecond)
	second := e.createBatch(t, 3, donation("u2", 1))

	ops, err := e.useCase.ListBatches(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, second.ID, ops[0].ID)
	assert.Equal(t, first.ID, ops[1].ID)

	ops, err = e.useCase.ListBatches(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, first.ID, ops[0].ID)
}

func TestBatchUseCase_ListItems(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)
	op := e.createBatch(t, 3, donation("u1", 1), donation("u2", 2), donation("u3", 3))

	items, err := e.useCase.ListItems(ctx, op.ID)
	require.NoError(t, err)
	require.Len(t, items, 3)
	for i, item := range items {
		assert.Equal(t, i, item.ProcessingOrder)
	}

	_, err = e.useCase.ListItems(ctx, uuid.Must(uuid.NewV7()))
	assert.ErrorIs(t, err, batchDomain.ErrBatchNotFound)
}

func TestBatchUseCase_CleanupExpired(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)

	old := e.createBatch(t, 3, donation("u1", 1))
	recent := e.createBatch(t, 3, donation("u2", 1))
	queued := e.createBatch(t, 3, donation("u3", 1))
	for _, id := range []uuid.UUID{old.ID, recent.ID} {
		_, err := e.useCase.StartProcessing(ctx, id)
		require.NoError(t, err)
	}

	stored, err := e.repo.LoadOperation(ctx, old.ID)
	require.NoError(t, err)
	past := time.Now().UTC().AddDate(0, 0, -100)
	stored.CompletedAt = &past
	require.NoError(t, e.repo.SaveOperation(ctx, stored))

	count, err := e.useCase.CleanupExpired(ctx, 90, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, 3, e.repo.OperationCount())

	count, err = e.useCase.CleanupExpired(ctx, 90, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, 2, e.repo.OperationCount())

	_, err = e.repo.LoadOperation(ctx, old.ID)
	assert.ErrorIs(t, err, batchDomain.ErrBatchNotFound)
	items, err := e.repo.LoadItemsByBatch(ctx, old.ID)
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = e.repo.LoadOperation(ctx, queued.ID)
	assert.NoError(t, err)

	_, err = e.useCase.CleanupExpired(ctx, -1, false)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
