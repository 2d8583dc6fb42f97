package service

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	batchDomain "github.com/allisson/batchdonations/internal/batch/domain"
)

type countingExecutor struct {
	mu    sync.Mutex
	calls int
}

func (c *countingExecutor) Execute(
	ctx context.Context,
	req batchDomain.DonationRequest,
) (batchDomain.DonationReceipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return batchDomain.DonationReceipt{TransactionID: "tx"}, nil
}

func TestRateLimitedExecutor_Execute(t *testing.T) {
	t.Run("Success_Delegates", func(t *testing.T) {
		next := &countingExecutor{}
		executor := NewRateLimitedExecutor(next, 0, 0)

		for i := 0; i < 5; i++ {
			_, err := executor.Execute(context.Background(), newDonationRequest())
			require.NoError(t, err)
		}
		assert.Equal(t, 5, next.calls)
	})

	t.Run("Error_WaitExceedsDeadline", func(t *testing.T) {
		next := &countingExecutor{}
		executor := NewRateLimitedExecutor(next, 0.001, 1)

		_, err := executor.Execute(context.Background(), newDonationRequest())
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err = executor.Execute(ctx, newDonationRequest())

		var execErr *batchDomain.ExecutionError
		require.ErrorAs(t, err, &execErr)
		assert.Equal(t, batchDomain.OutcomeRetryable, execErr.Kind)
		assert.Equal(t, 1, next.calls)
	})
}

func TestDryRunExecutor_Execute(t *testing.T) {
	var buf bytes.Buffer
	executor := NewDryRunExecutor(slog.New(slog.NewTextHandler(&buf, nil)))

	first, err := executor.Execute(context.Background(), newDonationRequest())
	require.NoError(t, err)
	second, err := executor.Execute(context.Background(), newDonationRequest())
	require.NoError(t, err)

	assert.Equal(t, "dry-run-donation-1", first.TransactionID)
	assert.Equal(t, "dry-run-donation-2", second.TransactionID)
	assert.Equal(t, 25.0, first.ProcessedAmount)
	assert.Contains(t, buf.String(), "[DRY-RUN] would execute donation")
}

func TestThresholdFraudCheck_Evaluate(t *testing.T) {
	check := NewThresholdFraudCheck(1000)

	tests := []struct {
		name   string
		modify func(req *batchDomain.DonationRequest)
		safe   bool
	}{
		{"Safe_RegularDonation", func(req *batchDomain.DonationRequest) {}, true},
		{"Safe_HighAmount", func(req *batchDomain.DonationRequest) { req.Amount = 900 }, true},
		{"Unsafe_AboveLimit", func(req *batchDomain.DonationRequest) { req.Amount = 1500 }, false},
		{"Unsafe_SelfDonation", func(req *batchDomain.DonationRequest) { req.OnlusID = req.UserID }, false},
		{"Safe_Anonymous", func(req *batchDomain.DonationRequest) { req.IsAnonymous = true }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newDonationRequest()
			tt.modify(&req)

			assessment, err := check.Evaluate(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, tt.safe, assessment.Safe)
			assert.LessOrEqual(t, assessment.Score, 1.0)
			assert.Contains(t, assessment.Details, "reasons")
		})
	}

	t.Run("Error_ContextDone", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := check.Evaluate(ctx, newDonationRequest())
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestMemoryRunLocker_Acquire(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryRunLocker()
	batchID := uuid.Must(uuid.NewV7())

	release, err := locker.Acquire(ctx, batchID)
	require.NoError(t, err)
	assert.True(t, locker.Held(batchID))

	_, err = locker.Acquire(ctx, batchID)
	assert.ErrorIs(t, err, batchDomain.ErrBatchAlreadyProcessing)

	other, err := locker.Acquire(ctx, uuid.Must(uuid.NewV7()))
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, release(ctx))
	require.NoError(t, release(ctx))
	assert.False(t, locker.Held(batchID))

	again, err := locker.Acquire(ctx, batchID)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestMemoryRunLocker_Concurrent(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryRunLocker()
	batchID := uuid.Must(uuid.NewV7())

	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := locker.Acquire(ctx, batchID); err == nil {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, acquired)
}
