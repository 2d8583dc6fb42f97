package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	batchDomain "github.com/allisson/batchdonations/internal/batch/domain"
)

func TestProgressTracker(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("RecordKeepsInvariant", func(t *testing.T) {
		tracker := NewProgressTracker(4, start)
		tracker.Record(batchDomain.OutcomeSuccess)
		tracker.Record(batchDomain.OutcomeRetryable)
		tracker.Record(batchDomain.OutcomeTerminal)
		tracker.Record(batchDomain.OutcomeSkipped)

		counters := tracker.Counters()
		require.NoError(t, counters.Validate())
		assert.Equal(t, batchDomain.Counters{Total: 4, Processed: 4, Successful: 1, Failed: 2, Skipped: 1}, counters)
		assert.Equal(t, 4, tracker.RunProcessed())
		assert.Equal(t, 100.0, tracker.Percentage())
	})

	t.Run("SeedCountsOnlyProcessedItems", func(t *testing.T) {
		tracker := NewProgressTracker(5, start)
		for _, status := range []batchDomain.ItemStatus{
			batchDomain.ItemStatusCompleted,
			batchDomain.ItemStatusFailed,
			batchDomain.ItemStatusSkipped,
			batchDomain.ItemStatusPending,
			batchDomain.ItemStatusRetrying,
		} {
			tracker.Seed(&batchDomain.DonationItem{Status: status})
		}

		assert.Equal(t, batchDomain.Counters{Total: 5, Processed: 3, Successful: 1, Failed: 1, Skipped: 1}, tracker.Counters())
		assert.Equal(t, 0, tracker.RunProcessed())
		assert.Equal(t, 60.0, tracker.Percentage())
	})

	t.Run("EstimateUsesRunThroughput", func(t *testing.T) {
		tracker := NewProgressTracker(6, start)
		tracker.Seed(&batchDomain.DonationItem{Status: batchDomain.ItemStatusCompleted})
		tracker.Seed(&batchDomain.DonationItem{Status: batchDomain.ItemStatusCompleted})
		assert.Nil(t, tracker.EstimatedCompletion(start.Add(time.Second)))

		tracker.Record(batchDomain.OutcomeSuccess)
		tracker.Record(batchDomain.OutcomeSuccess)

		now := start.Add(2 * time.Second)
		eta := tracker.EstimatedCompletion(now)
		require.NotNil(t, eta)
		assert.Equal(t, now.Add(2*time.Second), *eta)
	})
}
