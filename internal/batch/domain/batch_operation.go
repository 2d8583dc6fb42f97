// Package domain defines the batch donation aggregates and their lifecycle rules.
//
// A BatchOperation is the job record for up to MaxItemsPerBatch DonationItems.
// Both aggregates are pure data plus transition rules: they never perform I/O
// and every status change goes through a method that validates the transition.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Counters holds the aggregate item counts of a batch operation.
type Counters struct {
	Total      int `json:"total_items"`
	Processed  int `json:"processed_items"`
	Successful int `json:"successful_items"`
	Failed     int `json:"failed_items"`
	Skipped    int `json:"skipped_items"`
}

// Validate checks processed = successful + failed + skipped <= total.
func (c Counters) Validate() error {
	if c.Successful < 0 || c.Failed < 0 || c.Skipped < 0 {
		return fmt.Errorf("%w: negative counter in %+v", ErrProgressInvariant, c)
	}
	if c.Processed != c.Successful+c.Failed+c.Skipped {
		return fmt.Errorf("%w: processed %d != %d + %d + %d",
			ErrProgressInvariant, c.Processed, c.Successful, c.Failed, c.Skipped)
	}
	if c.Processed > c.Total {
		return fmt.Errorf("%w: processed %d > total %d", ErrProgressInvariant, c.Processed, c.Total)
	}
	return nil
}

// Percentage returns processed / total * 100, or 0 for an empty batch.
func (c Counters) Percentage() float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.Processed) / float64(c.Total) * 100
}

// Summary is the results summary persisted when a run finalizes.
type Summary struct {
	Counters
	RetryPasses    int       `json:"retry_passes"`
	DurationMillis int64     `json:"duration_ms"`
	ItemsPerSecond float64   `json:"items_per_second"`
	FinishedAt     time.Time `json:"finished_at"`
}

// BatchOperation is the aggregate root of a batch job.
type BatchOperation struct {
	ID            uuid.UUID
	OperationType OperationType
	Status        OperationStatus

	TotalItems      int
	ProcessedItems  int
	SuccessfulItems int
	FailedItems     int
	SkippedItems    int

	BatchSize     int
	MaxRetries    int
	Priority      int
	CreatedBy     string
	Configuration map[string]any

	ErrorLog   *ErrorLog
	ErrorCount int
	LastError  *string

	// RetryPasses counts the retry passes started for this batch.
	RetryPasses int
	WorkerID    *string
	Summary     *Summary

	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	LastUpdatedAt time.Time
}

// NewBatchOperation creates a queued donations batch for totalItems items.
func NewBatchOperation(createdBy string, totalItems, batchSize, maxRetries, priority int, now time.Time) *BatchOperation {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	return &BatchOperation{
		ID:            uuid.Must(uuid.NewV7()),
		OperationType: OperationTypeDonations,
		Status:        OperationStatusQueued,
		TotalItems:    totalItems,
		BatchSize:     batchSize,
		MaxRetries:    maxRetries,
		Priority:      priority,
		CreatedBy:     createdBy,
		Configuration: map[string]any{},
		ErrorLog:      NewErrorLog(ErrorLogCapacity),
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
}

// Counters returns the current aggregate counts.
func (b *BatchOperation) Counters() Counters {
	return Counters{
		Total:      b.TotalItems,
		Processed:  b.ProcessedItems,
		Successful: b.SuccessfulItems,
		Failed:     b.FailedItems,
		Skipped:    b.SkippedItems,
	}
}

// ProgressPercentage is derived from the counters on every call.
func (b *BatchOperation) ProgressPercentage() float64 {
	return b.Counters().Percentage()
}

// CanStart reports whether a first processing run may begin.
func (b *BatchOperation) CanStart() bool {
	return b.Status == OperationStatusQueued
}

// CanRetry reports whether a retry pass may begin.
func (b *BatchOperation) CanRetry() bool {
	return (b.Status == OperationStatusPartial || b.Status == OperationStatusFailed) &&
		b.RetryPasses < b.MaxRetries
}

// Start moves a queued batch to processing.
func (b *BatchOperation) Start(workerID string, now time.Time) error {
	if b.Status == OperationStatusProcessing {
		return ErrBatchAlreadyProcessing
	}
	if !b.CanStart() {
		return fmt.Errorf("%w: cannot start batch in status %s", ErrInvalidTransition, b.Status)
	}
	b.Status = OperationStatusProcessing
	b.WorkerID = &workerID
	b.StartedAt = &now
	b.CompletedAt = nil
	b.LastUpdatedAt = now
	return nil
}

// BeginRetry moves a partial or failed batch back to processing for a retry pass.
func (b *BatchOperation) BeginRetry(workerID string, now time.Time) error {
	if b.Status == OperationStatusProcessing {
		return ErrBatchAlreadyProcessing
	}
	if b.Status != OperationStatusPartial && b.Status != OperationStatusFailed {
		return fmt.Errorf("%w: cannot retry batch in status %s", ErrInvalidTransition, b.Status)
	}
	if b.RetryPasses >= b.MaxRetries {
		return ErrRetryPassesExhausted
	}
	b.RetryPasses++
	b.Status = OperationStatusProcessing
	b.WorkerID = &workerID
	b.StartedAt = &now
	b.CompletedAt = nil
	b.Summary = nil
	b.LastUpdatedAt = now
	return nil
}

// ApplyCounters replaces the aggregate counts after checking the invariant.
func (b *BatchOperation) ApplyCounters(c Counters, now time.Time) error {
	c.Total = b.TotalItems
	if err := c.Validate(); err != nil {
		return err
	}
	b.ProcessedItems = c.Processed
	b.SuccessfulItems = c.Successful
	b.FailedItems = c.Failed
	b.SkippedItems = c.Skipped
	b.LastUpdatedAt = now
	return nil
}

// RecordErrors appends entries to the error log and updates the error bookkeeping.
func (b *BatchOperation) RecordErrors(entries ...ErrorEntry) {
	if len(entries) == 0 {
		return
	}
	if b.ErrorLog == nil {
		b.ErrorLog = NewErrorLog(ErrorLogCapacity)
	}
	b.ErrorLog.Append(entries...)
	b.ErrorCount += len(entries)
	last := entries[len(entries)-1].Message
	b.LastError = &last
}

// ClassifyOutcome returns the settled status implied by the counters.
//
// A batch with no successful item is failed, including one where every item
// was skipped. Otherwise any failure makes it partial.
func (b *BatchOperation) ClassifyOutcome() OperationStatus {
	switch {
	case b.SuccessfulItems == 0:
		return OperationStatusFailed
	case b.FailedItems > 0:
		return OperationStatusPartial
	default:
		return OperationStatusCompleted
	}
}

// Finalize settles a processing batch once every item was processed.
func (b *BatchOperation) Finalize(now time.Time) error {
	if b.Status != OperationStatusProcessing {
		return fmt.Errorf("%w: cannot finalize batch in status %s", ErrInvalidTransition, b.Status)
	}
	if b.ProcessedItems != b.TotalItems {
		return fmt.Errorf("%w: %d of %d items processed",
			ErrInvalidTransition, b.ProcessedItems, b.TotalItems)
	}

	b.Status = b.ClassifyOutcome()
	b.CompletedAt = &now
	b.LastUpdatedAt = now

	summary := &Summary{
		Counters:    b.Counters(),
		RetryPasses: b.RetryPasses,
		FinishedAt:  now,
	}
	if b.StartedAt != nil {
		elapsed := now.Sub(*b.StartedAt)
		summary.DurationMillis = elapsed.Milliseconds()
		if elapsed > 0 {
			summary.ItemsPerSecond = float64(b.ProcessedItems) / elapsed.Seconds()
		}
	}
	b.Summary = summary
	return nil
}

// Cancel moves a non-final batch to cancelled and records the reason.
func (b *BatchOperation) Cancel(reason string, now time.Time) error {
	if b.Status.IsFinal() {
		return fmt.Errorf("%w: cannot cancel batch in status %s", ErrInvalidTransition, b.Status)
	}
	if reason == "" {
		reason = "no reason given"
	}
	b.Status = OperationStatusCancelled
	b.CompletedAt = &now
	b.LastUpdatedAt = now
	b.RecordErrors(ErrorEntry{
		Timestamp: now,
		Code:      ErrorCodeCancelled,
		Message:   "batch cancelled: " + reason,
	})
	return nil
}

// EstimatedCompletion projects when the batch finishes from the observed
// throughput since StartedAt. It returns nil until there is progress to
// extrapolate from.
func (b *BatchOperation) EstimatedCompletion(now time.Time) *time.Time {
	return EstimateCompletion(b.Counters(), b.StartedAt, now)
}

// EstimateCompletion projects the finish time for counters observed since startedAt.
func EstimateCompletion(c Counters, startedAt *time.Time, now time.Time) *time.Time {
	if startedAt == nil || c.Processed == 0 {
		return nil
	}
	if c.Processed >= c.Total {
		return &now
	}
	elapsed := now.Sub(*startedAt)
	if elapsed <= 0 {
		return nil
	}
	perItem := elapsed / time.Duration(c.Processed)
	eta := now.Add(perItem * time.Duration(c.Total-c.Processed))
	return &eta
}
