// Package batchtest provides in-memory doubles for exercising the batch engine
// without a database.
package batchtest

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	batchDomain "github.com/allisson/batchdonations/internal/batch/domain"
)

// Repository is a thread-safe in-memory BatchRepository. Values are copied on
// the way in and out, so callers never share state with the store.
type Repository struct {
	mu         sync.Mutex
	operations map[uuid.UUID]*batchDomain.BatchOperation
	items      map[uuid.UUID]*batchDomain.DonationItem

	progress []batchDomain.Counters

	// OnUpdateProgress runs after each progress write, outside the lock.
	OnUpdateProgress func(id uuid.UUID, counters batchDomain.Counters)

	// Failure injection. Each error is returned by its method when set.
	SaveOperationErr   error
	UpdateProgressErr  error
	UpdateItemErr      error
	LoadItemsErr       error
	AppendErrorLogErr  error
	TransitionErr      error
	ListQueuedErr      error
	DeleteSettledErr   error
	CountItemsErr      error
	FailProgressAfterN int
}

// NewRepository creates an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		operations: make(map[uuid.UUID]*batchDomain.BatchOperation),
		items:      make(map[uuid.UUID]*batchDomain.DonationItem),
	}
}

// SaveOperation stores a copy of op.
func (r *Repository) SaveOperation(ctx context.Context, op *batchDomain.BatchOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SaveOperationErr != nil {
		return r.SaveOperationErr
	}
	r.operations[op.ID] = CloneOperation(op)
	return nil
}

// LoadOperation returns a copy of the stored operation.
func (r *Repository) LoadOperation(ctx context.Context, id uuid.UUID) (*batchDomain.BatchOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.operations[id]
	if !ok {
		return nil, batchDomain.ErrBatchNotFound
	}
	return CloneOperation(op), nil
}

// TransitionOperation writes the lifecycle fields when the stored status is one of from.
func (r *Repository) TransitionOperation(
	ctx context.Context,
	op *batchDomain.BatchOperation,
	from ...batchDomain.OperationStatus,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.TransitionErr != nil {
		return r.TransitionErr
	}
	stored, ok := r.operations[op.ID]
	if !ok {
		return batchDomain.ErrBatchNotFound
	}
	if !slices.Contains(from, stored.Status) {
		return batchDomain.ErrStatusConflict
	}
	stored.Status = op.Status
	stored.WorkerID = op.WorkerID
	stored.StartedAt = op.StartedAt
	stored.CompletedAt = op.CompletedAt
	stored.RetryPasses = op.RetryPasses
	stored.Summary = op.Summary
	stored.LastUpdatedAt = op.LastUpdatedAt
	return nil
}

// UpdateOperationProgress writes the counters and records them in the history.
func (r *Repository) UpdateOperationProgress(
	ctx context.Context,
	id uuid.UUID,
	counters batchDomain.Counters,
	at time.Time,
) error {
	r.mu.Lock()
	if r.UpdateProgressErr != nil {
		r.mu.Unlock()
		return r.UpdateProgressErr
	}
	if r.FailProgressAfterN > 0 && len(r.progress) >= r.FailProgressAfterN {
		r.mu.Unlock()
		return errProgressUnavailable
	}
	stored, ok := r.operations[id]
	if !ok {
		r.mu.Unlock()
		return batchDomain.ErrBatchNotFound
	}
	if err := counters.Validate(); err != nil {
		r.mu.Unlock()
		return err
	}
	stored.ProcessedItems = counters.Processed
	stored.SuccessfulItems = counters.Successful
	stored.FailedItems = counters.Failed
	stored.SkippedItems = counters.Skipped
	stored.LastUpdatedAt = at
	r.progress = append(r.progress, counters)
	hook := r.OnUpdateProgress
	r.mu.Unlock()

	if hook != nil {
		hook(id, counters)
	}
	return nil
}

// AppendErrorLog appends entries to the stored error log.
func (r *Repository) AppendErrorLog(ctx context.Context, id uuid.UUID, entries []batchDomain.ErrorEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.AppendErrorLogErr != nil {
		return r.AppendErrorLogErr
	}
	stored, ok := r.operations[id]
	if !ok {
		return batchDomain.ErrBatchNotFound
	}
	stored.RecordErrors(entries...)
	return nil
}

// SaveItems stores copies of items.
func (r *Repository) SaveItems(ctx context.Context, items []*batchDomain.DonationItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range items {
		r.items[item.ID] = CloneItem(item)
	}
	return nil
}

// UpdateItem overwrites an existing item.
func (r *Repository) UpdateItem(ctx context.Context, item *batchDomain.DonationItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.UpdateItemErr != nil {
		return r.UpdateItemErr
	}
	if _, ok := r.items[item.ID]; !ok {
		return batchDomain.ErrItemNotFound
	}
	r.items[item.ID] = CloneItem(item)
	return nil
}

// LoadItemsByBatch returns copies ordered by processing order.
func (r *Repository) LoadItemsByBatch(ctx context.Context, batchID uuid.UUID) ([]*batchDomain.DonationItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.LoadItemsErr != nil {
		return nil, r.LoadItemsErr
	}
	items := make([]*batchDomain.DonationItem, 0)
	for _, item := range r.items {
		if item.BatchID == batchID {
			items = append(items, CloneItem(item))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].ProcessingOrder < items[j].ProcessingOrder
	})
	return items, nil
}

// CountItemsByStatus counts the items of a batch.
func (r *Repository) CountItemsByStatus(
	ctx context.Context,
	batchID uuid.UUID,
) (map[batchDomain.ItemStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CountItemsErr != nil {
		return nil, r.CountItemsErr
	}
	counts := make(map[batchDomain.ItemStatus]int)
	for _, item := range r.items {
		if item.BatchID == batchID {
			counts[item.Status]++
		}
	}
	return counts, nil
}

// ListOperations returns operations newest first.
func (r *Repository) ListOperations(ctx context.Context, offset, limit int) ([]*batchDomain.BatchOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := r.sortedOperations(func(a, b *batchDomain.BatchOperation) bool {
		return a.CreatedAt.After(b.CreatedAt)
	}, nil)
	return page(ops, offset, limit), nil
}

// ListQueuedOperations returns queued operations by priority then age.
func (r *Repository) ListQueuedOperations(ctx context.Context, limit int) ([]*batchDomain.BatchOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ListQueuedErr != nil {
		return nil, r.ListQueuedErr
	}
	ops := r.sortedOperations(func(a, b *batchDomain.BatchOperation) bool {
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.CreatedAt.Before(b.CreatedAt)
	}, func(op *batchDomain.BatchOperation) bool {
		return op.Status == batchDomain.OperationStatusQueued
	})
	return page(ops, 0, limit), nil
}

// DeleteSettledBefore removes settled operations completed before cutoff.
func (r *Repository) DeleteSettledBefore(ctx context.Context, cutoff time.Time, dryRun bool) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.DeleteSettledErr != nil {
		return 0, r.DeleteSettledErr
	}
	var count int64
	for id, op := range r.operations {
		if !op.Status.IsSettled() || op.CompletedAt == nil || !op.CompletedAt.Before(cutoff) {
			continue
		}
		count++
		if dryRun {
			continue
		}
		delete(r.operations, id)
		for itemID, item := range r.items {
			if item.BatchID == id {
				delete(r.items, itemID)
			}
		}
	}
	return count, nil
}

// ProgressHistory returns every counter snapshot written so far.
func (r *Repository) ProgressHistory() []batchDomain.Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.progress)
}

// Item returns a copy of one stored item.
func (r *Repository) Item(id uuid.UUID) *batchDomain.DonationItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return nil
	}
	return CloneItem(item)
}

// OperationCount returns how many operations are stored.
func (r *Repository) OperationCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.operations)
}

func (r *Repository) sortedOperations(
	less func(a, b *batchDomain.BatchOperation) bool,
	keep func(op *batchDomain.BatchOperation) bool,
) []*batchDomain.BatchOperation {
	ops := make([]*batchDomain.BatchOperation, 0, len(r.operations))
	for _, op := range r.operations {
		if keep != nil && !keep(op) {
			continue
		}
		ops = append(ops, CloneOperation(op))
	}
	sort.Slice(ops, func(i, j int) bool { return less(ops[i], ops[j]) })
	return ops
}

func page(ops []*batchDomain.BatchOperation, offset, limit int) []*batchDomain.BatchOperation {
	if offset >= len(ops) {
		return []*batchDomain.BatchOperation{}
	}
	end := len(ops)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return ops[offset:end]
}

// CloneOperation returns a copy of op that shares no mutable state with it.
func CloneOperation(op *batchDomain.BatchOperation) *batchDomain.BatchOperation {
	c := *op
	if op.ErrorLog != nil {
		c.ErrorLog = batchDomain.NewErrorLog(op.ErrorLog.Cap())
		c.ErrorLog.Append(op.ErrorLog.Entries()...)
	}
	if op.Summary != nil {
		summary := *op.Summary
		c.Summary = &summary
	}
	return &c
}

// CloneItem returns a copy of item that shares no mutable state with it.
func CloneItem(item *batchDomain.DonationItem) *batchDomain.DonationItem {
	c := *item
	c.ValidationErrors = slices.Clone(item.ValidationErrors)
	return &c
}
