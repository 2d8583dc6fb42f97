package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	batchDomain "github.com/allisson/batchdonations/internal/batch/domain"
	apperrors "github.com/allisson/batchdonations/internal/errors"
	"github.com/allisson/batchdonations/internal/metrics"
)

const metricsDomain = "batch"

// OrchestratorConfig holds the worker pool settings.
type OrchestratorConfig struct {
	// Workers bounds how many items are in flight at once.
	Workers int

	// FlushEvery is the number of outcomes between progress checkpoints.
	FlushEvery int

	// ItemTimeout bounds the fraud check plus the donation call of one item.
	ItemTimeout time.Duration

	// WorkerID identifies this process on the batch operations it runs.
	WorkerID string
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = 10
	}
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = 30 * time.Second
	}
	if c.WorkerID == "" {
		c.WorkerID = "batch-worker"
	}
	return c
}

// Orchestrator runs the items of one batch through a bounded worker pool.
//
// Workers only persist their own item. A single aggregator goroutine owns the
// ProgressTracker and is the only writer of the batch counters and error log
// during a run.
type Orchestrator struct {
	config   OrchestratorConfig
	repo     BatchRepository
	executor DonationExecutor
	fraud    FraudCheck
	locker   RunLocker
	classify ErrorClassifier
	metrics  metrics.BusinessMetrics
	engine   metrics.EngineMetrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewOrchestrator creates an Orchestrator. fraud and classify are optional.
func NewOrchestrator(
	config OrchestratorConfig,
	repo BatchRepository,
	executor DonationExecutor,
	fraud FraudCheck,
	locker RunLocker,
	classify ErrorClassifier,
	businessMetrics metrics.BusinessMetrics,
	logger *slog.Logger,
) *Orchestrator {
	if classify == nil {
		classify = DefaultErrorClassifier
	}
	if businessMetrics == nil {
		businessMetrics = metrics.NewNoOpBusinessMetrics()
	}
	return &Orchestrator{
		config:   config.withDefaults(),
		repo:     repo,
		executor: executor,
		fraud:    fraud,
		locker:   locker,
		classify: classify,
		metrics:  businessMetrics,
		engine:   metrics.NewNoOpEngineMetrics(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithEngineMetrics replaces the no-op worker pool instrumentation.
func (o *Orchestrator) WithEngineMetrics(engine metrics.EngineMetrics) *Orchestrator {
	if engine != nil {
		o.engine = engine
	}
	return o
}

// DefaultErrorClassifier treats any untyped executor error as transient.
func DefaultErrorClassifier(err error) *batchDomain.ExecutionError {
	return batchDomain.NewRetryableError(batchDomain.ErrorCodeExecution, "donation processor call failed", err)
}

// Process runs a queued batch until every item is processed or the batch is cancelled.
func (o *Orchestrator) Process(ctx context.Context, batchID uuid.UUID) (*batchDomain.ProcessingResult, error) {
	release, err := o.locker.Acquire(ctx, batchID)
	if err != nil {
		return nil, err
	}
	defer o.releaseLock(ctx, batchID, release)

	op, err := o.repo.LoadOperation(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if err := op.Start(o.config.WorkerID, o.now()); err != nil {
		return nil, err
	}

	items, err := o.repo.LoadItemsByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	if err := o.repo.TransitionOperation(ctx, op, batchDomain.OperationStatusQueued); err != nil {
		if apperrors.Is(err, batchDomain.ErrStatusConflict) {
			return nil, batchDomain.ErrBatchAlreadyProcessing
		}
		return nil, err
	}

	o.logger.Info("batch processing started",
		slog.String("batch_id", batchID.String()),
		slog.Int("total_items", op.TotalItems),
		slog.Int("workers", o.config.Workers),
	)

	return o.run(ctx, op, items)
}

func (o *Orchestrator) releaseLock(ctx context.Context, batchID uuid.UUID, release func(context.Context) error) {
	if err := release(context.WithoutCancel(ctx)); err != nil {
		o.logger.Warn("failed to release batch run lock",
			slog.String("batch_id", batchID.String()),
			slog.Any("error", err),
		)
	}
}

// aggregation is what the aggregator hands back once the outcome channel closes.
type aggregation struct {
	pending []batchDomain.ErrorEntry
	all     []batchDomain.ErrorEntry
	err     error
}

// run dispatches the dispatchable items of op, which must already be persisted
// as processing, and settles the batch.
func (o *Orchestrator) run(
	ctx context.Context,
	op *batchDomain.BatchOperation,
	items []*batchDomain.DonationItem,
) (*batchDomain.ProcessingResult, error) {
	runStart := o.now()
	tracker := NewProgressTracker(op.TotalItems, runStart)

	queue := make([]*batchDomain.DonationItem, 0, len(items))
	for _, item := range items {
		if item.IsDispatchable() {
			queue = append(queue, item)
			continue
		}
		tracker.Seed(item)
	}

	if err := o.flush(ctx, op.ID, tracker, nil, runStart); err != nil {
		return nil, o.abort(op, err)
	}

	runCtx, cancelRun := context.WithCancelCause(ctx)
	defer cancelRun(nil)

	var cancelled atomic.Bool
	outcomes := make(chan batchDomain.ItemOutcome, o.config.Workers)
	aggDone := make(chan aggregation, 1)
	go func() {
		aggDone <- o.aggregate(ctx, op.ID, tracker, outcomes, &cancelled, cancelRun)
	}()

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(o.config.Workers)

	// A worker re-checks the flag once it holds a slot, so nothing starts after
	// a cancellation was observed even if the dispatcher was waiting for a slot.
	var attempted atomic.Int64
	for _, item := range queue {
		if cancelled.Load() || gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if cancelled.Load() || gctx.Err() != nil {
				return nil
			}
			attempted.Add(1)
			o.engine.AddInFlight(ctx, 1)
			defer o.engine.AddInFlight(ctx, -1)
			return o.processItem(ctx, item, outcomes)
		})
	}

	waitErr := g.Wait()
	close(outcomes)
	agg := <-aggDone

	if agg.err != nil {
		return nil, o.abort(op, agg.err)
	}
	if waitErr != nil {
		return nil, o.abort(op, waitErr)
	}
	if !cancelled.Load() {
		if err := context.Cause(runCtx); err != nil {
			return nil, o.abort(op, err)
		}
	}
	started := int(attempted.Load())

	now := o.now()
	if err := o.flush(ctx, op.ID, tracker, agg.pending, now); err != nil {
		return nil, o.abort(op, err)
	}

	current, err := o.repo.LoadOperation(ctx, op.ID)
	if err != nil {
		return nil, o.abort(op, err)
	}
	if current.Status == batchDomain.OperationStatusCancelled {
		o.logger.Info("batch processing stopped by cancellation",
			slog.String("batch_id", op.ID.String()),
			slog.Int("attempted_items", started),
			slog.Int("remaining_items", len(queue)-started),
		)
		return o.result(current, runStart, started, agg.all, "batch cancelled"), nil
	}

	if err := current.Finalize(now); err != nil {
		return nil, o.abort(op, err)
	}
	if err := o.repo.TransitionOperation(ctx, current, batchDomain.OperationStatusProcessing); err != nil {
		if !apperrors.Is(err, batchDomain.ErrStatusConflict) {
			return nil, o.abort(op, err)
		}
		latest, loadErr := o.repo.LoadOperation(ctx, op.ID)
		if loadErr != nil {
			return nil, o.abort(op, loadErr)
		}
		if latest.Status != batchDomain.OperationStatusCancelled {
			return nil, o.abort(op, err)
		}
		return o.result(latest, runStart, started, agg.all, "batch cancelled"), nil
	}

	o.engine.RecordBatchSettled(ctx, string(current.Status), started)
	o.logger.Info("batch processing finished",
		slog.String("batch_id", op.ID.String()),
		slog.String("status", string(current.Status)),
		slog.Int("successful_items", current.SuccessfulItems),
		slog.Int("failed_items", current.FailedItems),
		slog.Int("skipped_items", current.SkippedItems),
		slog.Int("attempted_items", started),
	)

	return o.result(current, runStart, started, agg.all, "batch processed"), nil
}

// aggregate consumes outcomes until the channel closes. It checkpoints progress
// every FlushEvery outcomes and looks for a cancellation at each checkpoint.
// After a checkpoint failure it aborts the run and keeps draining so workers
// never block.
func (o *Orchestrator) aggregate(
	ctx context.Context,
	batchID uuid.UUID,
	tracker *ProgressTracker,
	outcomes <-chan batchDomain.ItemOutcome,
	cancelled *atomic.Bool,
	abort context.CancelCauseFunc,
) aggregation {
	var agg aggregation
	sinceFlush := 0

	for outcome := range outcomes {
		tracker.Record(outcome.Kind)
		o.metrics.RecordOperation(ctx, metricsDomain, "item_process", string(outcome.Kind))
		o.metrics.RecordDuration(ctx, metricsDomain, "item_process", outcome.Duration, string(outcome.Kind))

		if outcome.Kind != batchDomain.OutcomeSuccess {
			entry := outcome.ErrorEntry()
			agg.pending = append(agg.pending, entry)
			agg.all = append(agg.all, entry)
		}

		sinceFlush++
		if agg.err != nil || sinceFlush < o.config.FlushEvery {
			continue
		}
		sinceFlush = 0

		if err := o.flush(ctx, batchID, tracker, agg.pending, outcome.At); err != nil {
			agg.err = err
			abort(err)
			continue
		}
		agg.pending = nil

		op, err := o.repo.LoadOperation(ctx, batchID)
		if err != nil {
			agg.err = err
			abort(err)
			continue
		}
		if op.Status == batchDomain.OperationStatusCancelled && !cancelled.Load() {
			cancelled.Store(true)
			o.logger.Info("batch cancellation observed",
				slog.String("batch_id", batchID.String()),
				slog.Int("processed_items", tracker.Counters().Processed),
			)
		}
	}

	return agg
}

// flush writes the tracker counters and any pending error entries.
func (o *Orchestrator) flush(
	ctx context.Context,
	batchID uuid.UUID,
	tracker *ProgressTracker,
	entries []batchDomain.ErrorEntry,
	at time.Time,
) error {
	counters := tracker.Counters()
	if err := counters.Validate(); err != nil {
		return err
	}
	if err := o.repo.UpdateOperationProgress(ctx, batchID, counters, at); err != nil {
		return err
	}
	if len(entries) > 0 {
		if err := o.repo.AppendErrorLog(ctx, batchID, entries); err != nil {
			return err
		}
	}

	attrs := []any{
		slog.String("batch_id", batchID.String()),
		slog.Int("processed_items", counters.Processed),
		slog.Int("total_items", counters.Total),
		slog.Float64("progress_percentage", tracker.Percentage()),
	}
	if eta := tracker.EstimatedCompletion(at); eta != nil {
		attrs = append(attrs, slog.Time("estimated_completion", *eta))
	}
	o.logger.Debug("batch progress checkpoint", attrs...)
	return nil
}

// processItem drives one item to a processed status and reports the outcome.
// It uses the caller context so a cancellation never interrupts an in-flight item.
func (o *Orchestrator) processItem(
	ctx context.Context,
	item *batchDomain.DonationItem,
	outcomes chan<- batchDomain.ItemOutcome,
) error {
	start := o.now()

	if !item.PreValidationPassed {
		if err := item.MarkSkipped(start); err != nil {
			return err
		}
		if err := o.repo.UpdateItem(ctx, item); err != nil {
			return err
		}
		outcomes <- batchDomain.ItemOutcome{
			ItemID:  item.ID,
			Kind:    batchDomain.OutcomeSkipped,
			Code:    *item.ErrorCode,
			Message: *item.ErrorMessage,
			At:      start,
		}
		return nil
	}

	if err := item.StartProcessing(start); err != nil {
		return err
	}
	if err := o.repo.UpdateItem(ctx, item); err != nil {
		return err
	}

	receipt, execErr := o.attempt(ctx, item)
	end := o.now()
	outcome := batchDomain.ItemOutcome{
		ItemID:   item.ID,
		Kind:     batchDomain.OutcomeSuccess,
		Duration: end.Sub(start),
		At:       end,
	}

	if execErr == nil {
		if err := item.MarkCompleted(receipt, end); err != nil {
			return err
		}
	} else {
		if execErr.Kind != batchDomain.OutcomeRetryable {
			execErr.Kind = batchDomain.OutcomeTerminal
		}
		if err := item.MarkFailed(execErr, end); err != nil {
			return err
		}
		outcome.Kind = execErr.Kind
		outcome.Code = execErr.Code
		outcome.Message = execErr.Message
		if execErr.Kind == batchDomain.OutcomeRetryable && !item.Retryable {
			outcome.Code = batchDomain.ErrorCodeRetryExhausted
			outcome.Message = fmt.Sprintf("%s (retry budget of %d exhausted)", execErr.Message, item.MaxRetries)
		}
		o.logger.Debug("donation item failed",
			slog.String("batch_id", item.BatchID.String()),
			slog.String("item_id", item.ID.String()),
			slog.String("code", execErr.Code),
			slog.Bool("retryable", item.Retryable),
			slog.Any("error", execErr),
		)
	}

	if err := o.repo.UpdateItem(ctx, item); err != nil {
		return err
	}
	outcomes <- outcome
	return nil
}

// attempt runs the fraud gate and the donation call under the item timeout.
func (o *Orchestrator) attempt(
	ctx context.Context,
	item *batchDomain.DonationItem,
) (batchDomain.DonationReceipt, *batchDomain.ExecutionError) {
	callCtx, cancel := context.WithTimeout(ctx, o.config.ItemTimeout)
	defer cancel()

	req := item.Request()

	if o.fraud != nil {
		assessment, err := o.fraud.Evaluate(callCtx, req)
		if err != nil {
			return batchDomain.DonationReceipt{}, batchDomain.NewRetryableError(
				batchDomain.ErrorCodeFraudCheck, "fraud check unavailable", err,
			)
		}
		if !assessment.Safe {
			details := map[string]any{"score": assessment.Score}
			for k, v := range assessment.Details {
				details[k] = v
			}
			return batchDomain.DonationReceipt{}, batchDomain.NewTerminalError(
				batchDomain.ErrorCodeFraudRejected, "donation rejected by fraud check", details,
			)
		}
	}

	receipt, err := o.executor.Execute(callCtx, req)
	if err != nil {
		return batchDomain.DonationReceipt{}, o.classifyError(err)
	}
	return receipt, nil
}

func (o *Orchestrator) classifyError(err error) *batchDomain.ExecutionError {
	var execErr *batchDomain.ExecutionError
	if apperrors.As(err, &execErr) {
		return execErr
	}
	if apperrors.Is(err, context.DeadlineExceeded) {
		return batchDomain.NewRetryableError(
			batchDomain.ErrorCodeTimeout,
			fmt.Sprintf("donation processor did not answer within %s", o.config.ItemTimeout),
			err,
		)
	}
	if classified := o.classify(err); classified != nil {
		return classified
	}
	return DefaultErrorClassifier(err)
}

// abort logs an orchestration failure. The batch stays in processing so an
// operator can inspect it and cancel it.
func (o *Orchestrator) abort(op *batchDomain.BatchOperation, err error) error {
	o.logger.Error("batch processing aborted",
		slog.String("batch_id", op.ID.String()),
		slog.Any("error", err),
	)
	return apperrors.Wrap(err, "batch processing aborted")
}

func (o *Orchestrator) result(
	op *batchDomain.BatchOperation,
	runStart time.Time,
	attempted int,
	errs []batchDomain.ErrorEntry,
	message string,
) *batchDomain.ProcessingResult {
	if errs == nil {
		errs = []batchDomain.ErrorEntry{}
	}
	elapsed := o.now().Sub(runStart)
	result := &batchDomain.ProcessingResult{
		BatchID:   op.ID,
		Status:    op.Status,
		Attempted: attempted,
		Counters:  op.Counters(),
		Duration:  elapsed,
		Message:   message,
		Errors:    errs,
	}
	if elapsed > 0 {
		result.ItemsPerSecond = float64(attempted) / elapsed.Seconds()
	}
	return result
}
