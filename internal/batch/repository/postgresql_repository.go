// Package repository implements batch operation and donation item persistence.
// The PostgreSQL implementation lives here; MySQL lives in the mysql subpackage.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	batchDomain "github.com/allisson/batchdonations/internal/batch/domain"
	"github.com/allisson/batchdonations/internal/database"
	apperrors "github.com/allisson/batchdonations/internal/errors"
)

// maxErrorLogAttempts bounds the optimistic read-modify-write loop of AppendErrorLog.
const maxErrorLogAttempts = 5

const operationColumns = `id, operation_type, status, total_items, processed_items, successful_items,
	failed_items, skipped_items, batch_size, max_retries, priority, created_by, configuration,
	error_log, error_count, last_error, retry_passes, worker_id, summary, created_at, started_at,
	completed_at, last_updated_at`

const itemColumns = `id, batch_id, processing_order, user_id, onlus_id, amount, message, is_anonymous,
	metadata, status, retry_count, max_retries, last_retry_at, retryable, transaction_id,
	processed_amount, processing_fee, error_message, error_code, error_details, validation_errors,
	pre_validation_passed, created_at, updated_at, started_processing_at, completed_at`

var settledStatuses = []string{
	string(batchDomain.OperationStatusCompleted),
	string(batchDomain.OperationStatusPartial),
	string(batchDomain.OperationStatusFailed),
	string(batchDomain.OperationStatusCancelled),
}

// PostgreSQLBatchRepository implements batch persistence for PostgreSQL databases.
type PostgreSQLBatchRepository struct {
	db *sql.DB
}

// SaveOperation inserts the operation or overwrites every stored column.
func (p *PostgreSQLBatchRepository) SaveOperation(ctx context.Context, op *batchDomain.BatchOperation) error {
	querier := database.GetTx(ctx, p.db)

	configuration, errorLog, summary, err := encodeOperation(op)
	if err != nil {
		return err
	}

	query := `INSERT INTO batch_operations (` + operationColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
			  ON CONFLICT (id) DO UPDATE SET
				operation_type = EXCLUDED.operation_type,
				status = EXCLUDED.status,
				total_items = EXCLUDED.total_items,
				processed_items = EXCLUDED.processed_items,
				successful_items = EXCLUDED.successful_items,
				failed_items = EXCLUDED.failed_items,
				skipped_items = EXCLUDED.skipped_items,
				batch_size = EXCLUDED.batch_size,
				max_retries = EXCLUDED.max_retries,
				priority = EXCLUDED.priority,
				created_by = EXCLUDED.created_by,
				configuration = EXCLUDED.configuration,
				error_log = EXCLUDED.error_log,
				error_count = EXCLUDED.error_count,
				last_error = EXCLUDED.last_error,
				retry_passes = EXCLUDED.retry_passes,
				worker_id = EXCLUDED.worker_id,
				summary = EXCLUDED.summary,
				started_at = EXCLUDED.started_at,
				completed_at = EXCLUDED.completed_at,
				last_updated_at = EXCLUDED.last_updated_at`

	_, err = querier.ExecContext(
		ctx,
		query,
		op.ID,
		string(op.OperationType),
		string(op.Status),
		op.TotalItems,
		op.ProcessedItems,
		op.SuccessfulItems,
		op.FailedItems,
		op.SkippedItems,
		op.BatchSize,
		op.MaxRetries,
		op.Priority,
		op.CreatedBy,
		configuration,
		errorLog,
		op.ErrorCount,
		op.LastError,
		op.RetryPasses,
		op.WorkerID,
		nullableJSON(summary),
		op.CreatedAt,
		op.StartedAt,
		op.CompletedAt,
		op.LastUpdatedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to save batch operation")
	}
	return nil
}

// LoadOperation retrieves a batch operation by its ID.
func (p *PostgreSQLBatchRepository) LoadOperation(
	ctx context.Context,
	id uuid.UUID,
) (*batchDomain.BatchOperation, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT ` + operationColumns + ` FROM batch_operations WHERE id = $1`

	op, err := scanOperation(querier.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, batchDomain.ErrBatchNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get batch operation")
	}
	return op, nil
}

// TransitionOperation writes the lifecycle fields of op when the stored status is one of from.
func (p *PostgreSQLBatchRepository) TransitionOperation(
	ctx context.Context,
	op *batchDomain.BatchOperation,
	from ...batchDomain.OperationStatus,
) error {
	querier := database.GetTx(ctx, p.db)

	var summary []byte
	if op.Summary != nil {
		var err error
		if summary, err = json.Marshal(op.Summary); err != nil {
			return apperrors.Wrap(err, "failed to marshal batch summary")
		}
	}

	query := `UPDATE batch_operations
			  SET status = $2, worker_id = $3, started_at = $4, completed_at = $5,
				  retry_passes = $6, summary = $7, last_updated_at = $8
			  WHERE id = $1 AND status = ANY($9)`

	result, err := querier.ExecContext(
		ctx,
		query,
		op.ID,
		string(op.Status),
		op.WorkerID,
		op.StartedAt,
		op.CompletedAt,
		op.RetryPasses,
		nullableJSON(summary),
		op.LastUpdatedAt,
		pq.Array(statusStrings(from)),
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to transition batch operation")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		if _, err := p.LoadOperation(ctx, op.ID); err != nil {
			return err
		}
		return batchDomain.ErrStatusConflict
	}
	return nil
}

// UpdateOperationProgress writes the aggregate counters of a batch.
func (p *PostgreSQLBatchRepository) UpdateOperationProgress(
	ctx context.Context,
	id uuid.UUID,
	counters batchDomain.Counters,
	at time.Time,
) error {
	if err := counters.Validate(); err != nil {
		return err
	}

	querier := database.GetTx(ctx, p.db)

	query := `UPDATE batch_operations
			  SET processed_items = $2, successful_items = $3, failed_items = $4, skipped_items = $5,
				  last_updated_at = $6
			  WHERE id = $1`

	result, err := querier.ExecContext(
		ctx,
		query,
		id,
		counters.Processed,
		counters.Successful,
		counters.Failed,
		counters.Skipped,
		at,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to update batch progress")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return batchDomain.ErrBatchNotFound
	}
	return nil
}

// AppendErrorLog appends entries to the stored error log. Concurrent appends
// are detected through error_count and retried.
func (p *PostgreSQLBatchRepository) AppendErrorLog(
	ctx context.Context,
	id uuid.UUID,
	entries []batchDomain.ErrorEntry,
) error {
	if len(entries) == 0 {
		return nil
	}

	querier := database.GetTx(ctx, p.db)

	for range maxErrorLogAttempts {
		op, err := p.LoadOperation(ctx, id)
		if err != nil {
			return err
		}
		expectedCount := op.ErrorCount
		op.RecordErrors(entries...)

		errorLog, err := json.Marshal(op.ErrorLog)
		if err != nil {
			return apperrors.Wrap(err, "failed to marshal error log")
		}

		query := `UPDATE batch_operations
				  SET error_log = $2, error_count = $3, last_error = $4
				  WHERE id = $1 AND error_count = $5`

		result, err := querier.ExecContext(ctx, query, id, errorLog, op.ErrorCount, op.LastError, expectedCount)
		if err != nil {
			return apperrors.Wrap(err, "failed to append batch error log")
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return apperrors.Wrap(err, "failed to get rows affected")
		}
		if rows > 0 {
			return nil
		}
	}

	return apperrors.Wrap(batchDomain.ErrStatusConflict, "failed to append batch error log")
}

// SaveItems inserts or overwrites items.
func (p *PostgreSQLBatchRepository) SaveItems(ctx context.Context, items []*batchDomain.DonationItem) error {
	querier := database.GetTx(ctx, p.db)

	query := `INSERT INTO batch_donation_items (` + itemColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
			  ON CONFLICT (id) DO UPDATE SET
				status = EXCLUDED.status,
				retry_count = EXCLUDED.retry_count,
				max_retries = EXCLUDED.max_retries,
				last_retry_at = EXCLUDED.last_retry_at,
				retryable = EXCLUDED.retryable,
				transaction_id = EXCLUDED.transaction_id,
				processed_amount = EXCLUDED.processed_amount,
				processing_fee = EXCLUDED.processing_fee,
				error_message = EXCLUDED.error_message,
				error_code = EXCLUDED.error_code,
				error_details = EXCLUDED.error_details,
				validation_errors = EXCLUDED.validation_errors,
				pre_validation_passed = EXCLUDED.pre_validation_passed,
				updated_at = EXCLUDED.updated_at,
				started_processing_at = EXCLUDED.started_processing_at,
				completed_at = EXCLUDED.completed_at`

	for _, item := range items {
		metadata, errorDetails, validationErrors, err := encodeItem(item)
		if err != nil {
			return err
		}

		_, err = querier.ExecContext(
			ctx,
			query,
			item.ID,
			item.BatchID,
			item.ProcessingOrder,
			item.UserID,
			item.OnlusID,
			item.Amount,
			item.Message,
			item.IsAnonymous,
			metadata,
			string(item.Status),
			item.RetryCount,
			item.MaxRetries,
			item.LastRetryAt,
			item.Retryable,
			item.TransactionID,
			item.ProcessedAmount,
			item.ProcessingFee,
			item.ErrorMessage,
			item.ErrorCode,
			nullableJSON(errorDetails),
			validationErrors,
			item.PreValidationPassed,
			item.CreatedAt,
			item.UpdatedAt,
			item.StartedProcessingAt,
			item.CompletedAt,
		)
		if err != nil {
			return apperrors.Wrap(err, "failed to save batch item")
		}
	}
	return nil
}

// UpdateItem persists the mutable fields of one item.
func (p *PostgreSQLBatchRepository) UpdateItem(ctx context.Context, item *batchDomain.DonationItem) error {
	querier := database.GetTx(ctx, p.db)

	_, errorDetails, validationErrors, err := encodeItem(item)
	if err != nil {
		return err
	}

	query := `UPDATE batch_donation_items
			  SET status = $2, retry_count = $3, last_retry_at = $4, retryable = $5, transaction_id = $6,
				  processed_amount = $7, processing_fee = $8, error_message = $9, error_code = $10,
				  error_details = $11, validation_errors = $12, pre_validation_passed = $13,
				  updated_at = $14, started_processing_at = $15, completed_at = $16
			  WHERE id = $1`

	result, err := querier.ExecContext(
		ctx,
		query,
		item.ID,
		string(item.Status),
		item.RetryCount,
		item.LastRetryAt,
		item.Retryable,
		item.TransactionID,
		item.ProcessedAmount,
		item.ProcessingFee,
		item.ErrorMessage,
		item.ErrorCode,
		nullableJSON(errorDetails),
		validationErrors,
		item.PreValidationPassed,
		item.UpdatedAt,
		item.StartedProcessingAt,
		item.CompletedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to update batch item")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return batchDomain.ErrItemNotFound
	}
	return nil
}

// LoadItemsByBatch returns the items of a batch ordered by processing order.
func (p *PostgreSQLBatchRepository) LoadItemsByBatch(
	ctx context.Context,
	batchID uuid.UUID,
) ([]*batchDomain.DonationItem, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT ` + itemColumns + ` FROM batch_donation_items
			  WHERE batch_id = $1
			  ORDER BY processing_order ASC`

	rows, err := querier.QueryContext(ctx, query, batchID)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list batch items")
	}
	defer func() {
		_ = rows.Close()
	}()

	items := make([]*batchDomain.DonationItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan batch item")
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate batch items")
	}

	return items, nil
}

// CountItemsByStatus returns item counts keyed by status.
func (p *PostgreSQLBatchRepository) CountItemsByStatus(
	ctx context.Context,
	batchID uuid.UUID,
) (map[batchDomain.ItemStatus]int, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT status, COUNT(*) FROM batch_donation_items WHERE batch_id = $1 GROUP BY status`

	rows, err := querier.QueryContext(ctx, query, batchID)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to count batch items")
	}
	defer func() {
		_ = rows.Close()
	}()

	counts := make(map[batchDomain.ItemStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan batch item count")
		}
		counts[batchDomain.ItemStatus(status)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate batch item counts")
	}

	return counts, nil
}

// ListOperations returns operations ordered by creation time, newest first.
func (p *PostgreSQLBatchRepository) ListOperations(
	ctx context.Context,
	offset, limit int,
) ([]*batchDomain.BatchOperation, error) {
	query := `SELECT ` + operationColumns + ` FROM batch_operations
			  ORDER BY created_at DESC
			  LIMIT $1 OFFSET $2`

	return p.listOperations(ctx, query, limit, offset)
}

// ListQueuedOperations returns queued operations by priority then age.
func (p *PostgreSQLBatchRepository) ListQueuedOperations(
	ctx context.Context,
	limit int,
) ([]*batchDomain.BatchOperation, error) {
	query := `SELECT ` + operationColumns + ` FROM batch_operations
			  WHERE status = $1
			  ORDER BY priority DESC, created_at ASC
			  LIMIT $2`

	return p.listOperations(ctx, query, string(batchDomain.OperationStatusQueued), limit)
}

// DeleteSettledBefore removes settled operations completed before cutoff.
// Items are removed by the foreign key cascade.
func (p *PostgreSQLBatchRepository) DeleteSettledBefore(
	ctx context.Context,
	cutoff time.Time,
	dryRun bool,
) (int64, error) {
	querier := database.GetTx(ctx, p.db)

	if dryRun {
		query := `SELECT COUNT(*) FROM batch_operations WHERE status = ANY($1) AND completed_at < $2`

		var count int64
		if err := querier.QueryRowContext(ctx, query, pq.Array(settledStatuses), cutoff).Scan(&count); err != nil {
			return 0, apperrors.Wrap(err, "failed to count settled batch operations")
		}
		return count, nil
	}

	query := `DELETE FROM batch_operations WHERE status = ANY($1) AND completed_at < $2`

	result, err := querier.ExecContext(ctx, query, pq.Array(settledStatuses), cutoff)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to delete settled batch operations")
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to get rows affected")
	}
	return count, nil
}

func (p *PostgreSQLBatchRepository) listOperations(
	ctx context.Context,
	query string,
	args ...any,
) ([]*batchDomain.BatchOperation, error) {
	querier := database.GetTx(ctx, p.db)

	rows, err := querier.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list batch operations")
	}
	defer func() {
		_ = rows.Close()
	}()

	ops := make([]*batchDomain.BatchOperation, 0)
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan batch operation")
		}
		ops = append(ops, op)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate batch operations")
	}

	return ops, nil
}

// NewPostgreSQLBatchRepository creates a new PostgreSQL batch repository.
func NewPostgreSQLBatchRepository(db *sql.DB) *PostgreSQLBatchRepository {
	return &PostgreSQLBatchRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(s rowScanner) (*batchDomain.BatchOperation, error) {
	var op batchDomain.BatchOperation
	var operationType, status string
	var configuration, errorLog, summary []byte

	err := s.Scan(
		&op.ID,
		&operationType,
		&status,
		&op.TotalItems,
		&op.ProcessedItems,
		&op.SuccessfulItems,
		&op.FailedItems,
		&op.SkippedItems,
		&op.BatchSize,
		&op.MaxRetries,
		&op.Priority,
		&op.CreatedBy,
		&configuration,
		&errorLog,
		&op.ErrorCount,
		&op.LastError,
		&op.RetryPasses,
		&op.WorkerID,
		&summary,
		&op.CreatedAt,
		&op.StartedAt,
		&op.CompletedAt,
		&op.LastUpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	op.OperationType = batchDomain.OperationType(operationType)
	op.Status = batchDomain.OperationStatus(status)
	if err := decodeOperation(&op, configuration, errorLog, summary); err != nil {
		return nil, err
	}
	return &op, nil
}

func scanItem(s rowScanner) (*batchDomain.DonationItem, error) {
	var item batchDomain.DonationItem
	var status string
	var metadata, errorDetails, validationErrors []byte

	err := s.Scan(
		&item.ID,
		&item.BatchID,
		&item.ProcessingOrder,
		&item.UserID,
		&item.OnlusID,
		&item.Amount,
		&item.Message,
		&item.IsAnonymous,
		&metadata,
		&status,
		&item.RetryCount,
		&item.MaxRetries,
		&item.LastRetryAt,
		&item.Retryable,
		&item.TransactionID,
		&item.ProcessedAmount,
		&item.ProcessingFee,
		&item.ErrorMessage,
		&item.ErrorCode,
		&errorDetails,
		&validationErrors,
		&item.PreValidationPassed,
		&item.CreatedAt,
		&item.UpdatedAt,
		&item.StartedProcessingAt,
		&item.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Status = batchDomain.ItemStatus(status)
	if err := decodeItem(&item, metadata, errorDetails, validationErrors); err != nil {
		return nil, err
	}
	return &item, nil
}

func encodeOperation(op *batchDomain.BatchOperation) (configuration, errorLog, summary []byte, err error) {
	if configuration, err = json.Marshal(nonNilMap(op.Configuration)); err != nil {
		return nil, nil, nil, apperrors.Wrap(err, "failed to marshal batch configuration")
	}
	log := op.ErrorLog
	if log == nil {
		log = batchDomain.NewErrorLog(batchDomain.ErrorLogCapacity)
	}
	if errorLog, err = json.Marshal(log); err != nil {
		return nil, nil, nil, apperrors.Wrap(err, "failed to marshal error log")
	}
	if op.Summary != nil {
		if summary, err = json.Marshal(op.Summary); err != nil {
			return nil, nil, nil, apperrors.Wrap(err, "failed to marshal batch summary")
		}
	}
	return configuration, errorLog, summary, nil
}

func decodeOperation(op *batchDomain.BatchOperation, configuration, errorLog, summary []byte) error {
	op.Configuration = map[string]any{}
	if len(configuration) > 0 {
		if err := json.Unmarshal(configuration, &op.Configuration); err != nil {
			return apperrors.Wrap(err, "failed to unmarshal batch configuration")
		}
	}
	op.ErrorLog = batchDomain.NewErrorLog(batchDomain.ErrorLogCapacity)
	if len(errorLog) > 0 {
		if err := json.Unmarshal(errorLog, op.ErrorLog); err != nil {
			return apperrors.Wrap(err, "failed to unmarshal error log")
		}
	}
	if len(summary) > 0 {
		op.Summary = &batchDomain.Summary{}
		if err := json.Unmarshal(summary, op.Summary); err != nil {
			return apperrors.Wrap(err, "failed to unmarshal batch summary")
		}
	}
	return nil
}

func encodeItem(item *batchDomain.DonationItem) (metadata, errorDetails, validationErrors []byte, err error) {
	if metadata, err = json.Marshal(nonNilMap(item.Metadata)); err != nil {
		return nil, nil, nil, apperrors.Wrap(err, "failed to marshal item metadata")
	}
	if item.ErrorDetails != nil {
		if errorDetails, err = json.Marshal(item.ErrorDetails); err != nil {
			return nil, nil, nil, apperrors.Wrap(err, "failed to marshal item error details")
		}
	}
	messages := item.ValidationErrors
	if messages == nil {
		messages = []string{}
	}
	if validationErrors, err = json.Marshal(messages); err != nil {
		return nil, nil, nil, apperrors.Wrap(err, "failed to marshal item validation errors")
	}
	return metadata, errorDetails, validationErrors, nil
}

func decodeItem(item *batchDomain.DonationItem, metadata, errorDetails, validationErrors []byte) error {
	item.Metadata = map[string]any{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &item.Metadata); err != nil {
			return apperrors.Wrap(err, "failed to unmarshal item metadata")
		}
	}
	if len(errorDetails) > 0 {
		if err := json.Unmarshal(errorDetails, &item.ErrorDetails); err != nil {
			return apperrors.Wrap(err, "failed to unmarshal item error details")
		}
	}
	item.ValidationErrors = []string{}
	if len(validationErrors) > 0 {
		if err := json.Unmarshal(validationErrors, &item.ValidationErrors); err != nil {
			return apperrors.Wrap(err, "failed to unmarshal item validation errors")
		}
	}
	return nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// nullableJSON maps an absent document to SQL NULL.
func nullableJSON(data []byte) any {
	if data == nil {
		return nil
	}
	return data
}

func statusStrings(statuses []batchDomain.OperationStatus) []string {
	out := make([]string, len(statuses))
	for i, status := range statuses {
		out[i] = string(status)
	}
	return out
}
