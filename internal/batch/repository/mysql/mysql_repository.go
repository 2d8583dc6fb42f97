// Package mysql implements batch persistence for MySQL databases.
// UUIDs are stored as BINARY(16) and documents as JSON columns.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

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

// MySQLBatchRepository implements batch persistence for MySQL databases.
type MySQLBatchRepository struct {
	db *sql.DB
}

// SaveOperation inserts the operation or overwrites every stored column.
func (m *MySQLBatchRepository) SaveOperation(ctx context.Context, op *batchDomain.BatchOperation) error {
	querier := database.GetTx(ctx, m.db)

	id, err := op.ID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal batch id")
	}

	configuration, errorLog, summary, err := encodeOperation(op)
	if err != nil {
		return err
	}

	query := `INSERT INTO batch_operations (` + operationColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON DUPLICATE KEY UPDATE
				operation_type = VALUES(operation_type),
				status = VALUES(status),
				total_items = VALUES(total_items),
				processed_items = VALUES(processed_items),
				successful_items = VALUES(successful_items),
				failed_items = VALUES(failed_items),
				skipped_items = VALUES(skipped_items),
				batch_size = VALUES(batch_size),
				max_retries = VALUES(max_retries),
				priority = VALUES(priority),
				created_by = VALUES(created_by),
				configuration = VALUES(configuration),
				error_log = VALUES(error_log),
				error_count = VALUES(error_count),
				last_error = VALUES(last_error),
				retry_passes = VALUES(retry_passes),
				worker_id = VALUES(worker_id),
				summary = VALUES(summary),
				started_at = VALUES(started_at),
				completed_at = VALUES(completed_at),
				last_updated_at = VALUES(last_updated_at)`

	_, err = querier.ExecContext(
		ctx,
		query,
		id,
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
		summary,
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
func (m *MySQLBatchRepository) LoadOperation(
	ctx context.Context,
	id uuid.UUID,
) (*batchDomain.BatchOperation, error) {
	querier := database.GetTx(ctx, m.db)

	idBinary, err := id.MarshalBinary()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to marshal batch id")
	}

	query := `SELECT ` + operationColumns + ` FROM batch_operations WHERE id = ?`

	op, err := scanOperation(querier.QueryRowContext(ctx, query, idBinary))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, batchDomain.ErrBatchNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get batch operation")
	}
	return op, nil
}

// TransitionOperation writes the lifecycle fields of op when the stored status is one of from.
func (m *MySQLBatchRepository) TransitionOperation(
	ctx context.Context,
	op *batchDomain.BatchOperation,
	from ...batchDomain.OperationStatus,
) error {
	if len(from) == 0 {
		return batchDomain.ErrStatusConflict
	}

	querier := database.GetTx(ctx, m.db)

	id, err := op.ID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal batch id")
	}

	var summary any
	if op.Summary != nil {
		data, err := json.Marshal(op.Summary)
		if err != nil {
			return apperrors.Wrap(err, "failed to marshal batch summary")
		}
		summary = string(data)
	}

	query := `UPDATE batch_operations
			  SET status = ?, worker_id = ?, started_at = ?, completed_at = ?,
				  retry_passes = ?, summary = ?, last_updated_at = ?
			  WHERE id = ? AND status IN (` + placeholders(len(from)) + `)`

	args := []any{
		string(op.Status),
		op.WorkerID,
		op.StartedAt,
		op.CompletedAt,
		op.RetryPasses,
		summary,
		op.LastUpdatedAt,
		id,
	}
	for _, status := range from {
		args = append(args, string(status))
	}

	result, err := querier.ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.Wrap(err, "failed to transition batch operation")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, "failed to get rows affected")
	}
	if rows > 0 {
		return nil
	}

	// MySQL reports changed rows, so a matched row written with identical values counts as zero.
	stored, err := m.LoadOperation(ctx, op.ID)
	if err != nil {
		return err
	}
	if stored.Status == op.Status && slices.Contains(from, stored.Status) {
		return nil
	}
	return batchDomain.ErrStatusConflict
}

// UpdateOperationProgress writes the aggregate counters of a batch.
func (m *MySQLBatchRepository) UpdateOperationProgress(
	ctx context.Context,
	id uuid.UUID,
	counters batchDomain.Counters,
	at time.Time,
) error {
	if err := counters.Validate(); err != nil {
		return err
	}

	querier := database.GetTx(ctx, m.db)

	idBinary, err := id.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal batch id")
	}

	query := `UPDATE batch_operations
			  SET processed_items = ?, successful_items = ?, failed_items = ?, skipped_items = ?,
				  last_updated_at = ?
			  WHERE id = ?`

	_, err = querier.ExecContext(
		ctx,
		query,
		counters.Processed,
		counters.Successful,
		counters.Failed,
		counters.Skipped,
		at,
		idBinary,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to update batch progress")
	}
	return nil
}

// AppendErrorLog appends entries to the stored error log. Concurrent appends
// are detected through error_count and retried.
func (m *MySQLBatchRepository) AppendErrorLog(
	ctx context.Context,
	id uuid.UUID,
	entries []batchDomain.ErrorEntry,
) error {
	if len(entries) == 0 {
		return nil
	}

	querier := database.GetTx(ctx, m.db)

	idBinary, err := id.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal batch id")
	}

	for range maxErrorLogAttempts {
		op, err := m.LoadOperation(ctx, id)
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
				  SET error_log = ?, error_count = ?, last_error = ?
				  WHERE id = ? AND error_count = ?`

		result, err := querier.ExecContext(
			ctx,
			query,
			string(errorLog),
			op.ErrorCount,
			op.LastError,
			idBinary,
			expectedCount,
		)
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
func (m *MySQLBatchRepository) SaveItems(ctx context.Context, items []*batchDomain.DonationItem) error {
	querier := database.GetTx(ctx, m.db)

	query := `INSERT INTO batch_donation_items (` + itemColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON DUPLICATE KEY UPDATE
				status = VALUES(status),
				retry_count = VALUES(retry_count),
				max_retries = VALUES(max_retries),
				last_retry_at = VALUES(last_retry_at),
				retryable = VALUES(retryable),
				transaction_id = VALUES(transaction_id),
				processed_amount = VALUES(processed_amount),
				processing_fee = VALUES(processing_fee),
				error_message = VALUES(error_message),
				error_code = VALUES(error_code),
				error_details = VALUES(error_details),
				validation_errors = VALUES(validation_errors),
				pre_validation_passed = VALUES(pre_validation_passed),
				updated_at = VALUES(updated_at),
				started_processing_at = VALUES(started_processing_at),
				completed_at = VALUES(completed_at)`

	for _, item := range items {
		id, err := item.ID.MarshalBinary()
		if err != nil {
			return apperrors.Wrap(err, "failed to marshal item id")
		}
		batchID, err := item.BatchID.MarshalBinary()
		if err != nil {
			return apperrors.Wrap(err, "failed to marshal batch id")
		}
		metadata, errorDetails, validationErrors, err := encodeItem(item)
		if err != nil {
			return err
		}

		_, err = querier.ExecContext(
			ctx,
			query,
			id,
			batchID,
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
			errorDetails,
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
func (m *MySQLBatchRepository) UpdateItem(ctx context.Context, item *batchDomain.DonationItem) error {
	querier := database.GetTx(ctx, m.db)

	id, err := item.ID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal item id")
	}

	_, errorDetails, validationErrors, err := encodeItem(item)
	if err != nil {
		return err
	}

	query := `UPDATE batch_donation_items
			  SET status = ?, retry_count = ?, last_retry_at = ?, retryable = ?, transaction_id = ?,
				  processed_amount = ?, processing_fee = ?, error_message = ?, error_code = ?,
				  error_details = ?, validation_errors = ?, pre_validation_passed = ?,
				  updated_at = ?, started_processing_at = ?, completed_at = ?
			  WHERE id = ?`

	_, err = querier.ExecContext(
		ctx,
		query,
		string(item.Status),
		item.RetryCount,
		item.LastRetryAt,
		item.Retryable,
		item.TransactionID,
		item.ProcessedAmount,
		item.ProcessingFee,
		item.ErrorMessage,
		item.ErrorCode,
		errorDetails,
		validationErrors,
		item.PreValidationPassed,
		item.UpdatedAt,
		item.StartedProcessingAt,
		item.CompletedAt,
		id,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to update batch item")
	}
	return nil
}

// LoadItemsByBatch returns the items of a batch ordered by processing order.
func (m *MySQLBatchRepository) LoadItemsByBatch(
	ctx context.Context,
	batchID uuid.UUID,
) ([]*batchDomain.DonationItem, error) {
	querier := database.GetTx(ctx, m.db)

	id, err := batchID.MarshalBinary()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to marshal batch id")
	}

	query := `SELECT ` + itemColumns + ` FROM batch_donation_items
			  WHERE batch_id = ?
			  ORDER BY processing_order ASC`

	rows, err := querier.QueryContext(ctx, query, id)
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
func (m *MySQLBatchRepository) CountItemsByStatus(
	ctx context.Context,
	batchID uuid.UUID,
) (map[batchDomain.ItemStatus]int, error) {
	querier := database.GetTx(ctx, m.db)

	id, err := batchID.MarshalBinary()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to marshal batch id")
	}

	query := `SELECT status, COUNT(*) FROM batch_donation_items WHERE batch_id = ? GROUP BY status`

	rows, err := querier.QueryContext(ctx, query, id)
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
func (m *MySQLBatchRepository) ListOperations(
	ctx context.Context,
	offset, limit int,
) ([]*batchDomain.BatchOperation, error) {
	query := `SELECT ` + operationColumns + ` FROM batch_operations
			  ORDER BY created_at DESC
			  LIMIT ? OFFSET ?`

	return m.listOperations(ctx, query, limit, offset)
}

// ListQueuedOperations returns queued operations by priority then age.
func (m *MySQLBatchRepository) ListQueuedOperations(
	ctx context.Context,
	limit int,
) ([]*batchDomain.BatchOperation, error) {
	query := `SELECT ` + operationColumns + ` FROM batch_operations
			  WHERE status = ?
			  ORDER BY priority DESC, created_at ASC
			  LIMIT ?`

	return m.listOperations(ctx, query, string(batchDomain.OperationStatusQueued), limit)
}

// DeleteSettledBefore removes settled operations completed before cutoff.
// Items are removed by the foreign key cascade.
func (m *MySQLBatchRepository) DeleteSettledBefore(
	ctx context.Context,
	cutoff time.Time,
	dryRun bool,
) (int64, error) {
	querier := database.GetTx(ctx, m.db)

	where := `WHERE status IN (?, ?, ?, ?) AND completed_at < ?`
	args := []any{
		string(batchDomain.OperationStatusCompleted),
		string(batchDomain.OperationStatusPartial),
		string(batchDomain.OperationStatusFailed),
		string(batchDomain.OperationStatusCancelled),
		cutoff,
	}

	if dryRun {
		var count int64
		err := querier.QueryRowContext(ctx, `SELECT COUNT(*) FROM batch_operations `+where, args...).Scan(&count)
		if err != nil {
			return 0, apperrors.Wrap(err, "failed to count settled batch operations")
		}
		return count, nil
	}

	result, err := querier.ExecContext(ctx, `DELETE FROM batch_operations `+where, args...)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to delete settled batch operations")
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to get rows affected")
	}
	return count, nil
}

func (m *MySQLBatchRepository) listOperations(
	ctx context.Context,
	query string,
	args ...any,
) ([]*batchDomain.BatchOperation, error) {
	querier := database.GetTx(ctx, m.db)

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

// NewMySQLBatchRepository creates a new MySQL batch repository.
func NewMySQLBatchRepository(db *sql.DB) *MySQLBatchRepository {
	return &MySQLBatchRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(s rowScanner) (*batchDomain.BatchOperation, error) {
	var op batchDomain.BatchOperation
	var id []byte
	var operationType, status string
	var configuration, errorLog, summary []byte

	err := s.Scan(
		&id,
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

	if err := op.ID.UnmarshalBinary(id); err != nil {
		return nil, apperrors.Wrap(err, "failed to unmarshal batch id")
	}
	op.OperationType = batchDomain.OperationType(operationType)
	op.Status = batchDomain.OperationStatus(status)

	op.Configuration = map[string]any{}
	if len(configuration) > 0 {
		if err := json.Unmarshal(configuration, &op.Configuration); err != nil {
			return nil, apperrors.Wrap(err, "failed to unmarshal batch configuration")
		}
	}
	op.ErrorLog = batchDomain.NewErrorLog(batchDomain.ErrorLogCapacity)
	if len(errorLog) > 0 {
		if err := json.Unmarshal(errorLog, op.ErrorLog); err != nil {
			return nil, apperrors.Wrap(err, "failed to unmarshal error log")
		}
	}
	if len(summary) > 0 {
		op.Summary = &batchDomain.Summary{}
		if err := json.Unmarshal(summary, op.Summary); err != nil {
			return nil, apperrors.Wrap(err, "failed to unmarshal batch summary")
		}
	}
	return &op, nil
}

func scanItem(s rowScanner) (*batchDomain.DonationItem, error) {
	var item batchDomain.DonationItem
	var id, batchID []byte
	var status string
	var metadata, errorDetails, validationErrors []byte

	err := s.Scan(
		&id,
		&batchID,
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

	if err := item.ID.UnmarshalBinary(id); err != nil {
		return nil, apperrors.Wrap(err, "failed to unmarshal item id")
	}
	if err := item.BatchID.UnmarshalBinary(batchID); err != nil {
		return nil, apperrors.Wrap(err, "failed to unmarshal batch id")
	}
	item.Status = batchDomain.ItemStatus(status)

	item.Metadata = map[string]any{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &item.Metadata); err != nil {
			return nil, apperrors.Wrap(err, "failed to unmarshal item metadata")
		}
	}
	if len(errorDetails) > 0 {
		if err := json.Unmarshal(errorDetails, &item.ErrorDetails); err != nil {
			return nil, apperrors.Wrap(err, "failed to unmarshal item error details")
		}
	}
	item.ValidationErrors = []string{}
	if len(validationErrors) > 0 {
		if err := json.Unmarshal(validationErrors, &item.ValidationErrors); err != nil {
			return nil, apperrors.Wrap(err, "failed to unmarshal item validation errors")
		}
	}
	return &item, nil
}

// JSON documents are bound as strings; MySQL rejects binary-charset input for JSON columns.
func encodeOperation(op *batchDomain.BatchOperation) (configuration, errorLog string, summary any, err error) {
	config := op.Configuration
	if config == nil {
		config = map[string]any{}
	}
	data, err := json.Marshal(config)
	if err != nil {
		return "", "", nil, apperrors.Wrap(err, "failed to marshal batch configuration")
	}
	configuration = string(data)

	log := op.ErrorLog
	if log == nil {
		log = batchDomain.NewErrorLog(batchDomain.ErrorLogCapacity)
	}
	if data, err = json.Marshal(log); err != nil {
		return "", "", nil, apperrors.Wrap(err, "failed to marshal error log")
	}
	errorLog = string(data)

	if op.Summary != nil {
		if data, err = json.Marshal(op.Summary); err != nil {
			return "", "", nil, apperrors.Wrap(err, "failed to marshal batch summary")
		}
		summary = string(data)
	}
	return configuration, errorLog, summary, nil
}

func encodeItem(item *batchDomain.DonationItem) (metadata string, errorDetails any, validationErrors string, err error) {
	meta := item.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", nil, "", apperrors.Wrap(err, "failed to marshal item metadata")
	}
	metadata = string(data)

	if item.ErrorDetails != nil {
		if data, err = json.Marshal(item.ErrorDetails); err != nil {
			return "", nil, "", apperrors.Wrap(err, "failed to marshal item error details")
		}
		errorDetails = string(data)
	}

	messages := item.ValidationErrors
	if messages == nil {
		messages = []string{}
	}
	if data, err = json.Marshal(messages); err != nil {
		return "", nil, "", apperrors.Wrap(err, "failed to marshal item validation errors")
	}
	validationErrors = string(data)
	return metadata, errorDetails, validationErrors, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
