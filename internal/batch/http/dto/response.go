// Package dto provides data transfer objects for HTTP request and response handling.
package dto

import (
	"time"

	batchDomain "github.com/allisson/batchdonations/internal/batch/domain"
)

// BatchResponse represents a batch operation in API responses.
type BatchResponse struct {
	ID                 string               `json:"id"`
	OperationType      string               `json:"operation_type"`
	Status             string               `json:"status"`
	TotalItems         int                  `json:"total_items"`
	ProcessedItems     int                  `json:"processed_items"`
	SuccessfulItems    int                  `json:"successful_items"`
	FailedItems        int                  `json:"failed_items"`
	SkippedItems       int                  `json:"skipped_items"`
	ProgressPercentage float64              `json:"progress_percentage"`
	BatchSize          int                  `json:"batch_size"`
	MaxRetries         int                  `json:"max_retries"`
	Priority           int                  `json:"priority"`
	CreatedBy          string               `json:"created_by"`
	Configuration      map[string]any       `json:"configuration"`
	ErrorCount         int                  `json:"error_count"`
	LastError          *string              `json:"last_error,omitempty"`
	RetryPasses        int                  `json:"retry_passes"`
	WorkerID           *string              `json:"worker_id,omitempty"`
	Summary            *batchDomain.Summary `json:"summary,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
	StartedAt          *time.Time           `json:"started_at,omitempty"`
	CompletedAt        *time.Time           `json:"completed_at,omitempty"`
	LastUpdatedAt      time.Time            `json:"last_updated_at"`
}

// MapBatchToResponse converts a domain batch operation to an API response.
func MapBatchToResponse(op *batchDomain.BatchOperation) BatchResponse {
	return BatchResponse{
		ID:                 op.ID.String(),
		OperationType:      string(op.OperationType),
		Status:             string(op.Status),
		TotalItems:         op.TotalItems,
		ProcessedItems:     op.ProcessedItems,
		SuccessfulItems:    op.SuccessfulItems,
		FailedItems:        op.FailedItems,
		SkippedItems:       op.SkippedItems,
		ProgressPercentage: op.ProgressPercentage(),
		BatchSize:          op.BatchSize,
		MaxRetries:         op.MaxRetries,
		Priority:           op.Priority,
		CreatedBy:          op.CreatedBy,
		Configuration:      op.Configuration,
		ErrorCount:         op.ErrorCount,
		LastError:          op.LastError,
		RetryPasses:        op.RetryPasses,
		WorkerID:           op.WorkerID,
		Summary:            op.Summary,
		CreatedAt:          op.CreatedAt,
		StartedAt:          op.StartedAt,
		CompletedAt:        op.CompletedAt,
		LastUpdatedAt:      op.LastUpdatedAt,
	}
}

// ListBatchesResponse represents a paginated list of batch operations in API responses.
type ListBatchesResponse struct {
	Data []BatchResponse `json:"data"`
}

// MapBatchesToListResponse converts a slice of domain batch operations to a list response.
func MapBatchesToListResponse(ops []*batchDomain.BatchOperation) ListBatchesResponse {
	data := make([]BatchResponse, 0, len(ops))
	for _, op := range ops {
		data = append(data, MapBatchToResponse(op))
	}
	return ListBatchesResponse{Data: data}
}

// ItemResponse represents a donation item in API responses.
type ItemResponse struct {
	ID                  string         `json:"id"`
	BatchID             string         `json:"batch_id"`
	ProcessingOrder     int            `json:"processing_order"`
	UserID              string         `json:"user_id"`
	OnlusID             string         `json:"onlus_id"`
	Amount              float64        `json:"amount"`
	Message             *string        `json:"message,omitempty"`
	IsAnonymous         bool           `json:"is_anonymous"`
	Metadata            map[string]any `json:"metadata"`
	Status              string         `json:"status"`
	RetryCount          int            `json:"retry_count"`
	MaxRetries          int            `json:"max_retries"`
	Retryable           bool           `json:"retryable"`
	TransactionID       *string        `json:"transaction_id,omitempty"`
	ProcessedAmount     *float64       `json:"processed_amount,omitempty"`
	ProcessingFee       *float64       `json:"processing_fee,omitempty"`
	ErrorCode           *string        `json:"error_code,omitempty"`
	ErrorMessage        *string        `json:"error_message,omitempty"`
	ErrorDetails        map[string]any `json:"error_details,omitempty"`
	ValidationErrors    []string       `json:"validation_errors"`
	PreValidationPassed bool           `json:"pre_validation_passed"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	StartedProcessingAt *time.Time     `json:"started_processing_at,omitempty"`
	CompletedAt         *time.Time     `json:"completed_at,omitempty"`
}

// MapItemToResponse converts a domain donation item to an API response.
func MapItemToResponse(item *batchDomain.DonationItem) ItemResponse {
	validationErrors := item.ValidationErrors
	if validationErrors == nil {
		validationErrors = []string{}
	}
	return ItemResponse{
		ID:                  item.ID.String(),
		BatchID:             item.BatchID.String(),
		ProcessingOrder:     item.ProcessingOrder,
		UserID:              item.UserID,
		OnlusID:             item.OnlusID,
		Amount:              item.Amount,
		Message:             item.Message,
		IsAnonymous:         item.IsAnonymous,
		Metadata:            item.Metadata,
		Status:              string(item.Status),
		RetryCount:          item.RetryCount,
		MaxRetries:          item.MaxRetries,
		Retryable:           item.Retryable,
		TransactionID:       item.TransactionID,
		ProcessedAmount:     item.ProcessedAmount,
		ProcessingFee:       item.ProcessingFee,
		ErrorCode:           item.ErrorCode,
		ErrorMessage:        item.ErrorMessage,
		ErrorDetails:        item.ErrorDetails,
		ValidationErrors:    validationErrors,
		PreValidationPassed: item.PreValidationPassed,
		CreatedAt:           item.CreatedAt,
		UpdatedAt:           item.UpdatedAt,
		StartedProcessingAt: item.StartedProcessingAt,
		CompletedAt:         item.CompletedAt,
	}
}

// ListItemsResponse represents the items of a batch in API responses.
type ListItemsResponse struct {
	Data []ItemResponse `json:"data"`
}

// MapItemsToListResponse converts a slice of domain donation items to a list response.
func MapItemsToListResponse(items []*batchDomain.DonationItem) ListItemsResponse {
	data := make([]ItemResponse, 0, len(items))
	for _, item := range items {
		data = append(data, MapItemToResponse(item))
	}
	return ListItemsResponse{Data: data}
}

// StatusResponse represents the progress snapshot of a batch.
type StatusResponse struct {
	Batch               BatchResponse            `json:"batch"`
	ItemCounts          map[string]int           `json:"item_counts"`
	RecentErrors        []batchDomain.ErrorEntry `json:"recent_errors"`
	ProgressPercentage  float64                  `json:"progress_percentage"`
	EstimatedCompletion *time.Time               `json:"estimated_completion,omitempty"`
}

// MapStatusToResponse converts a status snapshot to an API response.
// Every item status is present in item_counts, zero when no item has it.
func MapStatusToResponse(snapshot *batchDomain.StatusSnapshot) StatusResponse {
	counts := make(map[string]int, len(batchDomain.AllItemStatuses))
	for _, status := range batchDomain.AllItemStatuses {
		counts[string(status)] = snapshot.ItemCounts[status]
	}
	recent := snapshot.RecentErrors
	if recent == nil {
		recent = []batchDomain.ErrorEntry{}
	}
	return StatusResponse{
		Batch:               MapBatchToResponse(snapshot.Operation),
		ItemCounts:          counts,
		RecentErrors:        recent,
		ProgressPercentage:  snapshot.ProgressPercentage,
		EstimatedCompletion: snapshot.EstimatedCompletion,
	}
}

// ProcessingResultResponse represents the outcome of a processing or retry run.
type ProcessingResultResponse struct {
	BatchID        string                   `json:"batch_id"`
	Status         string                   `json:"status"`
	AttemptedItems int                      `json:"attempted_items"`
	Counters       batchDomain.Counters     `json:"counters"`
	DurationMillis int64                    `json:"duration_ms"`
	ItemsPerSecond float64                  `json:"items_per_second"`
	NothingToRetry bool                     `json:"nothing_to_retry"`
	Message        string                   `json:"message,omitempty"`
	Errors         []batchDomain.ErrorEntry `json:"errors"`
}

// MapProcessingResultToResponse converts a processing result to an API response.
func MapProcessingResultToResponse(result *batchDomain.ProcessingResult) ProcessingResultResponse {
	errs := result.Errors
	if errs == nil {
		errs = []batchDomain.ErrorEntry{}
	}
	return ProcessingResultResponse{
		BatchID:        result.BatchID.String(),
		Status:         string(result.Status),
		AttemptedItems: result.Attempted,
		Counters:       result.Counters,
		DurationMillis: result.Duration.Milliseconds(),
		ItemsPerSecond: result.ItemsPerSecond,
		NothingToRetry: result.NothingToRetry,
		Message:        result.Message,
		Errors:         errs,
	}
}
