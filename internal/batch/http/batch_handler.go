// Package http provides HTTP handlers for the batch processing admin API.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	batchDomain "github.com/allisson/batchdonations/internal/batch/domain"
	"github.com/allisson/batchdonations/internal/batch/http/dto"
	batchUseCase "github.com/allisson/batchdonations/internal/batch/usecase"
	"github.com/allisson/batchdonations/internal/httputil"
	customValidation "github.com/allisson/batchdonations/internal/validation"
)

// maxItemsPage caps one page of items.
const maxItemsPage = 500

// BatchHandler handles HTTP requests for batch operations.
type BatchHandler struct {
	batchUseCase batchUseCase.BatchUseCase
	logger       *slog.Logger
}

// NewBatchHandler creates a new batch handler with required dependencies.
func NewBatchHandler(batchUseCase batchUseCase.BatchUseCase, logger *slog.Logger) *BatchHandler {
	return &BatchHandler{
		batchUseCase: batchUseCase,
		logger:       logger,
	}
}

// CreateHandler creates a batch and its items.
// POST /v1/batches
// Returns 201 Created, 400 for a malformed body, or 422 with the per-item problems when any item is invalid.
func (h *BatchHandler) CreateHandler(c *gin.Context) {
	var req dto.CreateBatchRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	op, err := h.batchUseCase.CreateBatch(c.Request.Context(), req.ToInput())
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusCreated, dto.MapBatchToResponse(op))
}

// ListHandler retrieves batches with pagination support, newest first.
// GET /v1/batches?offset=0&limit=50
func (h *BatchHandler) ListHandler(c *gin.Context) {
	page, err := httputil.ParsePagination(c, 50, 100)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	ops, err := h.batchUseCase.ListBatches(c.Request.Context(), page.Offset, page.Limit)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapBatchesToListResponse(ops))
}

// StatusHandler returns the progress snapshot of a batch.
// GET /v1/batches/:id
func (h *BatchHandler) StatusHandler(c *gin.Context) {
	batchID, ok := h.parseBatchID(c)
	if !ok {
		return
	}

	snapshot, err := h.batchUseCase.GetStatus(c.Request.Context(), batchID)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapStatusToResponse(snapshot))
}

// ItemsHandler returns the items of a batch in processing order.
// GET /v1/batches/:id/items?status=failed&offset=0&limit=500
func (h *BatchHandler) ItemsHandler(c *gin.Context) {
	batchID, ok := h.parseBatchID(c)
	if !ok {
		return
	}

	page, err := httputil.ParsePagination(c, maxItemsPage, maxItemsPage)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	status := batchDomain.ItemStatus(c.Query("status"))
	if status != "" && !slices.Contains(batchDomain.AllItemStatuses, status) {
		httputil.HandleValidationErrorGin(c, fmt.Errorf("invalid status parameter: %s", status), h.logger)
		return
	}

	items, err := h.batchUseCase.ListItems(c.Request.Context(), batchID)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	if status != "" {
		items = slices.DeleteFunc(items, func(item *batchDomain.DonationItem) bool {
			return item.Status != status
		})
	}

	c.JSON(http.StatusOK, dto.MapItemsToListResponse(httputil.Paginate(items, page)))
}

// ProcessHandler runs a queued batch and returns the result once it settles.
// POST /v1/batches/:id/process
// The run is not aborted when the client disconnects.
func (h *BatchHandler) ProcessHandler(c *gin.Context) {
	batchID, ok := h.parseBatchID(c)
	if !ok {
		return
	}

	result, err := h.batchUseCase.StartProcessing(context.WithoutCancel(c.Request.Context()), batchID)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapProcessingResultToResponse(result))
}

// RetryHandler re-runs the retry-eligible items of a partial or failed batch.
// POST /v1/batches/:id/retry
func (h *BatchHandler) RetryHandler(c *gin.Context) {
	batchID, ok := h.parseBatchID(c)
	if !ok {
		return
	}

	result, err := h.batchUseCase.RetryFailed(context.WithoutCancel(c.Request.Context()), batchID)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapProcessingResultToResponse(result))
}

// CancelHandler cancels a batch that is not final. The body is optional.
// POST /v1/batches/:id/cancel
// Returns 204 No Content.
func (h *BatchHandler) CancelHandler(c *gin.Context) {
	batchID, ok := h.parseBatchID(c)
	if !ok {
		return
	}

	var req dto.CancelBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	if err := h.batchUseCase.Cancel(c.Request.Context(), batchID, req.Reason); err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.Data(http.StatusNoContent, "application/json", nil)
}

func (h *BatchHandler) parseBatchID(c *gin.Context) (uuid.UUID, bool) {
	batchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.HandleValidationErrorGin(c,
			fmt.Errorf("invalid batch ID format: must be a valid UUID"),
			h.logger)
		return uuid.Nil, false
	}
	return batchID, true
}
