// Package httputil holds the JSON error envelope and request parsing helpers
// shared by the HTTP handlers.
package httputil

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/allisson/batchdonations/internal/errors"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// detailedError is implemented by errors that carry structured details for the client.
type detailedError interface {
	error
	ErrorDetails() any
}

// errorMapping ties a sentinel to its status and public error code. When
// message is empty the wrapped error text is returned to the client.
type errorMapping struct {
	sentinel error
	status   int
	code     string
	message  string
}

var errorMappings = []errorMapping{
	{apperrors.ErrNotFound, http.StatusNotFound, "not_found", "The requested resource was not found"},
	{apperrors.ErrConflict, http.StatusConflict, "conflict", ""},
	{apperrors.ErrInvalidInput, http.StatusUnprocessableEntity, "invalid_input", ""},
	{apperrors.ErrUnavailable, http.StatusServiceUnavailable, "unavailable", "A backing service is unavailable, try again later"},
}

// retryAfterSeconds is sent with 503 responses.
const retryAfterSeconds = "5"

func classify(err error) (int, ErrorResponse) {
	for _, m := range errorMappings {
		if !apperrors.Is(err, m.sentinel) {
			continue
		}
		resp := ErrorResponse{Error: m.code, Message: m.message}
		if resp.Message == "" {
			resp.Message = err.Error()
		}
		var detailed detailedError
		if m.status == http.StatusUnprocessableEntity && apperrors.As(err, &detailed) {
			resp.Details = detailed.ErrorDetails()
		}
		return m.status, resp
	}
	// internal errors never leak their text
	return http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	}
}

// HandleErrorGin writes the JSON response matching a use case error.
func HandleErrorGin(c *gin.Context, err error, logger *slog.Logger) {
	if err == nil {
		return
	}

	status, resp := classify(err)
	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", retryAfterSeconds)
	}

	if logger != nil {
		level := slog.LevelWarn
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c, level, "request failed",
			slog.Int("status_code", status),
			slog.String("error_code", resp.Error),
			slog.Any("error", err),
		)
	}

	c.JSON(status, resp)
}

// HandleBadRequestGin writes a 400 for bodies that are not valid JSON.
func HandleBadRequestGin(c *gin.Context, err error, logger *slog.Logger) {
	if logger != nil {
		logger.Warn("malformed request", slog.Any("error", err))
	}
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: err.Error()})
}

// HandleValidationErrorGin writes a 422 for requests that parsed but failed validation.
func HandleValidationErrorGin(c *gin.Context, err error, logger *slog.Logger) {
	if logger != nil {
		logger.Warn("validation failed", slog.Any("error", err))
	}
	resp := ErrorResponse{Error: "validation_error", Message: err.Error()}
	var detailed detailedError
	if apperrors.As(err, &detailed) {
		resp.Details = detailed.ErrorDetails()
	}
	c.JSON(http.StatusUnprocessableEntity, resp)
}
