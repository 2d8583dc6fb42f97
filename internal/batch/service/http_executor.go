// Package service provides the collaborators of the batch engine: the donation
// processor client and its decorators, the fraud gate and the run lockers.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	batchDomain "github.com/allisson/batchdonations/internal/batch/domain"
	apperrors "github.com/allisson/batchdonations/internal/errors"
)

// HTTPExecutorConfig configures the donation processor client.
type HTTPExecutorConfig struct {
	BaseURL string
	Timeout time.Duration
	APIKey  string
}

// HTTPExecutor executes donations against the donation processor HTTP API.
type HTTPExecutor struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// processorError is the error body returned by the donation processor.
type processorError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

// NewHTTPExecutor creates an HTTPExecutor.
func NewHTTPExecutor(config HTTPExecutorConfig) *HTTPExecutor {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPExecutor{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		apiKey:     config.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Execute posts one donation. The item id is sent as the idempotency key so a
// retried item is never charged twice by the processor.
func (e *HTTPExecutor) Execute(
	ctx context.Context,
	req batchDomain.DonationRequest,
) (batchDomain.DonationReceipt, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return batchDomain.DonationReceipt{}, batchDomain.NewTerminalError(
			batchDomain.ErrorCodeDonationRejected, "donation request could not be encoded", nil,
		)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/donations", bytes.NewReader(body))
	if err != nil {
		return batchDomain.DonationReceipt{}, apperrors.Wrap(err, "failed to create donation request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.ItemID.String())
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return batchDomain.DonationReceipt{}, ctx.Err()
		}
		return batchDomain.DonationReceipt{}, batchDomain.NewRetryableError(
			batchDomain.ErrorCodeProcessorUnavailable, "donation processor unreachable", err,
		)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return batchDomain.DonationReceipt{}, batchDomain.NewRetryableError(
			batchDomain.ErrorCodeProcessorUnavailable, "failed to read donation processor response", err,
		)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var receipt batchDomain.DonationReceipt
		if err := json.Unmarshal(respBody, &receipt); err != nil {
			return batchDomain.DonationReceipt{}, batchDomain.NewRetryableError(
				batchDomain.ErrorCodeProcessorUnavailable, "invalid donation processor response", err,
			)
		}
		if receipt.TransactionID == "" {
			return batchDomain.DonationReceipt{}, batchDomain.NewRetryableError(
				batchDomain.ErrorCodeProcessorUnavailable, "donation processor response without transaction id", nil,
			)
		}
		return receipt, nil
	}

	return batchDomain.DonationReceipt{}, classifyResponse(resp.StatusCode, respBody)
}

// classifyResponse maps a non-2xx response to a typed error. Throttling,
// timeouts and server errors are retryable, any other client error is a
// business rejection.
func classifyResponse(statusCode int, body []byte) *batchDomain.ExecutionError {
	var perr processorError
	_ = json.Unmarshal(body, &perr)

	message := perr.Message
	if message == "" {
		message = fmt.Sprintf("donation processor returned status %d", statusCode)
	}

	if statusCode >= 500 || statusCode == http.StatusTooManyRequests || statusCode == http.StatusRequestTimeout {
		code := perr.Code
		if code == "" {
			code = batchDomain.ErrorCodeProcessorUnavailable
		}
		return batchDomain.NewRetryableError(code, message, nil)
	}

	code := perr.Code
	if code == "" {
		code = batchDomain.ErrorCodeDonationRejected
	}
	details := perr.Details
	if details == nil {
		details = map[string]any{}
	}
	details["status_code"] = statusCode
	return batchDomain.NewTerminalError(code, message, details)
}
