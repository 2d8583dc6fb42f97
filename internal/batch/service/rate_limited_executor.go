package service

import (
	"context"

	"golang.org/x/time/rate"

	batchDomain "github.com/allisson/batchdonations/internal/batch/domain"
)

// DonationExecutor is the contract shared by the executor and its decorators.
type DonationExecutor interface {
	Execute(ctx context.Context, req batchDomain.DonationRequest) (batchDomain.DonationReceipt, error)
}

// RateLimitedExecutor throttles calls to the wrapped executor with a token
// bucket shared by every worker of the process.
type RateLimitedExecutor struct {
	next    DonationExecutor
	limiter *rate.Limiter
}

// NewRateLimitedExecutor wraps next with a limit of rps calls per second and
// the given burst. A non-positive rps disables the limit.
func NewRateLimitedExecutor(next DonationExecutor, rps float64, burst int) *RateLimitedExecutor {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedExecutor{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Execute waits for a token and delegates. Waiting past the item deadline is
// reported as a retryable failure.
func (r *RateLimitedExecutor) Execute(
	ctx context.Context,
	req batchDomain.DonationRequest,
) (batchDomain.DonationReceipt, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return batchDomain.DonationReceipt{}, batchDomain.NewRetryableError(
			batchDomain.ErrorCodeProcessorUnavailable, "rate limit wait aborted", err,
		)
	}
	return r.next.Execute(ctx, req)
}
