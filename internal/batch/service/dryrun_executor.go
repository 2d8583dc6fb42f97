package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	batchDomain "github.com/allisson/batchdonations/internal/batch/domain"
)

// DryRunExecutor logs donations instead of executing them and returns fake
// transaction ids.
type DryRunExecutor struct {
	logger  *slog.Logger
	counter atomic.Uint64
}

// NewDryRunExecutor creates a DryRunExecutor.
func NewDryRunExecutor(logger *slog.Logger) *DryRunExecutor {
	return &DryRunExecutor{logger: logger}
}

// Execute logs what would be donated.
func (d *DryRunExecutor) Execute(
	ctx context.Context,
	req batchDomain.DonationRequest,
) (batchDomain.DonationReceipt, error) {
	fakeID := fmt.Sprintf("dry-run-donation-%d", d.counter.Add(1))

	d.logger.Info("[DRY-RUN] would execute donation",
		slog.String("fake_id", fakeID),
		slog.String("batch_id", req.BatchID.String()),
		slog.String("item_id", req.ItemID.String()),
		slog.String("user_id", req.UserID),
		slog.String("onlus_id", req.OnlusID),
		slog.Float64("amount", req.Amount),
	)

	return batchDomain.DonationReceipt{
		TransactionID:   fakeID,
		ProcessedAmount: req.Amount,
	}, nil
}
