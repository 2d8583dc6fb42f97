package batchtest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	batchDomain "github.com/allisson/batchdonations/internal/batch/domain"
)

var errProgressUnavailable = errors.New("progress store unavailable")

// TxManager runs the callback directly, without a transaction.
type TxManager struct {
	calls atomic.Int32
}

// WithTx calls fn with ctx.
func (m *TxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.calls.Add(1)
	return fn(ctx)
}

// Calls returns how many times WithTx ran.
func (m *TxManager) Calls() int {
	return int(m.calls.Load())
}

// ExecuteFunc decides the outcome of one donation call.
type ExecuteFunc func(ctx context.Context, req batchDomain.DonationRequest) (batchDomain.DonationReceipt, error)

// Executor is a DonationExecutor driven by a function. It records every call
// and the peak number of concurrent calls.
type Executor struct {
	fn ExecuteFunc

	mu       sync.Mutex
	calls    map[uuid.UUID]int
	inFlight atomic.Int32
	peak     atomic.Int32
}

// NewExecutor creates an Executor. A nil fn succeeds on every call.
func NewExecutor(fn ExecuteFunc) *Executor {
	if fn == nil {
		fn = Succeed
	}
	return &Executor{fn: fn, calls: make(map[uuid.UUID]int)}
}

// Execute implements the donation executor contract.
func (e *Executor) Execute(
	ctx context.Context,
	req batchDomain.DonationRequest,
) (batchDomain.DonationReceipt, error) {
	current := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		peak := e.peak.Load()
		if current <= peak || e.peak.CompareAndSwap(peak, current) {
			break
		}
	}

	e.mu.Lock()
	e.calls[req.ItemID]++
	e.mu.Unlock()

	return e.fn(ctx, req)
}

// Calls returns how many times the item was executed.
func (e *Executor) Calls(itemID uuid.UUID) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[itemID]
}

// TotalCalls returns the number of executions across all items.
func (e *Executor) TotalCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := 0
	for _, n := range e.calls {
		total += n
	}
	return total
}

// PeakConcurrency returns the highest number of simultaneous calls observed.
func (e *Executor) PeakConcurrency() int {
	return int(e.peak.Load())
}

// Succeed returns a receipt for the requested amount.
func Succeed(ctx context.Context, req batchDomain.DonationRequest) (batchDomain.DonationReceipt, error) {
	return batchDomain.DonationReceipt{
		TransactionID:   "tx-" + req.ItemID.String(),
		ProcessedAmount: req.Amount,
	}, nil
}

// FraudCheck is a FraudCheck that flags amounts at or above Threshold.
type FraudCheck struct {
	Threshold float64
	Err       error
}

// Evaluate implements the fraud check contract.
func (f *FraudCheck) Evaluate(
	ctx context.Context,
	req batchDomain.DonationRequest,
) (batchDomain.FraudAssessment, error) {
	if f.Err != nil {
		return batchDomain.FraudAssessment{}, f.Err
	}
	if req.Amount >= f.Threshold {
		return batchDomain.FraudAssessment{
			Safe:    false,
			Score:   1,
			Details: map[string]any{"reason": "amount above threshold"},
		}, nil
	}
	return batchDomain.FraudAssessment{Safe: true}, nil
}
