package usecase

import (
	"time"

	batchDomain "github.com/allisson/batchdonations/internal/batch/domain"
)

// ProgressTracker accumulates item outcomes for one processing run.
//
// It is owned by a single goroutine at a time (the run aggregator, then the
// finalizer) and is not safe for concurrent use.
type ProgressTracker struct {
	counters     batchDomain.Counters
	runProcessed int
	startedAt    time.Time
}

// NewProgressTracker creates a tracker for a batch of total items whose run started at startedAt.
func NewProgressTracker(total int, startedAt time.Time) *ProgressTracker {
	return &ProgressTracker{
		counters:  batchDomain.Counters{Total: total},
		startedAt: startedAt,
	}
}

// Seed counts an item that is not part of this run but already holds a
// processed status, so retry passes recompute counters instead of resetting them.
func (p *ProgressTracker) Seed(item *batchDomain.DonationItem) {
	switch item.Status {
	case batchDomain.ItemStatusCompleted:
		p.counters.Successful++
	case batchDomain.ItemStatusFailed:
		p.counters.Failed++
	case batchDomain.ItemStatusSkipped:
		p.counters.Skipped++
	default:
		return
	}
	p.counters.Processed++
}

// Record counts one outcome of this run.
func (p *ProgressTracker) Record(kind batchDomain.OutcomeKind) {
	switch kind {
	case batchDomain.OutcomeSuccess:
		p.counters.Successful++
	case batchDomain.OutcomeSkipped:
		p.counters.Skipped++
	default:
		p.counters.Failed++
	}
	p.counters.Processed++
	p.runProcessed++
}

// Counters returns a copy of the current counts.
func (p *ProgressTracker) Counters() batchDomain.Counters {
	return p.counters
}

// RunProcessed returns how many outcomes this run recorded.
func (p *ProgressTracker) RunProcessed() int {
	return p.runProcessed
}

// Percentage returns the derived progress percentage.
func (p *ProgressTracker) Percentage() float64 {
	return p.counters.Percentage()
}

// EstimatedCompletion extrapolates the throughput of this run over the items
// that are still unprocessed.
func (p *ProgressTracker) EstimatedCompletion(now time.Time) *time.Time {
	remaining := p.counters.Total - p.counters.Processed
	runView := batchDomain.Counters{
		Total:      p.runProcessed + remaining,
		Processed:  p.runProcessed,
		Successful: p.runProcessed,
	}
	return batchDomain.EstimateCompletion(runView, &p.startedAt, now)
}
