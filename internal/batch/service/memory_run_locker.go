package service

import (
	"context"
	"sync"

	"github.com/google/uuid"

	batchDomain "github.com/allisson/batchdonations/internal/batch/domain"
)

// MemoryRunLocker serializes runs of the same batch inside one process.
type MemoryRunLocker struct {
	mu     sync.Mutex
	active map[uuid.UUID]struct{}
}

// NewMemoryRunLocker creates a MemoryRunLocker.
func NewMemoryRunLocker() *MemoryRunLocker {
	return &MemoryRunLocker{active: make(map[uuid.UUID]struct{})}
}

// Acquire locks batchID or returns ErrBatchAlreadyProcessing.
func (l *MemoryRunLocker) Acquire(
	ctx context.Context,
	batchID uuid.UUID,
) (func(ctx context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.active[batchID]; ok {
		return nil, batchDomain.ErrBatchAlreadyProcessing
	}
	l.active[batchID] = struct{}{}

	var once sync.Once
	release := func(ctx context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.active, batchID)
			l.mu.Unlock()
		})
		return nil
	}
	return release, nil
}

// Held reports whether batchID is currently locked.
func (l *MemoryRunLocker) Held(batchID uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.active[batchID]
	return ok
}
