package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EngineMetrics tracks the worker pool and the batches it settles.
type EngineMetrics interface {
	// AddInFlight moves the number of items currently held by workers.
	AddInFlight(ctx context.Context, delta int64)

	// RecordBatchSettled counts a run that ended with status after attempting items.
	RecordBatchSettled(ctx context.Context, status string, attemptedItems int)
}

type engineMetrics struct {
	inFlight       metric.Int64UpDownCounter
	settledCounter metric.Int64Counter
	attemptedHisto metric.Int64Histogram
}

// NewEngineMetrics creates EngineMetrics using the provided meter provider.
// Metric names are prefixed with namespace.
func NewEngineMetrics(meterProvider metric.MeterProvider, namespace string) (EngineMetrics, error) {
	meter := meterProvider.Meter(namespace)

	inFlight, err := meter.Int64UpDownCounter(
		fmt.Sprintf("%s_batch_items_in_flight", namespace),
		metric.WithDescription("Donation items currently being processed by workers"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-flight counter: %w", err)
	}

	settledCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_batch_runs_total", namespace),
		metric.WithDescription("Total number of batch processing runs by final status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run counter: %w", err)
	}

	attemptedHisto, err := meter.Int64Histogram(
		fmt.Sprintf("%s_batch_run_attempted_items", namespace),
		metric.WithDescription("Items attempted per batch processing run"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create attempted items histogram: %w", err)
	}

	return &engineMetrics{
		inFlight:       inFlight,
		settledCounter: settledCounter,
		attemptedHisto: attemptedHisto,
	}, nil
}

func (e *engineMetrics) AddInFlight(ctx context.Context, delta int64) {
	e.inFlight.Add(ctx, delta)
}

func (e *engineMetrics) RecordBatchSettled(ctx context.Context, status string, attemptedItems int) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	e.settledCounter.Add(ctx, 1, attrs)
	e.attemptedHisto.Record(ctx, int64(attemptedItems), attrs)
}

// NoOpEngineMetrics is used when metrics are disabled.
type NoOpEngineMetrics struct{}

// NewNoOpEngineMetrics creates a no-op EngineMetrics implementation.
func NewNoOpEngineMetrics() EngineMetrics {
	return &NoOpEngineMetrics{}
}

// AddInFlight does nothing when metrics are disabled.
func (n *NoOpEngineMetrics) AddInFlight(ctx context.Context, delta int64) {}

// RecordBatchSettled does nothing when metrics are disabled.
func (n *NoOpEngineMetrics) RecordBatchSettled(ctx context.Context, status string, attemptedItems int) {}
