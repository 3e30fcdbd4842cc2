package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Metrics records execution and cache metrics for commands.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordExecution records a command execution with duration and error status.
	RecordExecution(ctx context.Context, meta CommandMeta, duration time.Duration, err error)

	// RecordCacheLookup records whether a read command was served from its request scope.
	RecordCacheLookup(ctx context.Context, meta CommandMeta, hit bool)

	// RecordCacheRemoval records entries removed from a read command's partition.
	RecordCacheRemoval(ctx context.Context, meta CommandMeta, removed int)
}

type metricsImpl struct {
	totalCount   metric.Int64Counter
	errorCount   metric.Int64Counter
	durationHist metric.Float64Histogram
	hits         metric.Int64Counter
	misses       metric.Int64Counter
	removals     metric.Int64Counter
}

// NewMetrics creates the command instruments on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	if meter == nil {
		return NopMetrics(), nil
	}
	return newMetrics(meter)
}

func newMetrics(meter metric.Meter) (*metricsImpl, error) {
	totalCount, err := meter.Int64Counter(
		"command.exec.total",
		metric.WithDescription("Total number of command executions"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"command.exec.errors",
		metric.WithDescription("Total number of command execution errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"command.exec.duration_ms",
		metric.WithDescription("Command execution duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	hits, err := meter.Int64Counter(
		"command.cache.hits",
		metric.WithDescription("Read commands served from the request cache"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	misses, err := meter.Int64Counter(
		"command.cache.misses",
		metric.WithDescription("Read commands computed because the request cache had no entry"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	removals, err := meter.Int64Counter(
		"command.cache.removals",
		metric.WithDescription("Request cache entries removed by write commands"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		totalCount:   totalCount,
		errorCount:   errorCount,
		durationHist: durationHist,
		hits:         hits,
		misses:       misses,
		removals:     removals,
	}, nil
}

// RecordExecution records metrics for a command execution.
func (m *metricsImpl) RecordExecution(ctx context.Context, meta CommandMeta, duration time.Duration, err error) {
	opt := metric.WithAttributes(meta.attributes()...)

	m.totalCount.Add(ctx, 1, opt)
	if err != nil {
		m.errorCount.Add(ctx, 1, opt)
	}
	m.durationHist.Record(ctx, float64(duration.Milliseconds()), opt)
}

// RecordCacheLookup counts a hit or a miss.
func (m *metricsImpl) RecordCacheLookup(ctx context.Context, meta CommandMeta, hit bool) {
	opt := metric.WithAttributes(meta.attributes()...)
	if hit {
		m.hits.Add(ctx, 1, opt)
		return
	}
	m.misses.Add(ctx, 1, opt)
}

// RecordCacheRemoval counts removed entries. Zero removals are not recorded.
func (m *metricsImpl) RecordCacheRemoval(ctx context.Context, meta CommandMeta, removed int) {
	if removed <= 0 {
		return
	}
	m.removals.Add(ctx, int64(removed), metric.WithAttributes(meta.attributes()...))
}

type noopMetrics struct{}

// NopMetrics returns a Metrics that records nothing.
func NopMetrics() Metrics { return noopMetrics{} }

func (noopMetrics) RecordExecution(context.Context, CommandMeta, time.Duration, error) {}
func (noopMetrics) RecordCacheLookup(context.Context, CommandMeta, bool)               {}
func (noopMetrics) RecordCacheRemoval(context.Context, CommandMeta, int)               {}
