package embedder

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/semcore/internal/embedder"

// metrics holds the OTel instruments for the embedding wrapper, mirroring
// the meter/histogram/counter shape used across the rest of the core.
type metrics struct {
	logger      *zap.Logger
	duration    metric.Float64Histogram
	batchSize   metric.Int64Histogram
	cacheHits   metric.Int64Counter
	cacheMisses metric.Int64Counter
	errors      metric.Int64Counter
	retries     metric.Int64Counter
}

func newMetrics(logger *zap.Logger) *metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	meter := otel.Meter(instrumentationName)
	m := &metrics{logger: logger}

	var err error
	m.duration, err = meter.Float64Histogram(
		"semcore.embedder.request_duration_seconds",
		metric.WithDescription("Duration of a single provider embed attempt; each retry is observed separately."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.001, 0.01, 0.1, 1.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.batchSize, err = meter.Int64Histogram(
		"semcore.embedder.provider_batch_size",
		metric.WithDescription("Number of texts actually sent to the provider after cache partitioning."),
		metric.WithUnit("{text}"),
	)
	if err != nil {
		m.logger.Warn("failed to create batch size histogram", zap.Error(err))
	}

	m.cacheHits, err = meter.Int64Counter("semcore.embedder.cache_hits_total")
	if err != nil {
		m.logger.Warn("failed to create cache hits counter", zap.Error(err))
	}
	m.cacheMisses, err = meter.Int64Counter("semcore.embedder.cache_misses_total")
	if err != nil {
		m.logger.Warn("failed to create cache misses counter", zap.Error(err))
	}
	m.errors, err = meter.Int64Counter("semcore.embedder.errors_total")
	if err != nil {
		m.logger.Warn("failed to create errors counter", zap.Error(err))
	}
	m.retries, err = meter.Int64Counter("semcore.embedder.retries_total")
	if err != nil {
		m.logger.Warn("failed to create retries counter", zap.Error(err))
	}
	return m
}

func (m *metrics) recordCachePartition(ctx context.Context, model string, hits, misses int) {
	attrs := metric.WithAttributes(attribute.String("model", model))
	if m.cacheHits != nil && hits > 0 {
		m.cacheHits.Add(ctx, int64(hits), attrs)
	}
	if m.cacheMisses != nil && misses > 0 {
		m.cacheMisses.Add(ctx, int64(misses), attrs)
	}
}

func (m *metrics) recordProviderCall(ctx context.Context, model string, d time.Duration, n int, err error) {
	attrs := metric.WithAttributes(attribute.String("model", model))
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), attrs)
	}
	if m.batchSize != nil && n > 0 {
		m.batchSize.Record(ctx, int64(n), attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

func (m *metrics) recordRetry(ctx context.Context, model string) {
	if m.retries != nil {
		m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("model", model)))
	}
}
