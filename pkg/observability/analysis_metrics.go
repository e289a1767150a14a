package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricFilesIndexedTotal = "aether.indexer.files.total"
	metricBatchesTotal      = "aether.indexer.batches.total"
	metricBatchDuration     = "aether.indexer.batch.duration.seconds"
	metricCacheHitsTotal    = "aether.indexer.cache.hits.total"
	metricCacheMissesTotal  = "aether.indexer.cache.misses.total"

	attrCache = "cache"
)

// AnalysisMetrics holds OTel instruments for indexer-run metrics (indexer runs).
type AnalysisMetrics struct {
	filesTotal    metric.Int64Counter
	batchesTotal  metric.Int64Counter
	batchDuration metric.Float64Histogram
	cacheHits     metric.Int64Counter
	cacheMisses   metric.Int64Counter
}

// AnalysisStats holds the statistics for a single scan or watch-triggered
// indexing run.
type AnalysisStats struct {
	FilesIndexed    int64
	Batches         int
	BatchDurations  []time.Duration
	BlobCacheHits   int64
	BlobCacheMisses int64
	SIRCacheHits    int64
	SIRCacheMisses  int64
}

// NewAnalysisMetrics creates indexer-run metric instruments from the given meter.
func NewAnalysisMetrics(mt metric.Meter) (*AnalysisMetrics, error) {
	files, err := mt.Int64Counter(metricFilesIndexedTotal,
		metric.WithDescription("Total files indexed"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricFilesIndexedTotal, err)
	}

	batches, err := mt.Int64Counter(metricBatchesTotal,
		metric.WithDescription("Total indexer write batches processed"),
		metric.WithUnit("{batch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricBatchesTotal, err)
	}

	batchDur, err := mt.Float64Histogram(metricBatchDuration,
		metric.WithDescription("Per-batch indexing duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricBatchDuration, err)
	}

	hits, err := mt.Int64Counter(metricCacheHitsTotal,
		metric.WithDescription("Cache hits by type"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricCacheHitsTotal, err)
	}

	misses, err := mt.Int64Counter(metricCacheMissesTotal,
		metric.WithDescription("Cache misses by type"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricCacheMissesTotal, err)
	}

	return &AnalysisMetrics{
		filesTotal:    files,
		batchesTotal:  batches,
		batchDuration: batchDur,
		cacheHits:     hits,
		cacheMisses:   misses,
	}, nil
}

// RecordRun records indexer statistics for a completed scan or watch run.
// Safe to call on a nil receiver (no-op).
func (am *AnalysisMetrics) RecordRun(ctx context.Context, stats AnalysisStats) {
	if am == nil {
		return
	}

	am.filesTotal.Add(ctx, stats.FilesIndexed)
	am.batchesTotal.Add(ctx, int64(stats.Batches))

	for _, d := range stats.BatchDurations {
		am.batchDuration.Record(ctx, d.Seconds())
	}

	blobAttrs := metric.WithAttributes(attribute.String(attrCache, "blob"))
	am.cacheHits.Add(ctx, stats.BlobCacheHits, blobAttrs)
	am.cacheMisses.Add(ctx, stats.BlobCacheMisses, blobAttrs)

	sirAttrs := metric.WithAttributes(attribute.String(attrCache, "sir"))
	am.cacheHits.Add(ctx, stats.SIRCacheHits, sirAttrs)
	am.cacheMisses.Add(ctx, stats.SIRCacheMisses, sirAttrs)
}
