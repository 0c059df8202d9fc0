package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/wolfeidau/assetpipe"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Build metrics
	BuildsTotal        metric.Int64Counter
	BuildFailuresTotal metric.Int64Counter
	BuildDuration      metric.Float64Histogram
	StageDuration      metric.Float64Histogram

	// Output metrics
	ModulesTotal metric.Int64Counter
	ChunksTotal  metric.Int64Counter
	AssetsTotal  metric.Int64Counter
	AssetBytes   metric.Int64Counter

	// Plugin metrics
	PluginErrorsTotal metric.Int64Counter

	// Transform cache metrics
	CacheHitsTotal   metric.Int64Counter
	CacheMissesTotal metric.Int64Counter

	// Publish metrics
	UploadsTotal       metric.Int64Counter
	UploadRetriesTotal metric.Int64Counter
	UploadBytes        metric.Int64Counter
}

// BuildStats summarises one completed build.
type BuildStats struct {
	Modules     int
	Chunks      int
	Assets      int
	Bytes       int64
	CacheHits   int64
	CacheMisses int64
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it from the
// global meter provider if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = NewMetrics(otel.GetMeterProvider().Meter(instrumentationName))
	})
	return metrics
}

// Tracer returns the tracer used for build spans.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// NewMetrics creates all metric instruments on meter
func NewMetrics(meter metric.Meter) *Metrics {
	m := &Metrics{}

	// Build metrics
	m.BuildsTotal, _ = meter.Int64Counter(
		"assetpipe.builds.total",
		metric.WithDescription("Total number of builds started"),
		metric.WithUnit("{build}"),
	)

	m.BuildFailuresTotal, _ = meter.Int64Counter(
		"assetpipe.builds.failures.total",
		metric.WithDescription("Total number of failed builds by stage"),
		metric.WithUnit("{build}"),
	)

	m.BuildDuration, _ = meter.Float64Histogram(
		"assetpipe.builds.duration",
		metric.WithDescription("Duration of complete builds"),
		metric.WithUnit("ms"),
	)

	m.StageDuration, _ = meter.Float64Histogram(
		"assetpipe.stages.duration",
		metric.WithDescription("Duration of each build stage"),
		metric.WithUnit("ms"),
	)

	// Output metrics
	m.ModulesTotal, _ = meter.Int64Counter(
		"assetpipe.modules.total",
		metric.WithDescription("Total number of modules built"),
		metric.WithUnit("{module}"),
	)

	m.ChunksTotal, _ = meter.Int64Counter(
		"assetpipe.chunks.total",
		metric.WithDescription("Total number of chunks partitioned"),
		metric.WithUnit("{chunk}"),
	)

	m.AssetsTotal, _ = meter.Int64Counter(
		"assetpipe.assets.total",
		metric.WithDescription("Total number of assets written"),
		metric.WithUnit("{asset}"),
	)

	m.AssetBytes, _ = meter.Int64Counter(
		"assetpipe.assets.bytes",
		metric.WithDescription("Total number of asset bytes written"),
		metric.WithUnit("By"),
	)

	// Plugin metrics
	m.PluginErrorsTotal, _ = meter.Int64Counter(
		"assetpipe.plugins.errors.total",
		metric.WithDescription("Total number of plugin hook failures"),
		metric.WithUnit("{error}"),
	)

	// Transform cache metrics
	m.CacheHitsTotal, _ = meter.Int64Counter(
		"assetpipe.cache.hits.total",
		metric.WithDescription("Total number of transform cache hits"),
		metric.WithUnit("{lookup}"),
	)

	m.CacheMissesTotal, _ = meter.Int64Counter(
		"assetpipe.cache.misses.total",
		metric.WithDescription("Total number of transform cache misses"),
		metric.WithUnit("{lookup}"),
	)

	// Publish metrics
	m.UploadsTotal, _ = meter.Int64Counter(
		"assetpipe.publish.uploads.total",
		metric.WithDescription("Total number of objects uploaded"),
		metric.WithUnit("{object}"),
	)

	m.UploadRetriesTotal, _ = meter.Int64Counter(
		"assetpipe.publish.retries.total",
		metric.WithDescription("Total number of upload attempts retried after a transient failure"),
		metric.WithUnit("{retry}"),
	)

	m.UploadBytes, _ = meter.Int64Counter(
		"assetpipe.publish.bytes",
		metric.WithDescription("Total number of bytes uploaded"),
		metric.WithUnit("By"),
	)

	return m
}

// RecordBuild records a successful build.
func (m *Metrics) RecordBuild(ctx context.Context, stats BuildStats, elapsed time.Duration) {
	m.BuildDuration.Record(ctx, float64(elapsed.Milliseconds()))
	m.ModulesTotal.Add(ctx, int64(stats.Modules))
	m.ChunksTotal.Add(ctx, int64(stats.Chunks))
	m.AssetsTotal.Add(ctx, int64(stats.Assets))
	m.AssetBytes.Add(ctx, stats.Bytes)
	m.CacheHitsTotal.Add(ctx, stats.CacheHits)
	m.CacheMissesTotal.Add(ctx, stats.CacheMisses)
}

// RecordStage records the duration of one build stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, elapsed time.Duration) {
	m.StageDuration.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordFailure records a build that failed in stage.
func (m *Metrics) RecordFailure(ctx context.Context, stage string) {
	m.BuildFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordPluginError records a plugin hook failure.
func (m *Metrics) RecordPluginError(ctx context.Context, plugin, hook string) {
	m.PluginErrorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("plugin", plugin),
		attribute.String("hook", hook),
	))
}
