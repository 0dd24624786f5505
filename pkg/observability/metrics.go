package observability

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricChunksTotal   = "chunkflow.chunks.total"
	metricItemsTotal    = "chunkflow.items.total"
	metricChunkDuration = "chunkflow.chunk.duration.seconds"
	metricThrottleSleep = "chunkflow.throttle.sleep.seconds"
	metricResumeOffset  = "chunkflow.resume.offset"
	metricStepsTotal    = "chunkflow.steps.total"
	metricStepDuration  = "chunkflow.step.duration.seconds"

	attrStep       = "step"
	attrStatus     = "status"
	attrCached     = "cached"
	attrCheckpoint = "checkpoint"
)

// Step outcomes accepted by RecordStep.
const (
	StepOK      = "ok"
	StepError   = "error"
	StepSkipped = "skipped"
)

// Checkpoint modes accepted by RecordResume.
const (
	CheckpointNone      = "none"
	CheckpointAggregate = "aggregate"
	CheckpointDir       = "dir"
)

// durationBucketBoundaries covers 10ms to 600s: chunks of cheap local work
// finish in milliseconds, throttled network chunks take minutes.
var durationBucketBoundaries = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// ExecutorMetrics holds OTel instruments for chunk execution and pipeline steps.
// A nil *ExecutorMetrics is valid and records nothing.
type ExecutorMetrics struct {
	chunksTotal   metric.Int64Counter
	itemsTotal    metric.Int64Counter
	chunkDuration metric.Float64Histogram
	throttleSleep metric.Float64Histogram
	resumeOffset  metric.Int64Gauge
	stepsTotal    metric.Int64Counter
	stepDuration  metric.Float64Histogram
}

// NewExecutorMetrics creates executor metric instruments from the given meter.
func NewExecutorMetrics(mt metric.Meter) (*ExecutorMetrics, error) {
	chunks, err := mt.Int64Counter(metricChunksTotal,
		metric.WithDescription("Total chunks completed and checkpointed"),
		metric.WithUnit("{chunk}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricChunksTotal, err)
	}

	items, err := mt.Int64Counter(metricItemsTotal,
		metric.WithDescription("Total items processed"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricItemsTotal, err)
	}

	chunkDur, err := mt.Float64Histogram(metricChunkDuration,
		metric.WithDescription("Chunk wall time in seconds, excluding throttle sleep"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricChunkDuration, err)
	}

	sleep, err := mt.Float64Histogram(metricThrottleSleep,
		metric.WithDescription("Time slept to honor the minimum chunk duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricThrottleSleep, err)
	}

	resume, err := mt.Int64Gauge(metricResumeOffset,
		metric.WithDescription("Input offset the last run resumed from"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricResumeOffset, err)
	}

	steps, err := mt.Int64Counter(metricStepsTotal,
		metric.WithDescription("Pipeline steps by outcome"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricStepsTotal, err)
	}

	stepDur, err := mt.Float64Histogram(metricStepDuration,
		metric.WithDescription("Pipeline step wall time in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricStepDuration, err)
	}

	return &ExecutorMetrics{
		chunksTotal:   chunks,
		itemsTotal:    items,
		chunkDuration: chunkDur,
		throttleSleep: sleep,
		resumeOffset:  resume,
		stepsTotal:    steps,
		stepDuration:  stepDur,
	}, nil
}

// RecordChunk records one committed chunk of items.
func (em *ExecutorMetrics) RecordChunk(ctx context.Context, items int, duration time.Duration) {
	if em == nil {
		return
	}

	em.chunksTotal.Add(ctx, 1)
	em.itemsTotal.Add(ctx, int64(items))
	em.chunkDuration.Record(ctx, duration.Seconds())
}

// RecordThrottle records a throttle sleep.
func (em *ExecutorMetrics) RecordThrottle(ctx context.Context, slept time.Duration) {
	if em == nil {
		return
	}

	em.throttleSleep.Record(ctx, slept.Seconds())
}

// RecordResume records the offset a run starts from under the given checkpoint mode.
func (em *ExecutorMetrics) RecordResume(ctx context.Context, mode string, offset int) {
	if em == nil {
		return
	}

	em.resumeOffset.Record(ctx, int64(offset), metric.WithAttributes(
		attribute.String(attrCheckpoint, mode),
	))
}

// RecordStep records a pipeline step outcome. Skipped steps carry no duration.
func (em *ExecutorMetrics) RecordStep(ctx context.Context, step, status string, cached bool, duration time.Duration) {
	if em == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrStep, step),
		attribute.String(attrStatus, status),
		attribute.String(attrCached, strconv.FormatBool(cached)),
	)

	em.stepsTotal.Add(ctx, 1, attrs)

	if status != StepSkipped {
		em.stepDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String(attrStep, step)))
	}
}
