package observability_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Sumatoshi-tech/chunkflow/pkg/observability"
)

func setupTestMeter(t *testing.T) (*observability.ExecutorMetrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	em, err := observability.NewExecutorMetrics(mp.Meter("test"))
	require.NoError(t, err)

	return em, reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics

	err := reader.Collect(context.Background(), &rm)
	require.NoError(t, err)

	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for idx := range rm.ScopeMetrics {
		for midx := range rm.ScopeMetrics[idx].Metrics {
			if rm.ScopeMetrics[idx].Metrics[midx].Name == name {
				return &rm.ScopeMetrics[idx].Metrics[midx]
			}
		}
	}

	return nil
}

func sumValue(t *testing.T, m *metricdata.Metrics) int64 {
	t.Helper()

	require.NotNil(t, m)

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}

	return total
}

func TestExecutorMetrics_RecordChunk(t *testing.T) {
	t.Parallel()

	em, reader := setupTestMeter(t)
	ctx := context.Background()

	em.RecordChunk(ctx, 3, 120*time.Millisecond)
	em.RecordChunk(ctx, 1, 40*time.Millisecond)

	rm := collectMetrics(t, reader)

	assert.Equal(t, int64(2), sumValue(t, findMetric(rm, "chunkflow.chunks.total")))
	assert.Equal(t, int64(4), sumValue(t, findMetric(rm, "chunkflow.items.total")))

	dur := findMetric(rm, "chunkflow.chunk.duration.seconds")
	require.NotNil(t, dur)

	hist, ok := dur.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
}

func TestExecutorMetrics_ThrottleAndResume(t *testing.T) {
	t.Parallel()

	em, reader := setupTestMeter(t)
	ctx := context.Background()

	em.RecordThrottle(ctx, time.Second)
	em.RecordResume(ctx, observability.CheckpointDir, 6)

	rm := collectMetrics(t, reader)

	require.NotNil(t, findMetric(rm, "chunkflow.throttle.sleep.seconds"))

	resume := findMetric(rm, "chunkflow.resume.offset")
	require.NotNil(t, resume)

	gauge, ok := resume.Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(6), gauge.DataPoints[0].Value)
}

func TestExecutorMetrics_RecordStep(t *testing.T) {
	t.Parallel()

	em, reader := setupTestMeter(t)
	ctx := context.Background()

	em.RecordStep(ctx, "load", observability.StepSkipped, true, 0)
	em.RecordStep(ctx, "transform", observability.StepOK, true, time.Second)
	em.RecordStep(ctx, "report", observability.StepError, false, time.Second)

	rm := collectMetrics(t, reader)

	steps := findMetric(rm, "chunkflow.steps.total")
	assert.Equal(t, int64(3), sumValue(t, steps))

	sum, ok := steps.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, sum.DataPoints, 3, "one series per step/status/cached combination")

	dur := findMetric(rm, "chunkflow.step.duration.seconds")
	require.NotNil(t, dur)

	hist, ok := dur.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	assert.Len(t, hist.DataPoints, 2, "skipped steps record no duration")
}

func TestExecutorMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	var em *observability.ExecutorMetrics

	assert.NotPanics(t, func() {
		em.RecordChunk(context.Background(), 1, time.Millisecond)
		em.RecordThrottle(context.Background(), time.Millisecond)
		em.RecordResume(context.Background(), observability.CheckpointNone, 0)
		em.RecordStep(context.Background(), "s", observability.StepOK, false, time.Millisecond)
	})
}
