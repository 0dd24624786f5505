package executor_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Sumatoshi-tech/chunkflow/pkg/checkpoint"
	"github.com/Sumatoshi-tech/chunkflow/pkg/executor"
	"github.com/Sumatoshi-tech/chunkflow/pkg/persist"
	"github.com/Sumatoshi-tech/chunkflow/pkg/workpool"
)

var errFlaky = errors.New("flaky upstream")

// fakeClock never sleeps; it records requested sleeps and advances on demand.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)

	return ctx.Err()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]time.Duration(nil), c.sleeps...)
}

// squarer squares ints, counts calls and fails on demand.
type squarer struct {
	calls  atomic.Int32
	failAt atomic.Int32
	seen   sync.Map
}

func newSquarer() *squarer {
	s := &squarer{}
	s.failAt.Store(-1)

	return s
}

func (s *squarer) Do(_ context.Context, n int) (int, error) {
	s.calls.Add(1)
	s.seen.Store(n, true)

	if int(s.failAt.Load()) == n {
		return 0, errFlaky
	}

	return n * n, nil
}

func (s *squarer) sawItem(n int) bool {
	_, ok := s.seen.Load(n)

	return ok
}

func inputs(n int) []int {
	items := make([]int, n)
	for i := range items {
		items[i] = i + 1
	}

	return items
}

func squares(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = (i + 1) * (i + 1)
	}

	return out
}

func TestRun_SquaresInOrder(t *testing.T) {
	t.Parallel()

	work := newSquarer()

	got, err := executor.Run(context.Background(), inputs(10), work, executor.Config{
		ChunkSize: 3,
		Pool:      workpool.KindDebug,
	})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 4, 9, 16, 25, 36, 49, 64, 81, 100}, got)
	assert.Equal(t, int32(10), work.calls.Load())
}

func TestRun_PositionalOrderUnderConcurrency(t *testing.T) {
	t.Parallel()

	work := executor.WorkFunc[int, int](func(_ context.Context, n int) (int, error) {
		time.Sleep(time.Duration(rand.IntN(300)) * time.Microsecond)

		return n * n, nil
	})

	got, err := executor.Run(context.Background(), inputs(200), work, executor.Config{
		ChunkSize: 17,
		Pool:      workpool.KindIO,
		Workers:   16,
	})
	require.NoError(t, err)
	assert.Equal(t, squares(200), got)
}

func TestRun_EmptyInput(t *testing.T) {
	t.Parallel()

	got, err := executor.Run(context.Background(), nil, newSquarer(), executor.Config{
		CheckpointDir: filepath.Join(t.TempDir(), "chunks"),
	})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRun_AggregateResumeAfterFailure(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "results.gob")
	cfg := executor.Config{ChunkSize: 3, Pool: workpool.KindDebug, CheckpointPath: path, Resume: true}

	first := newSquarer()
	first.failAt.Store(8)

	_, err := executor.Run(context.Background(), inputs(10), first, cfg)
	require.ErrorIs(t, err, executor.ErrItemFailed)
	require.ErrorIs(t, err, errFlaky)

	var itemErr *executor.ItemError
	require.ErrorAs(t, err, &itemErr)
	assert.Equal(t, 7, itemErr.Index)

	stored, found, err := checkpoint.NewAggregate[int](path, nil).Load()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []int{1, 4, 9, 16, 25, 36}, stored, "only the two completed chunks are committed")

	second := newSquarer()

	got, err := executor.Run(context.Background(), inputs(10), second, cfg)
	require.NoError(t, err)
	assert.Equal(t, squares(10), got)
	assert.Equal(t, int32(4), second.calls.Load(), "items 7..10 only")
	assert.False(t, second.sawItem(6))
}

func TestRun_AggregateUnreadableSurfaces(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "results.gob")
	require.NoError(t, persist.WriteFileAtomic(path, persist.NewJSONCodec(), []int{1}))

	_, err := executor.Run(context.Background(), inputs(3), newSquarer(), executor.Config{
		CheckpointPath: path,
		Resume:         true,
	})
	require.ErrorIs(t, err, checkpoint.ErrUnreadable)
}

func TestRun_NoResumeClearsCheckpoint(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "results.gob")
	require.NoError(t, checkpoint.NewAggregate[int](path, nil).Save([]int{-1, -1, -1}))

	work := newSquarer()

	got, err := executor.Run(context.Background(), inputs(4), work, executor.Config{
		ChunkSize:      2,
		CheckpointPath: path,
	})
	require.NoError(t, err)
	assert.Equal(t, squares(4), got)
	assert.Equal(t, int32(4), work.calls.Load())
}

func TestRun_DirectoryResumeDistrustsLastChunk(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "chunks")
	cfg := executor.Config{ChunkSize: 3, Pool: workpool.KindCPU, Workers: 2, CheckpointDir: dir, Resume: true}

	first := newSquarer()
	first.failAt.Store(10)

	_, err := executor.Run(context.Background(), inputs(10), first, cfg)
	require.ErrorIs(t, err, executor.ErrItemFailed)

	files, err := checkpoint.NewChunkDir[int](dir, nil).List()
	require.NoError(t, err)
	require.Len(t, files, 3)

	second := newSquarer()

	got, err := executor.Run(context.Background(), inputs(10), second, cfg)
	require.NoError(t, err)
	assert.Equal(t, squares(10), got)

	// Chunk [6, 9) was committed but is the most recent file, so it runs again.
	assert.Equal(t, int32(4), second.calls.Load())
	assert.True(t, second.sawItem(7))
	assert.False(t, second.sawItem(6))
}

func TestRun_DirectorySingleFileRestartsFromZero(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "chunks")
	require.NoError(t, checkpoint.NewChunkDir[int](dir, nil).Save(0, []int{0, 0, 0}))

	work := newSquarer()

	got, err := executor.Run(context.Background(), inputs(5), work, executor.Config{
		ChunkSize: 3, CheckpointDir: dir, Resume: true,
	})
	require.NoError(t, err)
	assert.Equal(t, squares(5), got)
	assert.Equal(t, int32(5), work.calls.Load())
}

func TestRun_DirectoryWinsOverPath(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	path := filepath.Join(root, "results.gob")
	dir := filepath.Join(root, "chunks")

	_, err := executor.Run(context.Background(), inputs(4), newSquarer(), executor.Config{
		ChunkSize: 2, CheckpointPath: path, CheckpointDir: dir,
	})
	require.NoError(t, err)

	assert.False(t, checkpoint.NewAggregate[int](path, nil).Exists())

	files, err := checkpoint.NewChunkDir[int](dir, nil).List()
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestRun_Limit(t *testing.T) {
	t.Parallel()

	work := newSquarer()

	got, err := executor.Run(context.Background(), inputs(10), work, executor.Config{
		ChunkSize: 3,
		Limit:     4,
		Pool:      workpool.KindDebug,
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4, 9, 16}, got)
	assert.Equal(t, int32(4), work.calls.Load())
}

func TestRun_LimitTruncatesLongerDirectoryCheckpoint(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "chunks")

	_, err := executor.Run(context.Background(), inputs(10), newSquarer(), executor.Config{
		ChunkSize: 3, CheckpointDir: dir,
	})
	require.NoError(t, err)

	got, err := executor.Run(context.Background(), inputs(10), newSquarer(), executor.Config{
		ChunkSize: 3, CheckpointDir: dir, Resume: true, Limit: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, squares(5), got)
}

func TestRun_ThrottleSleepsRemainder(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()

	work := executor.WorkFunc[int, int](func(_ context.Context, n int) (int, error) {
		clock.Advance(100 * time.Millisecond)

		return n, nil
	})

	_, err := executor.Run(context.Background(), inputs(10), work, executor.Config{
		ChunkSize:        3,
		Pool:             workpool.KindDebug,
		MinChunkDuration: time.Second,
		Clock:            clock,
	})
	require.NoError(t, err)

	// Three 300ms chunks and a final 100ms chunk; the last chunk sleeps too.
	assert.Equal(t, []time.Duration{
		700 * time.Millisecond,
		700 * time.Millisecond,
		700 * time.Millisecond,
		900 * time.Millisecond,
	}, clock.Sleeps())
}

func TestRun_ThrottleSkipsSlowChunks(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()

	work := executor.WorkFunc[int, int](func(_ context.Context, n int) (int, error) {
		clock.Advance(time.Second)

		return n, nil
	})

	_, err := executor.Run(context.Background(), inputs(4), work, executor.Config{
		ChunkSize:        2,
		Pool:             workpool.KindDebug,
		MinChunkDuration: 500 * time.Millisecond,
		Clock:            clock,
	})
	require.NoError(t, err)
	assert.Empty(t, clock.Sleeps())
}

func TestRun_CancellationStopsBeforeNextChunk(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "chunks")
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32

	work := executor.WorkFunc[int, int](func(_ context.Context, n int) (int, error) {
		if calls.Add(1) == 2 {
			cancel()
		}

		return n, nil
	})

	_, err := executor.Run(ctx, inputs(10), work, executor.Config{
		ChunkSize: 2, Pool: workpool.KindDebug, CheckpointDir: dir,
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(2), calls.Load())

	files, err := checkpoint.NewChunkDir[int](dir, nil).List()
	require.NoError(t, err)
	assert.Len(t, files, 1, "the chunk in flight at cancellation completed and was committed")
}

func TestRun_EmitsRunAndChunkSpans(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	t.Cleanup(func() { require.NoError(t, tp.Shutdown(context.Background())) })

	_, err := executor.Run(context.Background(), inputs(5), newSquarer(), executor.Config{
		ChunkSize: 2,
		Tracer:    tp.Tracer("test"),
	})
	require.NoError(t, err)

	names := map[string]int{}
	for _, s := range exporter.GetSpans() {
		names[s.Name]++
	}

	assert.Equal(t, 1, names["chunkflow.executor.run"])
	assert.Equal(t, 3, names["chunkflow.chunk"])
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	bad := []executor.Config{
		{ChunkSize: -1},
		{Workers: -2},
		{Limit: -1},
		{MinChunkDuration: -time.Second},
		{Pool: "process"},
	}

	for _, cfg := range bad {
		_, err := executor.Run(context.Background(), inputs(1), newSquarer(), cfg)
		require.ErrorIs(t, err, executor.ErrInvalidConfig, "%+v", cfg)
	}

	cfg := executor.Config{}.WithDefaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2000, cfg.ChunkSize)
	assert.Equal(t, workpool.KindIO, cfg.Pool)
	assert.Equal(t, workpool.DefaultWorkers(workpool.KindIO), cfg.Workers)
}
