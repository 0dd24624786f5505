// Package executor applies a work function to every item of an ordered input
// in fixed-size chunks, running each chunk on a bounded worker pool and
// checkpointing after every chunk so an interrupted run can resume.
//
// Results are positional: result i always corresponds to item i, whatever the
// order in which workers finish.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/chunkflow/pkg/checkpoint"
	"github.com/Sumatoshi-tech/chunkflow/pkg/observability"
	"github.com/Sumatoshi-tech/chunkflow/pkg/streaming"
	"github.com/Sumatoshi-tech/chunkflow/pkg/workpool"
)

// ErrItemFailed marks a work function failure. The failing chunk is not
// checkpointed; earlier chunks stay committed.
var ErrItemFailed = errors.New("item failed")

// Work is applied to every input item.
type Work[T, R any] interface {
	Do(ctx context.Context, item T) (R, error)
}

// WorkFunc adapts a function to Work.
type WorkFunc[T, R any] func(ctx context.Context, item T) (R, error)

// Do implements Work.
func (f WorkFunc[T, R]) Do(ctx context.Context, item T) (R, error) {
	return f(ctx, item)
}

// ItemError reports which input index failed. It matches ErrItemFailed with
// errors.Is and unwraps to the work function's error.
type ItemError struct {
	Index int
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

// Unwrap returns the work function's error.
func (e *ItemError) Unwrap() error { return e.Err }

// Is reports whether target is ErrItemFailed.
func (e *ItemError) Is(target error) bool { return target == ErrItemFailed }

// Run applies work to items[:min(len(items), cfg.Limit)] chunk by chunk and
// returns the results in input order.
//
// With cfg.Resume, committed chunks are not executed again: the aggregate
// checkpoint supplies the stored prefix, while the checkpoint directory
// restarts at its most recent chunk file, which is discarded. Without
// cfg.Resume, existing checkpoints are cleared first.
func Run[T, R any](ctx context.Context, items []T, work Work[T, R], cfg Config) ([]R, error) {
	cfg = cfg.WithDefaults()

	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	stop := cfg.stop(len(items))
	mode := cfg.checkpointMode()
	store := checkpoint.Open[R](cfg.CheckpointPath, cfg.CheckpointDir, cfg.Codec)
	logger := cfg.Logger

	ctx, span := cfg.Tracer.Start(ctx, "chunkflow.executor.run",
		trace.WithAttributes(
			attribute.Int("executor.items", stop),
			attribute.Int("executor.chunk_size", cfg.ChunkSize),
			attribute.String("executor.pool", cfg.Pool.String()),
			attribute.Int("executor.workers", cfg.Workers),
			attribute.String("checkpoint.mode", mode),
		))
	defer span.End()

	results, offset, err := openCheckpoint(store, cfg.Resume, stop)
	if err != nil {
		return nil, failSpan(span, err)
	}

	planner := streaming.Planner{TotalItems: stop, ChunkSize: cfg.ChunkSize}

	chunks, err := planner.PlanFrom(offset)
	if err != nil {
		return nil, failSpan(span, err)
	}

	span.SetAttributes(attribute.Int("executor.resume_offset", offset))
	cfg.Metrics.RecordResume(ctx, mode, offset)

	logger.InfoContext(ctx, "executor: planning chunks",
		"items", stop, "chunks", len(chunks), "chunk_size", cfg.ChunkSize,
		"pool", cfg.Pool, "workers", cfg.Workers, "checkpoint", mode, "offset", offset)

	for _, chunk := range chunks {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return nil, failSpan(span, ctxErr)
		}

		results, err = runChunk(ctx, items, work, cfg, store, chunk, results)
		if err != nil {
			return nil, failSpan(span, err)
		}
	}

	final, err := store.Results(stop, results)
	if err != nil {
		return nil, failSpan(span, fmt.Errorf("consolidate results: %w", err))
	}

	logger.InfoContext(ctx, "executor: done", "results", len(final))

	return final, nil
}

// openCheckpoint clears stale checkpoints or resumes from them.
func openCheckpoint[R any](store checkpoint.Store[R], resume bool, stop int) ([]R, int, error) {
	if !resume {
		err := store.Clear()
		if err != nil {
			return nil, 0, fmt.Errorf("clear checkpoint: %w", err)
		}

		return nil, 0, nil
	}

	prefix, offset, err := store.Resume(stop)
	if err != nil {
		return nil, 0, fmt.Errorf("resume checkpoint: %w", err)
	}

	return prefix, offset, nil
}

// runChunk executes, commits and throttles one chunk, returning the updated
// in-memory result list. The checkpoint directory re-reads results from disk
// at the end, so in that mode nothing accumulates in memory.
func runChunk[T, R any](
	ctx context.Context,
	items []T,
	work Work[T, R],
	cfg Config,
	store checkpoint.Store[R],
	chunk streaming.ChunkBounds,
	results []R,
) ([]R, error) {
	index := chunk.Start / cfg.ChunkSize

	ctx, span := cfg.Tracer.Start(ctx, "chunkflow.chunk",
		trace.WithAttributes(
			attribute.Int("chunk.start", chunk.Start),
			attribute.Int("chunk.end", chunk.End),
			attribute.Int("chunk.index", index),
		))
	defer span.End()

	started := cfg.Clock.Now()

	out, err := executeChunk(ctx, items[chunk.Start:chunk.End], chunk.Start, work, cfg)
	if err != nil {
		return nil, failSpan(span, fmt.Errorf("chunk [%d, %d): %w", chunk.Start, chunk.End, err))
	}

	if cfg.checkpointMode() != observability.CheckpointDir {
		results = append(results, out...)
	}

	err = store.Commit(chunk.Start, out, results)
	if err != nil {
		return nil, failSpan(span, fmt.Errorf("checkpoint chunk [%d, %d): %w", chunk.Start, chunk.End, err))
	}

	elapsed := cfg.Clock.Now().Sub(started)

	cfg.Logger.InfoContext(ctx, "executor: chunk done",
		"chunk", index, "start", chunk.Start, "end", chunk.End, "duration", elapsed)
	cfg.Metrics.RecordChunk(ctx, chunk.Len(), elapsed)

	err = throttle(ctx, cfg, elapsed)
	if err != nil {
		return nil, failSpan(span, err)
	}

	return results, nil
}

// executeChunk runs every item on a fresh pool. Results land at their
// positional index. On failure no item of the chunk is returned.
func executeChunk[T, R any](ctx context.Context, items []T, base int, work Work[T, R], cfg Config) ([]R, error) {
	out := make([]R, len(items))

	pool := workpool.Open(cfg.Pool, cfg.Workers)
	defer pool.Close()

	var completed atomic.Int64

	for i, item := range items {
		if ctx.Err() != nil {
			break
		}

		pool.Go(func() error {
			ctxErr := ctx.Err()
			if ctxErr != nil {
				return ctxErr
			}

			res, workErr := work.Do(ctx, item)
			if workErr != nil {
				return &ItemError{Index: base + i, Err: workErr}
			}

			out[i] = res

			completed.Add(1)

			return nil
		})
	}

	err := pool.Wait()
	if err != nil {
		return nil, err
	}

	// A chunk whose items all finished is kept even if ctx was cancelled meanwhile.
	if int(completed.Load()) < len(items) {
		return nil, ctx.Err()
	}

	return out, nil
}

// throttle sleeps for the remainder of cfg.MinChunkDuration. It runs after
// every chunk, the last one included.
func throttle(ctx context.Context, cfg Config, elapsed time.Duration) error {
	if cfg.MinChunkDuration <= 0 || elapsed >= cfg.MinChunkDuration {
		return nil
	}

	remaining := cfg.MinChunkDuration - elapsed

	cfg.Logger.DebugContext(ctx, "executor: throttling", "sleep", remaining)

	err := cfg.Clock.Sleep(ctx, remaining)
	if err != nil {
		return fmt.Errorf("throttle: %w", err)
	}

	cfg.Metrics.RecordThrottle(ctx, remaining)

	return nil
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	return err
}
