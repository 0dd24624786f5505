package executor

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/chunkflow/pkg/observability"
	"github.com/Sumatoshi-tech/chunkflow/pkg/persist"
	"github.com/Sumatoshi-tech/chunkflow/pkg/streaming"
	"github.com/Sumatoshi-tech/chunkflow/pkg/workpool"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid executor config")

// Config controls a chunked run.
type Config struct {
	// ChunkSize is the number of items per chunk. Zero selects streaming.DefaultChunkSize.
	ChunkSize int

	// Pool selects the worker pool kind. Empty selects workpool.KindIO.
	Pool workpool.Kind

	// Workers bounds per-chunk parallelism. Zero selects the pool kind's default.
	Workers int

	// Limit truncates the input to its first Limit items. Zero means no limit.
	Limit int

	// Resume continues from existing checkpoints instead of clearing them.
	Resume bool

	// MinChunkDuration is the minimum wall time per chunk; faster chunks are
	// followed by a sleep for the remainder. Zero disables throttling.
	MinChunkDuration time.Duration

	// CheckpointPath enables the aggregate checkpoint (one file, full rewrite).
	CheckpointPath string

	// CheckpointDir enables the per-chunk checkpoint directory. It wins over
	// CheckpointPath when both are set.
	CheckpointDir string

	// Codec serializes checkpoints. Nil selects gob.
	Codec persist.Codec

	// Logger receives progress records. Nil discards.
	Logger *slog.Logger

	// Clock measures chunk time and sleeps. Nil selects RealClock.
	Clock Clock

	// Metrics records chunk metrics. Nil records nothing.
	Metrics *observability.ExecutorMetrics

	// Tracer creates run and chunk spans. Nil selects the global tracer.
	Tracer trace.Tracer
}

// WithDefaults returns a copy of c with zero fields replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.ChunkSize == 0 {
		c.ChunkSize = streaming.DefaultChunkSize
	}

	if c.Pool == "" {
		c.Pool = workpool.KindIO
	}

	if c.Workers == 0 {
		c.Workers = workpool.DefaultWorkers(c.Pool)
	}

	if c.Codec == nil {
		c.Codec = persist.NewGobCodec()
	}

	c.Logger = observability.LoggerOrDiscard(c.Logger)

	if c.Clock == nil {
		c.Clock = RealClock{}
	}

	if c.Tracer == nil {
		c.Tracer = otel.Tracer(observability.InstrumentationName)
	}

	return c
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.ChunkSize < 1:
		return fmt.Errorf("%w: chunk size %d < 1", ErrInvalidConfig, c.ChunkSize)
	case c.Workers < 0:
		return fmt.Errorf("%w: workers %d < 0", ErrInvalidConfig, c.Workers)
	case c.Limit < 0:
		return fmt.Errorf("%w: limit %d < 0", ErrInvalidConfig, c.Limit)
	case c.MinChunkDuration < 0:
		return fmt.Errorf("%w: min chunk duration %s < 0", ErrInvalidConfig, c.MinChunkDuration)
	}

	if c.Pool != "" {
		_, err := workpool.ParseKind(string(c.Pool))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	return nil
}

// checkpointMode names the checkpoint strategy for logs and metrics.
func (c Config) checkpointMode() string {
	switch {
	case c.CheckpointDir != "":
		return observability.CheckpointDir
	case c.CheckpointPath != "":
		return observability.CheckpointAggregate
	default:
		return observability.CheckpointNone
	}
}

// stop returns the exclusive end of the processed input.
func (c Config) stop(total int) int {
	if c.Limit > 0 && c.Limit < total {
		return c.Limit
	}

	return total
}
