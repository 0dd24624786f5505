package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/chunkflow/pkg/checkpoint"
	"github.com/Sumatoshi-tech/chunkflow/pkg/observability"
	"github.com/Sumatoshi-tech/chunkflow/pkg/persist"
)

var (
	// ErrStepFailed wraps an error returned by a step function.
	ErrStepFailed = errors.New("step failed")
	// ErrDuplicateStep is returned when two steps share a name, since
	// snapshots are keyed by step name.
	ErrDuplicateStep = errors.New("duplicate step name")
)

// Clock supplies step timestamps.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// Outputs are the variables returned by Run and persisted in snapshots.
	Outputs []string

	// CacheDir holds step snapshots. Empty disables caching.
	CacheDir string

	// UseCache enables both the resume scan and snapshot writes.
	UseCache bool

	// Codec serializes snapshots. Nil selects gob.
	Codec persist.Codec

	// Logger receives step progress. Nil discards.
	Logger *slog.Logger

	// Clock measures step duration. Nil uses the wall clock.
	Clock Clock

	// Tracer creates run and step spans. Nil selects the global tracer.
	Tracer trace.Tracer

	// Metrics records step outcomes. Nil records nothing.
	Metrics *observability.ExecutorMetrics
}

// Runner executes a fixed list of steps.
type Runner struct {
	steps []Step
	cfg   RunnerConfig
	store *checkpoint.SnapshotStore
	state State
}

// NewRunner validates steps and prepares a runner.
func NewRunner(steps []Step, cfg RunnerConfig) (*Runner, error) {
	seen := make(map[string]bool, len(steps))

	for _, step := range steps {
		err := step.validate()
		if err != nil {
			return nil, err
		}

		if seen[step.Name] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateStep, step.Name)
		}

		seen[step.Name] = true
	}

	cfg.Logger = observability.LoggerOrDiscard(cfg.Logger)

	if cfg.Clock == nil {
		cfg.Clock = wallClock{}
	}

	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(observability.InstrumentationName)
	}

	r := &Runner{
		steps: steps,
		cfg:   cfg,
		state: State{},
	}

	if cfg.CacheDir != "" {
		r.store = checkpoint.NewSnapshotStore(cfg.CacheDir, cfg.Codec)
	}

	return r, nil
}

// Steps returns the number of steps.
func (r *Runner) Steps() int {
	return len(r.steps)
}

// Run executes the pipeline to the end.
func (r *Runner) Run(ctx context.Context) (Outputs, error) {
	return r.RunUntil(ctx, len(r.steps))
}

// RunUntil executes steps up to, but not including, index breakpoint.
//
// Execution starts after the last cached step that has a snapshot; every
// step before it is skipped without looking at its own snapshot. A
// breakpoint at or before that point runs nothing. A negative breakpoint
// means the end.
func (r *Runner) RunUntil(ctx context.Context, breakpoint int) (Outputs, error) {
	ctx, span := r.cfg.Tracer.Start(ctx, "chunkflow.pipeline.run",
		trace.WithAttributes(attribute.Int("pipeline.steps", len(r.steps))))
	defer span.End()

	r.state = State{}

	start, err := r.resume(ctx)
	if err != nil {
		return nil, failSpan(span, err)
	}

	end := len(r.steps)
	if breakpoint >= 0 {
		end = max(min(breakpoint, len(r.steps)), start)
	}

	span.SetAttributes(
		attribute.Int("pipeline.resume_index", start),
		attribute.Int("pipeline.end_index", end),
	)

	for i := range start {
		r.cfg.Metrics.RecordStep(ctx, r.steps[i].Name, observability.StepSkipped, r.steps[i].Cache, 0)
	}

	for _, step := range r.steps[start:end] {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return nil, failSpan(span, ctxErr)
		}

		err = r.runStep(ctx, step)
		if err != nil {
			return nil, failSpan(span, err)
		}
	}

	return r.outputs(), nil
}

// resume loads the most recent usable snapshot and returns the index of the
// first step to execute.
func (r *Runner) resume(ctx context.Context) (int, error) {
	if !r.caching() {
		return 0, nil
	}

	for i := len(r.steps) - 1; i >= 0; i-- {
		step := r.steps[i]
		if !step.Cache || !r.store.Exists(step.Name) {
			continue
		}

		snap, err := r.store.Load(step.Name)
		if err != nil {
			return 0, fmt.Errorf("resume from %q: %w", step.Name, err)
		}

		for name, v := range snap {
			r.state.Set(name, v)
		}

		// Earlier snapshots are not consulted, even if they are stale.
		r.cfg.Logger.InfoContext(ctx, "pipeline: resuming from cache",
			"step", step.Name, "index", i, "skipped", i+1, "path", r.store.Path(step.Name))

		return i + 1, nil
	}

	return 0, nil
}

func (r *Runner) runStep(ctx context.Context, step Step) error {
	ctx, span := r.cfg.Tracer.Start(ctx, "chunkflow.pipeline.step",
		trace.WithAttributes(
			attribute.String("step.name", step.Name),
			attribute.Bool("step.cache", step.Cache),
		))
	defer span.End()

	r.cfg.Logger.InfoContext(ctx, "pipeline: step start", "step", step.Name)

	started := r.cfg.Clock.Now()

	args, err := step.resolve(r.state)
	if err != nil {
		r.cfg.Metrics.RecordStep(ctx, step.Name, observability.StepError, step.Cache, 0)

		return failSpan(span, fmt.Errorf("step %q: %w", step.Name, err))
	}

	result, err := step.Func.Call(ctx, args)
	if err != nil {
		r.cfg.Metrics.RecordStep(ctx, step.Name, observability.StepError, step.Cache, r.cfg.Clock.Now().Sub(started))

		return failSpan(span, fmt.Errorf("%w: %q: %w", ErrStepFailed, step.Name, err))
	}

	err = step.bind(r.state, result)
	if err != nil {
		r.cfg.Metrics.RecordStep(ctx, step.Name, observability.StepError, step.Cache, r.cfg.Clock.Now().Sub(started))

		return failSpan(span, fmt.Errorf("step %q: %w", step.Name, err))
	}

	if step.Cache && r.caching() {
		saveErr := r.store.Save(step.Name, r.state.Subset(r.cfg.Outputs))
		if saveErr != nil {
			r.cfg.Metrics.RecordStep(ctx, step.Name, observability.StepError, step.Cache, r.cfg.Clock.Now().Sub(started))

			return failSpan(span, fmt.Errorf("step %q: %w", step.Name, saveErr))
		}
	}

	elapsed := r.cfg.Clock.Now().Sub(started)

	r.cfg.Logger.InfoContext(ctx, "pipeline: step done", "step", step.Name, "duration", elapsed)
	r.cfg.Metrics.RecordStep(ctx, step.Name, observability.StepOK, step.Cache, elapsed)

	return nil
}

func (r *Runner) caching() bool {
	return r.cfg.UseCache && r.store != nil
}

func (r *Runner) outputs() Outputs {
	out := make(Outputs, len(r.cfg.Outputs))

	for i, name := range r.cfg.Outputs {
		out[i], _ = r.state.Get(name)
	}

	return out
}

// Clear removes every step snapshot.
func (r *Runner) Clear() error {
	if r.store == nil {
		return nil
	}

	return r.store.Clear()
}

// State returns a copy of the variables bound by the most recent run.
func (r *Runner) State() State {
	return r.state.Clone()
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	return err
}

// Outputs are the requested variables in configured order. Unbound
// variables are nil.
type Outputs []any

// Value returns the single output when exactly one was requested, otherwise
// the ordered slice.
func (o Outputs) Value() any {
	if len(o) == 1 {
		return o[0]
	}

	return []any(o)
}

// Get returns output i, or nil when out of range.
func (o Outputs) Get(i int) any {
	if i < 0 || i >= len(o) {
		return nil
	}

	return o[i]
}
