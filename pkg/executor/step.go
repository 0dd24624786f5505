package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sumatoshi-tech/chunkflow/pkg/pipeline"
)

// ErrStepInput is returned by a Step adapter whose first argument is not a
// list of the work function's item type.
var ErrStepInput = errors.New("step input")

// Checkpoint keywords accepted by a Step call.
const (
	KwargCheckpoint    = "checkpoint"
	KwargCheckpointDir = "checkpoint_dir"
)

// Step adapts work into a pipeline function. The first positional argument
// is the item list, given as []T or as []any holding T values; the result is
// the []R returned by Run with cfg.
//
// Checkpoints belong to the call, not to cfg: the checkpoint and
// checkpoint_dir keywords select the target, and a call with neither runs
// without one. cfg.CheckpointPath and cfg.CheckpointDir are ignored.
func Step[T, R any](work Work[T, R], cfg Config) pipeline.Invocable {
	return pipeline.InvocableFunc(func(ctx context.Context, args pipeline.Args) (any, error) {
		raw, ok := args.At(0)
		if !ok {
			return nil, fmt.Errorf("%w: missing item list", ErrStepInput)
		}

		items, err := itemsOf[T](raw)
		if err != nil {
			return nil, err
		}

		callCfg := cfg

		callCfg.CheckpointPath, err = pathKwarg(args, KwargCheckpoint)
		if err != nil {
			return nil, err
		}

		callCfg.CheckpointDir, err = pathKwarg(args, KwargCheckpointDir)
		if err != nil {
			return nil, err
		}

		return Run(ctx, items, work, callCfg)
	})
}

func pathKwarg(args pipeline.Args, name string) (string, error) {
	raw, ok := args.Kwarg(name)
	if !ok || raw == nil {
		return "", nil
	}

	s, isString := raw.(string)
	if !isString {
		return "", fmt.Errorf("%w: %s is %T, want string", ErrStepInput, name, raw)
	}

	return s, nil
}

func itemsOf[T any](raw any) ([]T, error) {
	switch v := raw.(type) {
	case []T:
		return v, nil
	case []any:
		items := make([]T, len(v))

		for i, elem := range v {
			item, ok := elem.(T)
			if !ok {
				var zero T

				return nil, fmt.Errorf("%w: element %d is %T, want %T", ErrStepInput, i, elem, zero)
			}

			items[i] = item
		}

		return items, nil
	case nil:
		return nil, nil
	default:
		var zero T

		return nil, fmt.Errorf("%w: %T is not a list of %T", ErrStepInput, raw, zero)
	}
}
