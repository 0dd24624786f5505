package pipeline

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
)

var (
	// ErrInvalidStep is returned for a step without a name or function.
	ErrInvalidStep = errors.New("invalid step")
	// ErrReturnMismatch is returned when a result cannot be bound to the step's return names.
	ErrReturnMismatch = errors.New("return mismatch")
)

// Step is one unit of a pipeline with its arguments already parsed.
type Step struct {
	Name    string
	Func    Invocable
	Args    []Arg
	Kwargs  map[string]Arg
	Cache   bool
	Returns []string
}

// StepSpec is the authoring form of a step. String arguments of the form
// "#name#" refer to pipeline variables.
type StepSpec struct {
	Name    string
	Func    Invocable
	Args    []any
	Kwargs  map[string]any
	Cache   bool
	Returns []string
}

// NewStep parses spec's arguments into a Step.
func NewStep(spec StepSpec) (Step, error) {
	step := Step{
		Name:    spec.Name,
		Func:    spec.Func,
		Cache:   spec.Cache,
		Returns: slices.Clone(spec.Returns),
	}

	err := step.validate()
	if err != nil {
		return Step{}, err
	}

	if len(spec.Args) > 0 {
		step.Args = make([]Arg, len(spec.Args))
		for i, raw := range spec.Args {
			step.Args[i] = ParseArg(raw)
		}
	}

	if len(spec.Kwargs) > 0 {
		step.Kwargs = make(map[string]Arg, len(spec.Kwargs))
		for name, raw := range spec.Kwargs {
			step.Kwargs[name] = ParseArg(raw)
		}
	}

	return step, nil
}

// MustStep is like NewStep but panics on error. It is intended for
// statically declared pipelines.
func MustStep(spec StepSpec) Step {
	step, err := NewStep(spec)
	if err != nil {
		panic(err)
	}

	return step
}

func (s Step) validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidStep)
	}

	if s.Func == nil {
		return fmt.Errorf("%w: %q has no function", ErrInvalidStep, s.Name)
	}

	if slices.Contains(s.Returns, "") {
		return fmt.Errorf("%w: %q has an empty return name", ErrInvalidStep, s.Name)
	}

	return nil
}

// resolve looks up every reference before anything is invoked.
func (s Step) resolve(state State) (Args, error) {
	var args Args

	if len(s.Args) > 0 {
		args.Positional = make([]any, len(s.Args))

		for i, arg := range s.Args {
			v, err := arg.Resolve(state)
			if err != nil {
				return Args{}, fmt.Errorf("argument %d: %w", i, err)
			}

			args.Positional[i] = v
		}
	}

	if len(s.Kwargs) > 0 {
		args.Keyword = make(map[string]any, len(s.Kwargs))

		for name, arg := range s.Kwargs {
			v, err := arg.Resolve(state)
			if err != nil {
				return Args{}, fmt.Errorf("argument %s: %w", name, err)
			}

			args.Keyword[name] = v
		}
	}

	return args, nil
}

// bind stores result into state under the step's return names. With no
// names the result is discarded, one name binds it whole, and several
// names destructure a slice or array result positionally.
func (s Step) bind(state State, result any) error {
	switch len(s.Returns) {
	case 0:
		return nil
	case 1:
		state.Set(s.Returns[0], result)

		return nil
	}

	values, ok := result.([]any)
	if !ok {
		values, ok = sliceOf(result)
	}

	if !ok {
		return fmt.Errorf("%w: %d names for a %T result", ErrReturnMismatch, len(s.Returns), result)
	}

	if len(values) < len(s.Returns) {
		return fmt.Errorf("%w: %d names for %d values", ErrReturnMismatch, len(s.Returns), len(values))
	}

	for i, name := range s.Returns {
		state.Set(name, values[i])
	}

	return nil
}

func sliceOf(v any) ([]any, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}

	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}

	return out, true
}
