package pipeline

import "context"

// Args are the resolved arguments passed to a step function.
type Args struct {
	Positional []any
	Keyword    map[string]any
}

// At returns positional argument i.
func (a Args) At(i int) (any, bool) {
	if i < 0 || i >= len(a.Positional) {
		return nil, false
	}

	return a.Positional[i], true
}

// Kwarg returns the keyword argument name.
func (a Args) Kwarg(name string) (any, bool) {
	v, ok := a.Keyword[name]

	return v, ok
}

// Invocable is the action a step performs.
type Invocable interface {
	Call(ctx context.Context, args Args) (any, error)
}

// InvocableFunc adapts a function to Invocable.
type InvocableFunc func(ctx context.Context, args Args) (any, error)

// Call implements Invocable.
func (f InvocableFunc) Call(ctx context.Context, args Args) (any, error) {
	return f(ctx, args)
}
