package pipeline

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrUnresolvedPlaceholder is returned when a reference names a variable
// that no earlier step has produced.
var ErrUnresolvedPlaceholder = errors.New("unresolved placeholder")

// placeholderPattern matches "#name#" authoring syntax.
var placeholderPattern = regexp.MustCompile(`^#(.*)#$`)

// Arg is a step argument: either a literal value or a reference to a
// pipeline variable.
type Arg struct {
	value any
	ref   string
	isRef bool
}

// Literal returns an argument that resolves to v.
func Literal(v any) Arg {
	return Arg{value: v}
}

// Ref returns an argument that resolves to the variable name.
func Ref(name string) Arg {
	return Arg{ref: name, isRef: true}
}

// ParseArg converts authoring syntax into an Arg: a string of the form
// "#name#" becomes Ref(name), anything else Literal(v).
func ParseArg(v any) Arg {
	s, ok := v.(string)
	if !ok {
		return Literal(v)
	}

	m := placeholderPattern.FindStringSubmatch(s)
	if m == nil {
		return Literal(v)
	}

	return Ref(m[1])
}

// IsRef reports whether a is a variable reference.
func (a Arg) IsRef() bool { return a.isRef }

// Name returns the referenced variable, or "" for literals.
func (a Arg) Name() string { return a.ref }

// Resolve returns the literal value or looks the reference up in state.
func (a Arg) Resolve(state State) (any, error) {
	if !a.isRef {
		return a.value, nil
	}

	v, ok := state.Get(a.ref)
	if !ok {
		return nil, fmt.Errorf("%w: #%s#", ErrUnresolvedPlaceholder, a.ref)
	}

	return v, nil
}

func (a Arg) String() string {
	if a.isRef {
		return "#" + a.ref + "#"
	}

	return fmt.Sprintf("%v", a.value)
}
