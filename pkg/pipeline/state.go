// Package pipeline runs a linear list of named steps that pass values to one
// another through a shared variable map, caching selected step outputs so a
// rerun can skip work that already succeeded.
package pipeline

import "maps"

// State maps variable names to the values steps have produced so far.
type State map[string]any

// Get returns the value bound to name.
func (s State) Get(name string) (any, bool) {
	v, ok := s[name]

	return v, ok
}

// Set binds name to v.
func (s State) Set(name string, v any) {
	s[name] = v
}

// Subset returns the entries of s whose keys are in names. Names that are
// not bound are left out.
func (s State) Subset(names []string) map[string]any {
	out := make(map[string]any, len(names))

	for _, name := range names {
		if v, ok := s[name]; ok {
			out[name] = v
		}
	}

	return out
}

// Clone returns a shallow copy of s.
func (s State) Clone() State {
	if s == nil {
		return State{}
	}

	return maps.Clone(s)
}
