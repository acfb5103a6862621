// Package funcsig models a dispatchable function's keyword signature:
// its parameter names, their default values (if any), and an optional
// docstring. The dispatch front-end uses it to coerce incoming string
// arguments to the right Go type and to render help text.
//
// Grounded on cu/utils/calldocs.py's use of a function's keyword
// defaults to build both the webserver's argument-coercion table and the
// help-text payload (celery_utils/webserver/server.py's
// "defaults = calldocs(method)['args']"); Go has no runtime
// introspection of default argument values, so a Sig is built explicitly
// by the code registering a task, rather than reflected off a function
// value.
package funcsig

import (
	"fmt"
	"strconv"
)

// Param is one keyword parameter of a dispatchable function.
type Param struct {
	// Name is the parameter's keyword name.
	Name string
	// Default is the parameter's default value, or nil if the parameter
	// is required. Its concrete type (string, int, int64, float64, bool)
	// determines how incoming string arguments are coerced; a default of
	// any other type makes Coerce fail for a supplied value.
	Default any
	// Doc is a short human-readable description, surfaced by the
	// dispatch front-end's help route.
	Doc string
}

// Required reports whether the parameter has no default and must be
// supplied by the caller.
func (p Param) Required() bool { return p.Default == nil }

// Sig is the full keyword signature of one dispatchable function.
type Sig struct {
	Name   string
	Doc    string
	Params []Param
}

// Param looks up a parameter by name.
func (s Sig) Param(name string) (Param, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Keys returns every parameter name, in declaration order: the key set
// of the map Coerce returns.
func (s Sig) Keys() []string {
	keys := make([]string, len(s.Params))
	for i, p := range s.Params {
		keys[i] = p.Name
	}
	return keys
}

// Defaults returns the subset of Params that carry a default value.
func (s Sig) Defaults() map[string]any {
	out := make(map[string]any, len(s.Params))
	for _, p := range s.Params {
		if !p.Required() {
			out[p.Name] = p.Default
		}
	}
	return out
}

// Coerce merges raw string-valued arguments (as received from a query
// string, form body, or uploaded-file substitution) onto this
// signature's defaults, converting each value to match its default's
// type. Missing required parameters and unrecognized extra parameters
// are both reported as errors, matching cu/webserver/utils.py's
// parse_args strictness.
func (s Sig) Coerce(raw map[string]string) (map[string]any, error) {
	out := make(map[string]any, len(s.Params))
	seen := make(map[string]bool, len(raw))

	for _, p := range s.Params {
		v, ok := raw[p.Name]
		seen[p.Name] = true
		if !ok {
			if p.Required() {
				return nil, fmt.Errorf("funcsig: missing required argument %q", p.Name)
			}
			out[p.Name] = p.Default
			continue
		}
		coerced, err := coerceValue(v, p.Default)
		if err != nil {
			return nil, fmt.Errorf("funcsig: argument %q: %w", p.Name, err)
		}
		out[p.Name] = coerced
	}

	for name := range raw {
		if !seen[name] {
			return nil, fmt.Errorf("funcsig: unrecognized argument %q", name)
		}
	}

	return out, nil
}

// coerceValue converts a raw string into the type implied by a
// parameter's default value. A nil default (required parameter) passes
// the string through unchanged, since there is no type to infer it
// against.
func coerceValue(raw string, def any) (any, error) {
	switch def.(type) {
	case nil, string:
		return raw, nil
	case bool:
		return strconv.ParseBool(raw)
	case int:
		n, err := strconv.ParseInt(raw, 10, 64)
		return int(n), err
	case int64:
		return strconv.ParseInt(raw, 10, 64)
	case float64:
		return strconv.ParseFloat(raw, 64)
	default:
		return nil, fmt.Errorf("funcsig: cannot coerce into type %T", def)
	}
}
