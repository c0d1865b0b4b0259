package workflow

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// refPattern matches ${inputs.key}, ${steps.id} and ${vars.name} references
// in step argument strings.
var refPattern = regexp.MustCompile(`\$\{(inputs|steps|vars)\.([A-Za-z0-9_-]+)\}`)

// executionContext is the per-execution scratch space: accumulated step
// results and variables used to resolve later steps' inputs. It is owned by
// one execution task but guarded for parallel-mode step goroutines.
type executionContext struct {
	mu        sync.Mutex
	inputs    map[string]any
	results   map[string]any
	failures  map[string]string
	variables map[string]any
}

func newExecutionContext(inputs map[string]any) *executionContext {
	if inputs == nil {
		inputs = map[string]any{}
	}
	return &executionContext{
		inputs:    inputs,
		results:   make(map[string]any),
		failures:  make(map[string]string),
		variables: make(map[string]any),
	}
}

func (ec *executionContext) recordResult(stepID string, result any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.results[stepID] = result
}

func (ec *executionContext) recordFailure(stepID string, err error) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.failures[stepID] = err.Error()
}

func (ec *executionContext) setVariable(name string, value any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.variables[name] = value
}

// outputs returns a copy of the accumulated step results.
func (ec *executionContext) outputs() map[string]any {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make(map[string]any, len(ec.results))
	for k, v := range ec.results {
		out[k] = v
	}
	return out
}

// stepErrors returns a copy of the recorded step failures.
func (ec *executionContext) stepErrors() map[string]string {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if len(ec.failures) == 0 {
		return nil
	}
	out := make(map[string]string, len(ec.failures))
	for k, v := range ec.failures {
		out[k] = v
	}
	return out
}

// resolveArgs substitutes ${inputs.*}, ${steps.*} and ${vars.*} references in
// string arguments. A string that is exactly one reference keeps the
// referenced value's type; embedded references are stringified in place.
// Unresolvable references are left untouched.
func (ec *executionContext) resolveArgs(args map[string]any) map[string]any {
	if len(args) == 0 {
		return args
	}

	ec.mu.Lock()
	defer ec.mu.Unlock()

	resolved := make(map[string]any, len(args))
	for k, v := range args {
		resolved[k] = ec.resolveValue(v)
	}
	return resolved
}

func (ec *executionContext) resolveValue(v any) any {
	switch val := v.(type) {
	case string:
		return ec.resolveString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, nested := range val {
			out[k] = ec.resolveValue(nested)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, nested := range val {
			out[i] = ec.resolveValue(nested)
		}
		return out
	default:
		return v
	}
}

func (ec *executionContext) resolveString(s string) any {
	// Whole-string reference: preserve the referenced value's type.
	if m := refPattern.FindStringSubmatch(s); m != nil && m[0] == s {
		if value, ok := ec.lookup(m[1], m[2]); ok {
			return value
		}
		return s
	}

	if !strings.Contains(s, "${") {
		return s
	}

	return refPattern.ReplaceAllStringFunc(s, func(ref string) string {
		m := refPattern.FindStringSubmatch(ref)
		if value, ok := ec.lookup(m[1], m[2]); ok {
			return fmt.Sprintf("%v", value)
		}
		return ref
	})
}

func (ec *executionContext) lookup(scope, key string) (any, bool) {
	switch scope {
	case "inputs":
		v, ok := ec.inputs[key]
		return v, ok
	case "steps":
		v, ok := ec.results[key]
		return v, ok
	case "vars":
		v, ok := ec.variables[key]
		return v, ok
	default:
		return nil, false
	}
}
