package workflow

import (
	"fmt"
	"strings"

	apperr "github.com/mcpflow/mcpflow/internal/errors"
)

// Validate checks structural validity and computes the definition's
// topological step order. A definition that fails validation is never
// executed.
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: workflow name cannot be empty", apperr.ErrWorkflowValidation)
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("%w: workflow %q has no steps", apperr.ErrWorkflowValidation, d.Name)
	}

	switch d.Mode {
	case "", ModeSequential, ModeParallel:
	default:
		return fmt.Errorf("%w: unknown execution mode %q", apperr.ErrWorkflowValidation, d.Mode)
	}
	switch d.OnFailure {
	case "", FailureStop, FailureContinue, FailureRetry:
	default:
		return fmt.Errorf("%w: unknown failure policy %q", apperr.ErrWorkflowValidation, d.OnFailure)
	}

	index := make(map[string]int, len(d.Steps))
	for i, step := range d.Steps {
		id := strings.TrimSpace(step.ID)
		if id == "" {
			return fmt.Errorf("%w: step %d has no id", apperr.ErrWorkflowValidation, i)
		}
		if _, dup := index[id]; dup {
			return fmt.Errorf("%w: duplicate step id %q", apperr.ErrWorkflowValidation, id)
		}
		if strings.TrimSpace(step.Server) == "" || strings.TrimSpace(step.Tool) == "" {
			return fmt.Errorf("%w: step %q must name a server and a tool", apperr.ErrWorkflowValidation, id)
		}
		index[id] = i
	}

	for _, step := range d.Steps {
		for _, dep := range step.DependsOn {
			if _, ok := index[dep]; !ok {
				return fmt.Errorf(
					"%w: step %q depends on unknown step %q",
					apperr.ErrWorkflowValidation, step.ID, dep,
				)
			}
			if dep == step.ID {
				return fmt.Errorf("%w: step %q depends on itself", apperr.ErrWorkflowValidation, step.ID)
			}
		}
	}

	order, err := topologicalOrder(d.Steps, index)
	if err != nil {
		return err
	}
	d.order = order

	return nil
}

// topologicalOrder runs Kahn's algorithm over the dependency edges, keeping
// definition order among simultaneously-ready steps. Any step left with
// unresolved dependencies after a full pass signals a cycle.
func topologicalOrder(steps []Step, index map[string]int) ([]int, error) {
	indegree := make([]int, len(steps))
	dependents := make([][]int, len(steps))

	for i, step := range steps {
		indegree[i] = len(step.DependsOn)
		for _, dep := range step.DependsOn {
			j := index[dep]
			dependents[j] = append(dependents[j], i)
		}
	}

	order := make([]int, 0, len(steps))
	scheduled := make([]bool, len(steps))

	for len(order) < len(steps) {
		progressed := false
		for i := range steps {
			if scheduled[i] || indegree[i] != 0 {
				continue
			}
			scheduled[i] = true
			order = append(order, i)
			for _, dep := range dependents[i] {
				indegree[dep]--
			}
			progressed = true
		}
		if !progressed {
			var stuck []string
			for i, step := range steps {
				if !scheduled[i] {
					stuck = append(stuck, step.ID)
				}
			}
			return nil, fmt.Errorf(
				"%w: dependency cycle involving steps %s",
				apperr.ErrWorkflowValidation, strings.Join(stuck, ", "),
			)
		}
	}

	return order, nil
}
