// Package workflow validates and executes DAGs of tool-invoking steps against
// the client registry, with per-step timeout, retry, dependency ordering,
// failure policy and cooperative cancellation.
package workflow

import (
	"time"

	"github.com/mcpflow/mcpflow/internal/config"
)

const (
	ModeSequential ExecutionMode = "sequential"
	ModeParallel   ExecutionMode = "parallel"
)

// ExecutionMode selects how ready steps are scheduled.
type ExecutionMode string

const (
	// FailureStop aborts remaining steps and marks the execution failed.
	FailureStop FailurePolicy = "stop"

	// FailureContinue records the step failure and proceeds with later steps.
	FailureContinue FailurePolicy = "continue"

	// FailureRetry re-attempts the failing step, then behaves like stop.
	FailureRetry FailurePolicy = "retry"
)

// FailurePolicy governs how a step failure propagates through an execution.
type FailurePolicy string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusCancelled ExecutionStatus = "cancelled"
)

// ExecutionStatus is the lifecycle state of a workflow execution. Transitions
// are monotonic: once terminal, an execution never changes again.
type ExecutionStatus string

func (s ExecutionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Definition describes a workflow: a named DAG of steps plus execution
// settings. Definitions are immutable once registered with the engine.
type Definition struct {
	ID          string          `json:"id" yaml:"id,omitempty"`
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []Step          `json:"steps" yaml:"steps"`
	Timeout     config.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Mode        ExecutionMode   `json:"mode,omitempty" yaml:"mode,omitempty"`
	OnFailure   FailurePolicy   `json:"on_failure,omitempty" yaml:"on_failure,omitempty"`

	// order is the topological order over step indices, computed during
	// validation and reused by every execution.
	order []int
}

// Step invokes one tool on one server. Steps reference each other by id.
type Step struct {
	ID        string          `json:"id" yaml:"id"`
	Server    string          `json:"server" yaml:"server"`
	Tool      string          `json:"tool" yaml:"tool"`
	Arguments map[string]any  `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	DependsOn []string        `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Timeout   config.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Retries   int             `json:"retries,omitempty" yaml:"retries,omitempty"`
}

// Execution is a point-in-time snapshot of one workflow run.
type Execution struct {
	ID          string            `json:"id"`
	WorkflowID  string            `json:"workflow_id"`
	Status      ExecutionStatus   `json:"status"`
	Inputs      map[string]any    `json:"inputs,omitempty"`
	Outputs     map[string]any    `json:"outputs,omitempty"`
	StepErrors  map[string]string `json:"step_errors,omitempty"`
	CurrentStep string            `json:"current_step,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Error       string            `json:"error,omitempty"`
}
