package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/mcpflow/mcpflow/internal/contracts"
	apperr "github.com/mcpflow/mcpflow/internal/errors"
)

// errCancelled is the internal signal that an execution observed its
// cancellation flag between steps.
var errCancelled = errors.New("execution cancelled")

// Engine validates, stores and executes workflow definitions. Each execution
// runs as an independent goroutine; the engine only ever mutates an
// execution's state from that goroutine.
type Engine struct {
	logger hclog.Logger
	tools  contracts.ToolCaller
	opts   Options

	mu         sync.RWMutex
	workflows  map[string]*Definition
	executions map[string]*execution

	wg sync.WaitGroup
}

// execution pairs the queryable snapshot with the run's control state.
type execution struct {
	mu   sync.Mutex
	snap Execution

	ec         *executionContext
	cancelled  atomic.Bool
	hardCancel context.CancelFunc
}

// New creates an engine that invokes tools through the given caller.
func New(tools contracts.ToolCaller, opt ...Option) (*Engine, error) {
	if tools == nil {
		return nil, fmt.Errorf("tool caller cannot be nil")
	}

	opts, err := NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	return &Engine{
		logger:     opts.Logger.Named("workflow"),
		tools:      tools,
		opts:       opts,
		workflows:  make(map[string]*Definition),
		executions: make(map[string]*execution),
	}, nil
}

// Create validates and registers a workflow definition, returning its id.
// An invalid definition is rejected here and can never execute.
func (e *Engine) Create(def Definition) (string, error) {
	if err := def.Validate(); err != nil {
		return "", err
	}

	if strings.TrimSpace(def.ID) == "" {
		def.ID = uuid.NewString()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.workflows[def.ID]; exists {
		return "", fmt.Errorf("%w: duplicate workflow id %q", apperr.ErrWorkflowValidation, def.ID)
	}
	e.workflows[def.ID] = &def

	e.logger.Info("Registered workflow", "id", def.ID, "name", def.Name, "steps", len(def.Steps))

	return def.ID, nil
}

// Workflow returns the definition registered under the given id.
func (e *Engine) Workflow(id string) (Definition, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	def, ok := e.workflows[id]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", apperr.ErrWorkflowNotFound, id)
	}
	return *def, nil
}

// List returns all registered workflow definitions, sorted by name.
func (e *Engine) List() []Definition {
	e.mu.RLock()
	defer e.mu.RUnlock()

	defs := make([]Definition, 0, len(e.workflows))
	for _, def := range e.workflows {
		defs = append(defs, *def)
	}

	slices.SortFunc(defs, func(a, b Definition) int {
		return strings.Compare(a.Name, b.Name)
	})

	return defs
}

// Execute starts an independent execution of the named workflow, seeded with
// inputs, and returns the execution id immediately.
func (e *Engine) Execute(_ context.Context, workflowID string, inputs map[string]any) (string, error) {
	e.mu.RLock()
	wf, ok := e.workflows[workflowID]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", apperr.ErrWorkflowNotFound, workflowID)
	}

	// The run outlives the caller; it is bounded by the workflow's own
	// timeout and by engine shutdown, not by the caller's context.
	runCtx := context.Background()
	var cancel context.CancelFunc
	if wf.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, wf.Timeout.Std())
	} else {
		runCtx, cancel = context.WithCancel(runCtx)
	}

	exec := &execution{
		snap: Execution{
			ID:         uuid.NewString(),
			WorkflowID: workflowID,
			Status:     StatusPending,
			Inputs:     inputs,
		},
		ec:         newExecutionContext(inputs),
		hardCancel: cancel,
	}

	e.mu.Lock()
	e.executions[exec.snap.ID] = exec
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(runCtx, wf, exec)

	return exec.snap.ID, nil
}

// Status returns a snapshot of the given execution.
func (e *Engine) Status(executionID string) (Execution, error) {
	e.mu.RLock()
	exec, ok := e.executions[executionID]
	e.mu.RUnlock()
	if !ok {
		return Execution{}, fmt.Errorf("%w: %s", apperr.ErrExecutionNotFound, executionID)
	}

	exec.mu.Lock()
	defer exec.mu.Unlock()
	return exec.snap, nil
}

// Cancel requests cooperative cancellation of a running execution. The flag
// is checked between steps: an in-flight tool call finishes, later steps are
// skipped. Cancelling a terminal execution is a no-op success.
func (e *Engine) Cancel(executionID string) error {
	e.mu.RLock()
	exec, ok := e.executions[executionID]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", apperr.ErrExecutionNotFound, executionID)
	}

	exec.cancelled.Store(true)

	return nil
}

// Shutdown cancels every running execution hard and waits for their
// goroutines to finish, or for ctx to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.RLock()
	for _, exec := range e.executions {
		exec.cancelled.Store(true)
		exec.hardCancel()
	}
	e.mu.RUnlock()

	finished := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for executions to stop: %w", ctx.Err())
	}
}

func (e *Engine) run(ctx context.Context, wf *Definition, exec *execution) {
	defer e.wg.Done()
	defer exec.hardCancel()

	now := time.Now().UTC()
	exec.mu.Lock()
	exec.snap.Status = StatusRunning
	exec.snap.StartedAt = &now
	exec.mu.Unlock()

	e.logger.Info("Execution started", "execution", exec.snap.ID, "workflow", wf.Name, "mode", wf.Mode)

	var err error
	if wf.Mode == ModeParallel {
		err = e.runParallel(ctx, wf, exec)
	} else {
		err = e.runSequential(ctx, wf, exec)
	}

	completed := time.Now().UTC()
	exec.mu.Lock()
	exec.snap.Outputs = exec.ec.outputs()
	exec.snap.StepErrors = exec.ec.stepErrors()
	exec.snap.CurrentStep = ""
	exec.snap.CompletedAt = &completed
	switch {
	case errors.Is(err, errCancelled):
		exec.snap.Status = StatusCancelled
	case err != nil:
		exec.snap.Status = StatusFailed
		exec.snap.Error = err.Error()
	default:
		exec.snap.Status = StatusCompleted
	}
	status := exec.snap.Status
	exec.mu.Unlock()

	e.logger.Info("Execution finished", "execution", exec.snap.ID, "status", status)
}

func (e *Engine) runSequential(ctx context.Context, wf *Definition, exec *execution) error {
	for _, i := range wf.order {
		if exec.cancelled.Load() {
			return errCancelled
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", apperr.ErrWorkflowExecution, ctx.Err())
		}

		step := wf.Steps[i]
		if err := e.runStep(ctx, wf, step, exec); err != nil {
			exec.ec.recordFailure(step.ID, err)
			if wf.OnFailure == FailureContinue {
				e.logger.Warn("Step failed, continuing", "execution", exec.snap.ID, "step", step.ID, "error", err)
				continue
			}
			return err
		}
	}
	return nil
}

func (e *Engine) runParallel(ctx context.Context, wf *Definition, exec *execution) error {
	attempted := make([]bool, len(wf.Steps))
	completed := make([]bool, len(wf.Steps))
	index := make(map[string]int, len(wf.Steps))
	for i, step := range wf.Steps {
		index[step.ID] = i
	}

	remaining := len(wf.Steps)
	for remaining > 0 {
		if exec.cancelled.Load() {
			return errCancelled
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", apperr.ErrWorkflowExecution, ctx.Err())
		}

		var ready []int
		for i, step := range wf.Steps {
			if attempted[i] {
				continue
			}
			runnable := true
			for _, dep := range step.DependsOn {
				j := index[dep]
				if !attempted[j] || (!completed[j] && wf.OnFailure != FailureContinue) {
					runnable = false
					break
				}
			}
			if runnable {
				ready = append(ready, i)
			}
		}
		if len(ready) == 0 {
			return fmt.Errorf("%w: no runnable steps remain", apperr.ErrWorkflowExecution)
		}

		stepErrs := make([]error, len(ready))
		var waveWg sync.WaitGroup
		for k, i := range ready {
			waveWg.Add(1)
			go func() {
				defer waveWg.Done()
				stepErrs[k] = e.runStep(ctx, wf, wf.Steps[i], exec)
			}()
		}
		waveWg.Wait()

		var waveErr error
		for k, i := range ready {
			attempted[i] = true
			remaining--
			if stepErrs[k] == nil {
				completed[i] = true
				continue
			}
			exec.ec.recordFailure(wf.Steps[i].ID, stepErrs[k])
			if waveErr == nil {
				waveErr = stepErrs[k]
			}
		}
		if waveErr != nil && wf.OnFailure != FailureContinue {
			return waveErr
		}
	}

	return nil
}

// runStep invokes one step, honoring the step's retry budget and, under the
// retry failure policy, one additional full re-attempt.
func (e *Engine) runStep(ctx context.Context, wf *Definition, step Step, exec *execution) error {
	exec.mu.Lock()
	exec.snap.CurrentStep = step.ID
	exec.mu.Unlock()

	value, err := e.invokeStep(ctx, step, exec.ec)
	if err != nil && wf.OnFailure == FailureRetry {
		e.logger.Warn("Step failed, re-attempting once", "execution", exec.snap.ID, "step", step.ID, "error", err)
		value, err = e.invokeStep(ctx, step, exec.ec)
	}
	if err != nil {
		return &apperr.StepError{StepID: step.ID, Err: err}
	}

	exec.ec.recordResult(step.ID, value)

	return nil
}

// invokeStep performs the tool call for a step, bounded by the step timeout,
// retrying timeouts up to the step's retry count.
func (e *Engine) invokeStep(ctx context.Context, step Step, ec *executionContext) (any, error) {
	args := ec.resolveArgs(step.Arguments)

	timeout := step.Timeout.Std()
	if timeout <= 0 {
		timeout = e.opts.DefaultStepTimeout
	}

	attempts := step.Retries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		result, err := e.tools.CallTool(stepCtx, step.Server, step.Tool, args)
		cancel()

		if err == nil {
			return result.Text(), nil
		}

		lastErr = err
		if !errors.Is(err, apperr.ErrTimeout) && !errors.Is(err, context.DeadlineExceeded) {
			break
		}
	}

	return nil, lastErr
}
