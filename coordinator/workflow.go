package coordinator

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/tasknet-io/tasknet/types"
)

// workflowRun tracks one in-flight workflow execution for status reporting.
type workflowRun struct {
	spec      types.WorkflowSpec
	startedAt time.Time
}

type stepOutcome struct {
	stepID string
	result types.Result
	err    error
}

// ExecuteWorkflow runs the spec's dependency DAG to a terminal outcome.
// The dependency-ready frontier is recomputed after every step completion,
// so a step dispatches as soon as its last dependency finishes rather than
// waiting for a whole wave. Exactly one of the result or the error is
// meaningful: a failed workflow carries no partial step results.
func (c *Coordinator) ExecuteWorkflow(ctx context.Context, spec types.WorkflowSpec) (types.WorkflowResult, error) {
	if err := spec.Validate(); err != nil {
		return types.WorkflowResult{}, err
	}

	start := time.Now()
	c.wfMu.Lock()
	c.workflows[spec.ID] = &workflowRun{spec: spec, startedAt: start}
	c.wfMu.Unlock()
	defer func() {
		c.wfMu.Lock()
		delete(c.workflows, spec.ID)
		c.wfMu.Unlock()
	}()

	logger := c.logger.With(zap.String("workflow_id", spec.ID), zap.String("workflow_type", spec.Type))
	logger.Info("workflow started", zap.Int("steps", len(spec.Steps)))

	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	pending := make(map[string]types.WorkflowStep, len(spec.Steps))
	for _, step := range spec.Steps {
		pending[step.ID] = step
	}
	completed := make(map[string]types.Result, len(spec.Steps))
	inFlight := make(map[string]struct{})

	// Buffered to the step count so a failed workflow never strands a
	// dispatch goroutine on send.
	outcomes := make(chan stepOutcome, len(spec.Steps))

	fail := func(stepID string, reason error) (types.WorkflowResult, error) {
		err := &types.StepFailure{WorkflowID: spec.ID, StepID: stepID, Reason: reason}
		logger.Warn("workflow failed", zap.String("step_id", stepID), zap.Error(reason))
		c.recordWorkflow(spec.Type, types.WorkflowFailed, start)
		return types.WorkflowResult{}, err
	}

	for len(completed) < len(spec.Steps) {
		for _, step := range readySteps(pending, completed) {
			delete(pending, step.ID)
			inFlight[step.ID] = struct{}{}
			go c.dispatchStep(ctx, spec.ID, step, stepContext(step, completed), outcomes)
		}

		if len(inFlight) == 0 {
			// Remaining steps reference dependencies that can never
			// complete.
			stepID := firstPendingID(pending)
			return fail(stepID, types.Errorf(types.ErrInvalidWorkflowSpec,
				"step %s has unresolvable dependencies", stepID))
		}

		select {
		case out := <-outcomes:
			delete(inFlight, out.stepID)
			if out.err != nil {
				return fail(out.stepID, out.err)
			}
			completed[out.stepID] = out.result
			logger.Debug("step completed", zap.String("step_id", out.stepID))

		case <-ctx.Done():
			stepID := firstInFlightID(inFlight)
			return fail(stepID, ctx.Err())
		}
	}

	result := types.WorkflowResult{
		WorkflowID:  spec.ID,
		Status:      types.WorkflowCompleted,
		StepResults: completed,
		StartedAt:   start,
		CompletedAt: time.Now(),
		Duration:    time.Since(start),
	}
	logger.Info("workflow completed", zap.Duration("duration", result.Duration))
	c.recordWorkflow(spec.Type, types.WorkflowCompleted, start)
	return result, nil
}

// ActiveWorkflows returns the ids of workflows currently executing.
func (c *Coordinator) ActiveWorkflows() []string {
	c.wfMu.RLock()
	defer c.wfMu.RUnlock()

	out := make([]string, 0, len(c.workflows))
	for id := range c.workflows {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (c *Coordinator) dispatchStep(ctx context.Context, workflowID string, step types.WorkflowStep, taskCtx types.TaskContext, outcomes chan<- stepOutcome) {
	task := step.Task
	if task.ID == "" {
		task.ID = workflowID + "/" + step.ID
	}

	res, err := c.RouteTask(ctx, task, taskCtx)
	outcomes <- stepOutcome{stepID: step.ID, result: res, err: err}
}

// stepContext exposes the results of the step's dependencies to its task,
// keyed by dependency step id.
func stepContext(step types.WorkflowStep, completed map[string]types.Result) types.TaskContext {
	if len(step.DependsOn) == 0 {
		return nil
	}
	taskCtx := make(types.TaskContext, len(step.DependsOn))
	for _, dep := range step.DependsOn {
		if res, ok := completed[dep]; ok {
			taskCtx[dep] = res.Output
		}
	}
	return taskCtx
}

// readySteps returns the pending steps whose dependencies have all
// completed, in deterministic order.
func readySteps(pending map[string]types.WorkflowStep, completed map[string]types.Result) []types.WorkflowStep {
	var ready []types.WorkflowStep
	for _, step := range pending {
		ok := true
		for _, dep := range step.DependsOn {
			if _, done := completed[dep]; !done {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, step)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].ID < ready[j].ID })
	return ready
}

func firstPendingID(pending map[string]types.WorkflowStep) string {
	ids := make([]string, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

func firstInFlightID(inFlight map[string]struct{}) string {
	ids := make([]string, 0, len(inFlight))
	for id := range inFlight {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

func (c *Coordinator) recordWorkflow(workflowType string, status types.WorkflowStatus, start time.Time) {
	if c.collector == nil {
		return
	}
	c.collector.RecordWorkflow(workflowType, string(status), time.Since(start))
}
