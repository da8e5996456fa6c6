package types

import "time"

// WorkflowStep is one node of a workflow's dependency DAG. Steps are
// immutable once the workflow is submitted.
type WorkflowStep struct {
	ID        string   `json:"id"`
	Target    string   `json:"target,omitempty"`
	Task      Task     `json:"task"`
	DependsOn []string `json:"depends_on,omitempty"`
	Parallel  bool     `json:"parallel,omitempty"`
}

// WorkflowSpec declares a workflow: an ordered list of steps forming a DAG.
type WorkflowSpec struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Steps       []WorkflowStep `json:"steps"`
	Aggregation string         `json:"aggregation,omitempty"`
	Timeout     time.Duration  `json:"timeout,omitempty"`
}

// Validate performs the structural check applied before a workflow is
// accepted. It does not evaluate dependency resolvability; unresolvable
// dependencies surface as step failures during execution.
func (s *WorkflowSpec) Validate() error {
	if s.ID == "" {
		return NewError(ErrInvalidWorkflowSpec, "workflow id is required")
	}
	if s.Type == "" {
		return NewError(ErrInvalidWorkflowSpec, "workflow type is required")
	}
	if len(s.Steps) == 0 {
		return NewError(ErrInvalidWorkflowSpec, "workflow has no steps")
	}
	seen := make(map[string]struct{}, len(s.Steps))
	for _, step := range s.Steps {
		if step.ID == "" {
			return NewError(ErrInvalidWorkflowSpec, "step id is required")
		}
		if _, dup := seen[step.ID]; dup {
			return Errorf(ErrInvalidWorkflowSpec, "duplicate step id %q", step.ID)
		}
		seen[step.ID] = struct{}{}
	}
	return nil
}

// WorkflowStatus is the orchestration status of a workflow execution.
type WorkflowStatus string

const (
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
)

// WorkflowResult is the aggregate returned on terminal completion: the
// shallow merge of per-step results keyed by step id plus timing metadata.
type WorkflowResult struct {
	WorkflowID  string            `json:"workflow_id"`
	Status      WorkflowStatus    `json:"status"`
	StepResults map[string]Result `json:"step_results"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
	Duration    time.Duration     `json:"duration"`
}

// StepFailure identifies the originating step of a workflow failure.
type StepFailure struct {
	WorkflowID string `json:"workflow_id"`
	StepID     string `json:"step_id"`
	Reason     error  `json:"-"`
}

func (f *StepFailure) Error() string {
	return "workflow " + f.WorkflowID + " failed at step " + f.StepID + ": " + f.Reason.Error()
}

func (f *StepFailure) Unwrap() error {
	return f.Reason
}
