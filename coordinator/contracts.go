package coordinator

import (
	"context"

	"github.com/tasknet-io/tasknet/registry"
	"github.com/tasknet-io/tasknet/types"
)

// TaskAgent is the execution contract every dispatch target must honor: a
// registered handle that executes a task and replies exactly once. The
// coordinator resolves registry handles to this interface at dispatch time.
type TaskAgent interface {
	registry.Handle

	// AssignTask executes the task and returns its result or error. The
	// agent applies its own governor and timeouts; the coordinator relays
	// the outcome verbatim.
	AssignTask(ctx context.Context, task types.Task, taskCtx types.TaskContext) (types.Result, error)
}

// Supervisor is the process-supervision contract the coordinator consumes
// but does not implement: starting an agent of a given type registered
// under a fresh id, and stopping one by id.
type Supervisor interface {
	StartAgent(ctx context.Context, agentType types.AgentType, config types.AgentConfig) (string, error)
	StopAgent(ctx context.Context, agentID string) error
}
