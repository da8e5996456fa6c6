package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tasknet-io/tasknet/internal/metrics"
	"github.com/tasknet-io/tasknet/registry"
	"github.com/tasknet-io/tasknet/types"
)

// defaultRouting is the static task-type to agent-type table. Unknown task
// types fall through to analysis.
var defaultRouting = map[types.TaskType]types.AgentType{
	types.TaskAnalyze:       types.TypeAnalysis,
	types.TaskReview:        types.TypeAnalysis,
	types.TaskGenerate:      types.TypeGeneration,
	types.TaskRefactor:      types.TypeGeneration,
	types.TaskResearch:      types.TypeResearch,
	types.TaskReviewChanges: types.TypeReview,
}

// Config configures a Coordinator.
type Config struct {
	// Routing overrides entries of the default task-type routing table.
	Routing map[types.TaskType]types.AgentType

	// DefaultAgentType receives task types absent from the routing table.
	DefaultAgentType types.AgentType
}

// DefaultConfig returns the coordinator defaults.
func DefaultConfig() Config {
	return Config{DefaultAgentType: types.TypeAnalysis}
}

// Coordinator routes tasks to registered agents, starting new agents on
// demand, and orchestrates multi-step workflows over them.
type Coordinator struct {
	registry   *registry.Registry
	supervisor Supervisor
	routing    map[types.TaskType]types.AgentType
	fallback   types.AgentType
	collector  *metrics.Collector
	logger     *zap.Logger

	wfMu      sync.RWMutex
	workflows map[string]*workflowRun

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a Coordinator. The supervisor may be nil, which disables
// on-demand agent starts. The collector may be nil.
func New(reg *registry.Registry, sup Supervisor, config Config, collector *metrics.Collector, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}

	routing := make(map[types.TaskType]types.AgentType, len(defaultRouting)+len(config.Routing))
	for tt, at := range defaultRouting {
		routing[tt] = at
	}
	for tt, at := range config.Routing {
		routing[tt] = at
	}
	fallback := config.DefaultAgentType
	if fallback == "" {
		fallback = types.TypeAnalysis
	}

	return &Coordinator{
		registry:   reg,
		supervisor: sup,
		routing:    routing,
		fallback:   fallback,
		collector:  collector,
		logger:     logger.With(zap.String("component", "coordinator")),
		workflows:  make(map[string]*workflowRun),
		closed:     make(chan struct{}),
	}
}

// AgentTypeFor resolves the agent type a task type routes to.
func (c *Coordinator) AgentTypeFor(taskType types.TaskType) types.AgentType {
	if at, ok := c.routing[taskType]; ok {
		return at
	}
	return c.fallback
}

// RouteTask resolves an agent for the task, starting one when none
// qualifies, dispatches, and returns the agent's result. Dispatch runs on
// its own goroutine; the reply is relayed exactly once.
func (c *Coordinator) RouteTask(ctx context.Context, task types.Task, taskCtx types.TaskContext) (types.Result, error) {
	start := time.Now()
	agentType := c.AgentTypeFor(task.Type)

	target, err := c.selectAgent(ctx, agentType, task.Requirements)
	if err != nil {
		c.recordRouted(task, agentType, "route_failed", start)
		return types.Result{}, err
	}

	type outcome struct {
		result types.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := target.AssignTask(ctx, task, taskCtx)
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			c.recordRouted(task, agentType, "failed", start)
			return types.Result{}, out.err
		}
		c.recordRouted(task, agentType, "ok", start)
		return out.result, nil
	case <-ctx.Done():
		c.recordRouted(task, agentType, "cancelled", start)
		return types.Result{}, ctx.Err()
	}
}

// selectAgent picks the first live agent of the type whose capabilities
// cover the task requirements, starting one via the supervisor on a miss.
func (c *Coordinator) selectAgent(ctx context.Context, agentType types.AgentType, requirements []string) (TaskAgent, error) {
	for _, rec := range c.registry.FindByType(agentType) {
		if !rec.Metadata.HasAllCapabilities(requirements) {
			continue
		}
		if agent, ok := rec.Handle.(TaskAgent); ok {
			return agent, nil
		}
	}

	if c.supervisor == nil {
		return nil, types.Errorf(types.ErrAgentNotFound, "no %s agent satisfies %v", agentType, requirements)
	}

	id, err := c.supervisor.StartAgent(ctx, agentType, types.AgentConfig{
		Type:         agentType,
		Capabilities: requirements,
	})
	if err != nil {
		if c.collector != nil {
			c.collector.RecordAgentStarted(string(agentType), "failed")
		}
		c.logger.Error("on-demand agent start failed",
			zap.String("agent_type", string(agentType)), zap.Error(err))
		return nil, err
	}
	if c.collector != nil {
		c.collector.RecordAgentStarted(string(agentType), "ok")
	}
	c.logger.Info("agent started on demand",
		zap.String("agent_id", id), zap.String("agent_type", string(agentType)))

	rec, err := c.registry.Lookup(id)
	if err != nil {
		return nil, err
	}
	agent, ok := rec.Handle.(TaskAgent)
	if !ok {
		return nil, types.Errorf(types.ErrAgentNotFound, "agent %s does not accept tasks", id)
	}
	return agent, nil
}

// StartAgent starts an agent of the given type through the supervisor.
func (c *Coordinator) StartAgent(ctx context.Context, agentType types.AgentType, config types.AgentConfig) (string, error) {
	if c.supervisor == nil {
		return "", types.Errorf(types.ErrAgentStartFailed, "no supervisor configured")
	}
	return c.supervisor.StartAgent(ctx, agentType, config)
}

// StopAgent stops an agent through the supervisor.
func (c *Coordinator) StopAgent(ctx context.Context, agentID string) error {
	if c.supervisor == nil {
		return types.Errorf(types.ErrAgentNotFound, "no supervisor configured")
	}
	return c.supervisor.StopAgent(ctx, agentID)
}

// SystemStatus is a point-in-time snapshot of the coordination substrate.
type SystemStatus struct {
	AgentCount      int                       `json:"agent_count"`
	AgentsByType    map[types.AgentType]int   `json:"agents_by_type"`
	AgentsByStatus  map[types.AgentStatus]int `json:"agents_by_status"`
	ActiveWorkflows []string                  `json:"active_workflows"`
}

// GetSystemStatus reports agent population and in-flight workflows.
func (c *Coordinator) GetSystemStatus() SystemStatus {
	records := c.registry.ListAll()

	status := SystemStatus{
		AgentCount:     len(records),
		AgentsByType:   make(map[types.AgentType]int),
		AgentsByStatus: make(map[types.AgentStatus]int),
	}
	for _, rec := range records {
		status.AgentsByType[rec.Metadata.Type]++
		status.AgentsByStatus[rec.Metadata.Status]++
	}
	if c.collector != nil {
		for at, n := range status.AgentsByType {
			c.collector.SetRegisteredAgents(string(at), n)
		}
	}

	c.wfMu.RLock()
	for id := range c.workflows {
		status.ActiveWorkflows = append(status.ActiveWorkflows, id)
	}
	c.wfMu.RUnlock()

	return status
}

// Shutdown stops every supervised agent in parallel. Workflow executions
// already in flight finish on their own.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)

		agents, ok := c.supervisor.(interface{ Agents() []string })
		if c.supervisor == nil || !ok {
			return
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, id := range agents.Agents() {
			g.Go(func() error {
				return c.supervisor.StopAgent(gctx, id)
			})
		}
		err = g.Wait()
	})
	return err
}

func (c *Coordinator) recordRouted(task types.Task, agentType types.AgentType, status string, start time.Time) {
	if c.collector == nil {
		return
	}
	c.collector.RecordTaskRouted(string(task.Type), string(agentType), status, time.Since(start))
}
