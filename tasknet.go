// Package tasknet provides a top-level convenience entry point for standing
// up the coordination substrate with minimal boilerplate.
//
// Usage:
//
//	import "github.com/tasknet-io/tasknet"
//
//	net, err := tasknet.New(
//	    tasknet.WithPayload(types.TypeAnalysis, analyzeFn),
//	    tasknet.WithGovernor(governor.DefaultConfig()),
//	)
//	result, err := net.RouteTask(ctx, task, nil)
//
// This wires a registry, a local supervisor, and a coordinator together;
// use the individual packages directly when you need finer control.
package tasknet

import (
	"context"

	"go.uber.org/zap"

	"github.com/tasknet-io/tasknet/coordinator"
	"github.com/tasknet-io/tasknet/governor"
	"github.com/tasknet-io/tasknet/registry"
	"github.com/tasknet-io/tasknet/types"
)

// Net bundles a registry, a supervisor, and a coordinator.
type Net struct {
	Registry    *registry.Registry
	Supervisor  *coordinator.LocalSupervisor
	Coordinator *coordinator.Coordinator
}

// Option configures the substrate created by [New].
type Option func(*options)

type options struct {
	logger      *zap.Logger
	govConfig   governor.Config
	coordConfig coordinator.Config
	payloads    map[types.AgentType]coordinator.ExecuteFunc
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithGovernor sets the reliability envelope started agents run under.
func WithGovernor(config governor.Config) Option {
	return func(o *options) { o.govConfig = config }
}

// WithRouting overrides the coordinator's routing configuration.
func WithRouting(config coordinator.Config) Option {
	return func(o *options) { o.coordConfig = config }
}

// WithPayload binds the function agents of a type execute per task.
func WithPayload(agentType types.AgentType, fn coordinator.ExecuteFunc) Option {
	return func(o *options) { o.payloads[agentType] = fn }
}

// New creates a ready-to-use substrate. Agents start on demand as tasks
// are routed; call [Net.Shutdown] when done.
func New(opts ...Option) (*Net, error) {
	o := &options{
		govConfig:   governor.DefaultConfig(),
		coordConfig: coordinator.DefaultConfig(),
		payloads:    make(map[types.AgentType]coordinator.ExecuteFunc),
	}
	for _, opt := range opts {
		opt(o)
	}

	reg := registry.New(o.logger)
	sup := coordinator.NewLocalSupervisor(reg, o.govConfig, o.logger)
	for agentType, fn := range o.payloads {
		sup.RegisterPayload(agentType, fn)
	}
	coord := coordinator.New(reg, sup, o.coordConfig, nil, o.logger)

	return &Net{Registry: reg, Supervisor: sup, Coordinator: coord}, nil
}

// RouteTask dispatches one task through the coordinator.
func (n *Net) RouteTask(ctx context.Context, task types.Task, taskCtx types.TaskContext) (types.Result, error) {
	return n.Coordinator.RouteTask(ctx, task, taskCtx)
}

// ExecuteWorkflow runs a workflow DAG to a terminal outcome.
func (n *Net) ExecuteWorkflow(ctx context.Context, spec types.WorkflowSpec) (types.WorkflowResult, error) {
	return n.Coordinator.ExecuteWorkflow(ctx, spec)
}

// Shutdown stops all supervised agents.
func (n *Net) Shutdown(ctx context.Context) error {
	return n.Coordinator.Shutdown(ctx)
}
