package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tasknet-io/tasknet/governor"
	"github.com/tasknet-io/tasknet/internal/metrics"
	"github.com/tasknet-io/tasknet/registry"
	"github.com/tasknet-io/tasknet/types"
)

// ExecuteFunc is the payload an agent runs for each assigned task. The
// substrate treats it as opaque domain logic.
type ExecuteFunc func(ctx context.Context, task types.Task, taskCtx types.TaskContext) (any, error)

// MessageFunc optionally handles broadcast and topic messages delivered to
// the agent's mailbox.
type MessageFunc func(msg registry.Message)

// LocalAgent is a goroutine-backed in-process agent. It owns a registry
// handle, embeds a reliability governor wrapped around every task it
// executes, and serves the TaskAgent contract.
type LocalAgent struct {
	*registry.LocalHandle

	id        string
	metadata  types.AgentMetadata
	execute   ExecuteFunc
	onMessage MessageFunc
	governor  *governor.Governor
	collector *metrics.Collector
	logger    *zap.Logger

	requests chan assignRequest
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type assignRequest struct {
	task    types.Task
	taskCtx types.TaskContext
	reply   chan assignReply
}

type assignReply struct {
	result types.Result
	err    error
}

// AgentOptions configures a LocalAgent.
type AgentOptions struct {
	Metadata    types.AgentMetadata
	Execute     ExecuteFunc
	OnMessage   MessageFunc
	Governor    governor.Config
	MailboxSize int
	Collector   *metrics.Collector
}

// NewLocalAgent creates and starts an agent. The returned agent is live
// until Stop is called.
func NewLocalAgent(id string, opts AgentOptions, logger *zap.Logger) *LocalAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Execute == nil {
		opts.Execute = func(ctx context.Context, task types.Task, taskCtx types.TaskContext) (any, error) {
			return task.Payload, nil
		}
	}
	if opts.Metadata.Status == "" {
		opts.Metadata.Status = types.AgentRunning
	}
	if opts.Collector != nil {
		prev := opts.Governor.Breaker.OnStateChange
		collector := opts.Collector
		opts.Governor.Breaker.OnStateChange = func(from, to governor.BreakerState) {
			collector.RecordBreakerTransition(id, from.String(), to.String())
			if prev != nil {
				prev(from, to)
			}
		}
	}

	a := &LocalAgent{
		LocalHandle: registry.NewLocalHandle(opts.MailboxSize),
		id:          id,
		metadata:    opts.Metadata,
		execute:     opts.Execute,
		onMessage:   opts.OnMessage,
		governor:    governor.New(opts.Governor, logger),
		collector:   opts.Collector,
		logger:      logger.With(zap.String("component", "agent"), zap.String("agent_id", id)),
		requests:    make(chan assignRequest),
		stopCh:      make(chan struct{}),
	}

	a.wg.Add(1)
	go a.run()
	return a
}

// ID returns the agent's id.
func (a *LocalAgent) ID() string {
	return a.id
}

// Metadata returns the metadata the agent registers with.
func (a *LocalAgent) Metadata() types.AgentMetadata {
	return a.metadata.Clone()
}

// Governor returns the agent's reliability governor.
func (a *LocalAgent) Governor() *governor.Governor {
	return a.governor
}

// AssignTask implements the TaskAgent contract. The call blocks on a
// one-shot reply channel for this task only, never on unrelated work.
func (a *LocalAgent) AssignTask(ctx context.Context, task types.Task, taskCtx types.TaskContext) (types.Result, error) {
	req := assignRequest{task: task, taskCtx: taskCtx, reply: make(chan assignReply, 1)}

	select {
	case a.requests <- req:
	case <-a.stopCh:
		return types.Result{}, types.Errorf(types.ErrAgentNotFound, "agent %s stopped", a.id)
	case <-ctx.Done():
		return types.Result{}, ctx.Err()
	}

	select {
	case rep := <-req.reply:
		return rep.result, rep.err
	case <-ctx.Done():
		return types.Result{}, ctx.Err()
	}
}

// Stop shuts the agent down, waits for in-flight tasks, and closes the
// handle so the registry's termination watch removes its record.
func (a *LocalAgent) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopCh)
		a.wg.Wait()
		a.Close()
	})
}

// run is the agent's main loop. Each accepted task executes on its own
// goroutine, gated by the governor, so slow work never blocks the mailbox.
func (a *LocalAgent) run() {
	defer a.wg.Done()

	for {
		select {
		case req := <-a.requests:
			a.wg.Add(1)
			go func(req assignRequest) {
				defer a.wg.Done()
				req.reply <- a.serve(req.task, req.taskCtx)
			}(req)

		case msg := <-a.Mailbox():
			if a.onMessage != nil {
				a.onMessage(msg)
			}

		case <-a.stopCh:
			return
		}
	}
}

func (a *LocalAgent) serve(task types.Task, taskCtx types.TaskContext) assignReply {
	start := time.Now()
	output, err := governor.DoWithResult(context.Background(), a.governor,
		func(ctx context.Context) (any, error) {
			return a.execute(ctx, task, taskCtx)
		})
	if err != nil {
		a.logger.Warn("task failed",
			zap.String("task_id", task.ID),
			zap.String("task_type", string(task.Type)),
			zap.Error(err),
		)
		if governor.IsRejection(err) {
			if a.collector != nil && types.IsCode(err, types.ErrRateLimited) {
				a.collector.RecordRateLimitRejection(a.id)
			}
			return assignReply{err: err}
		}
		return assignReply{err: types.Errorf(types.ErrTaskFailed, "task %s failed", task.ID).WithCause(err)}
	}

	return assignReply{result: types.Result{
		TaskID:   task.ID,
		Output:   output,
		Duration: time.Since(start),
		AgentID:  a.id,
	}}
}

// StartFailure configures LocalSupervisor to fail StartAgent for a type,
// used to exercise terminal routing errors.
type StartFailure func(agentType types.AgentType) error

// LocalSupervisor implements the Supervisor contract with in-process
// agents. Each started agent registers itself in the shared registry.
type LocalSupervisor struct {
	registry *registry.Registry
	logger   *zap.Logger

	mu          sync.Mutex
	payloads    map[types.AgentType]ExecuteFunc
	govConfig   governor.Config
	collector   *metrics.Collector
	mailboxSize int
	agents      map[string]*LocalAgent
	failStart   StartFailure
}

// NewLocalSupervisor creates a supervisor over the given registry.
func NewLocalSupervisor(reg *registry.Registry, govConfig governor.Config, logger *zap.Logger) *LocalSupervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalSupervisor{
		registry:  reg,
		logger:    logger.With(zap.String("component", "supervisor")),
		payloads:  make(map[types.AgentType]ExecuteFunc),
		govConfig: govConfig,
		agents:    make(map[string]*LocalAgent),
	}
}

// WithCollector enables metrics on all subsequently started agents.
func (s *LocalSupervisor) WithCollector(c *metrics.Collector) *LocalSupervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collector = c
	return s
}

// WithMailboxSize sets the mailbox bound for subsequently started agents.
func (s *LocalSupervisor) WithMailboxSize(n int) *LocalSupervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mailboxSize = n
	return s
}

// RegisterPayload binds the domain payload executed by agents of a type.
func (s *LocalSupervisor) RegisterPayload(agentType types.AgentType, fn ExecuteFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads[agentType] = fn
}

// FailStartWith injects a start failure hook.
func (s *LocalSupervisor) FailStartWith(fn StartFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStart = fn
}

// StartAgent implements Supervisor.
func (s *LocalSupervisor) StartAgent(ctx context.Context, agentType types.AgentType, config types.AgentConfig) (string, error) {
	s.mu.Lock()
	fail := s.failStart
	payload := s.payloads[agentType]
	collector := s.collector
	mailboxSize := s.mailboxSize
	s.mu.Unlock()

	if fail != nil {
		if err := fail(agentType); err != nil {
			return "", types.Errorf(types.ErrAgentStartFailed, "start %s agent", agentType).WithCause(err)
		}
	}

	id := string(agentType) + "-" + uuid.NewString()
	agent := NewLocalAgent(id, AgentOptions{
		Metadata: types.AgentMetadata{
			Type:         agentType,
			Capabilities: config.Capabilities,
			Status:       types.AgentRunning,
			Extra:        config.Extra,
		},
		Execute:     payload,
		Governor:    s.govConfig,
		Collector:   collector,
		MailboxSize: mailboxSize,
	}, s.logger)

	if err := s.registry.Register(id, agent, agent.Metadata()); err != nil {
		agent.Stop()
		return "", err
	}

	s.mu.Lock()
	s.agents[id] = agent
	s.mu.Unlock()

	s.logger.Info("agent started", zap.String("agent_id", id), zap.String("type", string(agentType)))
	return id, nil
}

// StopAgent implements Supervisor. The registry record disappears through
// the handle's termination watch.
func (s *LocalSupervisor) StopAgent(ctx context.Context, agentID string) error {
	s.mu.Lock()
	agent, ok := s.agents[agentID]
	delete(s.agents, agentID)
	s.mu.Unlock()

	if !ok {
		return types.Errorf(types.ErrAgentNotFound, "agent %s not supervised", agentID)
	}
	agent.Stop()
	return nil
}

// Agents returns the ids of all supervised agents.
func (s *LocalSupervisor) Agents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.agents))
	for id := range s.agents {
		out = append(out, id)
	}
	return out
}

var (
	_ TaskAgent  = (*LocalAgent)(nil)
	_ Supervisor = (*LocalSupervisor)(nil)
)
