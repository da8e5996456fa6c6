package tasknet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tasknet-io/tasknet/types"
)

func TestNewRoutesTaskThroughStartedAgent(t *testing.T) {
	net, err := New(
		WithPayload(types.TypeAnalysis, func(ctx context.Context, task types.Task, taskCtx types.TaskContext) (any, error) {
			return "analyzed:" + task.ID, nil
		}),
	)
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, net.Shutdown(ctx))
	}()

	result, err := net.RouteTask(context.Background(), types.Task{ID: "t1", Type: types.TaskAnalyze}, nil)
	require.NoError(t, err)
	require.Equal(t, "analyzed:t1", result.Output)
	require.Equal(t, 1, net.Registry.Len())
}

func TestNewExecutesWorkflow(t *testing.T) {
	net, err := New(
		WithPayload(types.TypeAnalysis, func(ctx context.Context, task types.Task, taskCtx types.TaskContext) (any, error) {
			return task.ID, nil
		}),
		WithPayload(types.TypeGeneration, func(ctx context.Context, task types.Task, taskCtx types.TaskContext) (any, error) {
			return task.ID, nil
		}),
	)
	require.NoError(t, err)
	defer net.Shutdown(context.Background())

	spec := types.WorkflowSpec{
		ID:   "wf-1",
		Type: "build",
		Steps: []types.WorkflowStep{
			{ID: "scan", Task: types.Task{Type: types.TaskAnalyze}},
			{ID: "emit", Task: types.Task{Type: types.TaskGenerate}, DependsOn: []string{"scan"}},
		},
	}
	result, err := net.ExecuteWorkflow(context.Background(), spec)
	require.NoError(t, err)
	require.Len(t, result.StepResults, 2)
}
