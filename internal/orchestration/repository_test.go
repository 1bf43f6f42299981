package orchestration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepositoryPlanRoundTrip(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	plan := samplePlan()
	require.NoError(t, repo.CreatePlan(ctx, plan))

	got, err := repo.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.ID, got.ID)

	_, err = repo.GetPlan(ctx, "missing")
	assert.Error(t, err)
}

func TestMemoryRepositoryExecutionRoundTrip(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	we := NewWorkflowExecution(samplePlan())
	require.NoError(t, repo.CreateExecution(ctx, we))

	got, err := repo.GetExecution(ctx, we.ID)
	require.NoError(t, err)
	assert.Equal(t, we.ID, got.ID)

	we.State = ExecutionRunning
	require.NoError(t, repo.UpdateExecution(ctx, we))

	got, err = repo.GetExecution(ctx, we.ID)
	require.NoError(t, err)
	assert.Equal(t, ExecutionRunning, got.State)
}

func TestMemoryRepositoryUpdateUnknownExecutionFails(t *testing.T) {
	repo := NewMemoryRepository()
	we := NewWorkflowExecution(samplePlan())
	err := repo.UpdateExecution(context.Background(), we)
	assert.Error(t, err)
}

func TestMemoryRepositoryListExecutionsFiltersByState(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	running := NewWorkflowExecution(samplePlan())
	running.State = ExecutionRunning
	require.NoError(t, repo.CreateExecution(ctx, running))

	completed := NewWorkflowExecution(samplePlan())
	completed.State = ExecutionCompleted
	require.NoError(t, repo.CreateExecution(ctx, completed))

	runningOnly, err := repo.ListExecutions(ctx, ExecutionRunning, 0)
	require.NoError(t, err)
	assert.Len(t, runningOnly, 1)
	assert.Equal(t, running.ID, runningOnly[0].ID)

	all, err := repo.ListExecutions(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryRepositoryListExecutionsRespectsLimit(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.CreateExecution(ctx, NewWorkflowExecution(samplePlan())))
	}

	limited, err := repo.ListExecutions(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestDefaultArangoRepositoryConfigNamesCollections(t *testing.T) {
	cfg := DefaultArangoRepositoryConfig()
	assert.Equal(t, "workflow_plans", cfg.PlansCollection)
	assert.Equal(t, "workflow_executions", cfg.ExecutionsCollection)
	assert.True(t, cfg.EnableIndexes)
}
