package orchestration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truongnat/agentic-sdlc-orchestrator/internal/task"
)

func samplePlan() *WorkflowPlan {
	return &WorkflowPlan{
		ID:      "plan-1",
		Pattern: PatternSequentialHandoff,
		Assignments: []AgentAssignment{
			{ID: "a", Role: "ba"},
			{ID: "b", Role: "sa", Dependencies: []string{"a"}},
		},
	}
}

func TestWorkflowPlanValidateRejectsMissingID(t *testing.T) {
	p := samplePlan()
	p.ID = ""
	assert.ErrorIs(t, p.Validate(), ErrValidation)
}

func TestWorkflowPlanValidateRejectsEmptyAssignments(t *testing.T) {
	p := samplePlan()
	p.Assignments = nil
	assert.ErrorIs(t, p.Validate(), ErrValidation)
}

func TestWorkflowPlanValidateRejectsUnknownDependency(t *testing.T) {
	p := samplePlan()
	p.Assignments[1].Dependencies = []string{"missing"}
	assert.ErrorIs(t, p.Validate(), ErrValidation)
}

func TestWorkflowPlanValidateAcceptsWellFormedPlan(t *testing.T) {
	p := samplePlan()
	assert.NoError(t, p.Validate())
}

func TestNewWorkflowExecutionSeedsEveryTaskPending(t *testing.T) {
	we := NewWorkflowExecution(samplePlan())
	assert.Equal(t, ExecutionPending, we.State)
	assert.Len(t, we.TaskExecutions, 2)
	assert.True(t, we.Pending["a"])
	assert.True(t, we.Pending["b"])
	assert.Empty(t, we.Active)
	assert.Empty(t, we.Completed)
	assert.Empty(t, we.Failed)
	require.NoError(t, we.ValidatePartition())
}

func TestProgressPercentageReflectsCompletedShare(t *testing.T) {
	we := NewWorkflowExecution(samplePlan())
	assert.Equal(t, 0.0, we.ProgressPercentage())

	we.moveTask("a", we.Pending, we.Completed)
	assert.Equal(t, 50.0, we.ProgressPercentage())

	we.moveTask("b", we.Pending, we.Completed)
	assert.Equal(t, 100.0, we.ProgressPercentage())
}

func TestValidatePartitionCatchesOverlap(t *testing.T) {
	we := NewWorkflowExecution(samplePlan())
	we.Active["a"] = true // "a" is in Pending and Active at once
	assert.ErrorIs(t, we.ValidatePartition(), ErrState)
}

func TestValidatePartitionCatchesMissingTask(t *testing.T) {
	we := NewWorkflowExecution(samplePlan())
	delete(we.Pending, "a")
	assert.ErrorIs(t, we.ValidatePartition(), ErrState)
}

func TestMoveTaskRelocatesID(t *testing.T) {
	we := NewWorkflowExecution(samplePlan())
	we.moveTask("a", we.Pending, we.Active)
	assert.False(t, we.Pending["a"])
	assert.True(t, we.Active["a"])
	require.NoError(t, we.ValidatePartition())
}

func TestNewTaskExecutionCarriesPriorityAndDependencies(t *testing.T) {
	a := AgentAssignment{ID: "x", Role: "implementation", Priority: task.PriorityHigh, Dependencies: []string{"a", "b"}}
	te := NewTaskExecution(a, 5)
	assert.Equal(t, task.PriorityHigh, te.Priority)
	assert.Equal(t, 5, te.MaxRetries)
	assert.True(t, te.Dependencies["a"])
	assert.True(t, te.Dependencies["b"])
	assert.Equal(t, "implementation", te.Task.Type)
}
