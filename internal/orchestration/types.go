// Package orchestration implements the workflow executor: plan validation,
// dependency-driven task graph execution, checkpoints, and progress
// reporting, grounded in the same dependency-graph and execution-bookkeeping
// shape used throughout this codebase's task-distribution layers.
package orchestration

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/truongnat/agentic-sdlc-orchestrator/internal/recovery"
	"github.com/truongnat/agentic-sdlc-orchestrator/internal/task"
)

// Pattern is the orchestration pattern a WorkflowPlan declares.
type Pattern string

const (
	PatternSequentialHandoff  Pattern = "sequential_handoff"
	PatternParallelExecution  Pattern = "parallel_execution"
	PatternDynamicRouting     Pattern = "dynamic_routing"
)

// ExecutionState is the WorkflowExecution state machine.
type ExecutionState string

const (
	ExecutionPending      ExecutionState = "pending"
	ExecutionInitializing ExecutionState = "initializing"
	ExecutionRunning      ExecutionState = "running"
	ExecutionPaused       ExecutionState = "paused"
	ExecutionCompleted    ExecutionState = "completed"
	ExecutionFailed       ExecutionState = "failed"
	ExecutionCancelled    ExecutionState = "cancelled"
)

func (s ExecutionState) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	default:
		return false
	}
}

// AgentAssignment is one node of a WorkflowPlan.
type AgentAssignment struct {
	ID               string
	Role             string
	Priority         task.Priority
	EstimatedDuration time.Duration
	Dependencies     []string
}

// WorkflowPlan is the executor's input, produced either by the caller or by
// the plan-generator shim.
type WorkflowPlan struct {
	ID                string
	Pattern           Pattern
	Assignments       []AgentAssignment
	EstimatedDuration time.Duration
	Priority          task.Priority
}

// Validate enforces the WorkflowPlan invariants: non-empty id, non-empty
// assignments, dependencies referencing only ids present in the plan.
func (p *WorkflowPlan) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: plan id is required", ErrValidation)
	}
	if len(p.Assignments) == 0 {
		return fmt.Errorf("%w: plan must have at least one assignment", ErrValidation)
	}
	ids := make(map[string]bool, len(p.Assignments))
	for _, a := range p.Assignments {
		ids[a.ID] = true
	}
	for _, a := range p.Assignments {
		for _, dep := range a.Dependencies {
			if !ids[dep] {
				return fmt.Errorf("%w: assignment %s depends on unknown id %s", ErrValidation, a.ID, dep)
			}
		}
	}
	return nil
}

// TaskExecution is the executor's bookkeeping wrapper around an AgentTask.
type TaskExecution struct {
	Task             *task.AgentTask
	AssignedInstance string
	Dependencies     map[string]bool
	RetryCount       int
	MaxRetries       int
	Priority         task.Priority
}

// NewTaskExecution builds a pending TaskExecution from a plan assignment.
func NewTaskExecution(a AgentAssignment, maxRetries int) *TaskExecution {
	deps := make(map[string]bool, len(a.Dependencies))
	for _, d := range a.Dependencies {
		deps[d] = true
	}
	t := task.New(a.Role, task.Input{}).WithPriority(a.Priority)
	return &TaskExecution{
		Task:         t,
		Dependencies: deps,
		MaxRetries:   maxRetries,
		Priority:     a.Priority,
	}
}

// WorkflowExecution is one live run of a WorkflowPlan.
type WorkflowExecution struct {
	ID         string
	PlanID     string
	State      ExecutionState
	StartTime  time.Time
	EndTime    *time.Time
	CurrentStep int
	TotalSteps  int

	TaskExecutions map[string]*TaskExecution
	Results        map[string]*task.AgentResult

	Pending   map[string]bool
	Active    map[string]bool
	Completed map[string]bool
	Failed    map[string]bool

	Recovery *recovery.Record
}

// NewWorkflowExecution seeds an execution with every task PENDING and an
// empty, disjoint set partition.
func NewWorkflowExecution(plan *WorkflowPlan) *WorkflowExecution {
	we := &WorkflowExecution{
		ID:             uuid.New().String(),
		PlanID:         plan.ID,
		State:          ExecutionPending,
		StartTime:      time.Now(),
		TotalSteps:     len(plan.Assignments),
		TaskExecutions: make(map[string]*TaskExecution),
		Results:        make(map[string]*task.AgentResult),
		Pending:        make(map[string]bool),
		Active:         make(map[string]bool),
		Completed:      make(map[string]bool),
		Failed:         make(map[string]bool),
		Recovery:       recovery.NewRecord(),
	}
	for _, a := range plan.Assignments {
		te := NewTaskExecution(a, defaultMaxRetries)
		we.TaskExecutions[a.ID] = te
		we.Pending[a.ID] = true
	}
	return we
}

const defaultMaxRetries = 3

// ProgressPercentage implements the invariant
// progress = |completed| / |task_executions| * 100.
func (we *WorkflowExecution) ProgressPercentage() float64 {
	total := len(we.TaskExecutions)
	if total == 0 {
		return 0
	}
	return float64(len(we.Completed)) / float64(total) * 100
}

// ValidatePartition asserts the four task-id sets are pairwise disjoint and
// union to the full task-execution key set, the core invariant of the
// whole executor.
func (we *WorkflowExecution) ValidatePartition() error {
	total := len(we.TaskExecutions)
	union := len(we.Pending) + len(we.Active) + len(we.Completed) + len(we.Failed)
	if union != total {
		return fmt.Errorf("%w: task-id sets do not partition task_executions (union=%d, total=%d)", ErrState, union, total)
	}
	seen := make(map[string]string, total)
	for _, set := range []struct {
		name string
		ids  map[string]bool
	}{
		{"pending", we.Pending}, {"active", we.Active}, {"completed", we.Completed}, {"failed", we.Failed},
	} {
		for id := range set.ids {
			if prev, ok := seen[id]; ok {
				return fmt.Errorf("%w: task %s present in both %s and %s", ErrState, id, prev, set.name)
			}
			seen[id] = set.name
		}
	}
	return nil
}

// moveTask relocates a task id between the four sets atomically; callers
// hold the execution's lock via the Executor.
func (we *WorkflowExecution) moveTask(id string, from, to map[string]bool) {
	delete(from, id)
	to[id] = true
}
