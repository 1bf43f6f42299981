package orchestration

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truongnat/agentic-sdlc-orchestrator/internal/agent"
	"github.com/truongnat/agentic-sdlc-orchestrator/internal/pool"
	"github.com/truongnat/agentic-sdlc-orchestrator/internal/task"
)

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func echoFactory(role string, fail bool) pool.InstanceFactory {
	return func() (*agent.Instance, error) {
		inst := agent.New(role, testLogger())
		step := func(_ context.Context, t *task.AgentTask) (*task.Output, error) {
			if fail {
				return nil, assertError
			}
			return &task.Output{Data: t.ID, Format: task.FormatText, Confidence: 1}, nil
		}
		if err := inst.Initialize(agent.Config{Role: role, Step: step}); err != nil {
			return nil, err
		}
		return inst, nil
	}
}

var assertError = &staticErr{"simulated step failure"}

type staticErr struct{ msg string }

func (e *staticErr) Error() string { return e.msg }

func newTestManager(t *testing.T, role string, fail bool) *pool.Manager {
	t.Helper()
	mgr := pool.NewManager(testLogger())
	_, err := mgr.CreatePool(pool.Config{
		Role:        role,
		Strategy:    pool.StrategyRoundRobin,
		Thresholds:  pool.DefaultScalingThresholds(1, 2),
		NewInstance: echoFactory(role, fail),
		Logger:      testLogger(),
	})
	require.NoError(t, err)
	return mgr
}

func newTestExecutor(t *testing.T, mgr *pool.Manager) *Executor {
	t.Helper()
	e, err := New(Config{
		Pools:       mgr,
		TaskTimeout: 2 * time.Second,
		Logger:      testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(e.Stop)
	return e
}

func waitForTerminal(t *testing.T, e *Executor, id string) *WorkflowExecution {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		we, err := e.Status(id)
		require.NoError(t, err)
		if we.State.IsTerminal() {
			return we
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("execution never reached a terminal state")
	return nil
}

func TestExecuteRejectsInvalidPlan(t *testing.T) {
	mgr := newTestManager(t, "implementation", false)
	e := newTestExecutor(t, mgr)

	_, err := e.Execute(&WorkflowPlan{}, Callbacks{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestExecuteSequentialHandoffCompletes(t *testing.T) {
	mgr := newTestManager(t, "implementation", false)
	e := newTestExecutor(t, mgr)

	plan := &WorkflowPlan{
		ID:      "p1",
		Pattern: PatternSequentialHandoff,
		Assignments: []AgentAssignment{
			{ID: "a", Role: "implementation"},
			{ID: "b", Role: "implementation", Dependencies: []string{"a"}},
		},
	}

	id, err := e.Execute(plan, Callbacks{})
	require.NoError(t, err)

	we := waitForTerminal(t, e, id)
	assert.Equal(t, ExecutionCompleted, we.State)
	assert.Equal(t, 100.0, we.ProgressPercentage())
	assert.NoError(t, we.ValidatePartition())
}

func TestExecuteUpdatesPoolMetricsOnCompletion(t *testing.T) {
	mgr := newTestManager(t, "implementation", false)
	e := newTestExecutor(t, mgr)

	plan := &WorkflowPlan{
		ID:      "p1b",
		Pattern: PatternSequentialHandoff,
		Assignments: []AgentAssignment{
			{ID: "a", Role: "implementation"},
		},
	}

	id, err := e.Execute(plan, Callbacks{})
	require.NoError(t, err)
	waitForTerminal(t, e, id)

	metrics := e.Metrics()["implementation"]
	assert.Equal(t, 0.1, metrics.SuccessRate, "pool.Complete must run after dispatch so the success-rate EMA advances")
}

type recordingRepo struct {
	*MemoryRepository
	creates int
	updates int
}

func newRecordingRepo() *recordingRepo {
	return &recordingRepo{MemoryRepository: NewMemoryRepository()}
}

func (r *recordingRepo) CreateExecution(ctx context.Context, execution *WorkflowExecution) error {
	r.creates++
	return r.MemoryRepository.CreateExecution(ctx, execution)
}

func (r *recordingRepo) UpdateExecution(ctx context.Context, execution *WorkflowExecution) error {
	r.updates++
	return r.MemoryRepository.UpdateExecution(ctx, execution)
}

func TestExecutePersistsThroughConfiguredRepository(t *testing.T) {
	mgr := newTestManager(t, "implementation", false)
	repo := newRecordingRepo()
	e, err := New(Config{
		Pools:       mgr,
		Repo:        repo,
		TaskTimeout: 2 * time.Second,
		Logger:      testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(e.Stop)

	plan := &WorkflowPlan{
		ID:      "p1c",
		Pattern: PatternSequentialHandoff,
		Assignments: []AgentAssignment{
			{ID: "a", Role: "implementation"},
		},
	}

	id, err := e.Execute(plan, Callbacks{})
	require.NoError(t, err)
	waitForTerminal(t, e, id)

	assert.Equal(t, 1, repo.creates)
	assert.GreaterOrEqual(t, repo.updates, 1)

	stored, err := repo.GetExecution(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, ExecutionCompleted, stored.State)
}

func TestExecuteParallelCompletes(t *testing.T) {
	mgr := newTestManager(t, "implementation", false)
	e := newTestExecutor(t, mgr)

	plan := &WorkflowPlan{
		ID:      "p2",
		Pattern: PatternParallelExecution,
		Assignments: []AgentAssignment{
			{ID: "a", Role: "implementation"},
			{ID: "b", Role: "implementation"},
		},
	}

	id, err := e.Execute(plan, Callbacks{})
	require.NoError(t, err)

	we := waitForTerminal(t, e, id)
	assert.Equal(t, ExecutionCompleted, we.State)
}

func TestExecuteFailsWhenStepErrorsWithNoBackup(t *testing.T) {
	mgr := newTestManager(t, "implementation", true)
	e := newTestExecutor(t, mgr)

	plan := &WorkflowPlan{
		ID:      "p3",
		Pattern: PatternSequentialHandoff,
		Assignments: []AgentAssignment{
			{ID: "a", Role: "implementation"},
		},
	}

	var failedErr error
	id, err := e.Execute(plan, Callbacks{
		OnTaskFailed: func(_, _ string, err error) { failedErr = err },
	})
	require.NoError(t, err)

	we := waitForTerminal(t, e, id)
	assert.Equal(t, ExecutionFailed, we.State)
	assert.Error(t, failedErr)
}

func TestPauseResumeTransitions(t *testing.T) {
	mgr := newTestManager(t, "implementation", false)
	e := newTestExecutor(t, mgr)

	plan := &WorkflowPlan{
		ID:      "p4",
		Pattern: PatternSequentialHandoff,
		Assignments: []AgentAssignment{
			{ID: "a", Role: "implementation"},
		},
	}
	id, err := e.Execute(plan, Callbacks{})
	require.NoError(t, err)

	err = e.Pause(id)
	_ = err // may race with fast completion; only assert resume-with-wrong-state below

	we, statusErr := e.Status(id)
	require.NoError(t, statusErr)
	if we.State == ExecutionPaused {
		require.NoError(t, e.Resume(id))
	}

	waitForTerminal(t, e, id)
}

func slowFactory(role string) pool.InstanceFactory {
	return func() (*agent.Instance, error) {
		inst := agent.New(role, testLogger())
		step := func(_ context.Context, t *task.AgentTask) (*task.Output, error) {
			time.Sleep(200 * time.Millisecond)
			return &task.Output{Data: t.ID, Format: task.FormatText, Confidence: 1}, nil
		}
		if err := inst.Initialize(agent.Config{Role: role, Step: step}); err != nil {
			return nil, err
		}
		return inst, nil
	}
}

func TestCancelMarksExecutionCancelled(t *testing.T) {
	mgr := pool.NewManager(testLogger())
	_, err := mgr.CreatePool(pool.Config{
		Role:        "implementation",
		Strategy:    pool.StrategyRoundRobin,
		Thresholds:  pool.DefaultScalingThresholds(1, 2),
		NewInstance: slowFactory("implementation"),
		Logger:      testLogger(),
	})
	require.NoError(t, err)
	e := newTestExecutor(t, mgr)

	plan := &WorkflowPlan{
		ID:      "p5",
		Pattern: PatternSequentialHandoff,
		Assignments: []AgentAssignment{
			{ID: "a", Role: "implementation"},
			{ID: "b", Role: "implementation", Dependencies: []string{"a"}},
			{ID: "c", Role: "implementation", Dependencies: []string{"b"}},
		},
	}
	id, err := e.Execute(plan, Callbacks{})
	require.NoError(t, err)

	require.NoError(t, e.Cancel(id))

	we, err := e.Status(id)
	require.NoError(t, err)
	assert.Equal(t, ExecutionCancelled, we.State)

	assert.ErrorIs(t, e.Cancel(id), ErrState)
}

func TestStatusUnknownExecutionErrors(t *testing.T) {
	mgr := newTestManager(t, "implementation", false)
	e := newTestExecutor(t, mgr)

	_, err := e.Status("missing")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRollbackWithoutCheckpointsFails(t *testing.T) {
	mgr := newTestManager(t, "implementation", false)
	e := newTestExecutor(t, mgr)

	we := NewWorkflowExecution(samplePlan())
	e.mu.Lock()
	e.executions[we.ID] = we
	e.mu.Unlock()

	err := e.Rollback(we.ID, "")
	assert.ErrorIs(t, err, ErrState)
}

func TestRollbackAfterCompletionRestoresInitialCheckpoint(t *testing.T) {
	mgr := newTestManager(t, "implementation", false)
	e := newTestExecutor(t, mgr)

	plan := &WorkflowPlan{
		ID:      "p6",
		Pattern: PatternSequentialHandoff,
		Assignments: []AgentAssignment{
			{ID: "a", Role: "implementation"},
		},
	}
	id, err := e.Execute(plan, Callbacks{})
	require.NoError(t, err)

	we := waitForTerminal(t, e, id)
	assert.Equal(t, ExecutionCompleted, we.State)
	require.NotEmpty(t, we.Recovery.Checkpoints, "workflow-started checkpoint must be recorded before dispatch")

	initial := we.Recovery.Checkpoints[0]
	require.NoError(t, e.Rollback(id, initial.ID))

	we, statusErr := e.Status(id)
	require.NoError(t, statusErr)
	assert.Equal(t, 0, we.CurrentStep)
}

func TestExecuteRejectsWhenAtMaxConcurrentWorkflows(t *testing.T) {
	mgr := pool.NewManager(testLogger())
	_, err := mgr.CreatePool(pool.Config{
		Role:        "implementation",
		Strategy:    pool.StrategyRoundRobin,
		Thresholds:  pool.DefaultScalingThresholds(1, 2),
		NewInstance: slowFactory("implementation"),
		Logger:      testLogger(),
	})
	require.NoError(t, err)

	e, err := New(Config{
		Pools:                  mgr,
		MaxConcurrentWorkflows: 1,
		TaskTimeout:            2 * time.Second,
		Logger:                 testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(e.Stop)

	blocker := &WorkflowPlan{
		ID:      "cap1",
		Pattern: PatternSequentialHandoff,
		Assignments: []AgentAssignment{
			{ID: "a", Role: "implementation"},
			{ID: "b", Role: "implementation", Dependencies: []string{"a"}},
			{ID: "c", Role: "implementation", Dependencies: []string{"b"}},
		},
	}
	_, err = e.Execute(blocker, Callbacks{})
	require.NoError(t, err)

	second := &WorkflowPlan{
		ID:      "cap2",
		Pattern: PatternSequentialHandoff,
		Assignments: []AgentAssignment{
			{ID: "a", Role: "implementation"},
		},
	}
	_, err = e.Execute(second, Callbacks{})
	assert.ErrorIs(t, err, ErrCapacity)
}

func firstFailsFactory(role string) pool.InstanceFactory {
	var n int32
	return func() (*agent.Instance, error) {
		idx := atomic.AddInt32(&n, 1)
		inst := agent.New(role, testLogger())
		step := func(_ context.Context, t *task.AgentTask) (*task.Output, error) {
			if idx == 1 {
				return nil, assertError
			}
			return &task.Output{Data: t.ID, Format: task.FormatText, Confidence: 1}, nil
		}
		if err := inst.Initialize(agent.Config{Role: role, Step: step}); err != nil {
			return nil, err
		}
		return inst, nil
	}
}

func TestReassignResetsRetryCountToZero(t *testing.T) {
	mgr := pool.NewManager(testLogger())
	_, err := mgr.CreatePool(pool.Config{
		Role:        "implementation",
		Strategy:    pool.StrategyRoundRobin,
		Thresholds:  pool.DefaultScalingThresholds(2, 2),
		NewInstance: firstFailsFactory("implementation"),
		Logger:      testLogger(),
	})
	require.NoError(t, err)
	e := newTestExecutor(t, mgr)

	we := NewWorkflowExecution(&WorkflowPlan{
		ID:      "p8",
		Pattern: PatternSequentialHandoff,
		Assignments: []AgentAssignment{
			{ID: "a", Role: "implementation"},
		},
	})
	te := we.TaskExecutions["a"]
	te.RetryCount = te.MaxRetries // next failure is already at the retry ceiling

	e.mu.Lock()
	e.executions[we.ID] = we
	e.callbacks[we.ID] = Callbacks{}
	e.mu.Unlock()

	require.NoError(t, e.runTask(we, "a"))
	assert.Equal(t, 0, te.RetryCount, "a REASSIGN must reset retry count to 0, not leave it at or past max_retries")
}

func TestCriticalFailureCheckpointsIncludeWorkflowStarted(t *testing.T) {
	mgr := newTestManager(t, "implementation", true)
	e := newTestExecutor(t, mgr)

	plan := &WorkflowPlan{
		ID:      "p7",
		Pattern: PatternSequentialHandoff,
		Assignments: []AgentAssignment{
			{ID: "a", Role: "implementation"},
		},
	}
	id, err := e.Execute(plan, Callbacks{})
	require.NoError(t, err)

	we := waitForTerminal(t, e, id)
	assert.Equal(t, ExecutionFailed, we.State)

	checkpoints := we.Recovery.Checkpoints
	require.NotEmpty(t, checkpoints)
	assert.Equal(t, "workflow-started", checkpoints[0].Phase)

	require.NoError(t, e.Rollback(id, checkpoints[0].ID))
	we, statusErr := e.Status(id)
	require.NoError(t, statusErr)
	assert.Equal(t, 0, we.CurrentStep)
}
