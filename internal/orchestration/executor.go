package orchestration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/truongnat/agentic-sdlc-orchestrator/internal/pool"
	"github.com/truongnat/agentic-sdlc-orchestrator/internal/recovery"
	"github.com/truongnat/agentic-sdlc-orchestrator/internal/task"
)

// QualityScorer is the narrow slice of internal/transport.QualityScorer the
// executor needs. Dispatch itself happens one layer down, inside the pool's
// agent instances, which are wired at startup against an
// internal/transport.AgentTransport; the executor only ever talks to the
// pool manager.
type QualityScorer interface {
	Score(ctx context.Context, result *task.AgentResult) (float64, error)
}

// MetricsSink is the narrow metrics surface the executor drives, matched by
// internal/metrics.Registry. It is optional: a nil sink is a no-op.
type MetricsSink interface {
	RecordTaskOutcome(role, outcome string)
	RecordRetry()
}

type noopMetricsSink struct{}

func (noopMetricsSink) RecordTaskOutcome(string, string) {}
func (noopMetricsSink) RecordRetry()                     {}

// DefaultExecutionTimeout bounds how long a single WorkflowExecution may run
// before the monitor loop force-fails it, used when Config.ExecutionTimeout
// is unset.
const DefaultExecutionTimeout = 2 * time.Hour

// DefaultMaxConcurrentWorkflows caps the number of non-terminal executions
// Execute will admit when Config.MaxConcurrentWorkflows is unset.
const DefaultMaxConcurrentWorkflows = 10

// CheckpointInterval is how many completed tasks accumulate between
// automatic checkpoints.
const CheckpointInterval = 3

// MonitorTick is how often the background monitor sweeps active executions
// for timeouts.
const MonitorTick = 30 * time.Second

// Callbacks lets a caller observe an execution's lifecycle without polling
// Status, mirroring the event-callback pattern used elsewhere in this
// codebase for workflow observers.
type Callbacks struct {
	OnTaskCompleted func(execID, taskID string, result *task.AgentResult)
	OnTaskFailed    func(execID, taskID string, err error)
	OnStateChange   func(execID string, from, to ExecutionState)
}

// Config configures an Executor.
type Config struct {
	Pools                  *pool.Manager
	Scorer                 QualityScorer
	Metrics                MetricsSink
	Repo                   ExecutionRepository
	TaskTimeout            time.Duration
	ExecutionTimeout       time.Duration
	MaxConcurrentWorkflows int
	Logger                 logrus.FieldLogger
}

// Executor drives WorkflowExecutions to completion against a pool manager.
// The pool's agent instances are wired, at startup, against whatever
// internal/transport.AgentTransport actually runs a role's step; the
// executor itself never talks to a transport directly.
type Executor struct {
	pools            *pool.Manager
	scorer           QualityScorer
	metrics          MetricsSink
	repo             ExecutionRepository
	taskTimeout      time.Duration
	executionTimeout time.Duration
	maxConcurrent    int
	sem              chan struct{}
	logger           logrus.FieldLogger

	mu         sync.RWMutex
	executions map[string]*WorkflowExecution
	callbacks  map[string]Callbacks

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an Executor and starts its background monitor.
func New(cfg Config) (*Executor, error) {
	if cfg.Pools == nil {
		return nil, fmt.Errorf("%w: executor requires a pool manager", ErrValidation)
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 10 * time.Minute
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = DefaultExecutionTimeout
	}
	if cfg.MaxConcurrentWorkflows <= 0 {
		cfg.MaxConcurrentWorkflows = DefaultMaxConcurrentWorkflows
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	if cfg.Metrics == nil {
		cfg.Metrics = noopMetricsSink{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		pools:            cfg.Pools,
		scorer:           cfg.Scorer,
		metrics:          cfg.Metrics,
		repo:             cfg.Repo,
		taskTimeout:      cfg.TaskTimeout,
		executionTimeout: cfg.ExecutionTimeout,
		maxConcurrent:    cfg.MaxConcurrentWorkflows,
		sem:              make(chan struct{}, cfg.MaxConcurrentWorkflows*2),
		logger:           cfg.Logger.WithField("component", "executor"),
		executions:       make(map[string]*WorkflowExecution),
		callbacks:        make(map[string]Callbacks),
		ctx:              ctx,
		cancel:           cancel,
	}

	e.wg.Add(1)
	go e.monitorLoop()

	return e, nil
}

// Execute validates plan, seeds a WorkflowExecution, and starts driving it
// in the background. It returns the execution id immediately.
func (e *Executor) Execute(plan *WorkflowPlan, cb Callbacks) (string, error) {
	if plan == nil {
		return "", fmt.Errorf("%w: plan is required", ErrValidation)
	}
	if err := plan.Validate(); err != nil {
		return "", err
	}

	we := NewWorkflowExecution(plan)

	e.mu.Lock()
	if active := e.countActiveLocked(); active >= e.maxConcurrent {
		e.mu.Unlock()
		return "", fmt.Errorf("%w: %d active executions already at the configured maximum of %d", ErrCapacity, active, e.maxConcurrent)
	}
	e.executions[we.ID] = we
	e.callbacks[we.ID] = cb
	e.mu.Unlock()

	e.persistNew(we)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(we, plan)
	}()

	return we.ID, nil
}

// Status returns the execution's live bookkeeping record, or an error if no
// such execution is known. The record is not a copy: the executor keeps
// updating it while the execution runs.
func (e *Executor) Status(id string) (*WorkflowExecution, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	we, ok := e.executions[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown execution %s", ErrValidation, id)
	}
	return we, nil
}

// ActiveExecutions lists ids of every execution not yet in a terminal
// state.
func (e *Executor) ActiveExecutions() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var ids []string
	for id, we := range e.executions {
		if !we.State.IsTerminal() {
			ids = append(ids, id)
		}
	}
	return ids
}

// countActiveLocked counts non-terminal executions; callers must already
// hold e.mu.
func (e *Executor) countActiveLocked() int {
	n := 0
	for _, we := range e.executions {
		if !we.State.IsTerminal() {
			n++
		}
	}
	return n
}

// Metrics proxies to the pool manager's per-role aggregate metrics.
func (e *Executor) Metrics() map[string]pool.Metrics {
	return e.pools.AggregateMetrics()
}

// Pause moves a running execution to PAUSED; the drive loop checks this
// state between tasks and blocks until Resume or Cancel.
func (e *Executor) Pause(id string) error {
	return e.transition(id, ExecutionRunning, ExecutionPaused)
}

// Resume moves a PAUSED execution back to RUNNING.
func (e *Executor) Resume(id string) error {
	return e.transition(id, ExecutionPaused, ExecutionRunning)
}

// Cancel moves any non-terminal execution to CANCELLED; in-flight tasks run
// to completion but no further tasks are dispatched.
func (e *Executor) Cancel(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	we, ok := e.executions[id]
	if !ok {
		return fmt.Errorf("%w: unknown execution %s", ErrValidation, id)
	}
	if we.State.IsTerminal() {
		return fmt.Errorf("%w: execution %s already terminal (%s)", ErrState, id, we.State)
	}
	we.State = ExecutionCancelled
	now := time.Now()
	we.EndTime = &now
	return nil
}

// Rollback is a "soft" rollback: it restores CurrentStep from a checkpoint's
// snapshot (the most recent checkpoint when checkpointID is empty), records
// the rollback on the execution's recovery record, clears EndTime and sets
// the execution to RUNNING. It does not pause the execution or cancel its
// active tasks, and it leaves the pending/active/completed/failed partition
// alone, so ProgressPercentage, which is computed from the completed set,
// is not restored. No drive loop is restarted for an execution whose run
// has already returned.
func (e *Executor) Rollback(id, checkpointID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	we, ok := e.executions[id]
	if !ok {
		return fmt.Errorf("%w: unknown execution %s", ErrValidation, id)
	}
	snap, ok := we.Recovery.Rollback(checkpointID)
	if !ok {
		return fmt.Errorf("%w: execution %s has no checkpoints", ErrState, id)
	}
	we.CurrentStep = snap.CurrentStep
	we.EndTime = nil
	we.State = ExecutionRunning
	return nil
}

func (e *Executor) transition(id string, from, to ExecutionState) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	we, ok := e.executions[id]
	if !ok {
		return fmt.Errorf("%w: unknown execution %s", ErrValidation, id)
	}
	if we.State != from {
		return fmt.Errorf("%w: execution %s is %s, expected %s", ErrState, id, we.State, from)
	}
	we.State = to
	return nil
}

// run drives one execution through its pattern to completion, updating
// state, recovery bookkeeping, and invoking callbacks as it goes.
func (e *Executor) run(we *WorkflowExecution, plan *WorkflowPlan) {
	e.setState(we, ExecutionInitializing)
	graph := buildGraph(plan)
	e.checkpoint(we, "workflow-started")
	e.setState(we, ExecutionRunning)

	var err error
	cycleErr := graph.ValidateAcyclic()
	switch {
	case cycleErr != nil:
		err = fmt.Errorf("%w: %v", ErrDependency, cycleErr)
	case plan.Pattern == PatternSequentialHandoff:
		err = e.runSequential(we, plan, graph)
	case plan.Pattern == PatternDynamicRouting || plan.Pattern == PatternParallelExecution:
		err = e.runParallel(we, plan, graph)
	default:
		err = fmt.Errorf("%w: unsupported pattern %s", ErrValidation, plan.Pattern)
	}

	e.mu.Lock()
	if we.State == ExecutionCancelled {
		e.mu.Unlock()
		e.persistUpdate(we)
		return
	}
	now := time.Now()
	we.EndTime = &now
	if err != nil {
		we.State = ExecutionFailed
		we.Recovery.RecordCriticalFailure("execution", err)
		e.checkpointLocked(we, "workflow-failed")
	} else {
		we.State = ExecutionCompleted
		e.checkpointLocked(we, "workflow-completed")
	}
	e.mu.Unlock()
	e.persistUpdate(we)
}

// persistNew records a freshly created execution in the repository, if one
// is configured. Persistence is best-effort: a store failure is logged, not
// propagated, since the in-memory bookkeeping the rest of the executor reads
// from is already authoritative for a running process.
func (e *Executor) persistNew(we *WorkflowExecution) {
	if e.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.repo.CreateExecution(ctx, we); err != nil {
		e.logger.WithError(err).WithField("execution_id", we.ID).Warn("failed to persist new execution")
	}
}

// persistUpdate writes back the current snapshot of we, called after every
// checkpoint and terminal-state transition.
func (e *Executor) persistUpdate(we *WorkflowExecution) {
	if e.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.repo.UpdateExecution(ctx, we); err != nil {
		e.logger.WithError(err).WithField("execution_id", we.ID).Warn("failed to persist execution update")
	}
}

func buildGraph(plan *WorkflowPlan) *DependencyGraph {
	g := NewDependencyGraph()
	for _, a := range plan.Assignments {
		g.AddAssignment(a)
	}
	for _, a := range plan.Assignments {
		for _, dep := range a.Dependencies {
			_ = g.AddEdge(dep, a.ID)
		}
	}
	return g
}

// runSequential executes assignment batches one at a time, but every task
// inside a batch that has no dependency on the others runs concurrently,
// giving plain sequential_handoff plans (a straight chain) true one-at-a-
// time handoff. A batch starts only after every task of the previous batch
// has finished; batches never overlap.
func (e *Executor) runSequential(we *WorkflowExecution, plan *WorkflowPlan, graph *DependencyGraph) error {
	batches := graph.GetExecutionBatches()
	completedSinceCheckpoint := 0
	for _, batch := range batches {
		if e.waitWhilePaused(we) {
			return nil
		}
		if we.State == ExecutionCancelled {
			return nil
		}
		var wg sync.WaitGroup
		errCh := make(chan error, len(batch))
		for _, id := range batch {
			id := id
			wg.Add(1)
			e.sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-e.sem }()
				if err := e.runTask(we, id); err != nil {
					errCh <- err
				}
			}()
		}
		wg.Wait()
		close(errCh)
		for err := range errCh {
			if err != nil {
				return err
			}
		}
		completedSinceCheckpoint += len(batch)
		if completedSinceCheckpoint >= CheckpointInterval {
			e.checkpoint(we, "batch-complete")
			completedSinceCheckpoint = 0
		}
	}
	return nil
}

// runParallel executes every assignment as soon as its dependencies are
// satisfied, with no batch boundary, the v1 stand-in resolved for dynamic
// routing in the supplemented-features notes: the executor still follows
// the dependency graph, it just never mutates the plan at runtime.
func (e *Executor) runParallel(we *WorkflowExecution, plan *WorkflowPlan, graph *DependencyGraph) error {
	total := len(plan.Assignments)
	completed := make(map[string]bool, total)
	inFlight := make(map[string]bool, total)
	completedSinceCheckpoint := 0

	var mu sync.Mutex
	var wg sync.WaitGroup
	errCh := make(chan error, total)
	done := make(chan struct{})

	launch := func(id string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.sem <- struct{}{}
			defer func() { <-e.sem }()
			err := e.runTask(we, id)
			mu.Lock()
			completed[id] = true
			delete(inFlight, id)
			completedSinceCheckpoint++
			takeCheckpoint := completedSinceCheckpoint >= CheckpointInterval
			if takeCheckpoint {
				completedSinceCheckpoint = 0
			}
			mu.Unlock()
			if takeCheckpoint {
				e.checkpoint(we, "batch-complete")
			}
			if err != nil {
				errCh <- err
			}
		}()
	}

	go func() { wg.Wait(); close(done) }()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if e.waitWhilePaused(we) || we.State == ExecutionCancelled {
			return nil
		}
		mu.Lock()
		if len(completed) == total {
			mu.Unlock()
			break
		}
		ready := graph.GetReadyNodes(completed)
		for _, id := range ready {
			if !inFlight[id] {
				inFlight[id] = true
				launch(id)
			}
		}
		mu.Unlock()

		select {
		case err := <-errCh:
			return err
		case <-done:
		case <-ticker.C:
		}
	}
	return nil
}

func (e *Executor) waitWhilePaused(we *WorkflowExecution) (cancelled bool) {
	for {
		e.mu.RLock()
		state := we.State
		e.mu.RUnlock()
		if state != ExecutionPaused {
			return state == ExecutionCancelled
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// runTask dispatches one assignment's task to its role's pool, waits for
// the result, and applies the recovery strategy on failure. It blocks the
// caller until the task reaches a terminal outcome or the executor gives
// up on it.
func (e *Executor) runTask(we *WorkflowExecution, assignmentID string) error {
	e.mu.Lock()
	te, ok := we.TaskExecutions[assignmentID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: unknown assignment %s", ErrValidation, assignmentID)
	}
	we.moveTask(assignmentID, we.Pending, we.Active)
	e.mu.Unlock()

	for {
		result, err := e.dispatch(we, te)
		if err == nil && result != nil && result.Status == task.StatusCompleted {
			e.mu.Lock()
			we.moveTask(assignmentID, we.Active, we.Completed)
			we.Results[assignmentID] = result
			cb := e.callbacks[we.ID].OnTaskCompleted
			e.mu.Unlock()
			e.metrics.RecordTaskOutcome(te.Task.Type, "completed")
			if cb != nil {
				cb(we.ID, assignmentID, result)
			}
			return nil
		}

		failErr := err
		if failErr == nil && result != nil {
			failErr = fmt.Errorf("%w: task %s reported status %s", ErrExecution, assignmentID, result.Status)
		}
		if failErr == nil {
			failErr = fmt.Errorf("%w: task %s produced no result", ErrExecution, assignmentID)
		}

		e.mu.Lock()
		if result != nil {
			we.Recovery.PreservePartialResult(assignmentID, result, "failed attempt")
		}
		role := te.Task.Type
		hasBackup := e.pools.HasIdleInstance(role)
		decision := recovery.HandleFailure(te.RetryCount, te.MaxRetries, hasBackup)
		e.mu.Unlock()

		cbs := e.callbacksFor(we.ID)
		switch decision.Action {
		case recovery.ActionRetry:
			te.RetryCount++
			e.metrics.RecordRetry()
			if decision.Delay > 0 {
				time.Sleep(decision.Delay)
			}
			continue
		case recovery.ActionReassign:
			if te.AssignedInstance != "" {
				if _, cerr := e.pools.Complete(role, te.AssignedInstance, false, 0, 0); cerr != nil {
					e.logger.WithError(cerr).WithField("instance_id", te.AssignedInstance).Warn("failed to release prior instance before reassign")
				}
			}
			te.RetryCount = 0
			e.metrics.RecordRetry()
			continue
		case recovery.ActionSkip:
			e.mu.Lock()
			we.moveTask(assignmentID, we.Active, we.Failed)
			e.mu.Unlock()
			e.metrics.RecordTaskOutcome(role, "skipped")
			if cbs.OnTaskFailed != nil {
				cbs.OnTaskFailed(we.ID, assignmentID, failErr)
			}
			return nil
		default: // ActionAbort
			e.mu.Lock()
			we.moveTask(assignmentID, we.Active, we.Failed)
			we.Recovery.RecordCriticalFailure(assignmentID, failErr)
			e.checkpointLocked(we, "task-"+assignmentID+"-failed")
			e.mu.Unlock()
			e.metrics.RecordTaskOutcome(role, "failed")
			if cbs.OnTaskFailed != nil {
				cbs.OnTaskFailed(we.ID, assignmentID, failErr)
			}
			return failErr
		}
	}
}

func (e *Executor) callbacksFor(execID string) Callbacks {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.callbacks[execID]
}

// dispatch assigns te's task to its role's pool and blocks for the result
// up to the executor's task timeout.
func (e *Executor) dispatch(we *WorkflowExecution, te *TaskExecution) (*task.AgentResult, error) {
	role := te.Task.Type
	ctx, cancel := context.WithTimeout(e.ctx, e.taskTimeout)
	defer cancel()

	resultCh := make(chan *task.AgentResult, 1)
	instID, err := e.pools.Assign(role, te.Task, func(r *task.AgentResult) {
		execTime := time.Duration(r.Metadata.ExecutionTimeSeconds * float64(time.Second))
		if _, cerr := e.pools.Complete(role, r.InstanceID, r.Status == task.StatusCompleted, execTime, r.Metadata.QualityScore); cerr != nil {
			e.logger.WithError(cerr).WithField("instance_id", r.InstanceID).Warn("pool completion bookkeeping failed")
		}
		resultCh <- r
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDistribution, err)
	}
	te.AssignedInstance = instID

	select {
	case r := <-resultCh:
		if e.scorer != nil && r.Status == task.StatusCompleted {
			if score, scoreErr := e.scorer.Score(ctx, r); scoreErr == nil {
				r.Metadata.QualityScore = score
			}
		}
		return r, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: task %s exceeded %s", ErrTimeout, te.Task.ID, e.taskTimeout)
	}
}

// checkpoint acquires the executor lock, appends a checkpoint for we at the
// given phase boundary, and persists the resulting snapshot.
func (e *Executor) checkpoint(we *WorkflowExecution, phase string) {
	e.mu.Lock()
	e.checkpointLocked(we, phase)
	e.mu.Unlock()
	e.persistUpdate(we)
}

// checkpointLocked appends a checkpoint; callers must already hold e.mu.
func (e *Executor) checkpointLocked(we *WorkflowExecution, phase string) {
	we.CurrentStep = len(we.Completed)
	snap := recovery.Snapshot{
		CurrentStep:        we.CurrentStep,
		ProgressPercentage: we.ProgressPercentage(),
		PendingCount:       len(we.Pending),
		ActiveCount:        len(we.Active),
		CompletedCount:     len(we.Completed),
		FailedCount:        len(we.Failed),
	}
	we.Recovery.AddCheckpoint(recovery.NewCheckpoint(phase, fmt.Sprintf("%d tasks completed", len(we.Completed)), true, snap))
}

func (e *Executor) setState(we *WorkflowExecution, to ExecutionState) {
	e.mu.Lock()
	from := we.State
	we.State = to
	cb := e.callbacks[we.ID].OnStateChange
	e.mu.Unlock()
	if cb != nil {
		cb(we.ID, from, to)
	}
}

// monitorLoop sweeps active executions for the execution-level timeout.
func (e *Executor) monitorLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(MonitorTick)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.sweepTimeouts()
		}
	}
}

func (e *Executor) sweepTimeouts() {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	for _, we := range e.executions {
		if we.State.IsTerminal() {
			continue
		}
		if now.Sub(we.StartTime) > e.executionTimeout {
			we.State = ExecutionFailed
			end := now
			we.EndTime = &end
			we.Recovery.RecordCriticalFailure("execution", fmt.Errorf("%w: execution exceeded %s", ErrTimeout, e.executionTimeout))
			e.checkpointLocked(we, "workflow-timeout")
			e.logger.WithField("execution_id", we.ID).Warn("execution timed out")
		}
	}
}

// Stop halts the background monitor. In-flight executions are left
// running; callers should Cancel them individually if they want a hard
// stop.
func (e *Executor) Stop() {
	e.cancel()
	e.wg.Wait()
}
