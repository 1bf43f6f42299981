// Package agent implements the specialized-agent runtime: one instance owns
// one role, runs a single worker loop against a priority queue, and reports
// performance counters back to its pool.
package agent

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/truongnat/agentic-sdlc-orchestrator/internal/task"
)

var (
	ErrAlreadyInitialized = errors.New("instance already initialized")
	ErrRoleMismatch       = errors.New("configured role does not match instance role")
	ErrNotReady           = errors.New("instance is not ready to accept tasks")
	ErrOutOfDomain  = errors.New("task rejected by instance validator")
	ErrQueueFull    = errors.New("instance queue is full")
)

// DefaultShutdownGracePeriod bounds how long Cleanup waits for the current
// task before giving up.
const DefaultShutdownGracePeriod = 30 * time.Second

// StepFunc performs one role's unit of work. A panic inside StepFunc is
// recovered by the worker loop and turned into a FAILED result; it never
// kills the worker.
type StepFunc func(ctx context.Context, t *task.AgentTask) (*task.Output, error)

// Validator rejects tasks the instance considers out of its domain before
// they are accepted onto the queue.
type Validator func(t *task.AgentTask) error

// Config configures a freshly constructed instance before Initialize.
type Config struct {
	Role          string
	QueueCapacity int
	ShutdownGrace time.Duration
	Step          StepFunc
	Validate      Validator
}

// Counters tracks the instance's exponential-moving performance figures.
type Counters struct {
	TasksCompleted      int64
	AvgExecutionTime    time.Duration
	SuccessRate         float64
	QualityScore        float64
	ResourceUtilization float64
}

// Snapshot is the read-only view returned by Status.
type Snapshot struct {
	ID          string
	Role        string
	State       State
	QueueDepth  int
	CurrentTask string
	Counters    Counters
}

// Instance is one running worker specialized to a role.
type Instance struct {
	ID   string
	Role string

	mu              sync.RWMutex
	state           State
	currentTask     *task.AgentTask
	currentCallback func(*task.AgentResult)
	counters        Counters
	successN    int64 // count of completed attempts, including failures, for EMA denominators

	queueMu sync.Mutex
	queue   priorityQueue
	wake    chan struct{}

	cfg    Config
	logger logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an uninitialized instance for the given role.
func New(role string, logger logrus.FieldLogger) *Instance {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()
	return &Instance{
		ID:     id,
		Role:   role,
		state:  StateUninitialized,
		queue:  priorityQueue{},
		wake:   make(chan struct{}, 1),
		logger: logger.WithField("instance_id", id),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Initialize is one-shot: it moves the instance from UNINITIALIZED to READY
// and starts its worker loop. It fails if called twice or if cfg.Role
// mismatches the instance's role.
func (in *Instance) Initialize(cfg Config) error {
	in.mu.Lock()
	if in.state != StateUninitialized {
		in.mu.Unlock()
		return ErrAlreadyInitialized
	}
	if cfg.Role != "" && cfg.Role != in.Role {
		in.mu.Unlock()
		return fmt.Errorf("%w: instance is %s, config is %s", ErrRoleMismatch, in.Role, cfg.Role)
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 100
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGracePeriod
	}
	if cfg.Step == nil {
		in.mu.Unlock()
		return errors.New("config must supply a step function")
	}
	in.cfg = cfg
	in.state = StateInitializing
	in.mu.Unlock()

	heap.Init(&in.queue)

	in.mu.Lock()
	if err := validateTransition(StateInitializing, StateReady); err != nil {
		in.state = StateError
		in.mu.Unlock()
		return err
	}
	in.state = StateReady
	in.mu.Unlock()

	in.wg.Add(1)
	go in.workerLoop()

	in.logger.WithField("role", in.Role).Info("agent instance initialized")
	return nil
}

// Enqueue places a task on the instance's priority queue. If callback is
// non-nil it is invoked exactly once with the task's final AgentResult, even
// on failure.
func (in *Instance) Enqueue(t *task.AgentTask, callback func(*task.AgentResult)) error {
	in.mu.RLock()
	st := in.state
	in.mu.RUnlock()
	if st != StateReady && st != StateBusy {
		return ErrNotReady
	}
	if in.cfg.Validate != nil {
		if err := in.cfg.Validate(t); err != nil {
			return fmt.Errorf("%w: %v", ErrOutOfDomain, err)
		}
	}

	in.queueMu.Lock()
	if in.queue.Len() >= in.cfg.QueueCapacity {
		in.queueMu.Unlock()
		return ErrQueueFull
	}
	heap.Push(&in.queue, &queuedTask{task: t, enqueued: time.Now(), callback: callback})
	in.queueMu.Unlock()

	select {
	case in.wake <- struct{}{}:
	default:
	}
	return nil
}

// Execute runs one task synchronously and returns its AgentResult. It is
// implemented on top of Enqueue so a single worker still serializes
// execution with anything already queued.
func (in *Instance) Execute(ctx context.Context, t *task.AgentTask) (*task.AgentResult, error) {
	resultCh := make(chan *task.AgentResult, 1)
	if err := in.Enqueue(t, func(r *task.AgentResult) { resultCh <- r }); err != nil {
		return nil, err
	}
	select {
	case r := <-resultCh:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status returns a snapshot of the instance's current state.
func (in *Instance) Status() Snapshot {
	in.mu.RLock()
	defer in.mu.RUnlock()

	in.queueMu.Lock()
	depth := in.queue.Len()
	in.queueMu.Unlock()

	current := ""
	if in.currentTask != nil {
		current = in.currentTask.ID
	}
	return Snapshot{
		ID:          in.ID,
		Role:        in.Role,
		State:       in.state,
		QueueDepth:  depth,
		CurrentTask: current,
		Counters:    in.counters,
	}
}

// IsIdle reports whether the instance currently owns no task, the invariant
// that must hold exactly when State == StateReady.
func (in *Instance) IsIdle() bool {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.state == StateReady && in.currentTask == nil
}

// PendingWork is one unit of work recovered from a dying instance: the task
// plus the callback its original caller is still waiting on.
type PendingWork struct {
	Task     *task.AgentTask
	Callback func(*task.AgentResult)
}

// Drain empties the instance's queue, and its in-flight task if any, into a
// priority-ordered slice so the caller (normally the owning pool, reacting
// to a crashed instance) can hand the work to somewhere else. After Drain
// the instance holds no work of its own.
func (in *Instance) Drain() []PendingWork {
	in.mu.Lock()
	var work []PendingWork
	if in.currentTask != nil {
		work = append(work, PendingWork{Task: in.currentTask, Callback: in.currentCallback})
		in.currentTask = nil
		in.currentCallback = nil
	}
	in.mu.Unlock()

	in.queueMu.Lock()
	for in.queue.Len() > 0 {
		item := heap.Pop(&in.queue).(*queuedTask)
		work = append(work, PendingWork{Task: item.task, Callback: item.callback})
	}
	in.queueMu.Unlock()

	return work
}

// Cleanup transitions READY/BUSY -> SHUTTING_DOWN -> TERMINATED, stops the
// worker loop, and waits for any in-flight task up to cfg.ShutdownGrace. It
// is idempotent after the instance reaches TERMINATED.
func (in *Instance) Cleanup(ctx context.Context) error {
	in.mu.Lock()
	if in.state == StateTerminated {
		in.mu.Unlock()
		return nil
	}
	if in.state == StateReady || in.state == StateBusy {
		in.state = StateShuttingDown
	}
	in.mu.Unlock()

	in.cancel()

	done := make(chan struct{})
	go func() {
		in.wg.Wait()
		close(done)
	}()

	grace := in.cfg.ShutdownGrace
	if grace <= 0 {
		grace = DefaultShutdownGracePeriod
	}
	select {
	case <-done:
	case <-time.After(grace):
		in.logger.Warn("instance cleanup exceeded grace period")
	case <-ctx.Done():
	}

	in.mu.Lock()
	in.state = StateTerminated
	in.mu.Unlock()
	return nil
}

func (in *Instance) workerLoop() {
	defer in.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			in.mu.Lock()
			in.state = StateError
			in.mu.Unlock()
			in.logger.WithField("panic", r).Error("worker loop crashed")
		}
	}()

	for {
		select {
		case <-in.ctx.Done():
			return
		case <-in.wake:
		}

		for {
			in.queueMu.Lock()
			if in.queue.Len() == 0 {
				in.queueMu.Unlock()
				break
			}
			item := heap.Pop(&in.queue).(*queuedTask)
			in.queueMu.Unlock()

			in.runOne(item)

			in.mu.RLock()
			shuttingDown := in.state == StateShuttingDown
			in.mu.RUnlock()
			if shuttingDown {
				return
			}
		}
	}
}

func (in *Instance) runOne(item *queuedTask) {
	in.mu.Lock()
	in.state = StateBusy
	in.currentTask = item.task
	in.currentCallback = item.callback
	in.mu.Unlock()

	result := in.execStep(item.task)

	in.mu.Lock()
	in.updateCounters(result)
	in.currentTask = nil
	in.currentCallback = nil
	if in.state == StateBusy {
		in.state = StateReady
	}
	in.mu.Unlock()

	if item.callback != nil {
		item.callback(result)
	}
}

// execStep validates, times, and invokes the role step, recovering from a
// panic so that one bad step never kills the worker loop.
func (in *Instance) execStep(t *task.AgentTask) (result *task.AgentResult) {
	defer func() {
		if r := recover(); r != nil {
			result = task.NewFailedResult(t.ID, in.ID, 0, fmt.Errorf("panic in step: %v", r))
		}
	}()

	if err := t.Start(); err != nil {
		return task.NewFailedResult(t.ID, in.ID, 0, err)
	}

	start := time.Now()
	output, err := in.cfg.Step(in.ctx, t)
	elapsed := time.Since(start)

	if err != nil {
		_ = t.Fail()
		return task.NewFailedResult(t.ID, in.ID, elapsed, err)
	}

	if output == nil || output.Data == nil {
		_ = t.Fail()
		return task.NewFailedResult(t.ID, in.ID, elapsed, fmt.Errorf("step returned no output"))
	}

	if err := t.Complete(); err != nil {
		return task.NewFailedResult(t.ID, in.ID, elapsed, err)
	}

	meta := task.ResultMetadata{ExecutionTimeSeconds: elapsed.Seconds()}
	return task.NewCompletedResult(t.ID, in.ID, *output, meta)
}

// updateCounters applies the exponential moving average policy. Must be
// called with in.mu held.
func (in *Instance) updateCounters(result *task.AgentResult) {
	in.successN++
	n := float64(in.successN)

	success := 0.0
	if result.Status == task.StatusCompleted {
		in.counters.TasksCompleted++
		success = 1.0
	}

	newTime := time.Duration(result.Metadata.ExecutionTimeSeconds * float64(time.Second))
	in.counters.AvgExecutionTime = time.Duration((float64(in.counters.AvgExecutionTime)*(n-1) + float64(newTime)) / n)
	in.counters.SuccessRate = (in.counters.SuccessRate*(n-1) + success) / n
	in.counters.QualityScore = (in.counters.QualityScore*(n-1) + result.Metadata.QualityScore) / n
}
