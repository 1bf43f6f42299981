// Package recovery implements the typed replacement for the free-form
// metadata dict the source system used: a Record carrying checkpoints,
// partial results, critical failures, and rollback info, plus the failure
// strategy that decides retry/reassign/abort (the Action enum also has a
// skip value, which the strategy never returns).
package recovery

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/truongnat/agentic-sdlc-orchestrator/internal/task"
)

// Action is one of the four recovery actions a failure strategy can choose.
type Action string

const (
	ActionRetry    Action = "retry"
	ActionReassign Action = "reassign"
	ActionSkip     Action = "skip"
	ActionAbort    Action = "abort"
)

// Decision is the outcome of HandleFailure: what to do, and how long to
// wait before doing it.
type Decision struct {
	Action Action
	Delay  time.Duration
}

// DefaultMaxRetries is the retry ceiling used when a TaskExecution doesn't
// override it.
const DefaultMaxRetries = 3

// MaxRetryDelay bounds the exponential backoff.
const MaxRetryDelay = 60 * time.Second

// RetryDelay computes min(2^retryCount, 60s), the exponential backoff
// formula used for every retried task.
func RetryDelay(retryCount int) time.Duration {
	delay := time.Duration(1) << uint(retryCount) * time.Second
	if delay > MaxRetryDelay || delay <= 0 {
		return MaxRetryDelay
	}
	return delay
}

// HandleFailure decides what to do about a failed task, given its current
// retry count, its configured max retries, and whether the pool reports a
// backup (idle) instance of the same role. It never mutates anything; the
// caller applies the Decision.
func HandleFailure(retryCount, maxRetries int, hasBackupInstance bool) Decision {
	if retryCount < maxRetries {
		return Decision{Action: ActionRetry, Delay: RetryDelay(retryCount)}
	}
	if hasBackupInstance {
		return Decision{Action: ActionReassign}
	}
	return Decision{Action: ActionAbort}
}

// Checkpoint is an append-only record of workflow state at a phase
// boundary.
type Checkpoint struct {
	ID          string
	Timestamp   time.Time
	Phase       string
	Description string
	Recoverable bool
	Snapshot    Snapshot
}

// Snapshot is the portion of WorkflowExecution state a checkpoint preserves
// for rollback.
type Snapshot struct {
	CurrentStep        int
	CompletedPhases    []string
	ProgressPercentage float64
	PendingCount       int
	ActiveCount        int
	CompletedCount     int
	FailedCount        int
}

// NewCheckpoint stamps a checkpoint with the current wall clock.
func NewCheckpoint(phase, description string, recoverable bool, snap Snapshot) Checkpoint {
	return Checkpoint{
		ID:          uuid.New().String(),
		Timestamp:   time.Now(),
		Phase:       phase,
		Description: description,
		Recoverable: recoverable,
		Snapshot:    snap,
	}
}

// PartialResult preserves an AgentResult even though its task subsequently
// failed or was retried.
type PartialResult struct {
	TaskID      string
	Result      *task.AgentResult
	PreservedAt time.Time
	Reason      string
}

// CriticalFailure is a failure for which the strategy chose ABORT.
type CriticalFailure struct {
	TaskID             string
	Error              string
	OccurredAt         time.Time
	RemediationOptions []string
}

// DefaultRemediationOptions are surfaced on every critical failure.
var DefaultRemediationOptions = []string{"abort_workflow", "skip_task", "manual_intervention"}

// RollbackInfo records the most recent rollback applied to an execution.
type RollbackInfo struct {
	CheckpointID string
	RolledBackAt time.Time
}

// Record is the typed recovery state attached to one WorkflowExecution,
// replacing the source system's free-form metadata dict while still
// serializing to the same JSON envelope shape.
type Record struct {
	mu               sync.Mutex
	Checkpoints      []Checkpoint
	PartialResults   map[string]PartialResult
	CriticalFailures []CriticalFailure
	RollbackInfo     *RollbackInfo
}

// NewRecord builds an empty recovery record.
func NewRecord() *Record {
	return &Record{PartialResults: make(map[string]PartialResult)}
}

// AddCheckpoint appends a checkpoint. Checkpoints are timestamp-monotonic
// because NewCheckpoint always stamps time.Now() and callers only ever
// append.
func (r *Record) AddCheckpoint(cp Checkpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Checkpoints = append(r.Checkpoints, cp)
}

// LatestCheckpoint returns the most recently added checkpoint, or false if
// none exist.
func (r *Record) LatestCheckpoint() (Checkpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Checkpoints) == 0 {
		return Checkpoint{}, false
	}
	return r.Checkpoints[len(r.Checkpoints)-1], true
}

// Checkpoint looks up a checkpoint by id.
func (r *Record) Checkpoint(id string) (Checkpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cp := range r.Checkpoints {
		if cp.ID == id {
			return cp, true
		}
	}
	return Checkpoint{}, false
}

// PreservePartialResult copies a result into the partial-results map before
// a task is retried, reassigned, or skipped away from it.
func (r *Record) PreservePartialResult(taskID string, result *task.AgentResult, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.PartialResults[taskID] = PartialResult{
		TaskID:      taskID,
		Result:      result,
		PreservedAt: time.Now(),
		Reason:      reason,
	}
}

// RecordCriticalFailure appends a critical-failure notification with the
// standard remediation options.
func (r *Record) RecordCriticalFailure(taskID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CriticalFailures = append(r.CriticalFailures, CriticalFailure{
		TaskID:             taskID,
		Error:              err.Error(),
		OccurredAt:         time.Now(),
		RemediationOptions: append([]string{}, DefaultRemediationOptions...),
	})
}

// SetRollbackInfo records that a rollback to checkpointID just occurred.
func (r *Record) SetRollbackInfo(checkpointID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RollbackInfo = &RollbackInfo{CheckpointID: checkpointID, RolledBackAt: time.Now()}
}

// Rollback selects checkpointID, or the most recent checkpoint if
// checkpointID is empty, and returns its snapshot for the caller to apply.
// It returns false if no checkpoints exist at all. This is a "soft"
// rollback: the snapshot carries counters and progress, not the exact
// pending/active/completed/failed partition, and applying it is left to
// the caller.
func (r *Record) Rollback(checkpointID string) (Snapshot, bool) {
	var cp Checkpoint
	var ok bool
	if checkpointID == "" {
		cp, ok = r.LatestCheckpoint()
	} else {
		cp, ok = r.Checkpoint(checkpointID)
	}
	if !ok {
		return Snapshot{}, false
	}
	r.SetRollbackInfo(cp.ID)
	return cp.Snapshot, true
}
