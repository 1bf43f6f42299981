// Package task defines the value objects that flow through the orchestrator:
// an AgentTask describes one unit of work for a role, an AgentResult carries
// what came back. Both are immutable once their terminal timestamp is set.
package task

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Priority orders tasks inside an instance's queue. Lower values run first.
type Priority int

const (
	PriorityCritical   Priority = 1
	PriorityHigh       Priority = 2
	PriorityMedium     Priority = 3
	PriorityLow        Priority = 4
	PriorityBackground Priority = 5
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	case PriorityBackground:
		return "background"
	default:
		return "unknown"
	}
}

// Status is the lifecycle state of an AgentTask.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether status never transitions again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Format declares the shape of a task's input or a result's output payload.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatFile Format = "file"
)

var (
	ErrInvalidTransition = errors.New("invalid task status transition")
	ErrInvalidFormat     = errors.New("payload does not match declared format")
)

// Input is the payload handed to a role's step function.
type Input struct {
	Payload interface{}
	Format  Format
}

// Validate checks that Payload matches the declared Format's expected shape.
func (i Input) Validate() error {
	if i.Format == FormatJSON {
		switch i.Payload.(type) {
		case map[string]interface{}, []interface{}, nil:
			return nil
		default:
			return fmt.Errorf("%w: json format requires a map or slice payload", ErrInvalidFormat)
		}
	}
	return nil
}

// Context carries the workflow-level coordinates of a task, threaded through
// for correlation in logs and in the persisted execution envelope.
type Context struct {
	WorkflowID    string
	Phase         string
	CorrelationID string
}

// AgentTask is one step of a workflow assigned to a role.
type AgentTask struct {
	ID          string
	Type        string
	Input       Input
	Context     Context
	Priority    Priority
	Status      Status
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// New creates a pending AgentTask with a generated id and fluent defaults,
// following the builder style the rest of this codebase uses for task
// construction.
func New(taskType string, input Input) *AgentTask {
	return &AgentTask{
		ID:        uuid.New().String(),
		Type:      taskType,
		Input:     input,
		Priority:  PriorityMedium,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
}

func (t *AgentTask) WithPriority(p Priority) *AgentTask {
	t.Priority = p
	return t
}

func (t *AgentTask) WithContext(c Context) *AgentTask {
	t.Context = c
	return t
}

// Start moves PENDING -> IN_PROGRESS and stamps StartedAt. Fails if the task
// is not currently PENDING.
func (t *AgentTask) Start() error {
	if t.Status != StatusPending {
		return fmt.Errorf("%w: start requires pending, got %s", ErrInvalidTransition, t.Status)
	}
	now := time.Now()
	t.StartedAt = &now
	t.Status = StatusInProgress
	return nil
}

// Complete moves IN_PROGRESS -> COMPLETED and stamps CompletedAt. Fails if
// the task is not currently IN_PROGRESS.
func (t *AgentTask) Complete() error {
	if t.Status != StatusInProgress {
		return fmt.Errorf("%w: complete requires in_progress, got %s", ErrInvalidTransition, t.Status)
	}
	now := time.Now()
	t.CompletedAt = &now
	t.Status = StatusCompleted
	return nil
}

// Fail moves IN_PROGRESS -> FAILED and stamps CompletedAt.
func (t *AgentTask) Fail() error {
	if t.Status != StatusInProgress {
		return fmt.Errorf("%w: fail requires in_progress, got %s", ErrInvalidTransition, t.Status)
	}
	now := time.Now()
	t.CompletedAt = &now
	t.Status = StatusFailed
	return nil
}

// Cancel moves a non-terminal task straight to CANCELLED.
func (t *AgentTask) Cancel() error {
	if t.Status.IsTerminal() {
		return fmt.Errorf("%w: cannot cancel terminal status %s", ErrInvalidTransition, t.Status)
	}
	now := time.Now()
	t.CompletedAt = &now
	t.Status = StatusCancelled
	return nil
}

// Duration returns how long the task ran, or false if it hasn't completed.
func (t *AgentTask) Duration() (time.Duration, bool) {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0, false
	}
	return t.CompletedAt.Sub(*t.StartedAt), true
}

// Output is the payload an AgentResult carries back.
type Output struct {
	Data       interface{}
	Format     Format
	Confidence float64
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ResultMetadata carries the execution-time and quality figures attached to
// an AgentResult, kept separate from Output so a FAILED result can still
// report timing without a meaningful Output.
type ResultMetadata struct {
	ExecutionTimeSeconds float64
	QualityScore         float64
	ModelIdentifier      string
}

// AgentResult is the outcome of one AgentTask.
type AgentResult struct {
	TaskID     string
	InstanceID string
	Status     Status
	Output     Output
	Metadata   ResultMetadata
	Error      string
}

// NewCompletedResult builds a COMPLETED result, clamping confidence and
// quality into [0,1] per the value-object invariant.
func NewCompletedResult(taskID, instanceID string, output Output, meta ResultMetadata) *AgentResult {
	output.Confidence = clamp01(output.Confidence)
	meta.QualityScore = clamp01(meta.QualityScore)
	return &AgentResult{
		TaskID:     taskID,
		InstanceID: instanceID,
		Status:     StatusCompleted,
		Output:     output,
		Metadata:   meta,
	}
}

// NewFailedResult builds a FAILED result carrying the error message and
// elapsed time; Output is left empty.
func NewFailedResult(taskID, instanceID string, elapsed time.Duration, err error) *AgentResult {
	return &AgentResult{
		TaskID:     taskID,
		InstanceID: instanceID,
		Status:     StatusFailed,
		Error:      err.Error(),
		Metadata:   ResultMetadata{ExecutionTimeSeconds: elapsed.Seconds()},
	}
}

// NewCancelledResult builds a CANCELLED result.
func NewCancelledResult(taskID, instanceID string) *AgentResult {
	return &AgentResult{
		TaskID:     taskID,
		InstanceID: instanceID,
		Status:     StatusCancelled,
	}
}

// Validate enforces the AgentResult invariants from the data model: status
// must be terminal and a COMPLETED result must carry a non-empty output.
func (r *AgentResult) Validate() error {
	switch r.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
	default:
		return fmt.Errorf("agent result status must be terminal, got %s", r.Status)
	}
	if r.Status == StatusCompleted && r.Output.Data == nil {
		return errors.New("completed result must carry a non-empty output")
	}
	return nil
}
