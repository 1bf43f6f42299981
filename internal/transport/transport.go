// Package transport defines the boundary to the outside collaborators the
// orchestrator never implements itself: the thing that actually runs an
// agent step, the thing that turns a request into a WorkflowPlan, and the
// thing that scores a finished AgentResult's quality. Each is a narrow
// interface plus a reference implementation, the same shape this
// codebase's internal/ai package uses for its pluggable LLM clients.
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/truongnat/agentic-sdlc-orchestrator/internal/orchestration"
	"github.com/truongnat/agentic-sdlc-orchestrator/internal/task"
)

// AgentTransport dispatches one task to whatever out-of-process agent
// implementation handles a role, and waits for its result. Implementations
// are expected to be opaque: the orchestrator core never inspects what a
// role actually does.
type AgentTransport interface {
	Dispatch(ctx context.Context, role string, t *task.AgentTask) (*task.Output, error)
}

// PlanGenerator turns a free-form request into a WorkflowPlan. The
// implementation below is a stub; production deployments plug in whatever
// NL-to-plan collaborator actually interprets the request text.
type PlanGenerator interface {
	GeneratePlan(ctx context.Context, request string) (*orchestration.WorkflowPlan, error)
}

// QualityScorer assigns a 0..1 quality score to a finished AgentResult.
type QualityScorer interface {
	Score(ctx context.Context, result *task.AgentResult) (float64, error)
}

// StepFunc is the per-role unit of work a BreakerTransport ultimately
// invokes; it is the same signature as agent.StepFunc so a registry entry
// can be handed straight to an agent.Instance.
type StepFunc func(ctx context.Context, t *task.AgentTask) (*task.Output, error)

// Registry dispatches by role to a map of StepFuncs, the opaque-step
// dispatch table resolved in the supplemented-features notes: each agent
// type is a black box the core never reasons about, only invokes.
type Registry struct {
	mu    sync.RWMutex
	steps map[string]StepFunc
}

// NewRegistry builds an empty step registry.
func NewRegistry() *Registry {
	return &Registry{steps: make(map[string]StepFunc)}
}

// Register associates a role with its step implementation.
func (r *Registry) Register(role string, step StepFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps[role] = step
}

// Dispatch implements AgentTransport directly against the registry, with no
// circuit breaking; wrap it in a BreakerTransport for production use.
func (r *Registry) Dispatch(ctx context.Context, role string, t *task.AgentTask) (*task.Output, error) {
	r.mu.RLock()
	step, ok := r.steps[role]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no step registered for role %s", role)
	}
	return step(ctx, t)
}

// BreakerTransport wraps an AgentTransport with a circuit breaker per role,
// so a role whose out-of-process collaborator is down fails fast instead of
// piling up timeouts against it.
type BreakerTransport struct {
	mu       sync.Mutex
	inner    AgentTransport
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerTransport builds a breaker around inner, with one
// gobreaker.CircuitBreaker per role seen so far; breakers are created
// lazily on first dispatch for a role.
func NewBreakerTransport(inner AgentTransport) *BreakerTransport {
	return &BreakerTransport{inner: inner, breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func (b *BreakerTransport) breakerFor(role string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.breakers[role]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "agent-transport-" + role,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	b.breakers[role] = cb
	return cb
}

// Dispatch runs the underlying transport through the role's breaker.
func (b *BreakerTransport) Dispatch(ctx context.Context, role string, t *task.AgentTask) (*task.Output, error) {
	cb := b.breakerFor(role)
	result, err := cb.Execute(func() (interface{}, error) {
		return b.inner.Dispatch(ctx, role, t)
	})
	if err != nil {
		return nil, fmt.Errorf("agent transport for role %s: %w", role, err)
	}
	return result.(*task.Output), nil
}

// StubPlanGenerator is a PlanGenerator that always produces a single-task
// sequential_handoff plan for the given role, useful for tests and for
// running the executor before a real plan generator is wired in.
type StubPlanGenerator struct {
	DefaultRole     string
	DefaultPriority task.Priority
}

// GeneratePlan implements PlanGenerator with a one-node plan.
func (g *StubPlanGenerator) GeneratePlan(_ context.Context, request string) (*orchestration.WorkflowPlan, error) {
	role := g.DefaultRole
	if role == "" {
		role = "implementation"
	}
	priority := g.DefaultPriority
	if priority == 0 {
		priority = task.PriorityMedium
	}
	return &orchestration.WorkflowPlan{
		ID:      "plan-" + request,
		Pattern: orchestration.PatternSequentialHandoff,
		Assignments: []orchestration.AgentAssignment{
			{ID: "step-1", Role: role, Priority: priority},
		},
		Priority: priority,
	}, nil
}

// ConfidenceScorer is a QualityScorer that simply forwards the confidence
// the step itself reported, clamped to [0,1]. It is grounded on the
// assumption that a step's own Output.Confidence is the cheapest available
// quality signal until a dedicated judge role is wired in.
type ConfidenceScorer struct{}

// Score returns result.Output.Confidence.
func (ConfidenceScorer) Score(_ context.Context, result *task.AgentResult) (float64, error) {
	if result == nil {
		return 0, nil
	}
	c := result.Output.Confidence
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	return c, nil
}
