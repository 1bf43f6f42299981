package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truongnat/agentic-sdlc-orchestrator/internal/task"
)

func TestRegistryDispatchesToRegisteredRole(t *testing.T) {
	reg := NewRegistry()
	reg.Register("implementation", func(ctx context.Context, tk *task.AgentTask) (*task.Output, error) {
		return &task.Output{Data: "done", Confidence: 0.9}, nil
	})

	out, err := reg.Dispatch(context.Background(), "implementation", task.New("implementation", task.Input{}))
	require.NoError(t, err)
	assert.Equal(t, "done", out.Data)
}

func TestRegistryDispatchUnknownRoleErrors(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Dispatch(context.Background(), "pm", task.New("pm", task.Input{}))
	assert.Error(t, err)
}

func TestBreakerTransportForwardsSuccess(t *testing.T) {
	reg := NewRegistry()
	reg.Register("pm", func(ctx context.Context, tk *task.AgentTask) (*task.Output, error) {
		return &task.Output{Confidence: 1}, nil
	})
	b := NewBreakerTransport(reg)

	out, err := b.Dispatch(context.Background(), "pm", task.New("pm", task.Input{}))
	require.NoError(t, err)
	assert.Equal(t, 1.0, out.Confidence)
}

func TestBreakerTransportTripsAfterConsecutiveFailures(t *testing.T) {
	reg := NewRegistry()
	reg.Register("sa", func(ctx context.Context, tk *task.AgentTask) (*task.Output, error) {
		return nil, errors.New("boom")
	})
	b := NewBreakerTransport(reg)

	var lastErr error
	for i := 0; i < 6; i++ {
		_, lastErr = b.Dispatch(context.Background(), "sa", task.New("sa", task.Input{}))
	}
	assert.ErrorIs(t, lastErr, gobreaker.ErrOpenState)
}

func TestStubPlanGeneratorBuildsSingleNodePlan(t *testing.T) {
	gen := &StubPlanGenerator{DefaultRole: "implementation", DefaultPriority: task.PriorityHigh}
	plan, err := gen.GeneratePlan(context.Background(), "ship feature x")
	require.NoError(t, err)
	require.Len(t, plan.Assignments, 1)
	assert.Equal(t, "implementation", plan.Assignments[0].Role)
	assert.Equal(t, task.PriorityHigh, plan.Assignments[0].Priority)
}

func TestStubPlanGeneratorDefaultsWhenUnset(t *testing.T) {
	gen := &StubPlanGenerator{}
	plan, err := gen.GeneratePlan(context.Background(), "do something")
	require.NoError(t, err)
	assert.Equal(t, "implementation", plan.Assignments[0].Role)
	assert.Equal(t, task.PriorityMedium, plan.Priority)
}

func TestConfidenceScorerClampsAndHandlesNil(t *testing.T) {
	s := ConfidenceScorer{}

	score, err := s.Score(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, score)

	result := task.NewCompletedResult("t1", "i1", task.Output{Confidence: 1.5}, task.ResultMetadata{})
	score, err = s.Score(context.Background(), result)
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)
}
