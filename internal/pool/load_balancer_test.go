package pool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truongnat/agentic-sdlc-orchestrator/internal/agent"
	"github.com/truongnat/agentic-sdlc-orchestrator/internal/task"
)

func newIdleMember(t *testing.T, role string) *Member {
	t.Helper()
	inst := agent.New(role, testLogger())
	step := func(_ context.Context, tk *task.AgentTask) (*task.Output, error) {
		return &task.Output{Data: "ok"}, nil
	}
	require.NoError(t, inst.Initialize(agent.Config{Role: role, Step: step}))
	t.Cleanup(func() { inst.Cleanup(context.Background()) })
	return &Member{Instance: inst}
}

func TestRoundRobinBalancerCycles(t *testing.T) {
	lb, err := NewLoadBalancer(StrategyRoundRobin)
	require.NoError(t, err)

	members := []*Member{newIdleMember(t, "pm"), newIdleMember(t, "pm"), newIdleMember(t, "pm")}

	first, err := lb.Select(members)
	require.NoError(t, err)
	second, err := lb.Select(members)
	require.NoError(t, err)
	assert.NotEqual(t, first.Instance.ID, second.Instance.ID)
}

func TestBalancerSelectOnEmptyReturnsError(t *testing.T) {
	for _, s := range []Strategy{StrategyRoundRobin, StrategyLeastLoaded, StrategyRandom, StrategyWeightedRR, StrategyLeastConnections, StrategyResponseTime} {
		lb, err := NewLoadBalancer(s)
		require.NoError(t, err)
		_, err = lb.Select(nil)
		assert.Error(t, err)
	}
}

func TestUnsupportedStrategyErrors(t *testing.T) {
	_, err := NewLoadBalancer(Strategy("bogus"))
	assert.Error(t, err)
}
