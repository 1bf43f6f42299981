package metrics

import (
	"context"
	"io"
	"testing"

	io_prometheus_client "github.com/prometheus/client_model/go"
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

func TestRecordTaskOutcomeIncrementsCounter(t *testing.T) {
	r := NewRegistry()
	r.RecordTaskOutcome("implementation", "completed")
	r.RecordTaskOutcome("implementation", "completed")

	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	assert.Equal(t, 2.0, findCounterValue(t, families, "asdlc_task_completed_total"))
}

func TestRecordRetryIncrementsCounter(t *testing.T) {
	r := NewRegistry()
	r.RecordRetry()
	r.RecordRetry()
	r.RecordRetry()

	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	assert.Equal(t, 3.0, findCounterValue(t, families, "asdlc_task_retries_total"))
}

func TestRefreshPoolGaugesReflectsManagerState(t *testing.T) {
	mgr := pool.NewManager(testLogger())
	_, err := mgr.CreatePool(pool.Config{
		Role:       "pm",
		Strategy:   pool.StrategyLeastLoaded,
		Thresholds: pool.DefaultScalingThresholds(1, 2),
		NewInstance: func() (*agent.Instance, error) {
			inst := agent.New("pm", testLogger())
			step := func(_ context.Context, t *task.AgentTask) (*task.Output, error) {
				return &task.Output{Confidence: 1}, nil
			}
			if err := inst.Initialize(agent.Config{Role: "pm", Step: step}); err != nil {
				return nil, err
			}
			return inst, nil
		},
		Logger: testLogger(),
	})
	require.NoError(t, err)

	r := NewRegistry()
	r.RefreshPoolGauges(mgr)

	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	assert.Equal(t, 1.0, findGaugeValue(t, families, "asdlc_pool_instances", map[string]string{"role": "pm", "state": "idle"}))
}

func findCounterValue(t *testing.T, families []*io_prometheus_client.MetricFamily, name string) float64 {
	t.Helper()
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		var total float64
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		return total
	}
	t.Fatalf("metric family %s not found", name)
	return 0
}

func findGaugeValue(t *testing.T, families []*io_prometheus_client.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			match := true
			for _, lp := range m.GetLabel() {
				if v, ok := labels[lp.GetName()]; ok && v != lp.GetValue() {
					match = false
				}
			}
			if match {
				return m.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("metric family %s with labels %v not found", name, labels)
	return 0
}
