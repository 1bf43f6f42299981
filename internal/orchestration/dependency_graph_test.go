package orchestration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chainGraph() *DependencyGraph {
	g := NewDependencyGraph()
	g.AddNode("a")
	g.AddNode("b")
	g.AddNode("c")
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")
	return g
}

func TestDependencyGraphExecutionBatchesRespectOrder(t *testing.T) {
	g := chainGraph()
	batches := g.GetExecutionBatches()
	require.Len(t, batches, 3)
	assert.Equal(t, []string{"a"}, batches[0])
	assert.Equal(t, []string{"b"}, batches[1])
	assert.Equal(t, []string{"c"}, batches[2])
}

func TestDependencyGraphDiamondParallelizesMiddleLayer(t *testing.T) {
	g := NewDependencyGraph()
	g.AddNode("a")
	g.AddNode("b")
	g.AddNode("c")
	g.AddNode("d")
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("a", "c"))
	require.NoError(t, g.AddEdge("b", "d"))
	require.NoError(t, g.AddEdge("c", "d"))

	batches := g.GetExecutionBatches()
	require.Len(t, batches, 3)
	assert.Equal(t, []string{"a"}, batches[0])
	assert.Equal(t, []string{"b", "c"}, batches[1])
	assert.Equal(t, []string{"d"}, batches[2])
}

func TestDependencyGraphAddEdgeRejectsUnknownNodes(t *testing.T) {
	g := NewDependencyGraph()
	g.AddNode("a")
	assert.Error(t, g.AddEdge("a", "missing"))
	assert.Error(t, g.AddEdge("missing", "a"))
}

func TestDependencyGraphValidateAcyclicDetectsCycle(t *testing.T) {
	g := NewDependencyGraph()
	g.AddNode("a")
	g.AddNode("b")
	require.NoError(t, g.AddEdge("a", "b"))
	g.edges["b"] = append(g.edges["b"], "a")
	g.nodes["a"].Dependencies = append(g.nodes["a"].Dependencies, "b")

	assert.Error(t, g.ValidateAcyclic())
}

func TestDependencyGraphGetReadyNodes(t *testing.T) {
	g := chainGraph()
	assert.Equal(t, []string{"a"}, g.GetReadyNodes(map[string]bool{}))
	assert.Equal(t, []string{"b"}, g.GetReadyNodes(map[string]bool{"a": true}))
	assert.Empty(t, g.GetReadyNodes(map[string]bool{"a": true, "b": true, "c": true}))
}

func TestDependencyGraphGetAllDependenciesIsTransitive(t *testing.T) {
	g := chainGraph()
	deps, err := g.GetAllDependencies("c")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, deps)
}

func TestDependencyGraphGetNodeDependenciesAndDependents(t *testing.T) {
	g := chainGraph()

	deps, err := g.GetNodeDependencies("b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, deps)

	dependents, err := g.GetNodeDependents("b")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, dependents)
}

func TestDependencyGraphCloneIsIndependent(t *testing.T) {
	g := chainGraph()
	clone := g.Clone()

	clone.AddNode("d")
	require.NoError(t, clone.AddEdge("c", "d"))

	_, err := g.GetNodeDependencies("d")
	assert.Error(t, err, "cloning must not mutate the source graph")
}

func TestDependencyGraphGraphInfoReportsParallelism(t *testing.T) {
	g := NewDependencyGraph()
	g.AddNode("a")
	g.AddNode("b")
	g.AddNode("c")

	info := g.GetGraphInfo()
	assert.Equal(t, 3, info["total_nodes"])
	assert.Equal(t, 3, info["parallelism"], "three independent nodes all run in the first batch")
	assert.Equal(t, true, info["is_acyclic"])
}
