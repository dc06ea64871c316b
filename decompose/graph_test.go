package decompose

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juniperhq/juniper/types"
)

func TestGraphValidateEmpty(t *testing.T) {
	err := NewGraph().Validate()
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestGraphValidateDanglingEdge(t *testing.T) {
	g := NewGraph()
	g.AddNode(&Node{ID: "a", ExpertID: "calendar", DependsOn: []Dependency{{TaskID: "ghost"}}})

	err := g.Validate()
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestGraphValidateSelfEdge(t *testing.T) {
	g := NewGraph()
	g.AddNode(&Node{ID: "a", ExpertID: "calendar", DependsOn: []Dependency{{TaskID: "a"}}})

	err := g.Validate()
	require.Error(t, err)
	assert.Equal(t, types.ErrGraphCycle, types.GetErrorCode(err))
}

func TestGraphTopoSortCycle(t *testing.T) {
	g := NewGraph()
	g.AddNode(&Node{ID: "a", DependsOn: []Dependency{{TaskID: "b"}}})
	g.AddNode(&Node{ID: "b", DependsOn: []Dependency{{TaskID: "a"}}})

	_, err := g.TopoSort()
	require.Error(t, err)
	assert.Equal(t, types.ErrGraphCycle, types.GetErrorCode(err))
}

func TestGraphTopoSortRespectsDependencies(t *testing.T) {
	g := NewGraph()
	g.AddNode(&Node{ID: "schedule"})
	g.AddNode(&Node{ID: "remind", DependsOn: []Dependency{{TaskID: "schedule"}}})
	g.AddNode(&Node{ID: "notify", DependsOn: []Dependency{{TaskID: "remind"}}})

	order, err := g.TopoSort()
	require.NoError(t, err)
	assert.Equal(t, []string{"schedule", "remind", "notify"}, order)
}

func TestGraphDependentsAndRoots(t *testing.T) {
	g := NewGraph()
	g.AddNode(&Node{ID: "a"})
	g.AddNode(&Node{ID: "b", DependsOn: []Dependency{{TaskID: "a"}}})
	g.AddNode(&Node{ID: "c", DependsOn: []Dependency{{TaskID: "a"}}})

	assert.Equal(t, []string{"b", "c"}, g.Dependents("a"))
	assert.Equal(t, []string{"a"}, g.Roots())
}

func TestGraphBuilderFluent(t *testing.T) {
	g, err := NewGraphBuilder().
		Task("schedule", "calendar").
		WithInput(map[string]any{"text": "schedule a meeting"}).
		WithRollback("calendar", map[string]any{"action": "cancel"}).
		Done().
		Task("remind", "reminder").
		After("schedule").
		Done().
		Build()
	require.NoError(t, err)

	require.Equal(t, 2, g.Len())
	n, ok := g.Node("remind")
	require.True(t, ok)
	assert.Equal(t, "schedule", n.DependsOn[0].TaskID)

	s, _ := g.Node("schedule")
	require.NotNil(t, s.Rollback)
	assert.Equal(t, "calendar", s.Rollback.ExpertID)
}

func TestGraphBuilderCycleRejected(t *testing.T) {
	_, err := NewGraphBuilder().
		Task("a", "x").After("b").Done().
		Task("b", "y").After("a").Done().
		Build()
	require.Error(t, err)
	assert.Equal(t, types.ErrGraphCycle, types.GetErrorCode(err))
}

// Forward-only edges always yield a valid topological order covering
// every node.
func TestProperty_ForwardEdgeGraphsAlwaysSort(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("graphs with forward-only edges are acyclic", prop.ForAll(
		func(n int, edges []int) bool {
			g := NewGraph()
			for i := 0; i < n; i++ {
				g.AddNode(&Node{ID: fmt.Sprintf("t%d", i)})
			}
			// Each edge value picks a (from, to) pair with from < to.
			for _, e := range edges {
				if n < 2 {
					break
				}
				from := e % (n - 1)
				to := from + 1 + (e/(n-1))%(n-1-from)
				node, _ := g.Node(fmt.Sprintf("t%d", to))
				node.DependsOn = append(node.DependsOn, Dependency{TaskID: fmt.Sprintf("t%d", from)})
			}

			order, err := g.TopoSort()
			if err != nil {
				return false
			}
			if len(order) != n {
				return false
			}

			pos := make(map[string]int, n)
			for i, id := range order {
				pos[id] = i
			}
			for _, node := range g.Nodes() {
				for _, dep := range node.DependsOn {
					if pos[dep.TaskID] >= pos[node.ID] {
						return false
					}
				}
			}
			return true
		},
		gen.IntRange(1, 12),
		gen.SliceOf(gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}
