package decompose

import (
	"fmt"
	"time"

	"github.com/juniperhq/juniper/types"
)

// Dependency is a directed edge from an upstream task to the task that
// declares it. A best-effort edge lets the dependent run even when the
// upstream task failed, with a placeholder input.
type Dependency struct {
	TaskID     string `json:"task_id"`
	BestEffort bool   `json:"best_effort,omitempty"`
}

// RollbackAction is a compensating expert call invoked to undo a
// succeeded task when the overall run is aborted.
type RollbackAction struct {
	ExpertID string         `json:"expert_id"`
	Input    map[string]any `json:"input,omitempty"`
}

// Node is one sub-task in a task graph.
type Node struct {
	ID        string          `json:"id"`
	ExpertID  string          `json:"expert_id"`
	Input     map[string]any  `json:"input,omitempty"`
	DependsOn []Dependency    `json:"depends_on,omitempty"`
	Rollback  *RollbackAction `json:"rollback,omitempty"`
	// Timeout bounds the expert call for this task. Zero means the
	// orchestrator default applies.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Graph is a directed acyclic task graph. Node iteration order is
// insertion order, which keeps decomposition output deterministic.
type Graph struct {
	nodes map[string]*Node
	order []string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{nodes: make(map[string]*Node)}
}

// AddNode adds a node. Re-adding an id replaces the node in place.
func (g *Graph) AddNode(n *Node) {
	if _, exists := g.nodes[n.ID]; !exists {
		g.order = append(g.order, n.ID)
	}
	g.nodes[n.ID] = n
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Dependents returns the ids of nodes that depend on the given id, in
// insertion order.
func (g *Graph) Dependents(id string) []string {
	var out []string
	for _, nid := range g.order {
		for _, dep := range g.nodes[nid].DependsOn {
			if dep.TaskID == id {
				out = append(out, nid)
				break
			}
		}
	}
	return out
}

// Validate checks edge integrity and acyclicity. A dangling edge is an
// invalid request; a cycle is a structural fault that must abort the
// run before any side effect.
func (g *Graph) Validate() error {
	if len(g.nodes) == 0 {
		return types.NewError(types.ErrInvalidRequest, "task graph has no nodes")
	}
	for _, n := range g.Nodes() {
		for _, dep := range n.DependsOn {
			if _, ok := g.nodes[dep.TaskID]; !ok {
				return types.NewError(types.ErrInvalidRequest,
					fmt.Sprintf("task %s depends on unknown task %s", n.ID, dep.TaskID))
			}
			if dep.TaskID == n.ID {
				return types.NewError(types.ErrGraphCycle,
					fmt.Sprintf("task %s depends on itself", n.ID))
			}
		}
	}
	if _, err := g.TopoSort(); err != nil {
		return err
	}
	return nil
}

// TopoSort returns a topological ordering of the node ids using Kahn's
// algorithm, or a GRAPH_CYCLE error when none exists. Among ready nodes
// insertion order wins, so the ordering is stable.
func (g *Graph) TopoSort() ([]string, error) {
	// Duplicate declarations of the same upstream count once, matching
	// Dependents.
	indegree := make(map[string]int, len(g.nodes))
	for _, id := range g.order {
		seen := make(map[string]bool, len(g.nodes[id].DependsOn))
		for _, dep := range g.nodes[id].DependsOn {
			if !seen[dep.TaskID] {
				seen[dep.TaskID] = true
				indegree[id]++
			}
		}
	}

	var queue []string
	for _, id := range g.order {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	sorted := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		sorted = append(sorted, id)

		for _, dep := range g.Dependents(id) {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(sorted) != len(g.nodes) {
		return nil, types.NewError(types.ErrGraphCycle, "task graph contains a cycle")
	}
	return sorted, nil
}

// Roots returns the ids of nodes with no dependencies, in insertion
// order.
func (g *Graph) Roots() []string {
	var out []string
	for _, id := range g.order {
		if len(g.nodes[id].DependsOn) == 0 {
			out = append(out, id)
		}
	}
	return out
}
