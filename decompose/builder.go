package decompose

import "time"

// GraphBuilder provides a fluent API for constructing task graphs in
// code, used by tests and by callers that bypass natural-language
// decomposition.
type GraphBuilder struct {
	graph *Graph
}

// NewGraphBuilder creates a builder over an empty graph.
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{graph: NewGraph()}
}

// Task starts configuring a task node and returns its TaskBuilder.
func (b *GraphBuilder) Task(id, expertID string) *TaskBuilder {
	n := &Node{ID: id, ExpertID: expertID}
	b.graph.AddNode(n)
	return &TaskBuilder{node: n, parent: b}
}

// Build validates the graph and returns it.
func (b *GraphBuilder) Build() (*Graph, error) {
	if err := b.graph.Validate(); err != nil {
		return nil, err
	}
	return b.graph, nil
}

// TaskBuilder configures one task node.
type TaskBuilder struct {
	node   *Node
	parent *GraphBuilder
}

// WithInput sets the task input payload.
func (t *TaskBuilder) WithInput(input map[string]any) *TaskBuilder {
	t.node.Input = input
	return t
}

// After declares a hard dependency on another task.
func (t *TaskBuilder) After(taskID string) *TaskBuilder {
	t.node.DependsOn = append(t.node.DependsOn, Dependency{TaskID: taskID})
	return t
}

// AfterBestEffort declares a best-effort dependency: the task still runs
// with a placeholder input when the upstream fails.
func (t *TaskBuilder) AfterBestEffort(taskID string) *TaskBuilder {
	t.node.DependsOn = append(t.node.DependsOn, Dependency{TaskID: taskID, BestEffort: true})
	return t
}

// WithRollback attaches a compensating expert call.
func (t *TaskBuilder) WithRollback(expertID string, input map[string]any) *TaskBuilder {
	t.node.Rollback = &RollbackAction{ExpertID: expertID, Input: input}
	return t
}

// WithTimeout bounds the expert call for this task.
func (t *TaskBuilder) WithTimeout(d time.Duration) *TaskBuilder {
	t.node.Timeout = d
	return t
}

// Done returns to the graph builder.
func (t *TaskBuilder) Done() *GraphBuilder {
	return t.parent
}
