package decompose

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/juniperhq/juniper/config"
	"github.com/juniperhq/juniper/expert"
	"github.com/juniperhq/juniper/types"
)

// Decomposer turns a user request into a validated task graph. Matching
// runs against a registry snapshot so one request sees one consistent
// expert table.
type Decomposer struct {
	registry  *expert.Registry
	matcher   Matcher
	threshold float64
	fallback  string
	logger    *zap.Logger
}

// NewDecomposer creates a decomposer using the configured match
// threshold and fallback expert.
func NewDecomposer(registry *expert.Registry, matcher Matcher, cfg config.OrchestratorConfig, logger *zap.Logger) *Decomposer {
	if matcher == nil {
		matcher = NewKeywordMatcher()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decomposer{
		registry:  registry,
		matcher:   matcher,
		threshold: cfg.MatchThreshold,
		fallback:  cfg.FallbackExpert,
		logger:    logger.With(zap.String("component", "decomposer")),
	}
}

// sequentialMarkers introduce a clause that depends on the previous one.
var sequentialMarkers = []string{" and then ", " then ", " after that "}

// parallelMarkers introduce a candidate independent clause. The split is
// only kept when the fragments route to distinct experts, so list items
// joined by "and" stay in one task.
var parallelMarkers = []string{"; ", " and also ", " also ", " and "}

// clause is an intent fragment plus whether it follows sequentially.
type clause struct {
	text       string
	sequential bool
}

// Decompose builds a task graph for the request. A clause with no
// confident expert match is routed to the fallback expert instead of
// failing the request.
func (d *Decomposer) Decompose(ctx context.Context, ownerID, request string) (*Graph, error) {
	request = strings.ToLower(strings.TrimSpace(request))
	if request == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "empty request")
	}

	experts := d.registry.Snapshot()
	clauses := d.splitClauses(request, experts)

	graph := NewGraph()
	prevID := ""
	for i, cl := range clauses {
		desc, score := d.route(cl.text, experts)
		node := &Node{
			ID:       fmt.Sprintf("task-%d", i+1),
			ExpertID: desc.ID,
			Input: map[string]any{
				"text":     cl.text,
				"owner_id": ownerID,
			},
			Timeout: desc.Timeout,
		}
		if cl.sequential && prevID != "" {
			node.DependsOn = []Dependency{{TaskID: prevID}}
		}
		graph.AddNode(node)
		prevID = node.ID

		d.logger.Debug("clause routed",
			zap.String("task_id", node.ID),
			zap.String("expert_id", desc.ID),
			zap.Float64("score", score),
			zap.Bool("sequential", cl.sequential))
	}

	// Decomposer output is acyclic by construction; a failure here is a
	// bug, not a user error.
	if err := graph.Validate(); err != nil {
		return nil, err
	}
	return graph, nil
}

// route picks the best-scoring expert above the threshold, falling back
// to the generic expert otherwise. The returned descriptor carries the
// expert's invocation timeout onto the task node.
func (d *Decomposer) route(text string, experts []expert.Descriptor) (expert.Descriptor, float64) {
	matches := d.matcher.Match(text, experts)
	if len(matches) > 0 && matches[0].Score >= d.threshold {
		return descriptorByID(matches[0].ExpertID, experts), matches[0].Score
	}
	d.logger.Debug("no confident match, using fallback",
		zap.String("clause", text),
		zap.String("fallback", d.fallback))
	return descriptorByID(d.fallback, experts), 0
}

func descriptorByID(id string, experts []expert.Descriptor) expert.Descriptor {
	for _, e := range experts {
		if e.ID == id {
			return e
		}
	}
	return expert.Descriptor{ID: id}
}

// splitClauses breaks the request into intent clauses. Sequential
// connectives always split and mark the following clause dependent on
// the previous one. Parallel conjunctions split only when the fragments
// are genuinely multi-intent, meaning they match distinct experts.
func (d *Decomposer) splitClauses(request string, experts []expert.Descriptor) []clause {
	clauses := []clause{{text: request}}
	for _, marker := range sequentialMarkers {
		clauses = splitOn(clauses, marker, true)
	}

	var out []clause
	for _, cl := range clauses {
		out = append(out, d.splitParallel(cl, experts)...)
	}

	filtered := out[:0]
	for _, cl := range out {
		cl.text = strings.TrimSpace(cl.text)
		if cl.text != "" {
			filtered = append(filtered, cl)
		}
	}
	return filtered
}

// splitParallel tries each parallel marker and keeps the first split
// whose fragments route to at least two distinct experts.
func (d *Decomposer) splitParallel(cl clause, experts []expert.Descriptor) []clause {
	for _, marker := range parallelMarkers {
		parts := strings.Split(cl.text, marker)
		if len(parts) == 1 {
			continue
		}
		if !d.multiIntent(parts, experts) {
			continue
		}
		out := make([]clause, 0, len(parts))
		for i, part := range parts {
			c := clause{text: part}
			if i == 0 {
				c.sequential = cl.sequential
			}
			out = append(out, c)
		}
		return out
	}
	return []clause{cl}
}

// multiIntent reports whether the fragments route to two or more
// distinct experts.
func (d *Decomposer) multiIntent(parts []string, experts []expert.Descriptor) bool {
	seen := make(map[string]bool)
	for _, part := range parts {
		desc, _ := d.route(strings.TrimSpace(part), experts)
		seen[desc.ID] = true
	}
	return len(seen) > 1
}

func splitOn(clauses []clause, marker string, sequential bool) []clause {
	var out []clause
	for _, cl := range clauses {
		parts := strings.Split(cl.text, marker)
		if len(parts) == 1 {
			out = append(out, cl)
			continue
		}
		for i, part := range parts {
			c := clause{text: part}
			if i == 0 {
				c.sequential = cl.sequential
			} else {
				c.sequential = sequential
			}
			out = append(out, c)
		}
	}
	return out
}
