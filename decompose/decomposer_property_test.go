package decompose

import (
	"context"
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/juniperhq/juniper/config"
	"github.com/juniperhq/juniper/expert"
)

// Randomized multi-intent requests never decompose into a cyclic graph:
// topological sort always succeeds and covers every node.
func TestDecomposeAlwaysAcyclic(t *testing.T) {
	cfg := config.DefaultConfig()
	reg := expert.NewRegistryFromConfig(cfg.Experts, nil)
	d := NewDecomposer(reg, nil, cfg.Orchestrator, nil)

	fragments := []string{
		"schedule a meeting with dana",
		"add milk to the shopping list",
		"what is the weather tomorrow",
		"remind me at noon",
		"turn off the lights",
		"remember that i prefer tea",
		"ponder the meaning of life",
	}
	connectives := []string{" then ", " and ", " and then ", "; ", " also "}

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(t, "fragments")
		var sb strings.Builder
		for i := 0; i < n; i++ {
			if i > 0 {
				sb.WriteString(rapid.SampledFrom(connectives).Draw(t, "connective"))
			}
			sb.WriteString(rapid.SampledFrom(fragments).Draw(t, "fragment"))
		}

		graph, err := d.Decompose(context.Background(), "owner-1", sb.String())
		if err != nil {
			t.Fatalf("decompose failed: %v", err)
		}
		order, err := graph.TopoSort()
		if err != nil {
			t.Fatalf("decomposer emitted a cyclic graph: %v", err)
		}
		if len(order) != graph.Len() {
			t.Fatalf("topological order covers %d of %d nodes", len(order), graph.Len())
		}
	})
}
