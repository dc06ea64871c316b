package assistant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juniperhq/juniper/config"
	"github.com/juniperhq/juniper/decompose"
	"github.com/juniperhq/juniper/expert"
	"github.com/juniperhq/juniper/memory"
	"github.com/juniperhq/juniper/orchestrate"
	"github.com/juniperhq/juniper/types"
)

type fixture struct {
	svc     *Service
	mem     *memory.Manager
	invoker *expert.LocalInvoker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Orchestrator.DefaultTaskTimeout = 2 * time.Second

	store := memory.NewInMemoryStore(nil)
	t.Cleanup(func() { store.Close() })
	mem := memory.NewManager(store, cfg.Memory, nil)

	reg := expert.NewRegistryFromConfig(cfg.Experts, nil)
	inv := expert.NewLocalInvoker(nil)
	dec := decompose.NewDecomposer(reg, nil, cfg.Orchestrator, nil)
	eng := orchestrate.NewEngine(inv, cfg.Orchestrator, nil)

	return &fixture{
		svc:     NewService(mem, dec, eng, nil),
		mem:     mem,
		invoker: inv,
	}
}

func ok(output map[string]any) expert.HandlerFunc {
	return func(ctx context.Context, req *types.ExpertRequest) (*types.ExpertResponse, error) {
		return &types.ExpertResponse{Status: types.ExpertSuccess, Output: output}, nil
	}
}

func TestHandleSingleIntent(t *testing.T) {
	f := newFixture(t)
	f.invoker.Handle("weather", ok(map[string]any{"text": "Sunny, 22 degrees."}))

	resp, err := f.svc.Handle(context.Background(), &Request{
		OwnerID: "owner-1",
		Text:    "what's the weather tomorrow",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, types.RunSucceeded, resp.Status)
	assert.Equal(t, "Sunny, 22 degrees.", resp.Reply)
	assert.NotEmpty(t, resp.RunID)
	assert.NotEmpty(t, resp.EpisodeID)
}

func TestHandleRecordsBothTurns(t *testing.T) {
	f := newFixture(t)
	f.invoker.Handle("weather", ok(map[string]any{"text": "Rainy."}))

	resp, err := f.svc.Handle(context.Background(), &Request{
		OwnerID: "owner-1",
		Text:    "weather forecast please",
	}, nil)
	require.NoError(t, err)

	turns, err := f.mem.RecentTurns(context.Background(), resp.EpisodeID, 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, types.RoleUser, turns[0].Role)
	assert.Equal(t, types.RoleAssistant, turns[1].Role)
	assert.Equal(t, "Rainy.", turns[1].Content)
}

func TestHandleMultiIntentPartial(t *testing.T) {
	f := newFixture(t)
	f.invoker.Handle("list", ok(map[string]any{"text": "Added milk."}))
	f.invoker.Handle("weather", func(ctx context.Context, req *types.ExpertRequest) (*types.ExpertResponse, error) {
		return nil, errors.New("provider down")
	})

	resp, err := f.svc.Handle(context.Background(), &Request{
		OwnerID: "owner-1",
		Text:    "add milk to my shopping list and tell me tomorrow's weather forecast",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, types.RunPartial, resp.Status)
	assert.Contains(t, resp.Reply, "Added milk.")
	assert.Contains(t, resp.Reply, "couldn't complete the weather step")
}

func TestHandleAllStepsFailed(t *testing.T) {
	f := newFixture(t)
	f.invoker.Handle("weather", func(ctx context.Context, req *types.ExpertRequest) (*types.ExpertResponse, error) {
		return nil, errors.New("provider down")
	})

	resp, err := f.svc.Handle(context.Background(), &Request{
		OwnerID: "owner-1",
		Text:    "tell me tomorrow's weather forecast",
	}, nil)
	require.NoError(t, err)

	// Nothing succeeded, so the run is a failure and the reply must not
	// claim any step worked or was undone.
	assert.Equal(t, types.RunFailed, resp.Status)
	assert.NotContains(t, resp.Reply, "Some of that worked")
	assert.NotContains(t, resp.Reply, "undone")
	assert.Contains(t, resp.Reply, "couldn't complete the weather step")
}

func TestHandleSameEpisodeAcrossRequests(t *testing.T) {
	f := newFixture(t)
	f.invoker.Handle("weather", ok(nil))

	first, err := f.svc.Handle(context.Background(), &Request{OwnerID: "owner-1", Text: "weather today"}, nil)
	require.NoError(t, err)
	second, err := f.svc.Handle(context.Background(), &Request{OwnerID: "owner-1", Text: "weather tomorrow"}, nil)
	require.NoError(t, err)

	assert.Equal(t, first.EpisodeID, second.EpisodeID,
		"requests within the activity timeout continue the same episode")
}

func TestHandleRecallAttachesContext(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RememberFact(context.Background(), "owner-1", "", "preference", "prefers oat milk")
	require.NoError(t, err)

	var gotContext []string
	f.invoker.Handle("list", func(ctx context.Context, req *types.ExpertRequest) (*types.ExpertResponse, error) {
		if items, ok := req.Input["context"].([]string); ok {
			gotContext = items
		}
		return &types.ExpertResponse{Status: types.ExpertSuccess}, nil
	})

	_, err = f.svc.Handle(context.Background(), &Request{
		OwnerID: "owner-1",
		Text:    "add milk to the shopping list",
	}, nil)
	require.NoError(t, err)

	assert.Contains(t, gotContext, "prefers oat milk")
}

func TestHandleEmptyRequestRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Handle(context.Background(), &Request{OwnerID: "owner-1", Text: "  "}, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))

	_, err = f.svc.Handle(context.Background(), &Request{Text: "hello"}, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestRecallRanksByDecayAndRelevance(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RememberFact(context.Background(), "owner-1", "", "preference", "likes tea")
	require.NoError(t, err)

	results, err := f.svc.Recall(context.Background(), "owner-1", "tea", types.RangeAll)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "likes tea", results[0].Fact.Content)
	assert.Greater(t, results[0].FinalScore, 0.0)
}
