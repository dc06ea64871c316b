package assistant

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/juniperhq/juniper/decompose"
	"github.com/juniperhq/juniper/memory"
	"github.com/juniperhq/juniper/orchestrate"
	"github.com/juniperhq/juniper/types"
)

// Request is one user utterance to handle.
type Request struct {
	OwnerID string            `json:"owner_id"`
	Text    string            `json:"text"`
	Kind    types.ContextKind `json:"context_kind,omitempty"`
}

// Response is the synthesized outcome of one handled request.
type Response struct {
	RunID     string                             `json:"run_id"`
	EpisodeID string                             `json:"episode_id"`
	Status    types.RunStatus                    `json:"status"`
	Reply     string                             `json:"reply"`
	Tasks     map[string]*orchestrate.TaskResult `json:"tasks"`
}

// Service runs the request pipeline end to end.
type Service struct {
	memory     *memory.Manager
	decomposer *decompose.Decomposer
	engine     *orchestrate.Engine
	logger     *zap.Logger
}

// NewService creates the pipeline facade.
func NewService(mem *memory.Manager, dec *decompose.Decomposer, eng *orchestrate.Engine, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		memory:     mem,
		decomposer: dec,
		engine:     eng,
		logger:     logger.With(zap.String("component", "assistant")),
	}
}

// Handle drives one request through the pipeline: begin or continue the
// owner's episode, record the user turn, recall context, decompose,
// execute, synthesize a reply, and record it as the assistant turn.
// Progress streams to the sink for the whole run.
func (s *Service) Handle(ctx context.Context, req *Request, sink orchestrate.Sink) (*Response, error) {
	if req == nil || strings.TrimSpace(req.Text) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "empty request text")
	}
	if req.OwnerID == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "owner_id is required")
	}
	kind := req.Kind
	if kind == "" {
		kind = types.ContextChat
	}

	episodeID, err := s.memory.BeginOrContinueEpisode(ctx, req.OwnerID, kind)
	if err != nil {
		return nil, err
	}
	episodeID, err = s.recordTurn(ctx, episodeID, req.OwnerID, kind, types.RoleUser, req.Text)
	if err != nil {
		return nil, err
	}

	// Recall is a conversational aid: a store hiccup here must not fail
	// the request.
	facts, err := s.memory.TemporalSearch(ctx, req.OwnerID, req.Text, types.RangeAll)
	if err != nil {
		s.logger.Warn("temporal search failed",
			zap.String("owner_id", req.OwnerID),
			zap.Error(err))
		facts = nil
	}

	graph, err := s.decomposer.Decompose(ctx, req.OwnerID, req.Text)
	if err != nil {
		return nil, err
	}
	attachContext(graph, facts)

	runID := uuid.NewString()
	result, err := s.engine.Run(ctx, runID, req.OwnerID, graph, sink)
	if err != nil {
		return nil, err
	}

	reply := s.synthesize(graph, result)

	if episodeID, err = s.recordTurn(ctx, episodeID, req.OwnerID, kind, types.RoleAssistant, reply); err != nil {
		// The run already happened; losing the assistant turn is worth
		// a warning, not a failed response.
		s.logger.Warn("failed to record assistant turn",
			zap.String("episode_id", episodeID),
			zap.Error(err))
	}

	return &Response{
		RunID:     runID,
		EpisodeID: episodeID,
		Status:    result.Status,
		Reply:     reply,
		Tasks:     result.Tasks,
	}, nil
}

// recordTurn appends a turn, re-beginning the episode once when it
// expired between lookup and append.
func (s *Service) recordTurn(ctx context.Context, episodeID, ownerID string, kind types.ContextKind, role types.TurnRole, content string) (string, error) {
	_, err := s.memory.RecordTurn(ctx, episodeID, role, content)
	if err == nil {
		return episodeID, nil
	}
	if !types.IsCode(err, types.ErrEpisodeNotFound) {
		return episodeID, err
	}

	s.logger.Debug("episode expired mid-request, re-beginning",
		zap.String("episode_id", episodeID),
		zap.String("owner_id", ownerID))

	episodeID, err = s.memory.BeginOrContinueEpisode(ctx, ownerID, kind)
	if err != nil {
		return "", err
	}
	if _, err = s.memory.RecordTurn(ctx, episodeID, role, content); err != nil {
		return episodeID, err
	}
	return episodeID, nil
}

// RememberFact stores a durable memory fact for the owner.
func (s *Service) RememberFact(ctx context.Context, ownerID, episodeID, category, content string) (string, error) {
	return s.memory.RecordFact(ctx, ownerID, episodeID, category, content)
}

// Recall runs a decay-weighted temporal search over the owner's facts.
func (s *Service) Recall(ctx context.Context, ownerID, query string, timeRange types.TimeRange) ([]types.ScoredFact, error) {
	return s.memory.TemporalSearch(ctx, ownerID, query, timeRange)
}

// attachContext injects the top recalled facts into every task input so
// experts see the owner's relevant history.
func attachContext(graph *decompose.Graph, facts []types.ScoredFact) {
	if len(facts) == 0 {
		return
	}
	const maxContextFacts = 5
	n := len(facts)
	if n > maxContextFacts {
		n = maxContextFacts
	}
	recalled := make([]string, 0, n)
	for _, f := range facts[:n] {
		recalled = append(recalled, f.Fact.Content)
	}
	for _, node := range graph.Nodes() {
		if node.Input == nil {
			node.Input = make(map[string]any)
		}
		node.Input["context"] = recalled
	}
}

// synthesize builds the final reply from per-task outcomes, in graph
// order so the reply mirrors the request.
func (s *Service) synthesize(graph *decompose.Graph, result *orchestrate.RunResult) string {
	var parts []string
	for _, node := range graph.Nodes() {
		task := result.Tasks[node.ID]
		if task == nil {
			continue
		}
		switch task.State {
		case types.TaskSucceeded:
			if text, ok := task.Output["text"].(string); ok && text != "" {
				parts = append(parts, text)
			} else {
				parts = append(parts, fmt.Sprintf("Done: %s.", node.ExpertID))
			}
		case types.TaskFailed:
			parts = append(parts, fmt.Sprintf("I couldn't complete the %s step.", node.ExpertID))
		case types.TaskSkipped:
			parts = append(parts, fmt.Sprintf("Skipped the %s step because an earlier step failed.", node.ExpertID))
		case types.TaskRolledBack:
			parts = append(parts, fmt.Sprintf("Undid the %s step.", node.ExpertID))
		}
	}

	anySucceeded := false
	anyRolledBack := false
	for _, task := range result.Tasks {
		switch task.State {
		case types.TaskSucceeded:
			anySucceeded = true
		case types.TaskRolledBack:
			anyRolledBack = true
		}
	}

	switch result.Status {
	case types.RunSucceeded:
		return strings.Join(parts, " ")
	case types.RunPartial:
		if anySucceeded {
			return "Some of that worked. " + strings.Join(parts, " ")
		}
		return "I couldn't get that done. " + strings.Join(parts, " ")
	case types.RunCancelled:
		return "That was cancelled before it finished. " + strings.Join(parts, " ")
	default:
		if anyRolledBack {
			return "That didn't work, and I've undone the steps that had already completed. " + strings.Join(parts, " ")
		}
		return "I couldn't get that done. " + strings.Join(parts, " ")
	}
}
