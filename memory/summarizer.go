package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/juniperhq/juniper/types"
)

// Summarizer produces a closing summary for an expired episode. An
// LLM-backed implementation can be swapped in; the default is extractive
// and deterministic.
type Summarizer interface {
	Summarize(ctx context.Context, ep *types.Episode, turns []types.Turn) (string, error)
}

// ExtractiveSummarizer summarizes an episode by selecting its highest
// importance turns, bounded by a token budget.
type ExtractiveSummarizer struct {
	tokenBudget int

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewExtractiveSummarizer creates a summarizer with the given token budget.
func NewExtractiveSummarizer(tokenBudget int) *ExtractiveSummarizer {
	if tokenBudget <= 0 {
		tokenBudget = 2048
	}
	return &ExtractiveSummarizer{tokenBudget: tokenBudget}
}

// init lazily initializes the tiktoken encoding (it may fetch data on
// first use).
func (s *ExtractiveSummarizer) init() error {
	s.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			s.initErr = fmt.Errorf("init tiktoken encoding: %w", err)
			return
		}
		s.enc = enc
	})
	return s.initErr
}

func (s *ExtractiveSummarizer) countTokens(text string) int {
	if err := s.init(); err != nil {
		// Fall back to a whitespace approximation when the encoding is
		// unavailable (offline environments).
		return len(strings.Fields(text))
	}
	return len(s.enc.Encode(text, nil, nil))
}

// Summarize selects turns by importance, preserving chronological order,
// until the token budget is exhausted.
func (s *ExtractiveSummarizer) Summarize(ctx context.Context, ep *types.Episode, turns []types.Turn) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(turns) == 0 {
		return "", nil
	}

	type indexed struct {
		idx  int
		turn types.Turn
	}
	ranked := make([]indexed, len(turns))
	for i, t := range turns {
		ranked[i] = indexed{idx: i, turn: t}
	}
	// Importance descending; stability keeps earlier turns first on
	// ties.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].turn.Importance > ranked[j].turn.Importance
	})

	budget := s.tokenBudget
	selected := make(map[int]struct{})
	for _, r := range ranked {
		cost := s.countTokens(r.turn.Content)
		if cost > budget && len(selected) > 0 {
			continue
		}
		selected[r.idx] = struct{}{}
		budget -= cost
		if budget <= 0 {
			break
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] conversation, %d turns.", ep.ContextKind, len(turns))
	for i, t := range turns {
		if _, ok := selected[i]; !ok {
			continue
		}
		b.WriteString(" ")
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(t.Content))
	}
	return b.String(), nil
}
