package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/juniperhq/juniper/api"
	"github.com/juniperhq/juniper/memory"
	"github.com/juniperhq/juniper/types"
)

// MemoryHandler serves the explicit memory endpoints: remember a fact,
// recall with time-aware ranking, and episode inspection.
type MemoryHandler struct {
	manager *memory.Manager
	logger  *zap.Logger
}

// NewMemoryHandler creates a memory handler.
func NewMemoryHandler(manager *memory.Manager, logger *zap.Logger) *MemoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryHandler{
		manager: manager,
		logger:  logger.With(zap.String("handler", "memory")),
	}
}

// HandleRemember handles POST /v1/memory/facts.
func (h *MemoryHandler) HandleRemember(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.RememberRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.OwnerID) == "" || strings.TrimSpace(req.Content) == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "owner_id and content are required", h.logger)
		return
	}

	factID, err := h.manager.RecordFact(r.Context(), req.OwnerID, req.EpisodeID, req.Category, req.Content)
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}

	WriteSuccess(w, api.RememberResponse{FactID: factID})
}

// HandleRecall handles POST /v1/memory/recall.
func (h *MemoryHandler) HandleRecall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.RecallRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.OwnerID) == "" || strings.TrimSpace(req.Query) == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "owner_id and query are required", h.logger)
		return
	}

	facts, err := h.manager.TemporalSearch(r.Context(), req.OwnerID, req.Query, req.TimeRange)
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}

	out := api.RecallResponse{Facts: make([]api.RecalledFact, 0, len(facts))}
	for _, f := range facts {
		out.Facts = append(out.Facts, api.RecalledFact{
			FactID:    f.Fact.ID,
			EpisodeID: f.Fact.EpisodeID,
			Category:  f.Fact.Category,
			Content:   f.Fact.Content,
			Score:     f.FinalScore,
			CreatedAt: f.Fact.CreatedAt,
		})
	}
	WriteSuccess(w, out)
}

// HandleEpisode handles GET /v1/episodes/{id}. The optional "turns"
// query parameter bounds how many recent turns are included.
func (h *MemoryHandler) HandleEpisode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}

	id := r.PathValue("id")
	if id == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "episode id is required", h.logger)
		return
	}

	ep, err := h.manager.GetEpisode(r.Context(), id)
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("turns"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "turns must be a non-negative integer", h.logger)
			return
		}
		limit = n
	}

	resp := api.EpisodeResponse{Episode: ep}
	if limit > 0 {
		turns, err := h.manager.RecentTurns(r.Context(), id, limit)
		if err != nil {
			WriteErrorFrom(w, err, h.logger)
			return
		}
		resp.Turns = turns
	}

	WriteSuccess(w, resp)
}
