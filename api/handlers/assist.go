package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/juniperhq/juniper/api"
	"github.com/juniperhq/juniper/assistant"
	"github.com/juniperhq/juniper/orchestrate"
	"github.com/juniperhq/juniper/types"
)

// AssistHandler serves the assist endpoints: plain request/response,
// SSE streaming, and websocket streaming.
type AssistHandler struct {
	service *assistant.Service
	logger  *zap.Logger
}

// NewAssistHandler creates an assist handler.
func NewAssistHandler(service *assistant.Service, logger *zap.Logger) *AssistHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssistHandler{
		service: service,
		logger:  logger.With(zap.String("handler", "assist")),
	}
}

// HandleAssist handles POST /v1/assist. The run executes to completion
// and the synthesized reply is returned in one response; progress
// events are consumed internally, keeping only the action cards.
func (h *AssistHandler) HandleAssist(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.AssistRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	var cards []orchestrate.ActionCard
	sink := orchestrate.SinkFunc(func(_ context.Context, ev *orchestrate.Event) error {
		if ev.Type == orchestrate.EventActionCards {
			cards = ev.Cards
		}
		return nil
	})

	resp, err := h.service.Handle(r.Context(), &assistant.Request{
		OwnerID: req.OwnerID,
		Text:    req.Text,
		Kind:    req.ContextKind,
	}, sink)
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}

	WriteSuccess(w, toAssistResponse(resp, cards))
}

// HandleAssistStream handles POST /v1/assist/stream. Progress events
// are sent as SSE data frames while the run executes; the final
// synthesized response arrives as an "event: result" frame followed by
// a [DONE] marker.
func (h *AssistHandler) HandleAssistStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.AssistRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "streaming not supported", h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var cards []orchestrate.ActionCard
	sink := orchestrate.SinkFunc(func(_ context.Context, ev *orchestrate.Event) error {
		if ev.Type == orchestrate.EventActionCards {
			cards = ev.Cards
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})

	resp, err := h.service.Handle(r.Context(), &assistant.Request{
		OwnerID: req.OwnerID,
		Text:    req.Text,
		Kind:    req.ContextKind,
	}, sink)
	if err != nil {
		h.writeStreamError(w, flusher, err)
		return
	}

	if data, merr := json.Marshal(toAssistResponse(resp, cards)); merr == nil {
		fmt.Fprintf(w, "event: result\ndata: %s\n\n", data)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (h *AssistHandler) writeStreamError(w http.ResponseWriter, flusher http.Flusher, err error) {
	e, ok := types.AsError(err)
	if !ok {
		e = types.NewError(types.ErrInternalError, "internal error").WithCause(err)
	}
	h.logger.Error("assist stream failed",
		zap.String("code", string(e.Code)),
		zap.Error(err))

	payload, merr := json.Marshal(ErrorInfo{
		Code:      string(e.Code),
		Message:   e.Message,
		Retryable: e.Retryable,
		ExpertID:  e.ExpertID,
	})
	if merr != nil {
		payload = []byte(`{"code":"INTERNAL_ERROR","message":"internal error"}`)
	}
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
	flusher.Flush()
}

// wsReadTimeout bounds the wait for the initial request frame.
const wsReadTimeout = 30 * time.Second

// wsResult is the terminal websocket frame carrying the synthesized
// response after the event stream ends.
type wsResult struct {
	Type   string              `json:"type"`
	Result *api.AssistResponse `json:"result,omitempty"`
	Error  *ErrorInfo          `json:"error,omitempty"`
}

// HandleAssistWS handles GET /v1/assist/ws. The client sends one
// AssistRequest frame, then receives progress events as JSON frames
// and a final {"type":"result"} frame before the connection closes.
func (h *AssistHandler) HandleAssistWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	readCtx, cancel := context.WithTimeout(r.Context(), wsReadTimeout)
	var req api.AssistRequest
	err = wsjson.Read(readCtx, conn, &req)
	cancel()
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, "expected an assist request frame")
		return
	}

	resp, err := h.service.Handle(r.Context(), &assistant.Request{
		OwnerID: req.OwnerID,
		Text:    req.Text,
		Kind:    req.ContextKind,
	}, orchestrate.NewWebSocketSink(conn))
	if err != nil {
		e, ok := types.AsError(err)
		if !ok {
			e = types.NewError(types.ErrInternalError, "internal error").WithCause(err)
		}
		_ = wsjson.Write(r.Context(), conn, wsResult{
			Type: "error",
			Error: &ErrorInfo{
				Code:      string(e.Code),
				Message:   e.Message,
				Retryable: e.Retryable,
				ExpertID:  e.ExpertID,
			},
		})
		conn.Close(websocket.StatusInternalError, string(e.Code))
		return
	}

	out := toAssistResponse(resp, nil)
	_ = wsjson.Write(r.Context(), conn, wsResult{Type: "result", Result: out})
	conn.Close(websocket.StatusNormalClosure, "done")
}

func toAssistResponse(resp *assistant.Response, cards []orchestrate.ActionCard) *api.AssistResponse {
	out := &api.AssistResponse{
		RunID:     resp.RunID,
		EpisodeID: resp.EpisodeID,
		Status:    resp.Status,
		Reply:     resp.Reply,
		Tasks:     make(map[string]api.TaskResult, len(resp.Tasks)),
		Cards:     cards,
	}
	for id, tr := range resp.Tasks {
		view := api.TaskResult{
			ExpertID: tr.ExpertID,
			State:    tr.State,
			Output:   tr.Output,
			Duration: tr.Duration.String(),
		}
		if tr.Err != nil {
			view.Error = tr.Err.Error()
		}
		out.Tasks[id] = view
	}
	return out
}
