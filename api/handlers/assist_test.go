package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juniperhq/juniper/api"
	"github.com/juniperhq/juniper/assistant"
	"github.com/juniperhq/juniper/config"
	"github.com/juniperhq/juniper/decompose"
	"github.com/juniperhq/juniper/expert"
	"github.com/juniperhq/juniper/memory"
	"github.com/juniperhq/juniper/orchestrate"
	"github.com/juniperhq/juniper/types"
)

func newAssistFixture(t *testing.T) (*AssistHandler, *expert.LocalInvoker) {
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
	svc := assistant.NewService(mem, dec, eng, nil)

	return NewAssistHandler(svc, nil), inv
}

func okExpert(output map[string]any) expert.HandlerFunc {
	return func(ctx context.Context, req *types.ExpertRequest) (*types.ExpertResponse, error) {
		return &types.ExpertResponse{Status: types.ExpertSuccess, Output: output}, nil
	}
}

func postJSON(t *testing.T, body any, path string) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(data)))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func TestHandleAssist(t *testing.T) {
	h, inv := newAssistFixture(t)
	inv.Handle("weather", okExpert(map[string]any{"text": "Sunny, 22 degrees."}))

	w := httptest.NewRecorder()
	h.HandleAssist(w, postJSON(t, api.AssistRequest{
		OwnerID: "owner-1",
		Text:    "what's the weather tomorrow",
	}, "/v1/assist"))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var envelope Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope))
	require.True(t, envelope.Success)

	data, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var resp api.AssistResponse
	require.NoError(t, json.Unmarshal(data, &resp))

	assert.Equal(t, types.RunSucceeded, resp.Status)
	assert.Equal(t, "Sunny, 22 degrees.", resp.Reply)
	assert.NotEmpty(t, resp.RunID)
	assert.NotEmpty(t, resp.EpisodeID)
	require.Len(t, resp.Tasks, 1)
	for _, task := range resp.Tasks {
		assert.Equal(t, "weather", task.ExpertID)
		assert.Equal(t, types.TaskSucceeded, task.State)
	}
}

func TestHandleAssistRejectsEmptyText(t *testing.T) {
	h, _ := newAssistFixture(t)

	w := httptest.NewRecorder()
	h.HandleAssist(w, postJSON(t, api.AssistRequest{OwnerID: "owner-1", Text: "  "}, "/v1/assist"))

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var envelope Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope))
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "INVALID_REQUEST", envelope.Error.Code)
}

func TestHandleAssistRejectsWrongMethod(t *testing.T) {
	h, _ := newAssistFixture(t)

	w := httptest.NewRecorder()
	h.HandleAssist(w, httptest.NewRequest(http.MethodGet, "/v1/assist", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleAssistRejectsNonJSON(t *testing.T) {
	h, _ := newAssistFixture(t)

	r := httptest.NewRequest(http.MethodPost, "/v1/assist", strings.NewReader("text"))
	r.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	h.HandleAssist(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleAssistStream(t *testing.T) {
	h, inv := newAssistFixture(t)
	inv.Handle("weather", okExpert(map[string]any{"text": "Cloudy."}))

	w := httptest.NewRecorder()
	h.HandleAssistStream(w, postJSON(t, api.AssistRequest{
		OwnerID: "owner-1",
		Text:    "weather forecast please",
	}, "/v1/assist/stream"))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	var (
		events    []orchestrate.Event
		sawResult bool
		sawDone   bool
	)
	scanner := bufio.NewScanner(w.Body)
	var lastEvent string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			lastEvent = strings.TrimPrefix(line, "event: ")
		case line == "data: [DONE]":
			sawDone = true
		case strings.HasPrefix(line, "data: "):
			payload := strings.TrimPrefix(line, "data: ")
			if lastEvent == "result" {
				var resp api.AssistResponse
				require.NoError(t, json.Unmarshal([]byte(payload), &resp))
				assert.Equal(t, "Cloudy.", resp.Reply)
				sawResult = true
				lastEvent = ""
				continue
			}
			var ev orchestrate.Event
			require.NoError(t, json.Unmarshal([]byte(payload), &ev))
			events = append(events, ev)
		}
	}

	require.NotEmpty(t, events)
	assert.Equal(t, orchestrate.EventRunStarted, events[0].Type)
	assert.Equal(t, orchestrate.EventRunEnded, events[len(events)-1].Type)
	assert.True(t, sawResult, "expected a result frame")
	assert.True(t, sawDone, "expected the [DONE] marker")
}

func TestHandleAssistStreamErrorFrame(t *testing.T) {
	h, _ := newAssistFixture(t)

	w := httptest.NewRecorder()
	h.HandleAssistStream(w, postJSON(t, api.AssistRequest{Text: "no owner"}, "/v1/assist/stream"))

	require.Equal(t, http.StatusOK, w.Code) // headers already sent for SSE
	body := w.Body.String()
	assert.Contains(t, body, "event: error")
	assert.Contains(t, body, "INVALID_REQUEST")
}

func TestHandleAssistWS(t *testing.T) {
	h, inv := newAssistFixture(t)
	inv.Handle("weather", okExpert(map[string]any{"text": "Windy."}))

	srv := httptest.NewServer(http.HandlerFunc(h.HandleAssistWS))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, wsjson.Write(ctx, conn, api.AssistRequest{
		OwnerID: "owner-1",
		Text:    "what's the weather tomorrow",
	}))

	var (
		sawRunStarted bool
		sawRunEnded   bool
		result        *api.AssistResponse
	)
	for result == nil {
		var frame map[string]json.RawMessage
		require.NoError(t, wsjson.Read(ctx, conn, &frame))

		var frameType string
		require.NoError(t, json.Unmarshal(frame["type"], &frameType))
		switch frameType {
		case string(orchestrate.EventRunStarted):
			sawRunStarted = true
		case string(orchestrate.EventRunEnded):
			sawRunEnded = true
		case "result":
			var resp api.AssistResponse
			require.NoError(t, json.Unmarshal(frame["result"], &resp))
			result = &resp
		}
	}

	assert.True(t, sawRunStarted)
	assert.True(t, sawRunEnded)
	assert.Equal(t, "Windy.", result.Reply)
	assert.Equal(t, types.RunSucceeded, result.Status)
}
