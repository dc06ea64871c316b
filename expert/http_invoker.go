package expert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/juniperhq/juniper/types"
)

// HTTPInvoker invokes experts over HTTP: the uniform request is POSTed as
// JSON to the descriptor endpoint, which answers with the uniform
// response. The per-task deadline on the context bounds the whole call.
type HTTPInvoker struct {
	registry   *Registry
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPInvoker creates an HTTP invoker resolving endpoints through the
// registry.
func NewHTTPInvoker(registry *Registry, logger *zap.Logger) *HTTPInvoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPInvoker{
		registry: registry,
		// Per-call deadlines come from the context; no client timeout.
		httpClient: &http.Client{},
		logger:     logger.With(zap.String("component", "http_invoker")),
	}
}

// Invoke POSTs the request to the expert's endpoint.
func (h *HTTPInvoker) Invoke(ctx context.Context, req *types.ExpertRequest) (*types.ExpertResponse, error) {
	desc, err := h.registry.Get(req.ExpertID)
	if err != nil {
		return nil, err
	}
	if desc.Endpoint == "" {
		return nil, types.NewError(types.ErrExpertInvocation, "expert has no endpoint").WithExpert(req.ExpertID)
	}

	if deadline, ok := ctx.Deadline(); ok {
		req.Deadline = deadline
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, types.NewError(types.ErrExpertInvocation, "marshal request").
			WithExpert(req.ExpertID).WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, desc.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewError(types.ErrExpertInvocation, "build request").
			WithExpert(req.ExpertID).WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := h.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, types.NewError(types.ErrExpertTimeout, "expert deadline exceeded").
				WithExpert(req.ExpertID).WithCause(err).WithRetryable(true)
		}
		return nil, types.NewError(types.ErrExpertInvocation, "expert transport failed").
			WithExpert(req.ExpertID).WithCause(err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 4<<20))
	if err != nil {
		return nil, types.NewError(types.ErrExpertInvocation, "read response").
			WithExpert(req.ExpertID).WithCause(err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, types.NewError(types.ErrExpertInvocation,
			fmt.Sprintf("expert returned status %d", httpResp.StatusCode)).
			WithExpert(req.ExpertID)
	}

	var resp types.ExpertResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, types.NewError(types.ErrExpertInvocation, "decode response").
			WithExpert(req.ExpertID).WithCause(err)
	}

	h.logger.Debug("expert invoked",
		zap.String("expert_id", req.ExpertID),
		zap.String("status", string(resp.Status)),
		zap.Duration("duration", time.Since(start)))

	return &resp, nil
}
