package expert

import (
	"context"

	"go.uber.org/zap"

	"github.com/juniperhq/juniper/types"
)

// DispatchInvoker routes each invocation by the expert's registration:
// experts with an endpoint go over HTTP, the rest run in process.
type DispatchInvoker struct {
	registry *Registry
	local    *LocalInvoker
	remote   Invoker
	logger   *zap.Logger
}

// NewDispatchInvoker creates a dispatcher over registry. local handles
// in-process experts and remote handles endpoint-backed ones.
func NewDispatchInvoker(registry *Registry, local *LocalInvoker, remote Invoker, logger *zap.Logger) *DispatchInvoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DispatchInvoker{
		registry: registry,
		local:    local,
		remote:   remote,
		logger:   logger.With(zap.String("component", "dispatch_invoker")),
	}
}

// Invoke implements Invoker.
func (d *DispatchInvoker) Invoke(ctx context.Context, req *types.ExpertRequest) (*types.ExpertResponse, error) {
	desc, err := d.registry.Get(req.ExpertID)
	if err != nil {
		return nil, err
	}
	if desc.Endpoint != "" {
		return d.remote.Invoke(ctx, req)
	}
	return d.local.Invoke(ctx, req)
}
