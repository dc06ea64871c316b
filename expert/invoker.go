package expert

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/juniperhq/juniper/types"
)

// Invoker executes the uniform expert contract. The deadline travels on
// the context; implementations must honor its cancellation. A timed-out
// invocation surfaces as an EXPERT_TIMEOUT typed error, every other
// transport or application failure as EXPERT_INVOCATION.
type Invoker interface {
	Invoke(ctx context.Context, req *types.ExpertRequest) (*types.ExpertResponse, error)
}

// HandlerFunc is an in-process expert implementation.
type HandlerFunc func(ctx context.Context, req *types.ExpertRequest) (*types.ExpertResponse, error)

// LocalInvoker dispatches to in-process handler funcs registered per
// expert id. Bundled experts and tests run through it.
type LocalInvoker struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	logger   *zap.Logger
}

// NewLocalInvoker creates an empty local invoker.
func NewLocalInvoker(logger *zap.Logger) *LocalInvoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalInvoker{
		handlers: make(map[string]HandlerFunc),
		logger:   logger.With(zap.String("component", "local_invoker")),
	}
}

// Handle registers a handler for an expert id.
func (l *LocalInvoker) Handle(expertID string, fn HandlerFunc) {
	l.mu.Lock()
	l.handlers[expertID] = fn
	l.mu.Unlock()
}

// Invoke runs the registered handler, mapping its outcome onto the
// uniform contract.
func (l *LocalInvoker) Invoke(ctx context.Context, req *types.ExpertRequest) (*types.ExpertResponse, error) {
	l.mu.RLock()
	fn, ok := l.handlers[req.ExpertID]
	l.mu.RUnlock()
	if !ok {
		return nil, types.NewError(types.ErrExpertNotFound, "no handler for expert").WithExpert(req.ExpertID)
	}

	type result struct {
		resp *types.ExpertResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := fn(ctx, req)
		done <- result{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, mapContextErr(ctx.Err(), req.ExpertID)
	case res := <-done:
		if res.err != nil {
			if isDeadline(res.err) {
				return nil, mapContextErr(res.err, req.ExpertID)
			}
			return nil, types.NewError(types.ErrExpertInvocation, "expert handler failed").
				WithExpert(req.ExpertID).WithCause(res.err)
		}
		return res.resp, nil
	}
}

func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func mapContextErr(err error, expertID string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrExpertTimeout, "expert deadline exceeded").
			WithExpert(expertID).WithCause(err).WithRetryable(true)
	}
	return types.NewError(types.ErrExpertInvocation, "expert invocation cancelled").
		WithExpert(expertID).WithCause(err)
}
