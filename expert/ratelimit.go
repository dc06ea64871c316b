package expert

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/juniperhq/juniper/types"
)

// RateLimitedInvoker wraps another invoker with per-expert token-bucket
// limits. Experts with no configured rate are passed through unthrottled.
type RateLimitedInvoker struct {
	next     Invoker
	registry *Registry

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimitedInvoker wraps next, reading per-expert rates from the
// registry descriptors.
func NewRateLimitedInvoker(next Invoker, registry *Registry) *RateLimitedInvoker {
	return &RateLimitedInvoker{
		next:     next,
		registry: registry,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Invoke waits for a token for the target expert, then delegates. Waiting
// respects the context deadline, so a saturated limiter surfaces as a
// timeout rather than an unbounded stall.
func (r *RateLimitedInvoker) Invoke(ctx context.Context, req *types.ExpertRequest) (*types.ExpertResponse, error) {
	lim := r.limiterFor(req.ExpertID)
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, types.NewError(types.ErrExpertTimeout, "rate limit wait aborted").
				WithExpert(req.ExpertID).WithCause(err)
		}
	}
	return r.next.Invoke(ctx, req)
}

func (r *RateLimitedInvoker) limiterFor(expertID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if lim, ok := r.limiters[expertID]; ok {
		return lim
	}
	desc, err := r.registry.Get(expertID)
	if err != nil || desc.RateLimit <= 0 {
		return nil
	}
	burst := int(desc.RateLimit)
	if burst < 1 {
		burst = 1
	}
	lim := rate.NewLimiter(rate.Limit(desc.RateLimit), burst)
	r.limiters[expertID] = lim
	return lim
}
