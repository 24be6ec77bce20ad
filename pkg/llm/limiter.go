package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedCaller caps the request rate to the oracle provider across all
// conversations served by this process.
type RateLimitedCaller struct {
	next    ToolCaller
	limiter *rate.Limiter
}

var _ ToolCaller = (*RateLimitedCaller)(nil)

// NewRateLimitedCaller wraps next with a token bucket of rps requests per
// second. A non-positive rps disables limiting.
func NewRateLimitedCaller(next ToolCaller, rps float64, burst int) *RateLimitedCaller {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedCaller{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// CallTools waits for a token, bounded by ctx, then delegates.
func (r *RateLimitedCaller) CallTools(ctx context.Context, req *ToolRequest) (*ToolResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, NewError(ErrorTypeRateLimited, "local rate limit wait aborted", false, err)
	}
	return r.next.CallTools(ctx, req)
}

// GetModel returns the wrapped caller's model.
func (r *RateLimitedCaller) GetModel() string {
	return r.next.GetModel()
}
