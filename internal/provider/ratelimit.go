package provider

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/guilhermegouw/chatctx/internal/message"
)

// RateLimited spaces calls to the wrapped provider with a token bucket.
type RateLimited struct {
	next    CompletionProvider
	limiter *rate.Limiter
}

// NewRateLimited allows perMinute calls per minute with a burst of one.
func NewRateLimited(next CompletionProvider, perMinute int) *RateLimited {
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(max(perMinute, 1))), 1),
	}
}

// Complete waits for a token, then calls the wrapped provider.
func (r *RateLimited) Complete(ctx context.Context, msgs []message.Message, temperature float64) (Completion, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Completion{}, &Error{Provider: "ratelimit", Err: err}
	}
	return r.next.Complete(ctx, msgs, temperature)
}
