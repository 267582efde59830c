package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/guilhermegouw/chatctx/internal/debug"
	"github.com/guilhermegouw/chatctx/internal/message"
)

// Retrying repeats retryable failures of the wrapped provider with
// exponential backoff.
type Retrying struct {
	next       CompletionProvider
	maxRetries uint64
	base       time.Duration
}

// NewRetrying wraps next so that a call is attempted at most maxRetries+1
// times.
func NewRetrying(next CompletionProvider, maxRetries int, base time.Duration) *Retrying {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if base <= 0 {
		base = DefaultRetryBase
	}
	return &Retrying{
		next:       next,
		maxRetries: uint64(maxRetries),
		base:       base,
	}
}

// Complete calls the wrapped provider, retrying 429, 5xx and transport
// errors. Other failures and context cancellation return immediately.
func (r *Retrying) Complete(ctx context.Context, msgs []message.Message, temperature float64) (Completion, error) {
	var out Completion
	attempt := 0

	backoff := retry.WithMaxRetries(r.maxRetries, retry.NewExponential(r.base))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		c, err := r.next.Complete(ctx, msgs, temperature)
		if err != nil {
			if IsRetryable(err) {
				debug.Event("provider", "retry", fmt.Sprintf("attempt=%d err=%v", attempt, err))
				return retry.RetryableError(err)
			}
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return Completion{}, err
	}
	return out, nil
}
