// Package provider implements the completion capability the conversation
// layer depends on: one interface, fantasy-backed groq and openai variants,
// and the retry and rate limit wrappers applied around them.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/guilhermegouw/chatctx/internal/message"
)

// ErrProvider is wrapped by every completion failure.
var ErrProvider = errors.New("completion provider failed")

// Completion is the text returned by a model.
type Completion struct {
	Text string
}

// CompletionProvider sends a message list to a model and returns its reply.
type CompletionProvider interface {
	Complete(ctx context.Context, msgs []message.Message, temperature float64) (Completion, error)
}

// Func adapts a plain function to CompletionProvider.
type Func func(ctx context.Context, msgs []message.Message, temperature float64) (Completion, error)

// Complete calls f.
func (f Func) Complete(ctx context.Context, msgs []message.Message, temperature float64) (Completion, error) {
	return f(ctx, msgs, temperature)
}

type maxOutputKey struct{}

// WithMaxOutputTokens returns a context that caps the length of replies to
// completions made with it. Providers without a cap of their own ignore it.
func WithMaxOutputTokens(ctx context.Context, n int64) context.Context {
	return context.WithValue(ctx, maxOutputKey{}, n)
}

// MaxOutputTokens returns the reply cap carried by ctx.
func MaxOutputTokens(ctx context.Context) (int64, bool) {
	n, ok := ctx.Value(maxOutputKey{}).(int64)
	return n, ok && n > 0
}

// Error describes a failed completion call. StatusCode is 0 when the request
// never got an HTTP response.
type Error struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

// Unwrap exposes both ErrProvider and the underlying cause.
func (e *Error) Unwrap() []error {
	return []error{ErrProvider, e.Err}
}

// Retryable reports whether repeating the call may succeed: rate limiting,
// server errors and transport failures are, everything else is not. Without
// a status code only network errors count, so a request the client library
// rejected before sending is not repeated.
func (e *Error) Retryable() bool {
	if errors.Is(e.Err, context.Canceled) || errors.Is(e.Err, context.DeadlineExceeded) {
		return false
	}
	switch {
	case e.StatusCode == 0:
		return isTransport(e.Err)
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= http.StatusInternalServerError:
		return true
	}
	return false
}

func isTransport(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED)
}

// IsRetryable reports whether err is a retryable *Error.
func IsRetryable(err error) bool {
	var perr *Error
	if !errors.As(err, &perr) {
		return false
	}
	return perr.Retryable()
}
