// Package compact bounds the growth of a session log by folding its older
// entries into a single summary message.
package compact

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/guilhermegouw/chatctx/internal/debug"
	"github.com/guilhermegouw/chatctx/internal/message"
	"github.com/guilhermegouw/chatctx/internal/tokens"
)

// SummaryPrefix starts the content of every summary message.
const SummaryPrefix = "Summary of earlier conversation: "

// Summarizer turns a sequence of texts into a shorter text. maxTokens caps
// the result when positive.
type Summarizer interface {
	Summarize(ctx context.Context, texts []string, maxTokens int) (string, error)
}

// Option configures a Compactor.
type Option func(*Compactor)

// WithSummaryCap caps the summary written by Compact at n tokens, prefix
// excluded. Zero leaves it uncapped.
func WithSummaryCap(n int) Option {
	return func(c *Compactor) {
		c.summaryCap = max(n, 0)
	}
}

// WithTimeout bounds every summarizer call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Compactor) {
		c.timeout = d
	}
}

// Compactor rewrites logs that exceed their retention limit.
type Compactor struct {
	summarizer Summarizer
	estimator  tokens.Estimator
	keep       int
	summaryCap int
	timeout    time.Duration
}

// New creates a compactor that keeps the last keep messages verbatim.
func New(summarizer Summarizer, estimator tokens.Estimator, keep int, opts ...Option) *Compactor {
	c := &Compactor{
		summarizer: summarizer,
		estimator:  estimator,
		keep:       max(keep, 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Keep returns the number of recent messages preserved by Compact.
func (c *Compactor) Keep() int { return c.keep }

// SummaryCap returns the token cap of summaries, 0 when uncapped.
func (c *Compactor) SummaryCap() int { return c.summaryCap }

// Split partitions log into the entries to summarize and the last keep
// entries. Both results share log's backing array.
func Split(log []message.Message, keep int) (old, recent []message.Message) {
	if keep < 0 {
		keep = 0
	}
	if len(log) <= keep {
		return nil, log
	}
	cut := len(log) - keep
	return log[:cut], log[cut:]
}

// Compact returns the rewritten log: one system summary of the old entries
// followed by the recent ones unchanged. A log with nothing old is returned
// as is.
func (c *Compactor) Compact(ctx context.Context, log []message.Message) ([]message.Message, error) {
	old, recent := Split(log, c.keep)
	if len(old) == 0 {
		return log, nil
	}

	summary, err := c.Summary(ctx, old)
	if err != nil {
		return nil, err
	}

	out := make([]message.Message, 0, len(recent)+1)
	out = append(out, summary)
	out = append(out, recent...)
	return out, nil
}

// Summary folds old into one system message. A summary left by an earlier
// compaction is folded without its prefix, so prefixes never nest.
func (c *Compactor) Summary(ctx context.Context, old []message.Message) (message.Message, error) {
	texts := make([]string, 0, len(old))
	for _, m := range old {
		text := m.Content
		if m.Role == message.RoleSystem {
			text = strings.TrimPrefix(text, SummaryPrefix)
		}
		texts = append(texts, text)
	}

	text, err := c.summarize(ctx, texts, c.summaryCap)
	if err != nil {
		return message.Message{}, fmt.Errorf("summarizing %d messages: %w", len(old), err)
	}
	if c.summaryCap > 0 {
		text = Clip(c.estimator, text, c.summaryCap)
	}

	debug.Event("compact", "compacted", fmt.Sprintf("old=%d tokens=%d", len(old), c.estimator.Estimate(text)))
	return message.System(SummaryPrefix + text), nil
}

// ShrinkContext returns text unchanged when it fits within threshold
// tokens, otherwise a summary of it capped to threshold. An empty summary
// falls back to the original text.
func (c *Compactor) ShrinkContext(ctx context.Context, text string, threshold int) (string, error) {
	if threshold <= 0 {
		return text, nil
	}
	n := c.estimator.Estimate(text)
	if n <= threshold {
		return text, nil
	}

	debug.Event("compact", "shrink_context", fmt.Sprintf("tokens=%d threshold=%d", n, threshold))
	summary, err := c.summarize(ctx, []string{text}, threshold)
	if err != nil {
		return "", fmt.Errorf("summarizing context: %w", err)
	}
	if summary == "" {
		return text, nil
	}
	return Clip(c.estimator, summary, threshold), nil
}

func (c *Compactor) summarize(ctx context.Context, texts []string, maxTokens int) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.summarizer.Summarize(ctx, texts, maxTokens)
}

// Clip returns the longest rune suffix of text estimated at no more than
// maxTokens. The end of a log is the newest part, so that is what survives.
func Clip(est tokens.Estimator, text string, maxTokens int) string {
	if maxTokens <= 0 || est.Estimate(text) <= maxTokens {
		return text
	}
	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi) / 2
		if est.Estimate(string(runes[mid:])) <= maxTokens {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return strings.TrimLeft(string(runes[lo:]), " ")
}
