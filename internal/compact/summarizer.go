package compact

import (
	"context"
	"fmt"
	"strings"

	"github.com/guilhermegouw/chatctx/internal/message"
	"github.com/guilhermegouw/chatctx/internal/provider"
	"github.com/guilhermegouw/chatctx/internal/tokens"
)

// SummaryTemperature is the sampling temperature for model summaries.
const SummaryTemperature = 0.2

// ConcatSummarizer joins the non-empty texts with single spaces. It calls no
// model, so compaction cannot fail on a provider outage.
type ConcatSummarizer struct {
	estimator tokens.Estimator
}

// NewConcatSummarizer creates a summarizer that measures its cap with
// estimator.
func NewConcatSummarizer(estimator tokens.Estimator) *ConcatSummarizer {
	return &ConcatSummarizer{estimator: estimator}
}

// Summarize joins texts. When maxTokens is positive the result is clipped
// from the front, keeping the newest text.
func (s *ConcatSummarizer) Summarize(_ context.Context, texts []string, maxTokens int) (string, error) {
	parts := make([]string, 0, len(texts))
	for _, t := range texts {
		if t != "" {
			parts = append(parts, t)
		}
	}
	return Clip(s.estimator, strings.Join(parts, " "), maxTokens), nil
}

// ModelSummarizer asks a completion provider for a concise summary.
type ModelSummarizer struct {
	provider provider.CompletionProvider
}

// NewModelSummarizer creates a summarizer backed by p.
func NewModelSummarizer(p provider.CompletionProvider) *ModelSummarizer {
	return &ModelSummarizer{provider: p}
}

const summaryInstruction = "You are a helpful assistant. Read the following %s and provide a concise, clear summary " +
	"(3-6 sentences). Highlight main points, key conclusions, and any action items if present."

// Summarize asks the model to summarize a conversation. A positive
// maxTokens caps the reply and is stated in the instruction.
func (s *ModelSummarizer) Summarize(ctx context.Context, texts []string, maxTokens int) (string, error) {
	return s.summarize(ctx, "conversation", "Conversation", texts, maxTokens)
}

// Transcript summarizes a standalone transcript, capping the reply at
// maxTokens when positive.
func (s *ModelSummarizer) Transcript(ctx context.Context, transcript string, maxTokens int) (string, error) {
	return s.summarize(ctx, "transcript", "Transcript", []string{transcript}, maxTokens)
}

func (s *ModelSummarizer) summarize(ctx context.Context, kind, label string, texts []string, maxTokens int) (string, error) {
	instruction := fmt.Sprintf(summaryInstruction, kind)
	if maxTokens > 0 {
		instruction += fmt.Sprintf(" Keep the summary under %d tokens.", maxTokens)
		ctx = provider.WithMaxOutputTokens(ctx, int64(maxTokens))
	}

	var body strings.Builder
	body.WriteString(label + ":\n")
	for _, t := range texts {
		if t == "" {
			continue
		}
		body.WriteString(t)
		body.WriteString("\n")
	}
	body.WriteString("\nSummary:")

	c, err := s.provider.Complete(ctx, []message.Message{
		message.System(instruction),
		message.User(body.String()),
	}, SummaryTemperature)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(c.Text), nil
}
