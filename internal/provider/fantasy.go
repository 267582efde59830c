package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"charm.land/fantasy"

	"github.com/guilhermegouw/chatctx/internal/debug"
	"github.com/guilhermegouw/chatctx/internal/message"
)

// DefaultMaxOutputTokens bounds a reply when the configuration sets no limit.
const DefaultMaxOutputTokens int64 = 1024

// FantasyProvider completes messages with a fantasy language model.
type FantasyProvider struct {
	id              string
	model           fantasy.LanguageModel
	maxOutputTokens int64
}

// NewFantasyProvider wraps a language model. id names the provider in
// errors and logs.
func NewFantasyProvider(id string, model fantasy.LanguageModel, maxOutputTokens int64) *FantasyProvider {
	if maxOutputTokens <= 0 {
		maxOutputTokens = DefaultMaxOutputTokens
	}
	return &FantasyProvider{
		id:              id,
		model:           model,
		maxOutputTokens: maxOutputTokens,
	}
}

// ID returns the provider identifier.
func (p *FantasyProvider) ID() string { return p.id }

// Complete sends msgs to the model and collects the streamed text. The
// reply is capped by WithMaxOutputTokens when ctx carries it.
func (p *FantasyProvider) Complete(ctx context.Context, msgs []message.Message, temperature float64) (Completion, error) {
	prompt, history := toFantasy(msgs)

	agent := fantasy.NewAgent(p.model)

	maxTokens := p.maxOutputTokens
	if n, ok := MaxOutputTokens(ctx); ok {
		maxTokens = n
	}
	call := fantasy.AgentStreamCall{
		Prompt:          prompt,
		Messages:        history,
		MaxOutputTokens: &maxTokens,
		Temperature:     &temperature,
	}

	var text strings.Builder
	call.OnTextDelta = func(_, delta string) error {
		text.WriteString(delta)
		return nil
	}

	debug.Event("provider", "complete", fmt.Sprintf("%s messages=%d", p.id, len(msgs)))
	if _, err := agent.Stream(ctx, call); err != nil {
		return Completion{}, p.wrap(err)
	}

	return Completion{Text: text.String()}, nil
}

func (p *FantasyProvider) wrap(err error) error {
	out := &Error{Provider: p.id, Err: err}
	var providerErr *fantasy.ProviderError
	if errors.As(err, &providerErr) {
		out.StatusCode = providerErr.StatusCode
	}
	debug.Error("provider", out, "completion failed")
	return out
}

// toFantasy converts a message list into the prompt/history pair the
// fantasy agent expects. A trailing user message becomes the prompt.
func toFantasy(msgs []message.Message) (string, []fantasy.Message) {
	var prompt string
	if n := len(msgs); n > 0 && msgs[n-1].Role == message.RoleUser {
		prompt = msgs[n-1].Content
		msgs = msgs[:n-1]
	}

	history := make([]fantasy.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case message.RoleSystem:
			history = append(history, fantasy.NewSystemMessage(m.Content))
		case message.RoleUser:
			history = append(history, fantasy.NewUserMessage(m.Content))
		case message.RoleAssistant:
			history = append(history, fantasy.Message{
				Role:    fantasy.MessageRoleAssistant,
				Content: []fantasy.MessagePart{fantasy.TextPart{Text: m.Content}},
			})
		}
	}
	return prompt, history
}
