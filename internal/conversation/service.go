// Package conversation answers questions within a persisted session.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/guilhermegouw/chatctx/internal/budget"
	"github.com/guilhermegouw/chatctx/internal/compact"
	"github.com/guilhermegouw/chatctx/internal/debug"
	"github.com/guilhermegouw/chatctx/internal/events"
	"github.com/guilhermegouw/chatctx/internal/extract"
	"github.com/guilhermegouw/chatctx/internal/message"
	"github.com/guilhermegouw/chatctx/internal/provider"
	"github.com/guilhermegouw/chatctx/internal/pubsub"
	"github.com/guilhermegouw/chatctx/internal/session"
	"github.com/guilhermegouw/chatctx/internal/tokens"
)

// DefaultTemperature is the sampling temperature of answer completions.
const DefaultTemperature = 0.7

// ErrEmptyPrompt is returned when a request carries neither a question nor
// a context.
var ErrEmptyPrompt = errors.New("question and context are both empty")

// ErrSessionRequired is returned when an operation needs a session id.
var ErrSessionRequired = errors.New("session id is required")

// ErrTranscriptTooShort is returned by Summarize for transcripts shorter
// than MinTranscriptLength once trimmed.
var ErrTranscriptTooShort = errors.New("transcript too short")

// MinTranscriptLength is the shortest trimmed transcript Summarize accepts.
const MinTranscriptLength = 20

// DefaultSummaryTokens caps Summarize replies when no cap is given.
const DefaultSummaryTokens = 300

// Request is one conversational turn.
type Request struct {
	SessionID string `json:"session_id,omitempty"`
	Action    string `json:"action"`
	Context   string `json:"context"`
	Question  string `json:"question"`
}

// Result is the answer to a Request.
type Result struct {
	Action      string   `json:"action"`
	Response    string   `json:"response"`
	Suggestions []string `json:"suggestions"`
	SessionID   string   `json:"session_id"`
}

// Config contains service dependencies and limits.
type Config struct { //nolint:govet // fieldalignment: preserving logical field order
	Store     *session.Store
	Provider  provider.CompletionProvider
	Compactor *compact.Compactor
	Estimator tokens.Estimator

	// TokenLimit is the provider's hard prompt limit. Prompts are trimmed to
	// budget.Budget(TokenLimit).
	TokenLimit int

	// SummaryTrigger is the token count above which the context argument is
	// summarized before use. Zero disables it.
	SummaryTrigger int

	Temperature *float64
	Timeout     time.Duration
	Hub         *pubsub.Hub // Optional pub/sub hub for event publishing
}

// Service runs the load, build, trim, complete, extract and persist
// pipeline for each request.
type Service struct { //nolint:govet // fieldalignment: preserving logical field order
	store          *session.Store
	provider       provider.CompletionProvider
	compactor      *compact.Compactor
	summarizer     *compact.ModelSummarizer
	estimator      tokens.Estimator
	trimmer        *budget.Trimmer
	budget         int
	summaryTrigger int
	temperature    float64
	timeout        time.Duration
	hub            *pubsub.Hub
}

// New creates a service from cfg.
func New(cfg Config) *Service {
	temperature := DefaultTemperature
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	return &Service{
		store:          cfg.Store,
		provider:       cfg.Provider,
		compactor:      cfg.Compactor,
		summarizer:     compact.NewModelSummarizer(cfg.Provider),
		estimator:      cfg.Estimator,
		trimmer:        budget.NewTrimmer(cfg.Estimator),
		budget:         budget.Budget(cfg.TokenLimit),
		summaryTrigger: cfg.SummaryTrigger,
		temperature:    temperature,
		timeout:        cfg.Timeout,
		hub:            cfg.Hub,
	}
}

// prompt is a built request ready for completion.
type prompt struct {
	messages []message.Message
	userTurn string
	tokens   int
	dropped  int
}

// Ask answers req within its session, creating the session when req has no
// id. On any failure before the reply is extracted nothing is persisted.
func (s *Service) Ask(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Question) == "" && strings.TrimSpace(req.Context) == "" {
		return nil, ErrEmptyPrompt
	}

	start := time.Now()
	id, err := s.store.EnsureSession(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("resolving session: %w", err)
	}
	s.publish(pubsub.EventStarted, events.NewConversationStartedEvent(id, req.Action))

	res, p, err := s.ask(ctx, id, req)
	if err != nil {
		debug.Error("conversation", err, "session="+id)
		s.publish(pubsub.EventFailed, events.NewConversationFailedEvent(id, req.Action, err, time.Since(start)))
		return nil, err
	}

	s.publish(pubsub.EventCompleted, events.NewConversationCompletedEvent(
		id, req.Action, p.tokens, p.dropped, len(res.Suggestions), time.Since(start)))
	return res, nil
}

func (s *Service) ask(ctx context.Context, id string, req Request) (*Result, prompt, error) {
	history, err := s.store.Load(ctx, id, 0)
	if err != nil {
		return nil, prompt{}, fmt.Errorf("loading history: %w", err)
	}

	p, err := s.build(ctx, history, req)
	if err != nil {
		return nil, p, err
	}
	debug.Event("conversation", "prompt", fmt.Sprintf(
		"session=%s messages=%d tokens=%d dropped=%d", id, len(p.messages), p.tokens, p.dropped))

	completion, err := s.complete(ctx, p.messages)
	if err != nil {
		return nil, p, err
	}

	answer, suggestions := extract.Answer(completion.Text)

	if err := s.store.Append(ctx, id, message.RoleUser, p.userTurn); err != nil {
		return nil, p, fmt.Errorf("saving question: %w", err)
	}
	if err := s.store.Append(ctx, id, message.RoleAssistant, answer); err != nil {
		return nil, p, fmt.Errorf("saving answer: %w", err)
	}

	return &Result{
		Action:      req.Action,
		Response:    answer,
		Suggestions: suggestions,
		SessionID:   id,
	}, p, nil
}

// build turns stored history and req into the outbound prompt. History is
// trimmed before the instruction and user turn are added, then the whole
// prompt is trimmed again since both consume budget.
func (s *Service) build(ctx context.Context, history []message.Message, req Request) (prompt, error) {
	first := s.trimmer.Trim(message.Normalize(history), s.budget)
	msgs := append(first.Messages, message.System(SystemPrompt))

	reqContext := req.Context
	if s.compactor != nil {
		shrunk, err := s.compactor.ShrinkContext(ctx, reqContext, s.contextRoom(first.Messages, req))
		if err != nil {
			return prompt{}, fmt.Errorf("shrinking context: %w", err)
		}
		reqContext = shrunk
	}

	userTurn := UserTurn(req.Action, reqContext, req.Question)
	msgs = append(msgs, message.User(userTurn))

	trimmed := s.trimmer.Trim(msgs, s.budget)
	if trimmed.Over(s.budget) {
		debug.Log("[conversation] prompt still over budget: tokens=%d budget=%d", trimmed.Tokens, s.budget)
	}

	return prompt{
		messages: trimmed.Messages,
		userTurn: userTurn,
		tokens:   trimmed.Tokens,
		dropped:  first.Dropped + trimmed.Dropped,
	}, nil
}

// contextRoom returns the token threshold for the request context: the
// summary trigger, lowered to what the budget has left once the system
// messages and the rest of the user turn are counted. The user turn then
// fits even beside a long session's summary.
func (s *Service) contextRoom(history []message.Message, req Request) int {
	if s.summaryTrigger <= 0 {
		return 0
	}
	room := s.budget - s.estimator.Estimate(SystemPrompt) - s.estimator.Estimate(UserTurn(req.Action, "", req.Question))
	for _, m := range history {
		if m.Role == message.RoleSystem {
			room -= s.estimator.Estimate(m.Content)
		}
	}
	if room <= 0 || room > s.summaryTrigger {
		return s.summaryTrigger
	}
	return room
}

func (s *Service) complete(ctx context.Context, msgs []message.Message) (provider.Completion, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	completion, err := s.provider.Complete(ctx, msgs, s.temperature)
	if err != nil {
		return provider.Completion{}, fmt.Errorf("completing prompt: %w", err)
	}
	return completion, nil
}

// Summarize returns a model summary of a standalone transcript. It touches
// no session. maxTokens caps the reply; zero or less selects
// DefaultSummaryTokens.
func (s *Service) Summarize(ctx context.Context, transcript string, maxTokens int) (string, error) {
	transcript = strings.TrimSpace(transcript)
	if len(transcript) < MinTranscriptLength {
		return "", ErrTranscriptTooShort
	}
	if maxTokens <= 0 {
		maxTokens = DefaultSummaryTokens
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	summary, err := s.summarizer.Transcript(ctx, transcript, maxTokens)
	if err != nil {
		debug.Error("conversation", err, "summarize")
		return "", fmt.Errorf("summarizing transcript: %w", err)
	}
	return summary, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}

// Estimator returns the estimator prompts are measured with.
func (s *Service) Estimator() tokens.Estimator { return s.estimator }

// ClearSession deletes the history of a session. Clearing an unknown
// session succeeds.
func (s *Service) ClearSession(ctx context.Context, id string) error {
	if id == "" {
		return ErrSessionRequired
	}
	return s.store.Clear(ctx, id)
}

// History returns the stored log of a session.
func (s *Service) History(ctx context.Context, id string) ([]message.Message, error) {
	if id == "" {
		return nil, ErrSessionRequired
	}
	return s.store.Load(ctx, id, 0)
}

func (s *Service) publish(t pubsub.EventType, ev events.ConversationEvent) {
	if s.hub != nil {
		s.hub.Conversation.Publish(t, ev)
	}
}
