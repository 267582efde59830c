package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/guilhermegouw/chatctx/internal/budget"
	"github.com/guilhermegouw/chatctx/internal/compact"
	"github.com/guilhermegouw/chatctx/internal/db"
	"github.com/guilhermegouw/chatctx/internal/events"
	"github.com/guilhermegouw/chatctx/internal/message"
	"github.com/guilhermegouw/chatctx/internal/provider"
	"github.com/guilhermegouw/chatctx/internal/pubsub"
	"github.com/guilhermegouw/chatctx/internal/session"
	"github.com/guilhermegouw/chatctx/internal/tokens"
)

const structuredReply = "Sure! ```json\n" +
	`{"answer": " Paris ", "suggestions": ["a", "b", "c", "d"]}` +
	"\n```"

// fakeProvider records every call and replies with a fixed text or error.
type fakeProvider struct {
	mu    sync.Mutex
	calls [][]message.Message
	temps []float64
	reply string
	err   error
}

func (f *fakeProvider) Complete(_ context.Context, msgs []message.Message, temperature float64) (provider.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, msgs)
	f.temps = append(f.temps, temperature)
	if f.err != nil {
		return provider.Completion{}, f.err
	}
	return provider.Completion{Text: f.reply}, nil
}

func (f *fakeProvider) last() []message.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type fixture struct {
	svc   *Service
	store *session.Store
	hub   *pubsub.Hub
}

func newStore(t *testing.T, keep int, opts ...compact.Option) (*session.Store, *compact.Compactor) {
	t.Helper()

	database, err := db.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() }) //nolint:errcheck // Intentionally ignoring close error in test cleanup

	est := tokens.NewCharEstimator(1)
	compactor := compact.New(compact.NewConcatSummarizer(est), est, keep, opts...)
	return session.NewStore(session.NewSQLiteBackend(database, "aichat"), time.Hour, compactor), compactor
}

func newFixture(t *testing.T, p provider.CompletionProvider, mutate func(*Config)) fixture {
	t.Helper()

	store, compactor := newStore(t, 50)
	hub := pubsub.NewHub(0)
	t.Cleanup(hub.Shutdown)

	cfg := Config{
		Store:      store,
		Provider:   p,
		Compactor:  compactor,
		Estimator:  tokens.NewCharEstimator(1),
		TokenLimit: 100000,
		Hub:        hub,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	return fixture{svc: New(cfg), store: store, hub: hub}
}

func TestUserTurn(t *testing.T) {
	tests := []struct {
		name     string
		action   string
		context  string
		question string
		want     string
	}{
		{"qa", ActionQA, "ctx", "why?", "Context:\nctx\n\nQuestion:\nwhy?"},
		{"summary", ActionSummary, "long text", "ignored", "Summarize the following content:\n\nlong text"},
		{"expand", ActionExpand, "term", "", "Expand and explain the following content:\n\nterm"},
		{"unknown uses question", "translate", "ctx", "hola", "hola"},
		{"unknown falls back to context", "", "ctx", "", "ctx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserTurn(tt.action, tt.context, tt.question); got != tt.want {
				t.Errorf("UserTurn() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAsk(t *testing.T) {
	p := &fakeProvider{reply: structuredReply}
	f := newFixture(t, p, nil)
	ctx := context.Background()

	res, err := f.svc.Ask(ctx, Request{Action: ActionQA, Context: "France", Question: "Capital?"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}

	if res.SessionID == "" {
		t.Error("Ask() returned no session id")
	}
	if res.Action != ActionQA {
		t.Errorf("Action = %q, want %q", res.Action, ActionQA)
	}
	if res.Response != "Paris" {
		t.Errorf("Response = %q, want Paris", res.Response)
	}
	if strings.Join(res.Suggestions, ",") != "a,b,c" {
		t.Errorf("Suggestions = %v, want [a b c]", res.Suggestions)
	}
	if p.temps[0] != DefaultTemperature {
		t.Errorf("temperature = %v, want %v", p.temps[0], DefaultTemperature)
	}

	sent := p.last()
	if len(sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(sent))
	}
	if sent[0] != message.System(SystemPrompt) {
		t.Errorf("sent[0] = %+v, want system prompt", sent[0])
	}
	userTurn := "Context:\nFrance\n\nQuestion:\nCapital?"
	if sent[1] != message.User(userTurn) {
		t.Errorf("sent[1] = %+v, want user turn", sent[1])
	}

	history, err := f.svc.History(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	want := []message.Message{message.User(userTurn), message.Assistant("Paris")}
	if len(history) != len(want) {
		t.Fatalf("History() len = %d, want %d", len(history), len(want))
	}
	for i := range want {
		if history[i] != want[i] {
			t.Errorf("History()[%d] = %+v, want %+v", i, history[i], want[i])
		}
	}
}

func TestAsk_ContinuesSession(t *testing.T) {
	p := &fakeProvider{reply: `{"answer":"ok","suggestions":[]}`}
	f := newFixture(t, p, nil)
	ctx := context.Background()

	first, err := f.svc.Ask(ctx, Request{SessionID: "s1", Question: "one"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if first.SessionID != "s1" {
		t.Errorf("SessionID = %q, want s1", first.SessionID)
	}
	if _, err := f.svc.Ask(ctx, Request{SessionID: "s1", Question: "two"}); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}

	sent := p.last()
	want := []message.Message{
		message.User("one"),
		message.Assistant("ok"),
		message.System(SystemPrompt),
		message.User("two"),
	}
	if len(sent) != len(want) {
		t.Fatalf("sent %d messages, want %d", len(sent), len(want))
	}
	for i := range want {
		if sent[i] != want[i] {
			t.Errorf("sent[%d] = %+v, want %+v", i, sent[i], want[i])
		}
	}
}

func TestAsk_UnstructuredReply(t *testing.T) {
	p := &fakeProvider{reply: "  just prose, no json  "}
	f := newFixture(t, p, nil)

	res, err := f.svc.Ask(context.Background(), Request{Question: "hi"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if res.Response != "just prose, no json" {
		t.Errorf("Response = %q", res.Response)
	}
	if res.Suggestions == nil || len(res.Suggestions) != 0 {
		t.Errorf("Suggestions = %#v, want empty", res.Suggestions)
	}
}

func TestAsk_ProviderError(t *testing.T) {
	p := &fakeProvider{err: &provider.Error{Provider: "groq", StatusCode: 401, Err: errors.New("bad key")}}
	f := newFixture(t, p, nil)
	ctx := context.Background()

	sub, cancel := context.WithCancel(ctx)
	defer cancel()
	ch := f.hub.Conversation.Subscribe(sub)

	_, err := f.svc.Ask(ctx, Request{SessionID: "s1", Question: "hi"})
	if !errors.Is(err, provider.ErrProvider) {
		t.Fatalf("Ask() error = %v, want ErrProvider", err)
	}

	history, _ := f.svc.History(ctx, "s1")
	if len(history) != 0 {
		t.Errorf("history after failure = %+v, want empty", history)
	}

	want := []events.ConversationEventType{events.ConversationEventStarted, events.ConversationEventFailed}
	for _, typ := range want {
		select {
		case ev := <-ch:
			if ev.Payload.Type != typ {
				t.Errorf("event = %s, want %s", ev.Payload.Type, typ)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s event", typ)
		}
	}
}

func TestAsk_Timeout(t *testing.T) {
	blocking := provider.Func(func(ctx context.Context, _ []message.Message, _ float64) (provider.Completion, error) {
		<-ctx.Done()
		return provider.Completion{}, ctx.Err()
	})
	f := newFixture(t, blocking, func(c *Config) { c.Timeout = 20 * time.Millisecond })
	ctx := context.Background()

	_, err := f.svc.Ask(ctx, Request{SessionID: "s1", Question: "hi"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Ask() error = %v, want DeadlineExceeded", err)
	}
	if history, _ := f.svc.History(ctx, "s1"); len(history) != 0 {
		t.Errorf("history after timeout = %+v, want empty", history)
	}
}

func TestAsk_EmptyPrompt(t *testing.T) {
	p := &fakeProvider{reply: "x"}
	f := newFixture(t, p, nil)

	_, err := f.svc.Ask(context.Background(), Request{Action: ActionQA, Question: "  "})
	if !errors.Is(err, ErrEmptyPrompt) {
		t.Errorf("Ask() error = %v, want ErrEmptyPrompt", err)
	}
	if len(p.calls) != 0 {
		t.Errorf("provider called %d times, want 0", len(p.calls))
	}
}

func TestAsk_TrimsHistory(t *testing.T) {
	p := &fakeProvider{reply: `{"answer":"ok"}`}
	// One token per character; the system prompt alone is well under budget.
	limit := (len(SystemPrompt) + 40) * 10 / 9
	f := newFixture(t, p, func(c *Config) { c.TokenLimit = limit })
	ctx := context.Background()

	for _, m := range []message.Message{
		message.User(strings.Repeat("x", 30)),
		message.Assistant(strings.Repeat("y", 30)),
	} {
		if err := f.store.Append(ctx, "s1", m.Role, m.Content); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	if _, err := f.svc.Ask(ctx, Request{SessionID: "s1", Question: "q"}); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}

	sent := p.last()
	if sent[0].Role != message.RoleAssistant {
		t.Errorf("sent[0] = %+v, want the oldest message dropped", sent[0])
	}
	if sent[len(sent)-2] != message.System(SystemPrompt) || sent[len(sent)-1] != message.User("q") {
		t.Errorf("prompt tail = %+v", sent[len(sent)-2:])
	}
}

func TestAsk_ShrinksContext(t *testing.T) {
	p := &fakeProvider{reply: `{"answer":"ok"}`}
	f := newFixture(t, p, func(c *Config) { c.SummaryTrigger = 10 })

	long := strings.Repeat("abcdefghij", 20)
	if _, err := f.svc.Ask(context.Background(), Request{Action: ActionSummary, Context: long}); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}

	turn := p.last()[1].Content
	if strings.Contains(turn, long) {
		t.Error("oversized context was sent verbatim")
	}
	want := "Summarize the following content:\n\n" + long[len(long)-10:]
	if turn != want {
		t.Errorf("user turn = %q, want %q", turn, want)
	}
}

func TestAsk_CompactsLongSessions(t *testing.T) {
	p := &fakeProvider{reply: `{"answer":"ok"}`}
	store, compactor := newStore(t, 2)
	svc := New(Config{
		Store:      store,
		Provider:   p,
		Compactor:  compactor,
		Estimator:  tokens.NewCharEstimator(1),
		TokenLimit: 100000,
	})
	ctx := context.Background()

	for _, q := range []string{"q1", "q2", "q3"} {
		if _, err := svc.Ask(ctx, Request{SessionID: "s1", Question: q}); err != nil {
			t.Fatalf("Ask() error = %v", err)
		}
	}

	history, _ := svc.History(ctx, "s1")
	if len(history) != 3 {
		t.Fatalf("History() len = %d, want 3", len(history))
	}
	if history[0].Role != message.RoleSystem || !strings.HasPrefix(history[0].Content, compact.SummaryPrefix) {
		t.Errorf("history[0] = %+v, want summary", history[0])
	}
	if history[1] != message.User("q3") || history[2] != message.Assistant("ok") {
		t.Errorf("recent = %+v", history[1:])
	}
}

func TestAsk_Events(t *testing.T) {
	p := &fakeProvider{reply: structuredReply}
	f := newFixture(t, p, nil)

	sub, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := f.hub.Conversation.Subscribe(sub)

	res, err := f.svc.Ask(context.Background(), Request{Action: ActionQA, Question: "hi"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}

	var got []events.ConversationEvent
	for len(got) < 2 {
		select {
		case ev := <-ch:
			got = append(got, ev.Payload)
		case <-time.After(time.Second):
			t.Fatalf("timeout after %d events", len(got))
		}
	}

	if got[0].Type != events.ConversationEventStarted || got[0].SessionID != res.SessionID {
		t.Errorf("first event = %+v", got[0])
	}
	done := got[1]
	if done.Type != events.ConversationEventCompleted {
		t.Fatalf("second event = %s, want completed", done.Type)
	}
	if done.Suggestions != 3 || done.Action != ActionQA || done.Tokens == 0 {
		t.Errorf("completed event = %+v", done)
	}
}

func TestClearSession(t *testing.T) {
	p := &fakeProvider{reply: `{"answer":"ok"}`}
	f := newFixture(t, p, nil)
	ctx := context.Background()

	res, err := f.svc.Ask(ctx, Request{Question: "hi"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}

	if err := f.svc.ClearSession(ctx, res.SessionID); err != nil {
		t.Fatalf("ClearSession() error = %v", err)
	}
	if history, _ := f.svc.History(ctx, res.SessionID); len(history) != 0 {
		t.Errorf("History() after clear = %+v, want empty", history)
	}
	if err := f.svc.ClearSession(ctx, res.SessionID); err != nil {
		t.Errorf("second ClearSession() error = %v", err)
	}
	if err := f.svc.ClearSession(ctx, ""); !errors.Is(err, ErrSessionRequired) {
		t.Errorf("ClearSession(\"\") error = %v, want ErrSessionRequired", err)
	}
}

func TestAsk_LongSessionKeepsUserTurn(t *testing.T) {
	p := &fakeProvider{reply: structuredReply}
	store, compactor := newStore(t, 6, compact.WithSummaryCap(200))
	est := tokens.NewCharEstimator(1)
	svc := New(Config{
		Store:          store,
		Provider:       p,
		Compactor:      compactor,
		Estimator:      est,
		TokenLimit:     2000,
		SummaryTrigger: 5000,
	})
	ctx := context.Background()

	id := ""
	for i := range 60 {
		question := fmt.Sprintf("question %d", i)
		res, err := svc.Ask(ctx, Request{
			SessionID: id,
			Action:    ActionQA,
			Context:   strings.Repeat("c", 1500),
			Question:  question,
		})
		if err != nil {
			t.Fatalf("Ask(%d) error = %v", i, err)
		}
		id = res.SessionID

		msgs := p.last()
		last := msgs[len(msgs)-1]
		if last.Role != message.RoleUser || !strings.HasSuffix(last.Content, question) {
			t.Fatalf("Ask(%d): prompt ends with %s %.40q, want the user turn", i, last.Role, last.Content)
		}
		if n := est.EstimateAll(msgs); n > budget.Budget(2000) {
			t.Fatalf("Ask(%d): prompt = %d tokens, want <= %d", i, n, budget.Budget(2000))
		}
	}

	history, err := store.Load(ctx, id, 0)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(history) != 7 {
		t.Errorf("len(history) = %d, want 7", len(history))
	}
	if n := est.Estimate(strings.TrimPrefix(history[0].Content, compact.SummaryPrefix)); n > 200 {
		t.Errorf("summary = %d tokens, want <= 200", n)
	}
}
