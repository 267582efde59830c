package compact

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/guilhermegouw/chatctx/internal/message"
	"github.com/guilhermegouw/chatctx/internal/provider"
	"github.com/guilhermegouw/chatctx/internal/tokens"
)

func numbered(n int) []message.Message {
	msgs := make([]message.Message, n)
	for i := range msgs {
		if i%2 == 0 {
			msgs[i] = message.User(fmt.Sprintf("u%d", i))
		} else {
			msgs[i] = message.Assistant(fmt.Sprintf("a%d", i))
		}
	}
	return msgs
}

func newTestCompactor(keep int) *Compactor {
	est := tokens.NewCharEstimator(4)
	return New(NewConcatSummarizer(est), est, keep)
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name       string
		n, keep    int
		wantOld    int
		wantRecent int
	}{
		{name: "longer than keep", n: 51, keep: 50, wantOld: 1, wantRecent: 50},
		{name: "equal to keep", n: 50, keep: 50, wantOld: 0, wantRecent: 50},
		{name: "shorter than keep", n: 3, keep: 50, wantOld: 0, wantRecent: 3},
		{name: "keep zero", n: 4, keep: 0, wantOld: 4, wantRecent: 0},
		{name: "negative keep", n: 4, keep: -1, wantOld: 4, wantRecent: 0},
		{name: "empty", n: 0, keep: 5, wantOld: 0, wantRecent: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old, recent := Split(numbered(tt.n), tt.keep)
			if len(old) != tt.wantOld || len(recent) != tt.wantRecent {
				t.Errorf("Split(%d, %d) = %d/%d, want %d/%d",
					tt.n, tt.keep, len(old), len(recent), tt.wantOld, tt.wantRecent)
			}
		})
	}
}

func TestCompactor_Compact(t *testing.T) {
	t.Run("folds old entries into one summary", func(t *testing.T) {
		c := newTestCompactor(3)
		log := numbered(6)

		got, err := c.Compact(context.Background(), log)
		if err != nil {
			t.Fatalf("Compact() error = %v", err)
		}
		if len(got) != 4 {
			t.Fatalf("len = %d, want 4", len(got))
		}
		if got[0].Role != message.RoleSystem {
			t.Errorf("got[0].Role = %q, want system", got[0].Role)
		}
		if want := SummaryPrefix + "u0 a1 u2"; got[0].Content != want {
			t.Errorf("summary = %q, want %q", got[0].Content, want)
		}
		for i, m := range got[1:] {
			if m != log[3+i] {
				t.Errorf("recent[%d] = %+v, want %+v", i, m, log[3+i])
			}
		}
	})

	t.Run("length is one plus kept", func(t *testing.T) {
		for _, n := range []int{51, 60, 120} {
			c := newTestCompactor(50)
			got, err := c.Compact(context.Background(), numbered(n))
			if err != nil {
				t.Fatalf("Compact() error = %v", err)
			}
			if len(got) != 51 {
				t.Errorf("n=%d: len = %d, want 51", n, len(got))
			}
		}
	})

	t.Run("nothing old leaves log unchanged", func(t *testing.T) {
		c := newTestCompactor(10)
		log := numbered(4)

		got, err := c.Compact(context.Background(), log)
		if err != nil {
			t.Fatalf("Compact() error = %v", err)
		}
		if len(got) != len(log) {
			t.Errorf("len = %d, want %d", len(got), len(log))
		}
	})

	t.Run("previous summary is folded without nesting", func(t *testing.T) {
		c := newTestCompactor(2)
		log := []message.Message{
			message.System(SummaryPrefix + "earlier"),
			message.User("q"),
			message.Assistant("a"),
		}

		got, err := c.Compact(context.Background(), log)
		if err != nil {
			t.Fatalf("Compact() error = %v", err)
		}
		if want := SummaryPrefix + "earlier"; got[0].Content != want {
			t.Errorf("summary = %q, want %q", got[0].Content, want)
		}
	})

	t.Run("summary is capped and keeps the newest text", func(t *testing.T) {
		est := tokens.NewCharEstimator(1)
		c := New(NewConcatSummarizer(est), est, 1, WithSummaryCap(7))
		log := []message.Message{
			message.System(SummaryPrefix + "very old history"),
			message.User("older"),
			message.Assistant("newest"),
			message.User("kept"),
		}

		got, err := c.Compact(context.Background(), log)
		if err != nil {
			t.Fatalf("Compact() error = %v", err)
		}
		if want := SummaryPrefix + "newest"; got[0].Content != want {
			t.Errorf("summary = %q, want %q", got[0].Content, want)
		}
		if c.SummaryCap() != 7 {
			t.Errorf("SummaryCap() = %d, want 7", c.SummaryCap())
		}
	})

	t.Run("model summaries over the cap are clipped", func(t *testing.T) {
		wordy := provider.Func(func(context.Context, []message.Message, float64) (provider.Completion, error) {
			return provider.Completion{Text: strings.Repeat("blah ", 100)}, nil
		})
		est := tokens.NewCharEstimator(1)
		c := New(NewModelSummarizer(wordy), est, 1, WithSummaryCap(20))

		got, err := c.Compact(context.Background(), numbered(4))
		if err != nil {
			t.Fatalf("Compact() error = %v", err)
		}
		if n := est.Estimate(strings.TrimPrefix(got[0].Content, SummaryPrefix)); n > 20 {
			t.Errorf("summary = %d tokens, want <= 20", n)
		}
	})

	t.Run("summarizer call is bounded by the timeout", func(t *testing.T) {
		stalled := provider.Func(func(ctx context.Context, _ []message.Message, _ float64) (provider.Completion, error) {
			<-ctx.Done()
			return provider.Completion{}, ctx.Err()
		})
		c := New(NewModelSummarizer(stalled), tokens.NewCharEstimator(4), 1, WithTimeout(10*time.Millisecond))

		_, err := c.Compact(context.Background(), numbered(3))
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Compact() error = %v, want deadline exceeded", err)
		}
	})

	t.Run("summarizer error propagates", func(t *testing.T) {
		boom := errors.New("model down")
		failing := provider.Func(func(context.Context, []message.Message, float64) (provider.Completion, error) {
			return provider.Completion{}, boom
		})
		c := New(NewModelSummarizer(failing), tokens.NewCharEstimator(4), 1)

		_, err := c.Compact(context.Background(), numbered(3))
		if !errors.Is(err, boom) {
			t.Errorf("Compact() error = %v, want %v", err, boom)
		}
	})
}

func TestCompactor_ShrinkContext(t *testing.T) {
	c := newTestCompactor(50)
	ctx := context.Background()

	t.Run("fits", func(t *testing.T) {
		got, err := c.ShrinkContext(ctx, "short text", 100)
		if err != nil || got != "short text" {
			t.Errorf("ShrinkContext() = %q, %v, want unchanged", got, err)
		}
	})

	t.Run("over threshold is capped", func(t *testing.T) {
		text := strings.Repeat("abcd", 50)

		got, err := c.ShrinkContext(ctx, text, 10)
		if err != nil {
			t.Fatalf("ShrinkContext() error = %v", err)
		}
		if n := tokens.NewCharEstimator(4).Estimate(got); n > 10 {
			t.Errorf("estimate = %d, want <= 10", n)
		}
		if !strings.HasSuffix(text, got) {
			t.Errorf("ShrinkContext() = %q, want a suffix of the input", got)
		}
	})

	t.Run("zero threshold disables", func(t *testing.T) {
		text := strings.Repeat("x", 100)
		got, _ := c.ShrinkContext(ctx, text, 0)
		if got != text {
			t.Error("ShrinkContext() with threshold 0 changed the text")
		}
	})

	t.Run("empty summary keeps original", func(t *testing.T) {
		empty := provider.Func(func(context.Context, []message.Message, float64) (provider.Completion, error) {
			return provider.Completion{Text: "   "}, nil
		})
		mc := New(NewModelSummarizer(empty), tokens.NewCharEstimator(4), 50)
		text := strings.Repeat("abcd", 20)

		got, err := mc.ShrinkContext(ctx, text, 5)
		if err != nil || got != text {
			t.Errorf("ShrinkContext() = %q, %v, want original text", got, err)
		}
	})
}

func TestConcatSummarizer(t *testing.T) {
	s := NewConcatSummarizer(tokens.NewCharEstimator(1))

	tests := []struct {
		name      string
		texts     []string
		maxTokens int
		want      string
	}{
		{name: "joins non-empty texts", texts: []string{"a", "", "b c"}, want: "a b c"},
		{name: "fits under the cap", texts: []string{"a", "b"}, maxTokens: 10, want: "a b"},
		{name: "clips from the front", texts: []string{"first", "second", "third"}, maxTokens: 5, want: "third"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Summarize(context.Background(), tt.texts, tt.maxTokens)
			if err != nil {
				t.Fatalf("Summarize() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Summarize() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClip(t *testing.T) {
	est := tokens.NewCharEstimator(1)

	tests := []struct {
		text string
		max  int
		want string
	}{
		{"hello world", 0, "hello world"},
		{"hello world", 11, "hello world"},
		{"hello world", 5, "world"},
		{"hello world", 6, "world"},
		{"héllo wörld", 3, "rld"},
	}

	for _, tt := range tests {
		if got := Clip(est, tt.text, tt.max); got != tt.want {
			t.Errorf("Clip(%q, %d) = %q, want %q", tt.text, tt.max, got, tt.want)
		}
	}
}

func TestModelSummarizer(t *testing.T) {
	var gotMsgs []message.Message
	var gotTemp float64
	p := provider.Func(func(_ context.Context, msgs []message.Message, temp float64) (provider.Completion, error) {
		gotMsgs = msgs
		gotTemp = temp
		return provider.Completion{Text: "  they talked about Go.  "}, nil
	})

	got, err := NewModelSummarizer(p).Summarize(context.Background(), []string{"hi", "", "bye"}, 200)
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if got != "they talked about Go." {
		t.Errorf("Summarize() = %q", got)
	}
	if gotTemp != SummaryTemperature {
		t.Errorf("temperature = %v, want %v", gotTemp, SummaryTemperature)
	}
	if len(gotMsgs) != 2 || gotMsgs[0].Role != message.RoleSystem || gotMsgs[1].Role != message.RoleUser {
		t.Fatalf("messages = %+v, want system+user", gotMsgs)
	}
	if !strings.Contains(gotMsgs[0].Content, "200 tokens") {
		t.Errorf("instruction %q does not mention the cap", gotMsgs[0].Content)
	}
	if !strings.Contains(gotMsgs[1].Content, "hi\nbye\n") {
		t.Errorf("body %q does not contain the texts", gotMsgs[1].Content)
	}
}

func TestModelSummarizer_Transcript(t *testing.T) {
	var gotCap int64
	var gotMsgs []message.Message
	p := provider.Func(func(ctx context.Context, msgs []message.Message, _ float64) (provider.Completion, error) {
		gotCap, _ = provider.MaxOutputTokens(ctx)
		gotMsgs = msgs
		return provider.Completion{Text: "short"}, nil
	})

	got, err := NewModelSummarizer(p).Transcript(context.Background(), "a long talk about compilers", 300)
	if err != nil || got != "short" {
		t.Fatalf("Transcript() = %q, %v", got, err)
	}
	if gotCap != 300 {
		t.Errorf("output cap = %d, want 300", gotCap)
	}
	if !strings.Contains(gotMsgs[0].Content, "transcript") {
		t.Errorf("instruction %q does not mention the transcript", gotMsgs[0].Content)
	}
	if !strings.HasPrefix(gotMsgs[1].Content, "Transcript:\na long talk about compilers") {
		t.Errorf("body = %q", gotMsgs[1].Content)
	}
}
