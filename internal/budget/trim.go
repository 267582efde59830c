// Package budget keeps outbound prompts inside a model's token budget.
package budget

import (
	"github.com/guilhermegouw/chatctx/internal/message"
	"github.com/guilhermegouw/chatctx/internal/tokens"
)

// SafetyMargin is the fraction of a provider's hard limit a prompt may use.
const SafetyMargin = 0.9

// Budget returns floor(limit * SafetyMargin).
func Budget(limit int) int {
	if limit <= 0 {
		return 0
	}
	return limit * 9 / 10
}

// Result describes a trimmed prompt.
type Result struct {
	Messages []message.Message
	Dropped  int
	Tokens   int
}

// Over reports whether the result still exceeds the budget. This only
// happens when system messages alone are larger than the budget.
func (r Result) Over(budget int) bool {
	return r.Tokens > budget
}

// Trimmer removes the oldest non-system messages until a prompt fits.
type Trimmer struct {
	estimator tokens.Estimator
}

// NewTrimmer creates a Trimmer using the given estimator.
func NewTrimmer(estimator tokens.Estimator) *Trimmer {
	return &Trimmer{estimator: estimator}
}

// Trim returns a copy of msgs that fits within budget.
//
// The earliest non-system message is removed, the list is re-estimated,
// and the scan restarts from the front. System messages are never removed,
// so the result can still exceed the budget when only system messages
// remain. The input slice is never modified.
func (t *Trimmer) Trim(msgs []message.Message, budget int) Result {
	out := make([]message.Message, len(msgs))
	copy(out, msgs)

	total := t.estimator.EstimateAll(out)
	dropped := 0
	for total > budget {
		i := firstNonSystem(out)
		if i < 0 {
			break
		}
		total -= t.estimator.Estimate(out[i].Content)
		out = append(out[:i], out[i+1:]...)
		dropped++
	}

	return Result{Messages: out, Dropped: dropped, Tokens: total}
}

func firstNonSystem(msgs []message.Message) int {
	for i, m := range msgs {
		if m.Role != message.RoleSystem {
			return i
		}
	}
	return -1
}
