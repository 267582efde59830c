package conversation

import "fmt"

// SystemPrompt describes the structured reply every completion must follow.
const SystemPrompt = `You are a helpful assistant. Use the provided context when relevant.

Respond ONLY in valid JSON with keys:
  'answer' (string): the main reply
  'suggestions' (array of strings): exactly 3 short follow-up ideas.
`

// Actions understood by UserTurn. Any other action passes the question or
// context through unchanged.
const (
	ActionQA      = "qa"
	ActionSummary = "summary"
	ActionExpand  = "expand"
)

// UserTurn builds the user message for action.
func UserTurn(action, context, question string) string {
	switch action {
	case ActionQA:
		return fmt.Sprintf("Context:\n%s\n\nQuestion:\n%s", context, question)
	case ActionSummary:
		return "Summarize the following content:\n\n" + context
	case ActionExpand:
		return "Expand and explain the following content:\n\n" + context
	default:
		if question != "" {
			return question
		}
		return context
	}
}
