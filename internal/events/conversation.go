package events

import "time"

// ConversationEventType represents conversation turn event types.
type ConversationEventType string

// Conversation event type constants.
const (
	ConversationEventStarted   ConversationEventType = "started"
	ConversationEventCompleted ConversationEventType = "completed"
	ConversationEventFailed    ConversationEventType = "failed"
)

// ConversationEvent describes one question/answer turn.
type ConversationEvent struct { //nolint:govet // fieldalignment: preserving logical field order
	SessionID string
	Action    string
	Type      ConversationEventType
	Timestamp time.Time

	// Payload fields (only populated for the matching event type)
	Tokens      int           // Estimated prompt tokens, for Completed
	Dropped     int           // Messages trimmed from the prompt, for Completed
	Suggestions int           // Suggestions returned, for Completed
	Duration    time.Duration // For Completed and Failed
	Error       error         // For Failed
}

// NewConversationStartedEvent creates a started event.
func NewConversationStartedEvent(sessionID, action string) ConversationEvent {
	return ConversationEvent{
		SessionID: sessionID,
		Action:    action,
		Type:      ConversationEventStarted,
		Timestamp: time.Now(),
	}
}

// NewConversationCompletedEvent creates a completed event.
func NewConversationCompletedEvent(sessionID, action string, tokens, dropped, suggestions int, d time.Duration) ConversationEvent {
	return ConversationEvent{
		SessionID:   sessionID,
		Action:      action,
		Type:        ConversationEventCompleted,
		Tokens:      tokens,
		Dropped:     dropped,
		Suggestions: suggestions,
		Duration:    d,
		Timestamp:   time.Now(),
	}
}

// NewConversationFailedEvent creates a failed event.
func NewConversationFailedEvent(sessionID, action string, err error, d time.Duration) ConversationEvent {
	return ConversationEvent{
		SessionID: sessionID,
		Action:    action,
		Type:      ConversationEventFailed,
		Error:     err,
		Duration:  d,
		Timestamp: time.Now(),
	}
}
