// Package events defines domain-specific event types for the pub/sub system.
package events

import "time"

// SessionEventType represents session-specific event types.
type SessionEventType string

// Session event type constants.
const (
	SessionEventCreated      SessionEventType = "created"
	SessionEventMessageAdded SessionEventType = "message_added"
	SessionEventCompacted    SessionEventType = "compacted"
	SessionEventCleared      SessionEventType = "cleared"
	SessionEventPruned       SessionEventType = "pruned"
)

// SessionEvent represents a session lifecycle event.
type SessionEvent struct { //nolint:govet // fieldalignment: preserving logical field order
	SessionID string
	Type      SessionEventType
	Timestamp time.Time

	// Optional fields
	MessageRole string // For MessageAdded
	MessageText string // For MessageAdded
	Length      int    // Log length after MessageAdded or Compacted
	Removed     int    // Entries folded into the summary, or sessions pruned
}

// NewSessionCreatedEvent creates a session created event.
func NewSessionCreatedEvent(id string) SessionEvent {
	return SessionEvent{
		SessionID: id,
		Type:      SessionEventCreated,
		Timestamp: time.Now(),
	}
}

// NewSessionMessageAddedEvent creates a message added event.
func NewSessionMessageAddedEvent(sessionID, role, text string, length int) SessionEvent {
	return SessionEvent{
		SessionID:   sessionID,
		Type:        SessionEventMessageAdded,
		MessageRole: role,
		MessageText: text,
		Length:      length,
		Timestamp:   time.Now(),
	}
}

// NewSessionCompactedEvent reports that removed entries were replaced by a
// summary, leaving a log of length entries.
func NewSessionCompactedEvent(sessionID string, removed, length int) SessionEvent {
	return SessionEvent{
		SessionID: sessionID,
		Type:      SessionEventCompacted,
		Removed:   removed,
		Length:    length,
		Timestamp: time.Now(),
	}
}

// NewSessionClearedEvent creates a session cleared event.
func NewSessionClearedEvent(id string) SessionEvent {
	return SessionEvent{
		SessionID: id,
		Type:      SessionEventCleared,
		Timestamp: time.Now(),
	}
}

// NewSessionPrunedEvent reports how many expired sessions were deleted.
func NewSessionPrunedEvent(count int) SessionEvent {
	return SessionEvent{
		Type:      SessionEventPruned,
		Removed:   count,
		Timestamp: time.Now(),
	}
}
