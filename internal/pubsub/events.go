// Package pubsub fans session and conversation events out to listeners.
package pubsub

import "time"

// EventType names what happened to the payload.
type EventType string

// Event types shared by all brokers.
const (
	EventCreated   EventType = "created"
	EventUpdated   EventType = "updated"
	EventDeleted   EventType = "deleted"
	EventStarted   EventType = "started"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
)

// Event is one published payload.
type Event[T any] struct { //nolint:govet // fieldalignment: preserving logical field order
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Publisher is the side of a broker that stores and services see.
type Publisher[T any] interface {
	Publish(EventType, T)
}
