// Package message defines conversation messages and their stored encoding.
package message

import (
	"encoding/json"
	"strings"
)

// Role represents the role of a message sender.
type Role string

// Role constants.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message represents a conversation message. Its position in a session log
// is its only ordering.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// New creates a message with the given role and content.
func New(role Role, content string) Message {
	return Message{Role: role, Content: content}
}

// System creates a system message.
func System(content string) Message {
	return New(RoleSystem, content)
}

// User creates a user message.
func User(content string) Message {
	return New(RoleUser, content)
}

// Assistant creates an assistant message.
func Assistant(content string) Message {
	return New(RoleAssistant, content)
}

// IsZero reports whether the message carries no role.
func (m Message) IsZero() bool {
	return m.Role == ""
}

// record mirrors the stored entry with optional fields so that a missing
// field can be told apart from an empty one.
type record struct {
	Role    *string `json:"role"`
	Content *string `json:"content"`
}

// Encode serializes a message into its stored form.
func Encode(m Message) (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Decode parses a stored entry.
//
// Entries that are not valid JSON objects are wrapped as system messages
// holding the raw text, so a log never shrinks because of a bad entry.
// Entries that decode but lack a role or content come back as a zero
// Message, which Normalize drops.
func Decode(raw string) Message {
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return System(raw)
	}
	if rec.Role == nil || rec.Content == nil {
		return Message{}
	}
	return Message{Role: Role(*rec.Role), Content: *rec.Content}
}

// DecodeAll decodes every stored entry, preserving order and length.
func DecodeAll(raws []string) []Message {
	msgs := make([]Message, len(raws))
	for i, raw := range raws {
		msgs[i] = Decode(raw)
	}
	return msgs
}

// Normalize drops entries without a role and trims whitespace around role
// and content. The input slice is not modified.
func Normalize(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.IsZero() {
			continue
		}
		role := Role(strings.TrimSpace(string(m.Role)))
		if role == "" {
			continue
		}
		out = append(out, Message{Role: role, Content: strings.TrimSpace(m.Content)})
	}
	return out
}

// Contents returns the content of each message.
func Contents(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}
