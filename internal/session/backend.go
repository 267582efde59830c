// Package session provides the per-session message log with sliding expiry
// and in-place compaction.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable wraps every failure of the underlying storage.
var ErrStoreUnavailable = errors.New("session store unavailable")

// Backend persists session logs and metadata. Entries are opaque encoded
// strings; ids are raw session ids and each backend applies its own key
// namespace. Every method that takes a ttl refreshes the expiry of both the
// log and the metadata.
type Backend interface {
	// Meta returns the creation time of a live session and whether its
	// metadata exists.
	Meta(ctx context.Context, id string) (time.Time, bool, error)

	// Init writes the session metadata.
	Init(ctx context.Context, id string, createdAt time.Time, ttl time.Duration) error

	// Touch refreshes the expiry of an existing session. It is a no-op for
	// absent sessions.
	Touch(ctx context.Context, id string, ttl time.Duration) error

	// Push appends one entry and returns the new log length.
	Push(ctx context.Context, id, entry string, ttl time.Duration) (int, error)

	// Tail returns the last limit entries in order, or all of them when
	// limit <= 0.
	Tail(ctx context.Context, id string, limit int) ([]string, error)

	// Replace atomically swaps the whole log for entries.
	Replace(ctx context.Context, id string, entries []string, ttl time.Duration) error

	// Delete removes the log and the metadata.
	Delete(ctx context.Context, id string) error

	// TTL returns the remaining lifetime, or 0 when the session is absent.
	TTL(ctx context.Context, id string) (time.Duration, error)

	// Prune deletes expired sessions and reports how many were removed.
	Prune(ctx context.Context) (int, error)

	Close() error
}
