package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/guilhermegouw/chatctx/internal/compact"
	"github.com/guilhermegouw/chatctx/internal/debug"
	"github.com/guilhermegouw/chatctx/internal/events"
	"github.com/guilhermegouw/chatctx/internal/message"
	"github.com/guilhermegouw/chatctx/internal/pubsub"
)

// ErrInvalidRole is returned when appending a message with an unknown role.
var ErrInvalidRole = errors.New("invalid message role")

// Option configures a Store.
type Option func(*Store)

// WithPublisher publishes session events to p.
func WithPublisher(p pubsub.Publisher[events.SessionEvent]) Option {
	return func(s *Store) {
		s.publisher = p
	}
}

// WithClock overrides the time source used for creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator overrides how ids are generated for new sessions.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		s.newID = newID
	}
}

// Store is the message store: it owns session lifecycle and the ordered
// log of each session. Every touch refreshes the session TTL, and mutations
// of one session are serialized so an append, its length check and any
// compaction it triggers happen as one unit.
type Store struct {
	backend   Backend
	ttl       time.Duration
	compactor *compact.Compactor
	publisher pubsub.Publisher[events.SessionEvent]
	locks     *keyedMutex
	now       func() time.Time
	newID     func() string
}

// NewStore creates a store over backend. A nil compactor disables
// compaction.
func NewStore(backend Backend, ttl time.Duration, compactor *compact.Compactor, opts ...Option) *Store {
	s := &Store{
		backend:   backend,
		ttl:       ttl,
		compactor: compactor,
		locks:     newKeyedMutex(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) publish(t pubsub.EventType, ev events.SessionEvent) {
	if s.publisher != nil {
		s.publisher.Publish(t, ev)
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// EnsureSession returns id, generating one when empty. A session without
// metadata is initialized; an existing one only has its TTL refreshed.
func (s *Store) EnsureSession(ctx context.Context, id string) (string, error) {
	if id == "" {
		id = s.newID()
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	_, ok, err := s.backend.Meta(ctx, id)
	if err != nil {
		return "", unavailable("ensuring session", err)
	}

	if ok {
		if err := s.backend.Touch(ctx, id, s.ttl); err != nil {
			return "", unavailable("ensuring session", err)
		}
		return id, nil
	}

	if err := s.backend.Init(ctx, id, s.now(), s.ttl); err != nil {
		return "", unavailable("creating session", err)
	}
	debug.Event("session", "created", id)
	s.publish(pubsub.EventCreated, events.NewSessionCreatedEvent(id))
	return id, nil
}

// Append adds one message to the end of the log and refreshes the TTL. When
// the log grows past the compactor's limit it is compacted before Append
// returns. A failed summary leaves the log uncompacted and is retried on the
// next Append; the message itself is already stored.
func (s *Store) Append(ctx context.Context, id string, role message.Role, content string) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	entry, err := message.Encode(message.New(role, content))
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	n, err := s.backend.Push(ctx, id, entry, s.ttl)
	if err != nil {
		return unavailable("appending message", err)
	}
	debug.Event("session", "append", fmt.Sprintf("session=%s role=%s len=%d", id, role, n))
	s.publish(pubsub.EventUpdated, events.NewSessionMessageAddedEvent(id, string(role), content, n))

	if s.compactor == nil || n <= s.compactor.Keep() {
		return nil
	}
	return s.compactLocked(ctx, id)
}

// compactLocked replaces everything but the last keep entries with a
// summary. The kept entries are written back as stored, without a decode
// round trip.
func (s *Store) compactLocked(ctx context.Context, id string) error {
	raws, err := s.backend.Tail(ctx, id, 0)
	if err != nil {
		return unavailable("reading log for compaction", err)
	}
	cut := len(raws) - s.compactor.Keep()
	if cut <= 0 {
		return nil
	}

	summary, err := s.compactor.Summary(ctx, message.DecodeAll(raws[:cut]))
	if err != nil {
		debug.Error("session", err, fmt.Sprintf("compaction of %s deferred", id))
		return nil
	}
	head, err := message.Encode(summary)
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}

	entries := make([]string, 0, len(raws)-cut+1)
	entries = append(entries, head)
	entries = append(entries, raws[cut:]...)

	if err := s.backend.Replace(ctx, id, entries, s.ttl); err != nil {
		return unavailable("replacing log", err)
	}

	s.publish(pubsub.EventUpdated, events.NewSessionCompactedEvent(id, cut, len(entries)))
	return nil
}

// Load returns the whole log, or its last limit entries when limit > 0,
// and refreshes the TTL. Entries that cannot be decoded come back as system
// messages holding the raw text. An absent session yields an empty slice.
func (s *Store) Load(ctx context.Context, id string, limit int) ([]message.Message, error) {
	raws, err := s.backend.Tail(ctx, id, limit)
	if err != nil {
		return nil, unavailable("loading messages", err)
	}
	if err := s.backend.Touch(ctx, id, s.ttl); err != nil {
		return nil, unavailable("loading messages", err)
	}
	return message.DecodeAll(raws), nil
}

// Clear deletes the log and metadata of a session. Clearing an absent
// session succeeds.
func (s *Store) Clear(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	if err := s.backend.Delete(ctx, id); err != nil {
		return unavailable("clearing session", err)
	}
	debug.Event("session", "cleared", id)
	s.publish(pubsub.EventDeleted, events.NewSessionClearedEvent(id))
	return nil
}

// TTL returns the remaining lifetime of a session, 0 when absent.
func (s *Store) TTL(ctx context.Context, id string) (time.Duration, error) {
	d, err := s.backend.TTL(ctx, id)
	if err != nil {
		return 0, unavailable("reading ttl", err)
	}
	return d, nil
}

// Prune deletes expired sessions.
func (s *Store) Prune(ctx context.Context) (int, error) {
	n, err := s.backend.Prune(ctx)
	if err != nil {
		return 0, unavailable("pruning sessions", err)
	}
	if n > 0 {
		debug.Event("session", "pruned", fmt.Sprintf("count=%d", n))
		s.publish(pubsub.EventDeleted, events.NewSessionPrunedEvent(n))
	}
	return n, nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
