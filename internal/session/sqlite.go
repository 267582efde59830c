package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/guilhermegouw/chatctx/internal/db"
)

// SQLiteBackend implements Backend on the local SQLite database. Expired
// rows are invisible to reads, purged before writes to the same session and
// swept by Prune.
type SQLiteBackend struct {
	db     *db.DB
	prefix string
	now    func() time.Time
}

// NewSQLiteBackend creates a backend storing sessions under prefix.
func NewSQLiteBackend(database *db.DB, prefix string) *SQLiteBackend {
	return &SQLiteBackend{
		db:     database,
		prefix: prefix,
		now:    time.Now,
	}
}

func (b *SQLiteBackend) key(id string) string { return b.prefix + id }

func (b *SQLiteBackend) nowMilli() int64 { return b.now().UnixMilli() }

func (b *SQLiteBackend) expiry(ttl time.Duration) int64 {
	return b.now().Add(ttl).UnixMilli()
}

// execer is satisfied by *sql.Tx and *db.DB.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (b *SQLiteBackend) purge(ctx context.Context, q execer, key string) error {
	_, err := q.ExecContext(ctx,
		`DELETE FROM sessions WHERE key = ? AND expires_at <= ?`, key, b.nowMilli())
	if err != nil {
		return fmt.Errorf("purging expired session: %w", err)
	}
	return nil
}

// upsert creates the session row without metadata or extends its expiry.
func (b *SQLiteBackend) upsert(ctx context.Context, tx *sql.Tx, key string, ttl time.Duration) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (key, created_at, expires_at) VALUES (?, NULL, ?)
		ON CONFLICT (key) DO UPDATE SET expires_at = excluded.expires_at`,
		key, b.expiry(ttl))
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}
	return nil
}

// Meta implements Backend.
func (b *SQLiteBackend) Meta(ctx context.Context, id string) (time.Time, bool, error) {
	var createdAt sql.NullInt64
	err := b.db.QueryRowContext(ctx,
		`SELECT created_at FROM sessions WHERE key = ? AND expires_at > ?`,
		b.key(id), b.nowMilli()).Scan(&createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("reading session metadata: %w", err)
	}
	if !createdAt.Valid {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(createdAt.Int64), true, nil
}

// Init implements Backend.
func (b *SQLiteBackend) Init(ctx context.Context, id string, createdAt time.Time, ttl time.Duration) error {
	key := b.key(id)
	return b.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := b.purge(ctx, tx, key); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (key, created_at, expires_at) VALUES (?, ?, ?)
			ON CONFLICT (key) DO UPDATE SET
				created_at = excluded.created_at,
				expires_at = excluded.expires_at`,
			key, createdAt.UnixMilli(), b.expiry(ttl))
		if err != nil {
			return fmt.Errorf("initializing session: %w", err)
		}
		return nil
	})
}

// Touch implements Backend.
func (b *SQLiteBackend) Touch(ctx context.Context, id string, ttl time.Duration) error {
	_, err := b.db.ExecContext(ctx,
		`UPDATE sessions SET expires_at = ? WHERE key = ? AND expires_at > ?`,
		b.expiry(ttl), b.key(id), b.nowMilli())
	if err != nil {
		return fmt.Errorf("refreshing session expiry: %w", err)
	}
	return nil
}

// Push implements Backend.
func (b *SQLiteBackend) Push(ctx context.Context, id, entry string, ttl time.Duration) (int, error) {
	key := b.key(id)
	var n int
	err := b.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := b.purge(ctx, tx, key); err != nil {
			return err
		}
		if err := b.upsert(ctx, tx, key, ttl); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (session_key, seq, payload)
			VALUES (?, COALESCE((SELECT MAX(seq) FROM messages WHERE session_key = ?), 0) + 1, ?)`,
			key, key, entry)
		if err != nil {
			return fmt.Errorf("appending message: %w", err)
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM messages WHERE session_key = ?`, key).Scan(&n); err != nil {
			return fmt.Errorf("counting messages: %w", err)
		}
		return nil
	})
	return n, err
}

// Tail implements Backend.
func (b *SQLiteBackend) Tail(ctx context.Context, id string, limit int) ([]string, error) {
	query := `
		SELECT m.payload FROM messages m
		JOIN sessions s ON s.key = m.session_key
		WHERE s.key = ? AND s.expires_at > ?
		ORDER BY m.seq`
	args := []any{b.key(id), b.nowMilli()}
	if limit > 0 {
		query = `
			SELECT payload FROM (
				SELECT m.seq, m.payload FROM messages m
				JOIN sessions s ON s.key = m.session_key
				WHERE s.key = ? AND s.expires_at > ?
				ORDER BY m.seq DESC LIMIT ?
			) ORDER BY seq`
		args = append(args, limit)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reading messages: %w", err)
	}
	defer func() { _ = rows.Close() }() //nolint:errcheck // Read-only query.

	var out []string
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		out = append(out, payload)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return out, nil
}

// Replace implements Backend.
func (b *SQLiteBackend) Replace(ctx context.Context, id string, entries []string, ttl time.Duration) error {
	key := b.key(id)
	return b.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := b.purge(ctx, tx, key); err != nil {
			return err
		}
		if err := b.upsert(ctx, tx, key, ttl); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_key = ?`, key); err != nil {
			return fmt.Errorf("clearing messages: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO messages (session_key, seq, payload) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer func() { _ = stmt.Close() }() //nolint:errcheck // Closed with the transaction.

		for i, entry := range entries {
			if _, err := stmt.ExecContext(ctx, key, i+1, entry); err != nil {
				return fmt.Errorf("writing message %d: %w", i, err)
			}
		}
		return nil
	})
}

// Delete implements Backend.
func (b *SQLiteBackend) Delete(ctx context.Context, id string) error {
	// Messages go with the session row through ON DELETE CASCADE.
	if _, err := b.db.ExecContext(ctx, `DELETE FROM sessions WHERE key = ?`, b.key(id)); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// TTL implements Backend.
func (b *SQLiteBackend) TTL(ctx context.Context, id string) (time.Duration, error) {
	now := b.nowMilli()
	var expiresAt int64
	err := b.db.QueryRowContext(ctx,
		`SELECT expires_at FROM sessions WHERE key = ? AND expires_at > ?`,
		b.key(id), now).Scan(&expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading session expiry: %w", err)
	}
	return time.Duration(expiresAt-now) * time.Millisecond, nil
}

// Prune implements Backend.
func (b *SQLiteBackend) Prune(ctx context.Context) (int, error) {
	res, err := b.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, b.nowMilli())
	if err != nil {
		return 0, fmt.Errorf("pruning sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned sessions: %w", err)
	}
	return int(n), nil
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
