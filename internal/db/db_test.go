package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen(t *testing.T) {
	t.Run("creates database file", func(t *testing.T) {
		tmpDir := t.TempDir()
		dbPath := filepath.Join(tmpDir, "test.db")

		database, err := Open(dbPath)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer func() { _ = database.Close() }() //nolint:errcheck // Intentionally ignoring close error in test cleanup

		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			t.Error("database file was not created")
		}
	})

	t.Run("creates parent directories", func(t *testing.T) {
		tmpDir := t.TempDir()
		dbPath := filepath.Join(tmpDir, "nested", "dir", "test.db")

		database, err := Open(dbPath)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer func() { _ = database.Close() }() //nolint:errcheck // Intentionally ignoring close error in test cleanup

		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			t.Error("database file was not created in nested directory")
		}
	})

	t.Run("runs migrations", func(t *testing.T) {
		tmpDir := t.TempDir()
		dbPath := filepath.Join(tmpDir, "test.db")

		database, err := Open(dbPath)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer func() { _ = database.Close() }() //nolint:errcheck // Intentionally ignoring close error in test cleanup

		// Check that sessions table exists
		var tableName string
		err = database.QueryRowContext(context.Background(),
			"SELECT name FROM sqlite_master WHERE type='table' AND name='sessions'").Scan(&tableName)
		if err != nil {
			t.Fatalf("sessions table not created: %v", err)
		}

		// Check that messages table exists
		err = database.QueryRowContext(context.Background(),
			"SELECT name FROM sqlite_master WHERE type='table' AND name='messages'").Scan(&tableName)
		if err != nil {
			t.Fatalf("messages table not created: %v", err)
		}
	})

	t.Run("enables WAL mode", func(t *testing.T) {
		tmpDir := t.TempDir()
		dbPath := filepath.Join(tmpDir, "test.db")

		database, err := Open(dbPath)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer func() { _ = database.Close() }() //nolint:errcheck // Intentionally ignoring close error in test cleanup

		var journalMode string
		err = database.QueryRowContext(context.Background(), "PRAGMA journal_mode").Scan(&journalMode)
		if err != nil {
			t.Fatalf("failed to get journal_mode: %v", err)
		}

		if journalMode != "wal" {
			t.Errorf("journal_mode = %q, want %q", journalMode, "wal")
		}
	})

	t.Run("enables foreign keys", func(t *testing.T) {
		tmpDir := t.TempDir()
		dbPath := filepath.Join(tmpDir, "test.db")

		database, err := Open(dbPath)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer func() { _ = database.Close() }() //nolint:errcheck // Intentionally ignoring close error in test cleanup

		var foreignKeys int
		err = database.QueryRowContext(context.Background(), "PRAGMA foreign_keys").Scan(&foreignKeys)
		if err != nil {
			t.Fatalf("failed to get foreign_keys: %v", err)
		}

		if foreignKeys != 1 {
			t.Errorf("foreign_keys = %d, want 1", foreignKeys)
		}
	})
}

func TestDB_Path(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	database, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = database.Close() }() //nolint:errcheck // Intentionally ignoring close error in test cleanup

	if got := database.Path(); got != dbPath {
		t.Errorf("Path() = %q, want %q", got, dbPath)
	}
}

func TestDB_Conn(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	database, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = database.Close() }() //nolint:errcheck // Intentionally ignoring close error in test cleanup

	conn := database.Conn()
	if conn == nil {
		t.Error("Conn() returned nil")
	}

	// Verify connection is usable
	if err := conn.PingContext(context.Background()); err != nil {
		t.Errorf("connection ping failed: %v", err)
	}
}

func TestDB_WithTx(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	database, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = database.Close() }() //nolint:errcheck // Intentionally ignoring close error in test cleanup

	t.Run("commits on success", func(t *testing.T) {
		ctx := context.Background()

		err := database.WithTx(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `INSERT INTO sessions (key, created_at, expires_at) VALUES ('tx-test', 0, 1)`)
			return err
		})
		if err != nil {
			t.Fatalf("WithTx() error = %v", err)
		}

		// Verify row exists
		var id string
		err = database.QueryRowContext(ctx, "SELECT key FROM sessions WHERE key = 'tx-test'").Scan(&id)
		if err != nil {
			t.Errorf("committed row not found: %v", err)
		}
	})

	t.Run("rolls back on error", func(t *testing.T) {
		ctx := context.Background()

		err := database.WithTx(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `INSERT INTO sessions (key, created_at, expires_at) VALUES ('rollback-test', 0, 1)`)
			if err != nil {
				return err
			}
			return context.Canceled // Simulate error
		})
		if err == nil {
			t.Fatal("WithTx() expected error, got nil")
		}

		// Verify row does not exist
		var id string
		err = database.QueryRowContext(ctx, "SELECT key FROM sessions WHERE key = 'rollback-test'").Scan(&id)
		if err == nil {
			t.Error("rolled back row should not exist")
		}
	})
}

func TestDB_Close(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	database, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := database.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	// Verify connection is closed
	if err := database.Conn().PingContext(context.Background()); err == nil {
		t.Error("connection should be closed")
	}
}

func TestDB_Version(t *testing.T) {
	database, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = database.Close() }() //nolint:errcheck // Intentionally ignoring close error in test cleanup

	v, err := database.Version()
	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	if v != 1 {
		t.Errorf("Version() = %d, want 1", v)
	}
}

func TestOpen_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	first, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := first.ExecContext(ctx, `INSERT INTO sessions (key, created_at, expires_at) VALUES ('kept', 1, 2)`); err != nil {
		t.Fatalf("insert error = %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	second, err := Open(dbPath)
	if err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	defer func() { _ = second.Close() }() //nolint:errcheck // Intentionally ignoring close error in test cleanup

	var count int
	if err := second.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&count); err != nil {
		t.Fatalf("count error = %v", err)
	}
	if count != 1 {
		t.Errorf("sessions after reopen = %d, want 1", count)
	}
}

func TestMessages_CascadeDelete(t *testing.T) {
	database, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = database.Close() }() //nolint:errcheck // Intentionally ignoring close error in test cleanup

	ctx := context.Background()
	err = database.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO sessions (key, created_at, expires_at) VALUES ('s', 0, 1)`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO messages (session_key, seq, payload) VALUES ('s', 1, '{}'), ('s', 2, '{}')`)
		return err
	})
	if err != nil {
		t.Fatalf("WithTx() error = %v", err)
	}

	if _, err := database.ExecContext(ctx, "DELETE FROM sessions WHERE key = 's'"); err != nil {
		t.Fatalf("delete error = %v", err)
	}

	var count int
	if err := database.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&count); err != nil {
		t.Fatalf("count error = %v", err)
	}
	if count != 0 {
		t.Errorf("messages after session delete = %d, want 0", count)
	}
}

func TestMessages_RequireSession(t *testing.T) {
	database, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = database.Close() }() //nolint:errcheck // Intentionally ignoring close error in test cleanup

	_, err = database.ExecContext(context.Background(),
		`INSERT INTO messages (session_key, seq, payload) VALUES ('orphan', 1, '{}')`)
	if err == nil {
		t.Error("inserting a message without a session should fail")
	}
}
