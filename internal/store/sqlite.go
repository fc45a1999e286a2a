package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/reflow/internal/domain"
	"github.com/ashureev/reflow/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	busyRetries   = 3
	busyBaseDelay = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for concurrent commit hooks and the idle sweeper.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		last_seen_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_seen ON sessions(last_seen_at);

	CREATE TABLE IF NOT EXISTS state_entries (
		session_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value_json TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, key)
	);

	CREATE TABLE IF NOT EXISTS widget_values (
		session_id TEXT NOT NULL,
		identity TEXT NOT NULL,
		value_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, identity)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// UpsertSession creates or refreshes a session record.
func (s *SQLiteStore) UpsertSession(ctx context.Context, session *domain.Session) error {
	query := `
	INSERT INTO sessions (session_id, created_at, last_seen_at)
	VALUES (?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		last_seen_at = excluded.last_seen_at`

	_, err := s.db.ExecContext(ctx, query,
		session.SessionID, session.CreatedAt.Unix(), session.LastSeenAt.Unix())
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session record, nil if unknown.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `SELECT session_id, created_at, last_seen_at FROM sessions WHERE session_id = ?`
	row := s.db.QueryRowContext(ctx, query, sessionID)

	var sess domain.Session
	var createdAt, lastSeen int64
	err := row.Scan(&sess.SessionID, &createdAt, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.LastSeenAt = time.Unix(lastSeen, 0)
	return &sess, nil
}

// TouchSession updates the last_seen_at timestamp.
func (s *SQLiteStore) TouchSession(ctx context.Context, sessionID string, lastSeen time.Time) error {
	query := `UPDATE sessions SET last_seen_at = ? WHERE session_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("TouchSession affected 0 rows", "session_id", sessionID)
	}
	return nil
}

// GetExpiredSessions retrieves sessions idle for longer than ttl.
func (s *SQLiteStore) GetExpiredSessions(ctx context.Context, ttl time.Duration) ([]*domain.Session, error) {
	threshold := time.Now().Add(-ttl).Unix()
	query := `SELECT session_id, created_at, last_seen_at FROM sessions WHERE last_seen_at < ?`

	rows, err := s.db.QueryContext(ctx, query, threshold)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("Failed to close expired sessions rows", "error", closeErr)
		}
	}()

	var sessions []*domain.Session
	for rows.Next() {
		var sess domain.Session
		var createdAt, lastSeen int64
		if err := rows.Scan(&sess.SessionID, &createdAt, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan expired session row: %w", err)
		}
		sess.CreatedAt = time.Unix(createdAt, 0)
		sess.LastSeenAt = time.Unix(lastSeen, 0)
		sessions = append(sessions, &sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes a session and its state wholesale, retrying
// briefly on SQLITE_BUSY since commit hooks may still be flushing.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	return shared.RetrySQLite(ctx, busyRetries, busyBaseDelay, func() error {
		return s.deleteSessionOnce(ctx, sessionID)
	})
}

func (s *SQLiteStore) deleteSessionOnce(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		`DELETE FROM state_entries WHERE session_id = ?`,
		`DELETE FROM widget_values WHERE session_id = ?`,
		`DELETE FROM sessions WHERE session_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, sessionID); err != nil {
			return fmt.Errorf("delete session rows: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

// ReplaceState overwrites a session's persisted state entries with the
// latest committed snapshot. Entries whose value does not survive JSON
// serialization are skipped with a warning; persistence is best-effort
// durability, not the source of truth for a live session.
func (s *SQLiteStore) ReplaceState(ctx context.Context, sessionID string, entries []domain.StateEntry) error {
	return shared.RetrySQLite(ctx, busyRetries, busyBaseDelay, func() error {
		return s.replaceStateOnce(ctx, sessionID, entries)
	})
}

func (s *SQLiteStore) replaceStateOnce(ctx context.Context, sessionID string, entries []domain.StateEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin state tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM state_entries WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear state entries: %w", err)
	}

	insert := `INSERT INTO state_entries (session_id, key, value_json, version, updated_at) VALUES (?, ?, ?, ?, ?)`
	for _, e := range entries {
		data, err := json.Marshal(e.Value)
		if err != nil {
			slog.Warn("Skipping non-serializable state entry", "session_id", sessionID, "key", e.Key, "error", err)
			continue
		}
		if _, err := tx.ExecContext(ctx, insert, sessionID, e.Key, string(data), e.Version, e.UpdatedAt.Unix()); err != nil {
			return fmt.Errorf("insert state entry: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit state: %w", err)
	}
	return nil
}

// LoadState retrieves a session's persisted state entries.
func (s *SQLiteStore) LoadState(ctx context.Context, sessionID string) ([]domain.StateEntry, error) {
	query := `SELECT key, value_json, version, updated_at FROM state_entries WHERE session_id = ?`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query state entries: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("Failed to close state rows", "error", closeErr)
		}
	}()

	var entries []domain.StateEntry
	for rows.Next() {
		var e domain.StateEntry
		var valueJSON string
		var updatedAt int64
		if err := rows.Scan(&e.Key, &valueJSON, &e.Version, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan state entry: %w", err)
		}
		if err := json.Unmarshal([]byte(valueJSON), &e.Value); err != nil {
			return nil, fmt.Errorf("unmarshal state value for %q: %w", e.Key, err)
		}
		e.UpdatedAt = time.Unix(updatedAt, 0)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state entries: %w", err)
	}
	return entries, nil
}

// ReplaceWidgetValues overwrites a session's persisted widget values.
func (s *SQLiteStore) ReplaceWidgetValues(ctx context.Context, sessionID string, values map[string]any) error {
	return shared.RetrySQLite(ctx, busyRetries, busyBaseDelay, func() error {
		return s.replaceWidgetValuesOnce(ctx, sessionID, values)
	})
}

func (s *SQLiteStore) replaceWidgetValuesOnce(ctx context.Context, sessionID string, values map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin widget tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM widget_values WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear widget values: %w", err)
	}

	now := time.Now().Unix()
	insert := `INSERT INTO widget_values (session_id, identity, value_json, updated_at) VALUES (?, ?, ?, ?)`
	for identity, value := range values {
		data, err := json.Marshal(value)
		if err != nil {
			slog.Warn("Skipping non-serializable widget value", "session_id", sessionID, "identity", identity, "error", err)
			continue
		}
		if _, err := tx.ExecContext(ctx, insert, sessionID, identity, string(data), now); err != nil {
			return fmt.Errorf("insert widget value: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit widget values: %w", err)
	}
	return nil
}

// LoadWidgetValues retrieves a session's persisted widget values.
func (s *SQLiteStore) LoadWidgetValues(ctx context.Context, sessionID string) (map[string]any, error) {
	query := `SELECT identity, value_json FROM widget_values WHERE session_id = ?`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query widget values: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("Failed to close widget rows", "error", closeErr)
		}
	}()

	values := make(map[string]any)
	for rows.Next() {
		var identity, valueJSON string
		if err := rows.Scan(&identity, &valueJSON); err != nil {
			return nil, fmt.Errorf("scan widget value: %w", err)
		}
		var value any
		if err := json.Unmarshal([]byte(valueJSON), &value); err != nil {
			return nil, fmt.Errorf("unmarshal widget value for %q: %w", identity, err)
		}
		values[identity] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate widget values: %w", err)
	}
	return values, nil
}
