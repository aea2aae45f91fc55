// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite.
// ABOUTME: Provides session/message/draft persistence with automatic schema creation.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id      TEXT PRIMARY KEY,
		worktree_id     TEXT NOT NULL,
		name            TEXT NOT NULL DEFAULT '',
		model           TEXT NOT NULL DEFAULT '',
		provider        TEXT NOT NULL DEFAULT '',
		backend         TEXT NOT NULL DEFAULT '',
		execution_mode  TEXT NOT NULL DEFAULT 'build',
		thinking_level  TEXT NOT NULL DEFAULT '',
		effort_level    TEXT NOT NULL DEFAULT '',
		last_run_status TEXT NOT NULL DEFAULT 'idle',
		created_at      TIMESTAMP NOT NULL,
		updated_at      TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_worktree ON sessions(worktree_id);

	CREATE TABLE IF NOT EXISTS messages (
		message_id  TEXT PRIMARY KEY,
		session_id  TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
		role        TEXT NOT NULL,
		content     TEXT NOT NULL DEFAULT '',
		blocks_json TEXT NOT NULL DEFAULT '',
		cancelled   INTEGER NOT NULL DEFAULT 0,
		created_at  TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);

	CREATE TABLE IF NOT EXISTS drafts (
		session_id TEXT PRIMARY KEY,
		text       TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pending_attachments (
		session_id       TEXT PRIMARY KEY,
		attachments_json TEXT NOT NULL DEFAULT '[]',
		updated_at       TIMESTAMP NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// ListSessions returns the sessions for a worktree, newest first.
// An empty worktreeID lists every session.
func (s *SQLiteStore) ListSessions(ctx context.Context, worktreeID string) ([]*Session, error) {
	query := `SELECT session_id, worktree_id, name, model, provider, backend,
		execution_mode, thinking_level, effort_level, last_run_status,
		created_at, updated_at FROM sessions`
	var args []any
	if worktreeID != "" {
		query += " WHERE worktree_id = ?"
		args = append(args, worktreeID)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.WorktreeID, &sess.Name, &sess.Model,
			&sess.Provider, &sess.Backend, &sess.ExecutionMode, &sess.ThinkingLevel,
			&sess.EffortLevel, &sess.LastRunStatus,
			&sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

// GetSession retrieves a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx, `SELECT session_id, worktree_id, name, model,
		provider, backend, execution_mode, thinking_level, effort_level,
		last_run_status, created_at, updated_at
		FROM sessions WHERE session_id = ?`, id).
		Scan(&sess.ID, &sess.WorktreeID, &sess.Name, &sess.Model, &sess.Provider,
			&sess.Backend, &sess.ExecutionMode, &sess.ThinkingLevel,
			&sess.EffortLevel, &sess.LastRunStatus,
			&sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return &sess, nil
}

// CreateSession stores a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	if session.LastRunStatus == "" {
		session.LastRunStatus = "idle"
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO sessions (session_id, worktree_id,
		name, model, provider, backend, execution_mode, thinking_level, effort_level,
		last_run_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.WorktreeID, session.Name, session.Model, session.Provider,
		session.Backend, session.ExecutionMode, session.ThinkingLevel,
		session.EffortLevel, session.LastRunStatus,
		session.CreatedAt, session.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrDuplicateSession
		}
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// UpdateSession replaces the mutable fields of a session record.
func (s *SQLiteStore) UpdateSession(ctx context.Context, session *Session) error {
	session.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET name = ?, model = ?,
		provider = ?, backend = ?, execution_mode = ?, thinking_level = ?,
		effort_level = ?, last_run_status = ?, updated_at = ?
		WHERE session_id = ?`,
		session.Name, session.Model, session.Provider, session.Backend,
		session.ExecutionMode, session.ThinkingLevel, session.EffortLevel,
		session.LastRunStatus, session.UpdatedAt, session.ID)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession removes a session and, via cascade, its messages.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	_, _ = s.db.ExecContext(ctx, `DELETE FROM drafts WHERE session_id = ?`, id)
	_, _ = s.db.ExecContext(ctx, `DELETE FROM pending_attachments WHERE session_id = ?`, id)
	return nil
}

// SaveMessage persists one transcript entry.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO messages (message_id, session_id,
		role, content, blocks_json, cancelled, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, msg.BlocksJSON, msg.Cancelled, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving message: %w", err)
	}
	return nil
}

// GetMessages returns a session's messages in chronological order.
// limit <= 0 means no limit.
func (s *SQLiteStore) GetMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	query := `SELECT message_id, session_id, role, content, blocks_json, cancelled, created_at
		FROM messages WHERE session_id = ? ORDER BY created_at ASC`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("getting messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.BlocksJSON,
			&m.Cancelled, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

// SaveDraft upserts the session's input draft.
func (s *SQLiteStore) SaveDraft(ctx context.Context, sessionID, text string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO drafts (session_id, text, updated_at)
		VALUES (?, ?, ?) ON CONFLICT(session_id) DO UPDATE SET text = excluded.text,
		updated_at = excluded.updated_at`,
		sessionID, text, time.Now())
	if err != nil {
		return fmt.Errorf("saving draft: %w", err)
	}
	return nil
}

// GetDraft returns the session's draft, or "" if none.
func (s *SQLiteStore) GetDraft(ctx context.Context, sessionID string) (string, error) {
	var text string
	err := s.db.QueryRowContext(ctx,
		`SELECT text FROM drafts WHERE session_id = ?`, sessionID).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting draft: %w", err)
	}
	return text, nil
}

// ClearDraft removes the session's draft.
func (s *SQLiteStore) ClearDraft(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clearing draft: %w", err)
	}
	return nil
}

// SaveAttachments upserts the session's pending attachment buffer.
func (s *SQLiteStore) SaveAttachments(ctx context.Context, sessionID string, attachments []Attachment) error {
	data, err := json.Marshal(attachments)
	if err != nil {
		return fmt.Errorf("encoding attachments: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO pending_attachments (session_id,
		attachments_json, updated_at) VALUES (?, ?, ?) ON CONFLICT(session_id) DO UPDATE
		SET attachments_json = excluded.attachments_json, updated_at = excluded.updated_at`,
		sessionID, string(data), time.Now())
	if err != nil {
		return fmt.Errorf("saving attachments: %w", err)
	}
	return nil
}

// TakeAttachments returns and clears the session's pending attachments.
func (s *SQLiteStore) TakeAttachments(ctx context.Context, sessionID string) ([]Attachment, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT attachments_json FROM pending_attachments WHERE session_id = ?`,
		sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting attachments: %w", err)
	}

	var attachments []Attachment
	if err := json.Unmarshal([]byte(data), &attachments); err != nil {
		return nil, fmt.Errorf("decoding attachments: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_attachments WHERE session_id = ?`, sessionID); err != nil {
		return nil, fmt.Errorf("clearing attachments: %w", err)
	}
	return attachments, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
