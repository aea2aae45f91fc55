// ABOUTME: In-memory Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation for testing.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*Session     // keyed by session ID
	messages    map[string][]*Message   // keyed by session ID
	drafts      map[string]string       // keyed by session ID
	attachments map[string][]Attachment // keyed by session ID
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]*Session),
		messages:    make(map[string][]*Message),
		drafts:      make(map[string]string),
		attachments: make(map[string][]Attachment),
	}
}

// ListSessions returns the sessions for a worktree, newest first.
func (m *MemoryStore) ListSessions(ctx context.Context, worktreeID string) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sessions []*Session
	for _, sess := range m.sessions {
		if worktreeID != "" && sess.WorktreeID != worktreeID {
			continue
		}
		s := *sess
		sessions = append(sessions, &s)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// GetSession retrieves a session by ID.
func (m *MemoryStore) GetSession(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	s := *sess
	return &s, nil
}

// CreateSession stores a new session.
func (m *MemoryStore) CreateSession(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.ID]; exists {
		return ErrDuplicateSession
	}

	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	if session.LastRunStatus == "" {
		session.LastRunStatus = "idle"
	}

	// Copy to avoid external modification
	s := *session
	m.sessions[s.ID] = &s
	return nil
}

// UpdateSession replaces the mutable fields of a session record.
func (m *MemoryStore) UpdateSession(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.sessions[session.ID]
	if !ok {
		return ErrNotFound
	}
	session.CreatedAt = existing.CreatedAt
	session.UpdatedAt = time.Now()
	s := *session
	m.sessions[s.ID] = &s
	return nil
}

// DeleteSession removes a session and its messages.
func (m *MemoryStore) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id)
	delete(m.messages, id)
	delete(m.drafts, id)
	delete(m.attachments, id)
	return nil
}

// SaveMessage persists one transcript entry.
func (m *MemoryStore) SaveMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	c := *msg
	m.messages[c.SessionID] = append(m.messages[c.SessionID], &c)
	return nil
}

// GetMessages returns a session's messages in chronological order.
func (m *MemoryStore) GetMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	out := make([]*Message, len(msgs))
	for i, msg := range msgs {
		c := *msg
		out[i] = &c
	}
	return out, nil
}

// SaveDraft upserts the session's input draft.
func (m *MemoryStore) SaveDraft(ctx context.Context, sessionID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drafts[sessionID] = text
	return nil
}

// GetDraft returns the session's draft, or "" if none.
func (m *MemoryStore) GetDraft(ctx context.Context, sessionID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.drafts[sessionID], nil
}

// ClearDraft removes the session's draft.
func (m *MemoryStore) ClearDraft(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drafts, sessionID)
	return nil
}

// SaveAttachments upserts the session's pending attachment buffer.
func (m *MemoryStore) SaveAttachments(ctx context.Context, sessionID string, attachments []Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attachments[sessionID] = append([]Attachment(nil), attachments...)
	return nil
}

// TakeAttachments returns and clears the session's pending attachments.
func (m *MemoryStore) TakeAttachments(ctx context.Context, sessionID string) ([]Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	attachments := m.attachments[sessionID]
	delete(m.attachments, sessionID)
	return attachments, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
