// ABOUTME: Store interface and data types for the durable session store collaborator.
// ABOUTME: Defines Session, Message, Attachment and the Store interface for persistence.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateSession is returned when creating a session whose id exists.
var ErrDuplicateSession = errors.New("session already exists")

// Session is the durable record for one chat session.
type Session struct {
	ID            string
	WorktreeID    string
	Name          string
	Model         string
	Provider      string
	Backend       string
	ExecutionMode string // plan, build, yolo
	ThinkingLevel string
	EffortLevel   string
	LastRunStatus string // idle, running, resumable, completed
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Role constants for persisted messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one persisted transcript entry. BlocksJSON carries the
// serialized content blocks (including tool calls) for assistant messages;
// Content is the flat text fallback.
type Message struct {
	ID         string
	SessionID  string
	Role       string
	Content    string
	BlocksJSON string
	Cancelled  bool
	CreatedAt  time.Time
}

// AttachmentKind constants.
const (
	AttachmentImage       = "image"
	AttachmentTextFile    = "text_file"
	AttachmentFileMention = "file_mention"
	AttachmentSkill       = "skill"
)

// Attachment is one pending item attached to a draft or queued message.
type Attachment struct {
	Kind string
	Name string
	Path string
}

// Store is the durable session store. Draft and attachment persistence is
// fire-and-forget for in-memory correctness; the send pipeline flushes them
// on submit/cancel boundaries.
type Store interface {
	ListSessions(ctx context.Context, worktreeID string) ([]*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	CreateSession(ctx context.Context, session *Session) error
	UpdateSession(ctx context.Context, session *Session) error
	DeleteSession(ctx context.Context, id string) error

	SaveMessage(ctx context.Context, msg *Message) error
	GetMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error)

	SaveDraft(ctx context.Context, sessionID, text string) error
	GetDraft(ctx context.Context, sessionID string) (string, error)
	ClearDraft(ctx context.Context, sessionID string) error

	SaveAttachments(ctx context.Context, sessionID string, attachments []Attachment) error
	// TakeAttachments returns the session's pending attachments and clears them.
	TakeAttachments(ctx context.Context, sessionID string) ([]Attachment, error)

	Close() error
}
