// ABOUTME: Session lifecycle and per-session setting operations.
// ABOUTME: Setters mutate the durable record only; in-flight and queued snapshots are unaffected.

package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/halyard-dev/halyard/internal/store"
)

// CreateSession creates a new durable session in the given worktree.
func (c *Coordinator) CreateSession(ctx context.Context, worktreeID, name string) (*store.Session, error) {
	sess := &store.Session{
		ID:            uuid.New().String(),
		WorktreeID:    worktreeID,
		Name:          name,
		Model:         c.defaults.Model,
		Provider:      c.defaults.Provider,
		Backend:       c.defaults.Backend,
		ExecutionMode: c.defaults.ExecutionMode,
		ThinkingLevel: c.defaults.ThinkingLevel,
		EffortLevel:   c.defaults.EffortLevel,
		LastRunStatus: "idle",
	}
	if sess.ExecutionMode == "" {
		sess.ExecutionMode = "build"
	}
	if err := c.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return sess, nil
}

// DeleteSession removes a session from the store and tears down its
// in-memory state, cancelling any in-flight run.
func (c *Coordinator) DeleteSession(ctx context.Context, sessionID string) error {
	c.DropSession(sessionID)
	if err := c.store.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// ListSessions returns the worktree's sessions, newest first.
func (c *Coordinator) ListSessions(ctx context.Context, worktreeID string) ([]*store.Session, error) {
	return c.store.ListSessions(ctx, worktreeID)
}

// updateSession loads, mutates, and saves one session record.
func (c *Coordinator) updateSession(ctx context.Context, sessionID string, mutate func(*store.Session)) error {
	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("loading session: %w", err)
	}
	mutate(sess)
	if err := c.store.UpdateSession(ctx, sess); err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	return nil
}

// SetSessionName renames a session.
func (c *Coordinator) SetSessionName(ctx context.Context, sessionID, name string) error {
	return c.updateSession(ctx, sessionID, func(s *store.Session) { s.Name = name })
}

// SetSessionModel changes the model used by future runs.
func (c *Coordinator) SetSessionModel(ctx context.Context, sessionID, model string) error {
	return c.updateSession(ctx, sessionID, func(s *store.Session) { s.Model = model })
}

// SetSessionProvider changes the provider used by future runs.
func (c *Coordinator) SetSessionProvider(ctx context.Context, sessionID, provider string) error {
	return c.updateSession(ctx, sessionID, func(s *store.Session) { s.Provider = provider })
}

// SetSessionBackend changes the backend used by future runs.
func (c *Coordinator) SetSessionBackend(ctx context.Context, sessionID, backend string) error {
	return c.updateSession(ctx, sessionID, func(s *store.Session) { s.Backend = backend })
}

// SetSessionExecutionMode changes the mode used by future runs. The mode of
// an in-flight run is fixed at dispatch time and does not change.
func (c *Coordinator) SetSessionExecutionMode(ctx context.Context, sessionID, mode string) error {
	switch mode {
	case "build", "plan", "yolo":
	default:
		return fmt.Errorf("invalid execution mode %q", mode)
	}
	return c.updateSession(ctx, sessionID, func(s *store.Session) { s.ExecutionMode = mode })
}

// SetSessionThinkingLevel changes the thinking level used by future runs.
func (c *Coordinator) SetSessionThinkingLevel(ctx context.Context, sessionID, level string) error {
	return c.updateSession(ctx, sessionID, func(s *store.Session) { s.ThinkingLevel = level })
}

// SetSessionEffortLevel changes the effort level used by future runs.
func (c *Coordinator) SetSessionEffortLevel(ctx context.Context, sessionID, level string) error {
	return c.updateSession(ctx, sessionID, func(s *store.Session) { s.EffortLevel = level })
}

// SaveDraft persists the session's in-progress input text.
func (c *Coordinator) SaveDraft(ctx context.Context, sessionID, text string) error {
	return c.store.SaveDraft(ctx, sessionID, text)
}

// AddAttachment appends to the session's pending attachment buffer.
func (c *Coordinator) AddAttachment(ctx context.Context, sessionID string, att store.Attachment) error {
	pending, err := c.store.TakeAttachments(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("loading attachments: %w", err)
	}
	return c.store.SaveAttachments(ctx, sessionID, append(pending, att))
}
