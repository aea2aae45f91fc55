// ABOUTME: Single source of truth for per-session sending state, executing mode, and last error.
// ABOUTME: Records are replaced atomically whole; readers never see a partial update.

package registry

import (
	"log/slog"
	"sync"
)

// RunStatus describes where a session's most recent run left it.
type RunStatus string

const (
	StatusIdle      RunStatus = "idle"
	StatusRunning   RunStatus = "running"
	StatusResumable RunStatus = "resumable"
	StatusCompleted RunStatus = "completed"
)

// Record is one session's registry entry. It is an immutable value: updates
// replace the whole entry under the registry lock.
type Record struct {
	Sending       bool
	ExecutingMode string // mode fixed at dispatch time; changes only via a new run
	LastStatus    RunStatus
	LastErr       error
}

// Registry tracks per-session run state. Entries are created lazily on first
// reference; an external collaborator owns actual session creation/deletion.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]Record
	logger   *slog.Logger
}

// New creates a Registry. Pass nil logger for the default.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]Record),
		logger:   logger.With("component", "registry"),
	}
}

// IsSending reports whether a send is in flight for the session.
func (r *Registry) IsSending(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[sessionID].Sending
}

// BeginSend marks the session as sending and records the executing mode.
// No-op if already sending: callers must check IsSending first, this is not
// re-entrant. Returns false when the call was a no-op.
func (r *Registry) BeginSend(sessionID, mode string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.sessions[sessionID]
	if rec.Sending {
		r.logger.Warn("beginSend on already-sending session", "session_id", sessionID)
		return false
	}
	rec.Sending = true
	rec.ExecutingMode = mode
	rec.LastStatus = StatusRunning
	r.sessions[sessionID] = rec
	return true
}

// CompleteSend clears the sending flag. Idempotent: a second call leaves
// state identical. Returns true when this call actually cleared the flag,
// so the caller knows to run its queue-drain check.
func (r *Registry) CompleteSend(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.sessions[sessionID]
	if !rec.Sending {
		return false
	}
	rec.Sending = false
	if rec.LastStatus == StatusRunning {
		rec.LastStatus = StatusCompleted
	}
	r.sessions[sessionID] = rec
	return true
}

// MarkResumable flags the session as waiting for input (plan approval,
// permission decision, or question) so the run can be resumed.
func (r *Registry) MarkResumable(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.sessions[sessionID]
	rec.LastStatus = StatusResumable
	r.sessions[sessionID] = rec
}

// RecordError stores the session's last error WITHOUT clearing the sending
// flag. Only CompleteSend clears it: an error event racing a late completion
// event must not leave the session half-cleared.
func (r *Registry) RecordError(sessionID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.sessions[sessionID]
	rec.LastErr = err
	r.sessions[sessionID] = rec
	r.logger.Debug("session error recorded", "session_id", sessionID, "error", err)
}

// ClearError dismisses the session's error banner state.
func (r *Registry) ClearError(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.sessions[sessionID]
	rec.LastErr = nil
	r.sessions[sessionID] = rec
}

// ForceIdle clears the sending flag outside the normal completion path.
// This is the cancel-race repair: the engine reported nothing to cancel, so
// the local flag is stale. A repair, not an error.
func (r *Registry) ForceIdle(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.sessions[sessionID]
	if rec.Sending {
		r.logger.Warn("force-clearing stale sending flag", "session_id", sessionID)
	}
	rec.Sending = false
	if rec.LastStatus == StatusRunning {
		rec.LastStatus = StatusCompleted
	}
	r.sessions[sessionID] = rec
}

// Snapshot returns a copy of the session's record. Unknown sessions return
// the zero record with StatusIdle.
func (r *Registry) Snapshot(sessionID string) Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.sessions[sessionID]
	if !ok {
		rec.LastStatus = StatusIdle
	}
	if rec.LastStatus == "" {
		rec.LastStatus = StatusIdle
	}
	return rec
}

// Drop removes all registry state for a session (archive/delete teardown).
func (r *Registry) Drop(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}
