// ABOUTME: Per-session FIFO queue for messages submitted while a run is in flight.
// ABOUTME: Each queued message carries the config snapshot taken at enqueue time.

package queue

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/halyard-dev/halyard/internal/engine"
	"github.com/halyard-dev/halyard/internal/store"
)

// ErrMessageNotFound is returned when a queued message ID doesn't exist.
var ErrMessageNotFound = errors.New("queued message not found")

// QueuedMessage is one message waiting for its session to become free.
type QueuedMessage struct {
	ID          string
	Text        string
	Attachments []store.Attachment
	// Snapshot is the send configuration captured when the message was
	// queued, not when it is eventually dispatched.
	Snapshot engine.SendConfig
	QueuedAt time.Time
}

// Queue holds per-session FIFO message queues. It is pure storage: deciding
// when a head message may actually be dispatched is the coordinator's job.
type Queue struct {
	mu     sync.Mutex
	queues map[string][]*QueuedMessage
	logger *slog.Logger
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{
		queues: make(map[string][]*QueuedMessage),
		logger: slog.Default().With("component", "queue"),
	}
}

// Enqueue appends a message to the session's queue and returns it.
func (q *Queue) Enqueue(sessionID, text string, attachments []store.Attachment, snapshot engine.SendConfig) *QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	msg := &QueuedMessage{
		ID:          uuid.New().String(),
		Text:        text,
		Attachments: attachments,
		Snapshot:    snapshot,
		QueuedAt:    time.Now(),
	}
	q.queues[sessionID] = append(q.queues[sessionID], msg)
	q.logger.Debug("message queued", "session_id", sessionID, "message_id", msg.ID, "depth", len(q.queues[sessionID]))
	return msg
}

// Peek returns the head of the session's queue without removing it,
// or nil if the queue is empty.
func (q *Queue) Peek(sessionID string) *QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	msgs := q.queues[sessionID]
	if len(msgs) == 0 {
		return nil
	}
	return msgs[0]
}

// Pop removes and returns the head of the session's queue,
// or nil if the queue is empty.
func (q *Queue) Pop(sessionID string) *QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	msgs := q.queues[sessionID]
	if len(msgs) == 0 {
		return nil
	}
	msg := msgs[0]
	q.queues[sessionID] = msgs[1:]
	if len(q.queues[sessionID]) == 0 {
		delete(q.queues, sessionID)
	}
	return msg
}

// Remove deletes a specific queued message.
func (q *Queue) Remove(sessionID, messageID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	msgs := q.queues[sessionID]
	for i, msg := range msgs {
		if msg.ID == messageID {
			q.queues[sessionID] = append(msgs[:i:i], msgs[i+1:]...)
			if len(q.queues[sessionID]) == 0 {
				delete(q.queues, sessionID)
			}
			return nil
		}
	}
	return ErrMessageNotFound
}

// Promote moves a specific queued message to the head of its queue.
func (q *Queue) Promote(sessionID, messageID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	msgs := q.queues[sessionID]
	for i, msg := range msgs {
		if msg.ID == messageID {
			if i > 0 {
				rest := append(msgs[:i:i], msgs[i+1:]...)
				q.queues[sessionID] = append([]*QueuedMessage{msg}, rest...)
			}
			return nil
		}
	}
	return ErrMessageNotFound
}

// Len returns the session's queue depth.
func (q *Queue) Len(sessionID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[sessionID])
}

// List returns a copy of the session's queue in FIFO order.
func (q *Queue) List(sessionID string) []*QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	msgs := q.queues[sessionID]
	out := make([]*QueuedMessage, len(msgs))
	copy(out, msgs)
	return out
}

// Drop discards the session's queue entirely.
func (q *Queue) Drop(sessionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.queues, sessionID)
}
