// ABOUTME: Tests for the per-session FIFO message queue.
// ABOUTME: Covers ordering, removal, promotion, and session isolation.

package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halyard-dev/halyard/internal/engine"
	"github.com/halyard-dev/halyard/internal/store"
)

func TestFIFOOrder(t *testing.T) {
	q := New()

	first := q.Enqueue("sess-1", "first", nil, engine.SendConfig{Model: "opus"})
	second := q.Enqueue("sess-1", "second", nil, engine.SendConfig{Model: "opus"})
	third := q.Enqueue("sess-1", "third", nil, engine.SendConfig{Model: "opus"})

	assert.Equal(t, 3, q.Len("sess-1"))
	assert.Equal(t, first.ID, q.Peek("sess-1").ID)

	assert.Equal(t, first.ID, q.Pop("sess-1").ID)
	assert.Equal(t, second.ID, q.Pop("sess-1").ID)
	assert.Equal(t, third.ID, q.Pop("sess-1").ID)
	assert.Nil(t, q.Pop("sess-1"))
	assert.Equal(t, 0, q.Len("sess-1"))
}

func TestPeekDoesNotRemove(t *testing.T) {
	q := New()
	q.Enqueue("sess-1", "only", nil, engine.SendConfig{})

	assert.NotNil(t, q.Peek("sess-1"))
	assert.Equal(t, 1, q.Len("sess-1"))
	assert.Nil(t, q.Peek("sess-2"))
}

func TestSnapshotCapturedAtEnqueue(t *testing.T) {
	q := New()

	msg := q.Enqueue("sess-1", "do it", []store.Attachment{
		{Kind: store.AttachmentImage, Name: "shot.png", Path: "/tmp/shot.png"},
	}, engine.SendConfig{Model: "opus", ExecutionMode: "plan"})

	got := q.Pop("sess-1")
	require.NotNil(t, got)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, "plan", got.Snapshot.ExecutionMode)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "shot.png", got.Attachments[0].Name)
	assert.False(t, got.QueuedAt.IsZero())
}

func TestRemove(t *testing.T) {
	q := New()

	first := q.Enqueue("sess-1", "first", nil, engine.SendConfig{})
	second := q.Enqueue("sess-1", "second", nil, engine.SendConfig{})
	third := q.Enqueue("sess-1", "third", nil, engine.SendConfig{})

	require.NoError(t, q.Remove("sess-1", second.ID))
	assert.Equal(t, 2, q.Len("sess-1"))
	assert.Equal(t, first.ID, q.Pop("sess-1").ID)
	assert.Equal(t, third.ID, q.Pop("sess-1").ID)

	err := q.Remove("sess-1", "no-such-message")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestPromoteMovesToHead(t *testing.T) {
	q := New()

	first := q.Enqueue("sess-1", "first", nil, engine.SendConfig{})
	second := q.Enqueue("sess-1", "second", nil, engine.SendConfig{})
	third := q.Enqueue("sess-1", "third", nil, engine.SendConfig{})

	require.NoError(t, q.Promote("sess-1", third.ID))
	assert.Equal(t, third.ID, q.Pop("sess-1").ID)
	assert.Equal(t, first.ID, q.Pop("sess-1").ID)
	assert.Equal(t, second.ID, q.Pop("sess-1").ID)
}

func TestPromoteHeadIsNoOp(t *testing.T) {
	q := New()

	first := q.Enqueue("sess-1", "first", nil, engine.SendConfig{})
	q.Enqueue("sess-1", "second", nil, engine.SendConfig{})

	require.NoError(t, q.Promote("sess-1", first.ID))
	assert.Equal(t, first.ID, q.Peek("sess-1").ID)

	err := q.Promote("sess-1", "no-such-message")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestSessionIsolationAndDrop(t *testing.T) {
	q := New()

	q.Enqueue("sess-a", "a1", nil, engine.SendConfig{})
	q.Enqueue("sess-a", "a2", nil, engine.SendConfig{})
	q.Enqueue("sess-b", "b1", nil, engine.SendConfig{})

	assert.Equal(t, 2, q.Len("sess-a"))
	assert.Equal(t, 1, q.Len("sess-b"))

	list := q.List("sess-a")
	require.Len(t, list, 2)
	assert.Equal(t, "a1", list[0].Text)

	q.Drop("sess-a")
	assert.Equal(t, 0, q.Len("sess-a"))
	assert.Equal(t, 1, q.Len("sess-b"))
}
