// ABOUTME: Tests for the session update broadcaster.
// ABOUTME: Covers fan-out, slow-subscriber drops, unsubscription, and close.

package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvUpdate(t *testing.T, ch <-chan Update) Update {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
		return Update{}
	}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch1, _ := b.Subscribe(t.Context(), "sess-1")
	ch2, _ := b.Subscribe(t.Context(), "sess-1")

	b.Publish(Update{SessionID: "sess-1", Sending: true, QueueLen: 2})

	u1 := recvUpdate(t, ch1)
	u2 := recvUpdate(t, ch2)
	assert.True(t, u1.Sending)
	assert.Equal(t, 2, u1.QueueLen)
	assert.Equal(t, u1, u2)
}

func TestPublishScopedToSession(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	chA, _ := b.Subscribe(t.Context(), "sess-a")
	chB, _ := b.Subscribe(t.Context(), "sess-b")

	b.Publish(Update{SessionID: "sess-a", PendingApproval: "plan"})

	u := recvUpdate(t, chA)
	assert.Equal(t, "plan", u.PendingApproval)

	select {
	case <-chB:
		t.Fatal("update leaked to another session's subscriber")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberDropsUpdates(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), "sess-1")

	// Fill the buffer and keep going; extra publishes must not block.
	for i := 0; i < subscriberBufferSize+10; i++ {
		b.Publish(Update{SessionID: "sess-1", QueueLen: i})
	}

	// The buffered updates are the earliest ones.
	u := recvUpdate(t, ch)
	assert.Equal(t, 0, u.QueueLen)
	assert.Len(t, ch, subscriberBufferSize-1)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, subID := b.Subscribe(t.Context(), "sess-1")
	b.Unsubscribe("sess-1", subID)

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe is a no-op.
	b.Publish(Update{SessionID: "sess-1"})

	// Double unsubscribe is safe.
	b.Unsubscribe("sess-1", subID)
}

func TestContextCancelUnsubscribes(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(t.Context())
	ch, _ := b.Subscribe(ctx, "sess-1")
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, open := <-ch:
			return !open
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCloseClosesAllChannels(t *testing.T) {
	b := NewBroadcaster(nil)

	ch1, _ := b.Subscribe(t.Context(), "sess-1")
	ch2, _ := b.Subscribe(t.Context(), "sess-2")
	b.Close()

	_, open := <-ch1
	assert.False(t, open)
	_, open = <-ch2
	assert.False(t, open)
}
