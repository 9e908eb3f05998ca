package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-friendchat/internal/push"
)

// gatedNotifier holds every ToUsers call until want calls are in flight at
// once, or the wait expires.
type gatedNotifier struct {
	want     int
	mu       sync.Mutex
	inFlight int
	peak     int
	users []string
	ready chan struct{}
}

func newGatedNotifier(want int) *gatedNotifier {
	return &gatedNotifier{want: want, ready: make(chan struct{})}
}

func (n *gatedNotifier) ToUsers(_ context.Context, _ push.Frame, userIDs ...string) push.Report {
	n.mu.Lock()
	n.inFlight++
	n.users = append(n.users, userIDs...)
	if n.inFlight > n.peak {
		n.peak = n.inFlight
	}
	if n.inFlight == n.want {
		close(n.ready)
	}
	n.mu.Unlock()

	select {
	case <-n.ready:
	case <-time.After(2 * time.Second):
	}

	n.mu.Lock()
	n.inFlight--
	n.mu.Unlock()
	return push.Report{Delivered: 1}
}

func (n *gatedNotifier) ToConnections(context.Context, push.Frame, ...string) push.Report {
	return push.Report{}
}

func TestMarkDeliveredPushesSendersConcurrently(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	for _, m := range []Message{
		{ID: "m1", ConversationID: "alice_bob", SenderID: "alice", ReceiverID: "bob", Status: StatusSent, Timestamp: fixedNow},
		{ID: "m2", ConversationID: "bob_carol", SenderID: "carol", ReceiverID: "bob", Status: StatusSent, Timestamp: fixedNow},
		{ID: "m3", ConversationID: "bob_dave", SenderID: "dave", ReceiverID: "bob", Status: StatusSent, Timestamp: fixedNow},
	} {
		require.NoError(t, store.SaveMessage(ctx, m))
	}

	notifier := newGatedNotifier(3)
	marker := deliveryMarker{store: store, notifier: notifier, now: func() time.Time { return fixedNow }, log: zerolog.Nop()}

	start := time.Now()
	n, err := marker.markDelivered(ctx, "bob", []string{"m1", "m2", "m3"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, 3, notifier.peak, "every sender push should be in flight together")
	assert.ElementsMatch(t, []string{"alice", "carol", "dave"}, notifier.users)
	assert.Less(t, time.Since(start), time.Second)
}
