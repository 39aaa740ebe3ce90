package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AumSorathiya/watch-together.github.io/internal/protocol"
	"github.com/AumSorathiya/watch-together.github.io/internal/store"
)

func TestSendAndFollow(t *testing.T) {
	ms, err := store.NewMemStore()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := New(ms.Connect(), "u1", "Alice")
	follower := New(ms.Connect(), "u2", "Bob")

	got := make(chan protocol.ChatMessage, 4)
	require.NoError(t, follower.Follow(ctx, func(msg protocol.ChatMessage) { got <- msg }))

	require.NoError(t, sender.Send(ctx, "hello"))

	select {
	case msg := <-got:
		assert.Equal(t, "u1", msg.UserID)
		assert.Equal(t, "Alice", msg.Name)
		assert.Equal(t, "hello", msg.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("message never arrived")
	}
}

func TestTypingMarkerExpires(t *testing.T) {
	ms, err := store.NewMemStore()
	require.NoError(t, err)
	ctx := context.Background()
	conn := ms.Connect()

	c := New(conn, "u1", "Alice")
	defer c.Stop()
	require.NoError(t, c.Typing(ctx))

	reader := ms.Connect()
	_, err = reader.Get(ctx, "typing/u1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := reader.Get(ctx, "typing/u1")
		return err != nil
	}, 4*time.Second, 50*time.Millisecond)
}

func TestHistoryOrdering(t *testing.T) {
	ms, err := store.NewMemStore()
	require.NoError(t, err)
	ctx := context.Background()
	conn := ms.Connect()

	for i, text := range []string{"first", "second", "third"} {
		msg := protocol.ChatMessage{UserID: "u1", Text: text, SentAt: int64(100 + i)}
		require.NoError(t, store.PutJSON(ctx, conn, "chat/m"+text, msg))
	}

	history := History(ms, "")
	require.Len(t, history, 3)
	assert.Equal(t, "first", history[0].Text)
	assert.Equal(t, "third", history[2].Text)
}
