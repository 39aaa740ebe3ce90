// Package chat layers the room's append-only message feed and ephemeral
// typing markers on top of the store.
package chat

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/AumSorathiya/watch-together.github.io/internal/protocol"
	"github.com/AumSorathiya/watch-together.github.io/internal/store"
)

// typingTimeout is how long a typing marker lives after the last keystroke.
const typingTimeout = 2 * time.Second

type Client struct {
	st     store.Store
	userID string
	name   string

	mu          sync.Mutex
	typingTimer *time.Timer
}

func New(st store.Store, userID, name string) *Client {
	return &Client{st: st, userID: userID, name: name}
}

// Send appends one message under its own chat child path.
func (c *Client) Send(ctx context.Context, text string) error {
	id, err := gonanoid.New()
	if err != nil {
		return err
	}
	msg := protocol.ChatMessage{
		UserID: c.userID,
		Name:   c.name,
		Text:   text,
		SentAt: time.Now().UnixMilli(),
	}
	return store.PutJSON(ctx, c.st, "chat/"+id, msg)
}

// Typing refreshes this client's typing marker; the marker is deleted again
// after typingTimeout of inactivity, and by the store on disconnect.
func (c *Client) Typing(ctx context.Context) error {
	path := "typing/" + c.userID
	marker := protocol.TypingMarker{Name: c.name, Since: time.Now().UnixMilli()}
	if err := store.PutJSON(ctx, c.st, path, marker); err != nil {
		return err
	}
	if err := c.st.OnDisconnect(ctx, path); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.typingTimer != nil {
		c.typingTimer.Stop()
	}
	c.typingTimer = time.AfterFunc(typingTimeout, func() {
		_ = c.st.Delete(context.Background(), path)
	})
	return nil
}

// Stop cancels the pending typing expiry, for client teardown.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
}

// Follow delivers incoming messages to fn until ctx is cancelled.
func (c *Client) Follow(ctx context.Context, fn func(protocol.ChatMessage)) error {
	events, err := c.st.Watch(ctx, "chat/")
	if err != nil {
		return err
	}

	go func() {
		for ev := range events {
			if ev.Deleted {
				continue
			}
			var msg protocol.ChatMessage
			if err := json.Unmarshal(ev.Value, &msg); err != nil {
				continue
			}
			fn(msg)
		}
	}()
	return nil
}

// History reads the currently stored messages ordered by send time.
func History(ms *store.MemStore, roomPrefix string) []protocol.ChatMessage {
	var out []protocol.ChatMessage
	for _, ev := range ms.Snapshot(roomPrefix + "chat/") {
		var msg protocol.ChatMessage
		if err := json.Unmarshal(ev.Value, &msg); err != nil {
			continue
		}
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt < out[j].SentAt })
	return out
}
