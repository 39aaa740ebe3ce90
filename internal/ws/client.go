// Package ws is the client half of the store websocket: it mirrors the
// room namespace locally, reconnects with backoff, and implements the store
// contract for everything above it.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/RanFeng/ilog"
	"github.com/gorilla/websocket"

	"github.com/AumSorathiya/watch-together.github.io/internal/protocol"
	"github.com/AumSorathiya/watch-together.github.io/internal/store"
)

const (
	maxBackoff   = 30 * time.Second
	pingInterval = 10 * time.Second
)

var ErrNotConnected = errors.New("store connection down")

// Client implements store.Store over the room service's websocket.
type Client struct {
	url string

	mu       sync.Mutex
	conn     *websocket.Conn
	mirror   map[string]json.RawMessage
	watchers map[*watcher]struct{}
	cleanup  []string
	closed   bool

	done  chan struct{}
	ready chan struct{}
}

type watcher struct {
	prefix string
	ch     chan store.Event
}

var _ store.Store = (*Client)(nil)

// Dial connects to ws(s)://server/ws/rooms/{roomID}?token=... and returns
// once the initial namespace snapshot has arrived, so reads work
// immediately. The connection re-establishes itself with backoff until
// Close.
func Dial(ctx context.Context, serverURL, roomID, token string) (*Client, error) {
	wsURL := strings.Replace(serverURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = strings.TrimSuffix(wsURL, "/") + "/ws/rooms/" + roomID + "?token=" + token

	c := &Client{
		url:      wsURL,
		mirror:   make(map[string]json.RawMessage),
		watchers: make(map[*watcher]struct{}),
		done:     make(chan struct{}),
		ready:    make(chan struct{}),
	}

	go c.runLoop(ctx)

	select {
	case <-c.ready:
		return c, nil
	case <-ctx.Done():
		c.Close()
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrNotConnected
	}
}

func (c *Client) runLoop(ctx context.Context) {
	backoff := time.Second
	for {
		err := c.connectOnce(ctx)
		if ctx.Err() != nil || c.isClosed() {
			return
		}
		if err != nil {
			ilog.EventError(ctx, err, "store_ws_disconnected", "url", c.url)
		}
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-time.After(backoff):
			backoff = min(backoff*2, maxBackoff)
		}
	}
}

func (c *Client) connectOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, http.Header{})
	if err != nil {
		return err
	}
	defer conn.Close()

	c.mu.Lock()
	c.conn = conn
	cleanup := append([]string(nil), c.cleanup...)
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
	}()

	// Re-register disconnect cleanups on every fresh connection; the
	// server forgets them when the previous connection drops.
	for _, path := range cleanup {
		if err := c.send(protocol.KindOnDisconnect, protocol.PathValue{Path: path}); err != nil {
			return err
		}
	}

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg []byte) {
	var inbound protocol.InboundEnvelope
	if err := json.Unmarshal(msg, &inbound); err != nil {
		return
	}

	switch inbound.Kind {
	case protocol.KindSnapshot:
		var payload protocol.SnapshotPayload
		if err := json.Unmarshal(inbound.Data, &payload); err != nil {
			return
		}
		c.applySnapshot(payload)
	case protocol.KindEvent:
		var pv protocol.PathValue
		if err := json.Unmarshal(inbound.Data, &pv); err != nil {
			return
		}
		c.apply(store.Event{Path: pv.Path, Value: pv.Value, Deleted: pv.Deleted})
	}
}

// applySnapshot replaces the mirror and emits the difference, deletions
// included, so watchers converge after a reconnect.
func (c *Client) applySnapshot(payload protocol.SnapshotPayload) {
	next := make(map[string]json.RawMessage, len(payload.Paths))
	for _, pv := range payload.Paths {
		next[pv.Path] = pv.Value
	}

	c.mu.Lock()
	prev := c.mirror
	c.mirror = next
	c.mu.Unlock()

	for path := range prev {
		if _, ok := next[path]; !ok {
			c.notify(store.Event{Path: path, Deleted: true})
		}
	}
	for path, value := range next {
		c.notify(store.Event{Path: path, Value: value})
	}

	select {
	case <-c.ready:
	default:
		close(c.ready)
	}
}

func (c *Client) apply(ev store.Event) {
	c.mu.Lock()
	if ev.Deleted {
		delete(c.mirror, ev.Path)
	} else {
		c.mirror[ev.Path] = ev.Value
	}
	c.mu.Unlock()
	c.notify(ev)
}

func (c *Client) notify(ev store.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for w := range c.watchers {
		if !strings.HasPrefix(ev.Path, w.prefix) {
			continue
		}
		select {
		case w.ch <- ev:
		default:
		}
	}
}

func (c *Client) send(kind string, pv protocol.PathValue) error {
	data, err := json.Marshal(protocol.Envelope{Kind: kind, Data: pv})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return store.ErrClosed
	}
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) Get(_ context.Context, path string) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, store.ErrClosed
	}
	value, ok := c.mirror[path]
	if !ok {
		return nil, store.ErrNotFound
	}
	return value, nil
}

// Put is optimistic: the mirror keeps the written value even if the remote
// write fails, and the caller decides whether a failure is worth surfacing.
func (c *Client) Put(_ context.Context, path string, value json.RawMessage) error {
	c.apply(store.Event{Path: path, Value: value})
	return c.send(protocol.KindPut, protocol.PathValue{Path: path, Value: value})
}

func (c *Client) Delete(_ context.Context, path string) error {
	c.apply(store.Event{Path: path, Deleted: true})
	return c.send(protocol.KindDelete, protocol.PathValue{Path: path})
}

func (c *Client) Watch(ctx context.Context, prefix string) (<-chan store.Event, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, store.ErrClosed
	}
	var existing []store.Event
	for path, value := range c.mirror {
		if strings.HasPrefix(path, prefix) {
			existing = append(existing, store.Event{Path: path, Value: value})
		}
	}
	w := &watcher{prefix: prefix, ch: make(chan store.Event, len(existing)+64)}
	for _, ev := range existing {
		w.ch <- ev
	}
	c.watchers[w] = struct{}{}
	c.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-c.done:
		}
		c.mu.Lock()
		delete(c.watchers, w)
		c.mu.Unlock()
		close(w.ch)
	}()

	return w.ch, nil
}

func (c *Client) OnDisconnect(_ context.Context, path string) error {
	c.mu.Lock()
	registered := false
	for _, p := range c.cleanup {
		if p == path {
			registered = true
			break
		}
	}
	if !registered {
		c.cleanup = append(c.cleanup, path)
	}
	c.mu.Unlock()
	return c.send(protocol.KindOnDisconnect, protocol.PathValue{Path: path})
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	close(c.done)
	if conn != nil {
		conn.Close()
	}
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
