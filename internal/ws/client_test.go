package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AumSorathiya/watch-together.github.io/internal/protocol"
	"github.com/AumSorathiya/watch-together.github.io/internal/store"
)

// fakeRoomServer speaks the store websocket protocol: snapshot on connect,
// then whatever the test pushes, while recording inbound envelopes.
type fakeRoomServer struct {
	srv      *httptest.Server
	snapshot protocol.SnapshotPayload

	conns    chan *websocket.Conn
	received chan protocol.InboundEnvelope
}

func newFakeRoomServer(t *testing.T, snapshot protocol.SnapshotPayload) *fakeRoomServer {
	t.Helper()
	f := &fakeRoomServer{
		snapshot: snapshot,
		conns:    make(chan *websocket.Conn, 4),
		received: make(chan protocol.InboundEnvelope, 16),
	}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		data, _ := json.Marshal(protocol.Envelope{Kind: protocol.KindSnapshot, Data: f.snapshot})
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			return
		}
		f.conns <- conn
		go func() {
			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var inbound protocol.InboundEnvelope
				if json.Unmarshal(msg, &inbound) == nil {
					f.received <- inbound
				}
			}
		}()
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRoomServer) push(t *testing.T, kind string, pv protocol.PathValue) {
	t.Helper()
	conn := <-f.conns
	data, err := json.Marshal(protocol.Envelope{Kind: kind, Data: pv})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
	f.conns <- conn
}

func (f *fakeRoomServer) nextReceived(t *testing.T) protocol.InboundEnvelope {
	t.Helper()
	select {
	case env := <-f.received:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound envelope")
		return protocol.InboundEnvelope{}
	}
}

func dialTest(t *testing.T, f *fakeRoomServer) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := Dial(ctx, f.srv.URL, "room1", "tok")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDialWaitsForSnapshot(t *testing.T) {
	f := newFakeRoomServer(t, protocol.SnapshotPayload{Paths: []protocol.PathValue{
		{Path: "state", Value: json.RawMessage(`{"url":"https://vimeo.com/76979871"}`)},
	}})
	c := dialTest(t, f)

	value, err := c.Get(context.Background(), "state")
	require.NoError(t, err)
	assert.JSONEq(t, `{"url":"https://vimeo.com/76979871"}`, string(value))

	_, err = c.Get(context.Background(), "presence/u1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEventsReachWatchers(t *testing.T) {
	f := newFakeRoomServer(t, protocol.SnapshotPayload{Paths: []protocol.PathValue{
		{Path: "presence/u1", Value: json.RawMessage(`{"userId":"u1"}`)},
	}})
	c := dialTest(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := c.Watch(ctx, "presence/")
	require.NoError(t, err)

	// Replay of the snapshot entry comes first.
	ev := <-events
	assert.Equal(t, "presence/u1", ev.Path)

	f.push(t, protocol.KindEvent, protocol.PathValue{Path: "presence/u2", Value: json.RawMessage(`{"userId":"u2"}`)})
	select {
	case ev = <-events:
		assert.Equal(t, "presence/u2", ev.Path)
		assert.False(t, ev.Deleted)
	case <-time.After(2 * time.Second):
		t.Fatal("no event for presence/u2")
	}

	f.push(t, protocol.KindEvent, protocol.PathValue{Path: "presence/u1", Deleted: true})
	select {
	case ev = <-events:
		assert.Equal(t, "presence/u1", ev.Path)
		assert.True(t, ev.Deleted)
	case <-time.After(2 * time.Second):
		t.Fatal("no delete event for presence/u1")
	}

	_, err = c.Get(context.Background(), "presence/u1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPutIsOptimisticAndForwarded(t *testing.T) {
	f := newFakeRoomServer(t, protocol.SnapshotPayload{})
	c := dialTest(t, f)

	require.NoError(t, c.Put(context.Background(), "typing/u1", json.RawMessage(`{"name":"ana"}`)))

	// Local mirror reflects the write before any server round trip.
	value, err := c.Get(context.Background(), "typing/u1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"ana"}`, string(value))

	env := f.nextReceived(t)
	assert.Equal(t, protocol.KindPut, env.Kind)
	var pv protocol.PathValue
	require.NoError(t, json.Unmarshal(env.Data, &pv))
	assert.Equal(t, "typing/u1", pv.Path)
}

func TestOnDisconnectForwarded(t *testing.T) {
	f := newFakeRoomServer(t, protocol.SnapshotPayload{})
	c := dialTest(t, f)

	require.NoError(t, c.OnDisconnect(context.Background(), "presence/u1"))

	env := f.nextReceived(t)
	assert.Equal(t, protocol.KindOnDisconnect, env.Kind)
	var pv protocol.PathValue
	require.NoError(t, json.Unmarshal(env.Data, &pv))
	assert.Equal(t, "presence/u1", pv.Path)
}

func TestCloseStopsClient(t *testing.T) {
	f := newFakeRoomServer(t, protocol.SnapshotPayload{})
	c := dialTest(t, f)

	require.NoError(t, c.Close())
	_, err := c.Get(context.Background(), "state")
	assert.ErrorIs(t, err, store.ErrClosed)
	assert.ErrorIs(t, c.Put(context.Background(), "state", json.RawMessage(`{}`)), store.ErrClosed)
}
