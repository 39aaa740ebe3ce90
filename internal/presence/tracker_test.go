package presence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AumSorathiya/watch-together.github.io/internal/protocol"
	"github.com/AumSorathiya/watch-together.github.io/internal/store"
)

func testClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func entryEvent(t *testing.T, entry protocol.PresenceEntry) store.Event {
	t.Helper()
	value, err := json.Marshal(entry)
	require.NoError(t, err)
	return store.Event{Path: "presence/" + entry.UserID, Value: value}
}

func newTestTracker(t *testing.T, at time.Time, opts ...Option) (*Tracker, store.Store) {
	t.Helper()
	ms, err := store.NewMemStore()
	require.NoError(t, err)
	conn := ms.Connect()
	opts = append([]Option{WithClock(testClock(at))}, opts...)
	return New(conn, "self", "Self", opts...), conn
}

func TestElectHostSmallestJoinedAt(t *testing.T) {
	online := map[string]protocol.PresenceEntry{
		"c": {UserID: "c", JoinedAt: 300},
		"a": {UserID: "a", JoinedAt: 100},
		"b": {UserID: "b", JoinedAt: 200},
	}
	// Independent of map iteration order.
	for i := 0; i < 20; i++ {
		assert.Equal(t, "a", electHost(online))
	}
	assert.Equal(t, "", electHost(nil))
}

func TestEvaluateWindows(t *testing.T) {
	at := time.UnixMilli(1_000_000)
	tr, _ := newTestTracker(t, at)
	now := at.UnixMilli()

	tr.apply(entryEvent(t, protocol.PresenceEntry{UserID: "fresh", JoinedAt: now - 1000, LastSeen: now - 1000}))
	tr.apply(entryEvent(t, protocol.PresenceEntry{UserID: "away", JoinedAt: now - 50_000, LastSeen: now - 40_000}))
	tr.apply(entryEvent(t, protocol.PresenceEntry{UserID: "gone", JoinedAt: now - 90_000, LastSeen: now - 70_000}))
	tr.evaluate(context.Background())

	online := tr.Online()
	require.Len(t, online, 1)
	assert.Equal(t, "fresh", online[0].UserID)

	// Beyond the stale window the entry is dropped from the local view
	// entirely; within it but beyond the online window it survives as alive.
	tr.mu.Lock()
	_, aliveAway := tr.entries["away"]
	_, aliveGone := tr.entries["gone"]
	tr.mu.Unlock()
	assert.True(t, aliveAway)
	assert.False(t, aliveGone)
}

func TestHostHandoffOnDisconnect(t *testing.T) {
	at := time.UnixMilli(1_000_000)
	var changes [][2]string
	tr, _ := newTestTracker(t, at, WithHostChange(func(newHost, prev string) {
		changes = append(changes, [2]string{newHost, prev})
	}))
	now := at.UnixMilli()
	ctx := context.Background()

	first := protocol.PresenceEntry{UserID: "u1", JoinedAt: 100, LastSeen: now}
	second := protocol.PresenceEntry{UserID: "u2", JoinedAt: 200, LastSeen: now}
	tr.apply(entryEvent(t, first))
	tr.apply(entryEvent(t, second))
	tr.evaluate(ctx)

	require.Equal(t, "u1", tr.HostID())
	require.Len(t, changes, 1)
	assert.Equal(t, [2]string{"u1", ""}, changes[0])

	// The store's disconnect cleanup deletes u1's entry; the next snapshot
	// elects the next-oldest joiner.
	tr.apply(store.Event{Path: "presence/u1", Deleted: true})
	tr.evaluate(ctx)

	assert.Equal(t, "u2", tr.HostID())
	require.Len(t, changes, 2)
	assert.Equal(t, [2]string{"u2", "u1"}, changes[1])
}

func TestElectionWritesHostIntoRoomState(t *testing.T) {
	at := time.UnixMilli(5_000_000)
	tr, st := newTestTracker(t, at)
	ctx := context.Background()
	now := at.UnixMilli()

	// No state record yet: election must not create one.
	tr.apply(entryEvent(t, protocol.PresenceEntry{UserID: "u1", JoinedAt: 100, LastSeen: now}))
	tr.evaluate(ctx)
	_, err := st.Get(ctx, "state")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, store.PutJSON(ctx, st, "state", protocol.RoomState{
		URL: "movie.mp4", Time: 12, Playing: true, HostID: "u1", UpdatedAt: now - 60_000,
	}))

	tr.apply(entryEvent(t, protocol.PresenceEntry{UserID: "u0", JoinedAt: 50, LastSeen: now}))
	tr.evaluate(ctx)

	var state protocol.RoomState
	require.NoError(t, store.GetJSON(ctx, st, "state", &state))
	assert.Equal(t, "u0", state.HostID)
	assert.Equal(t, now, state.UpdatedAt)
	// Playback fields are inherited untouched.
	assert.Equal(t, "movie.mp4", state.URL)
	assert.Equal(t, 12.0, state.Time)
	assert.True(t, state.Playing)
}

func TestJoinLeaveNotifications(t *testing.T) {
	at := time.UnixMilli(1_000_000)
	var joins, leaves []string
	tr, _ := newTestTracker(t, at, WithJoinLeave(
		func(e protocol.PresenceEntry) { joins = append(joins, e.UserID) },
		func(e protocol.PresenceEntry) { leaves = append(leaves, e.UserID) },
	))
	now := at.UnixMilli()
	ctx := context.Background()

	tr.apply(entryEvent(t, protocol.PresenceEntry{UserID: "u1", JoinedAt: 100, LastSeen: now}))
	tr.evaluate(ctx)
	tr.apply(entryEvent(t, protocol.PresenceEntry{UserID: "u2", JoinedAt: 200, LastSeen: now}))
	tr.evaluate(ctx)
	tr.apply(store.Event{Path: "presence/u1", Deleted: true})
	tr.evaluate(ctx)

	assert.Equal(t, []string{"u1", "u2"}, joins)
	assert.Equal(t, []string{"u1"}, leaves)
}

func TestRunAnnouncesAndHeartbeats(t *testing.T) {
	ms, err := store.NewMemStore()
	require.NoError(t, err)
	conn := ms.Connect()
	tr := New(conn, "self", "Self", WithWindows(20*time.Millisecond, 35*time.Second, 60*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = tr.Run(ctx)
		close(done)
	}()

	var first protocol.PresenceEntry
	require.Eventually(t, func() bool {
		return store.GetJSON(ctx, conn, "presence/self", &first) == nil
	}, time.Second, 5*time.Millisecond)

	// Heartbeat refreshes lastSeen.
	require.Eventually(t, func() bool {
		var cur protocol.PresenceEntry
		if err := store.GetJSON(ctx, conn, "presence/self", &cur); err != nil {
			return false
		}
		return cur.LastSeen > first.LastSeen
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tracker did not stop")
	}

	// Disconnect cleanup removes the entry when the connection closes.
	require.NoError(t, conn.Close())
	other := ms.Connect()
	_, err = other.Get(context.Background(), "presence/self")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
