// Package presence maintains the per-room roster and derives the host from
// it: each client heartbeats its own entry, everyone evaluates the same
// windows over everyone's lastSeen, and the oldest online joiner is host.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/RanFeng/ilog"

	"github.com/AumSorathiya/watch-together.github.io/internal/protocol"
	"github.com/AumSorathiya/watch-together.github.io/internal/store"
)

const (
	defaultHeartbeat    = 30 * time.Second
	defaultOnlineWindow = 35 * time.Second
	defaultStaleWindow  = 60 * time.Second
)

// Tracker owns this client's PresenceEntry and the local view of everyone
// else's. All callbacks run on the tracker's goroutine.
type Tracker struct {
	st   store.Store
	self protocol.PresenceEntry

	heartbeat    time.Duration
	onlineWindow time.Duration
	staleWindow  time.Duration
	now          func() time.Time

	onHostChange func(newHostID, prevHostID string)
	onJoin       func(protocol.PresenceEntry)
	onLeave      func(protocol.PresenceEntry)

	mu      sync.Mutex
	entries map[string]protocol.PresenceEntry
	online  map[string]protocol.PresenceEntry
	hostID  string
}

type Option func(*Tracker)

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func WithWindows(heartbeat, online, stale time.Duration) Option {
	return func(t *Tracker) {
		t.heartbeat = heartbeat
		t.onlineWindow = online
		t.staleWindow = stale
	}
}

func WithHostChange(fn func(newHostID, prevHostID string)) Option {
	return func(t *Tracker) { t.onHostChange = fn }
}

func WithJoinLeave(onJoin, onLeave func(protocol.PresenceEntry)) Option {
	return func(t *Tracker) {
		t.onJoin = onJoin
		t.onLeave = onLeave
	}
}

func New(st store.Store, userID, name string, opts ...Option) *Tracker {
	t := &Tracker{
		st:           st,
		self:         protocol.PresenceEntry{UserID: userID, Name: name},
		heartbeat:    defaultHeartbeat,
		onlineWindow: defaultOnlineWindow,
		staleWindow:  defaultStaleWindow,
		now:          time.Now,
		entries:      make(map[string]protocol.PresenceEntry),
		online:       make(map[string]protocol.PresenceEntry),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run announces this client, heartbeats it, and follows the remote presence
// set until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	now := t.nowMillis()
	t.self.JoinedAt = now
	t.self.LastSeen = now

	path := "presence/" + t.self.UserID
	if err := store.PutJSON(ctx, t.st, path, t.self); err != nil {
		return err
	}
	if err := t.st.OnDisconnect(ctx, path); err != nil {
		return err
	}

	events, err := t.st.Watch(ctx, "presence/")
	if err != nil {
		return err
	}

	ticker := time.NewTicker(t.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.self.LastSeen = t.nowMillis()
			if err := store.PutJSON(ctx, t.st, path, t.self); err != nil && !errors.Is(err, context.Canceled) {
				ilog.EventError(ctx, err, "presence_heartbeat_failed", "userID", t.self.UserID)
			}
			t.evaluate(ctx)
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			t.apply(ev)
			t.evaluate(ctx)
		}
	}
}

func (t *Tracker) apply(ev store.Event) {
	userID := ev.Path[len("presence/"):]
	t.mu.Lock()
	defer t.mu.Unlock()
	if ev.Deleted {
		delete(t.entries, userID)
		return
	}
	var entry protocol.PresenceEntry
	if err := json.Unmarshal(ev.Value, &entry); err != nil {
		return
	}
	t.entries[userID] = entry
}

// evaluate recomputes the online subset, drops stale entries from the local
// view, diffs join/leave, and re-elects the host.
func (t *Tracker) evaluate(ctx context.Context) {
	now := t.nowMillis()

	t.mu.Lock()
	online := make(map[string]protocol.PresenceEntry)
	for id, entry := range t.entries {
		age := now - entry.LastSeen
		if age >= t.staleWindow.Milliseconds() {
			delete(t.entries, id)
			continue
		}
		if age < t.onlineWindow.Milliseconds() {
			online[id] = entry
		}
	}

	var joined, left []protocol.PresenceEntry
	for id, entry := range online {
		if _, ok := t.online[id]; !ok {
			joined = append(joined, entry)
		}
	}
	for id, entry := range t.online {
		if _, ok := online[id]; !ok {
			left = append(left, entry)
		}
	}
	t.online = online

	elected := electHost(online)
	prev := t.hostID
	changed := elected != "" && elected != prev
	if changed {
		t.hostID = elected
	}
	t.mu.Unlock()

	if t.onJoin != nil {
		for _, entry := range joined {
			t.onJoin(entry)
		}
	}
	if t.onLeave != nil {
		for _, entry := range left {
			t.onLeave(entry)
		}
	}
	if changed {
		t.writeHost(ctx, elected, now)
		if t.onHostChange != nil {
			t.onHostChange(elected, prev)
		}
	}
}

// electHost picks the smallest joinedAt among the online subset. joinedAt
// values are wall-clock write times, so ties do not occur in practice; if
// they do, which of the tied entries wins is undefined.
func electHost(online map[string]protocol.PresenceEntry) string {
	hostID := ""
	var hostJoined int64
	for id, entry := range online {
		if hostID == "" || entry.JoinedAt < hostJoined {
			hostID = id
			hostJoined = entry.JoinedAt
		}
	}
	return hostID
}

// writeHost records the election result in RoomState. Skipped while no
// state record exists yet; the sync controller creates the initial one.
func (t *Tracker) writeHost(ctx context.Context, hostID string, now int64) {
	var state protocol.RoomState
	if err := store.GetJSON(ctx, t.st, "state", &state); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			ilog.EventError(ctx, err, "presence_read_state_failed")
		}
		return
	}
	if state.HostID == hostID {
		return
	}
	state.HostID = hostID
	state.UpdatedAt = now
	if err := store.PutJSON(ctx, t.st, "state", state); err != nil {
		ilog.EventError(ctx, err, "presence_write_host_failed", "hostID", hostID)
	}
}

// HostID returns the most recent election result.
func (t *Tracker) HostID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hostID
}

// Online returns the online subset ordered by join time.
func (t *Tracker) Online() []protocol.PresenceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]protocol.PresenceEntry, 0, len(t.online))
	for _, entry := range t.online {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt < out[j].JoinedAt })
	return out
}

func (t *Tracker) OnlineCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.online)
}

func (t *Tracker) nowMillis() int64 {
	return t.now().UnixMilli()
}
