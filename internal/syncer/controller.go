// Package syncer implements the playback synchronization state machine: the
// host propagates every playback action into the room's canonical state
// record, and viewers reconcile their local player against it on a fixed
// cadence, after every remote change, and on demand.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/RanFeng/ilog"

	"github.com/AumSorathiya/watch-together.github.io/internal/locator"
	"github.com/AumSorathiya/watch-together.github.io/internal/player"
	"github.com/AumSorathiya/watch-together.github.io/internal/protocol"
	"github.com/AumSorathiya/watch-together.github.io/internal/store"
)

// Phase is this client's position in the session lifecycle. Host and Viewer
// are the two steady states; the presence module drives transitions between
// them.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseConnecting
	PhaseHost
	PhaseViewer
	PhaseDisconnected
)

func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseHost:
		return "host"
	case PhaseViewer:
		return "viewer"
	case PhaseDisconnected:
		return "disconnected"
	default:
		return "uninitialized"
	}
}

const (
	defaultReconcileEvery = 5 * time.Second
	defaultSeekDebounce   = 300 * time.Millisecond
	defaultGuardWindow    = 500 * time.Millisecond
)

// Controller owns the canonical-state cache and the local player. All of
// its work happens on the Run goroutine; exported methods post commands to
// it and never touch shared state directly.
type Controller struct {
	st        store.Store
	self      string
	newPlayer func(kind locator.Kind) (player.Player, error)

	reconcileEvery time.Duration
	seekDebounce   time.Duration
	guardWindow    time.Duration
	now            func() time.Time
	onRoleChange   func(isHost bool)

	cmds chan func(context.Context)
	done chan struct{}

	// Loop-owned, mutex only for Status readers.
	mu        sync.Mutex
	phase     Phase
	state     protocol.RoomState
	haveState bool
	guarded   bool

	pl     player.Player
	loaded locator.Locator

	debounce    *time.Timer
	pendingSeek float64
	seekArmed   bool
	guardTimer  *time.Timer
}

type Option func(*Controller)

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func WithIntervals(reconcileEvery, seekDebounce time.Duration) Option {
	return func(c *Controller) {
		c.reconcileEvery = reconcileEvery
		c.seekDebounce = seekDebounce
	}
}

// WithPlayerFactory replaces how backends are constructed. Tests inject
// players with a fake clock through it.
func WithPlayerFactory(fn func(kind locator.Kind) (player.Player, error)) Option {
	return func(c *Controller) { c.newPlayer = fn }
}

// WithRoleChange registers a notification for Host/Viewer transitions.
func WithRoleChange(fn func(isHost bool)) Option {
	return func(c *Controller) { c.onRoleChange = fn }
}

// WithGuardWindow tunes how long player events stay suppressed after a
// reconciliation pass acts on the player.
func WithGuardWindow(d time.Duration) Option {
	return func(c *Controller) { c.guardWindow = d }
}

func New(st store.Store, userID string, opts ...Option) *Controller {
	c := &Controller{
		st:   st,
		self: userID,
		newPlayer: func(kind locator.Kind) (player.Player, error) {
			return player.New(kind)
		},
		reconcileEvery: defaultReconcileEvery,
		seekDebounce:   defaultSeekDebounce,
		guardWindow:    defaultGuardWindow,
		now:            time.Now,
		cmds:           make(chan func(context.Context), 32),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run connects to the room and processes commands, remote changes, and
// timers until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	// Subscribe before the initial read so no state change is missed
	// between the two.
	events, err := c.st.Watch(ctx, "state")
	if err != nil {
		return err
	}

	if err := c.connect(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(c.reconcileEvery)
	defer ticker.Stop()
	c.debounce = newStoppedTimer()
	defer c.debounce.Stop()
	c.guardTimer = newStoppedTimer()
	defer c.guardTimer.Stop()
	defer c.teardown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-c.cmds:
			fn(ctx)
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.onRemote(ctx, ev)
		case <-ticker.C:
			c.reconcile(ctx, false)
		case <-c.debounce.C:
			c.applyPendingSeek(ctx)
		case <-c.guardTimer.C:
			c.setGuarded(false)
		}
	}
}

func newStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	if !t.Stop() {
		<-t.C
	}
	return t
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// connect reads the existing record or claims the room. A missing record
// means this client is first in and becomes host; an existing record makes
// it a viewer, or host again on reconnect when the stored hostId is its own.
func (c *Controller) connect(ctx context.Context) error {
	c.setPhase(PhaseConnecting)

	var state protocol.RoomState
	err := store.GetJSON(ctx, c.st, "state", &state)
	switch {
	case errors.Is(err, store.ErrNotFound):
		state = protocol.RoomState{HostID: c.self, UpdatedAt: c.nowMillis()}
		c.cacheState(state)
		c.writeState(ctx, state)
		c.setPhase(PhaseHost)
		return nil
	case err != nil:
		return err
	}

	c.cacheState(state)
	if state.HostID == c.self {
		c.setPhase(PhaseHost)
	} else {
		c.setPhase(PhaseViewer)
	}
	if state.URL != "" {
		c.ensurePlayer(ctx, state.URL)
	}
	c.reconcile(ctx, true)
	return nil
}

func (c *Controller) teardown() {
	c.setPhase(PhaseDisconnected)
	close(c.done)
	c.mu.Lock()
	pl := c.pl
	c.pl = nil
	c.mu.Unlock()
	if pl != nil {
		pl.Destroy()
	}
}

// post hands a command to the run loop; dropped silently after teardown.
func (c *Controller) post(fn func(context.Context)) {
	select {
	case c.cmds <- fn:
	case <-c.done:
	}
}

// Load validates the locator up front and loads it into the local player.
// When this client is host, readiness propagates the new URL into the
// canonical record.
func (c *Controller) Load(rawURL string) error {
	loc, err := locator.Parse(rawURL)
	if err != nil {
		return &player.LoadError{Locator: rawURL, Err: err}
	}
	c.post(func(ctx context.Context) {
		c.ensurePlayer(ctx, loc.Canonical)
	})
	return nil
}

// TogglePlay flips local playback. The resulting player event is what
// propagates into RoomState when this client is host.
func (c *Controller) TogglePlay() {
	c.post(func(context.Context) {
		if c.pl == nil {
			return
		}
		if c.pl.IsPlaying() {
			c.pl.Pause()
		} else {
			c.pl.Play()
		}
	})
}

// SeekTo requests a seek from a continuous control. Positions are debounced
// so a dragged slider produces one seek, not a flood of intermediate ones.
func (c *Controller) SeekTo(seconds float64) {
	c.post(func(context.Context) {
		c.pendingSeek = seconds
		c.seekArmed = true
		resetTimer(c.debounce, c.seekDebounce)
	})
}

func (c *Controller) applyPendingSeek(context.Context) {
	if !c.seekArmed || c.pl == nil {
		return
	}
	c.seekArmed = false
	c.pl.Seek(c.pendingSeek)
}

// ForceSync reconciles immediately regardless of drift or staleness.
func (c *Controller) ForceSync() {
	c.post(func(ctx context.Context) {
		c.reconcile(ctx, true)
	})
}

func (c *Controller) SetVolume(v float64) {
	c.post(func(context.Context) {
		if c.pl != nil {
			c.pl.SetVolume(v)
		}
	})
}

func (c *Controller) ToggleMute() {
	c.post(func(context.Context) {
		if c.pl == nil {
			return
		}
		if c.pl.IsMuted() {
			c.pl.Unmute()
		} else {
			c.pl.Mute()
		}
	})
}

// SetHost is the presence module's election callback. It is the only thing
// that moves a client between Host and Viewer after connect.
func (c *Controller) SetHost(newHostID, prevHostID string) {
	c.post(func(ctx context.Context) {
		switch {
		case newHostID == c.self && c.currentPhase() != PhaseHost:
			// The promoted host inherits the record as-is; its own
			// subsequent playback actions take over from there.
			c.setPhase(PhaseHost)
			ilog.EventInfo(ctx, "promoted_to_host", "userID", c.self, "previous", prevHostID)
			c.notifyRole(true)
		case newHostID != c.self && c.currentPhase() == PhaseHost:
			c.setPhase(PhaseViewer)
			ilog.EventInfo(ctx, "demoted_to_viewer", "userID", c.self, "newHost", newHostID)
			c.notifyRole(false)
		}
	})
}

func (c *Controller) notifyRole(isHost bool) {
	if c.onRoleChange != nil {
		c.onRoleChange(isHost)
	}
}

// onRemote caches every canonical-state change and reconciles viewers
// against it immediately.
func (c *Controller) onRemote(ctx context.Context, ev store.Event) {
	if ev.Path != "state" {
		return
	}
	if ev.Deleted {
		c.mu.Lock()
		c.haveState = false
		c.mu.Unlock()
		return
	}
	var state protocol.RoomState
	if err := json.Unmarshal(ev.Value, &state); err != nil {
		return
	}
	urlChanged := state.URL != c.state.URL
	c.cacheState(state)

	if urlChanged && state.URL != "" && c.currentPhase() == PhaseViewer {
		c.ensurePlayer(ctx, state.URL)
		return // reconcile runs once the new player reports ready
	}
	if c.currentPhase() == PhaseViewer {
		c.reconcile(ctx, false)
	}
}

// reconcile runs one pass of drift correction. Host playback is
// authoritative, so only viewers ever act here.
func (c *Controller) reconcile(ctx context.Context, forced bool) {
	if c.currentPhase() != PhaseViewer || !c.haveStateCached() || c.pl == nil || !c.pl.IsReady() {
		return
	}

	state := c.cachedState()
	a := decide(state, c.pl.Snapshot(), c.nowMillis(), forced)
	if a.Skipped {
		ilog.EventInfo(ctx, "sync_skipped", "updatedAt", state.UpdatedAt, "now", c.nowMillis())
		return
	}
	if !a.Seek && !a.Play && !a.Pause {
		return
	}

	// Suppress the player events these calls fire; echoing them back into
	// a state write would loop.
	c.setGuarded(true)
	resetTimer(c.guardTimer, c.guardWindow)
	if a.Seek {
		c.pl.Seek(a.SeekTo)
	}
	if a.Play {
		c.pl.Play()
	}
	if a.Pause {
		c.pl.Pause()
	}
}

// ensurePlayer makes the local player match url, replacing the backend if
// the kind changed.
func (c *Controller) ensurePlayer(ctx context.Context, url string) {
	loc, err := locator.Parse(url)
	if err != nil {
		ilog.EventError(ctx, err, "load_rejected", "url", url)
		return
	}
	if c.pl != nil && c.loaded.Canonical == loc.Canonical {
		return
	}
	if c.pl != nil && c.loaded.Kind != loc.Kind {
		c.pl.Destroy()
		c.setPlayer(nil)
	}
	if c.pl == nil {
		pl, err := c.newPlayer(loc.Kind)
		if err != nil {
			ilog.EventError(ctx, err, "player_init_failed", "kind", string(loc.Kind))
			return
		}
		c.setPlayer(pl)
	}
	c.loaded = loc
	if err := c.pl.Load(ctx, loc, c.callbacks()); err != nil {
		ilog.EventError(ctx, err, "load_failed", "url", loc.Canonical)
		return
	}
}

// callbacks routes backend events onto the run loop.
func (c *Controller) callbacks() player.Callbacks {
	return player.Callbacks{
		OnReady: func() {
			c.post(func(ctx context.Context) { c.onPlayerReady(ctx) })
		},
		OnPlay: func() {
			c.post(func(ctx context.Context) { c.onPlayerEvent(ctx, "play", 0) })
		},
		OnPause: func() {
			c.post(func(ctx context.Context) { c.onPlayerEvent(ctx, "pause", 0) })
		},
		OnSeek: func(seconds float64) {
			c.post(func(ctx context.Context) { c.onPlayerEvent(ctx, "seek", seconds) })
		},
	}
}

func (c *Controller) onPlayerReady(ctx context.Context) {
	switch c.currentPhase() {
	case PhaseHost:
		state := c.cachedState()
		state.URL = c.loaded.Canonical
		state.Time = 0
		state.Playing = false
		c.cacheState(state)
		c.writeState(ctx, state)
	case PhaseViewer:
		c.reconcile(ctx, true)
	}
}

// onPlayerEvent turns host playback actions into canonical-state writes.
// Events fired by reconciliation itself arrive while the guard is set and
// are dropped; viewers never write.
func (c *Controller) onPlayerEvent(ctx context.Context, kind string, seconds float64) {
	if c.isGuarded() || c.currentPhase() != PhaseHost || c.pl == nil {
		return
	}
	state := c.cachedState()
	state.URL = c.loaded.Canonical
	switch kind {
	case "play":
		state.Playing = true
		state.Time = c.pl.CurrentTime()
	case "pause":
		state.Playing = false
		state.Time = c.pl.CurrentTime()
	case "seek":
		state.Time = seconds
	}
	c.cacheState(state)
	c.writeState(ctx, state)
}

// writeState is fire-and-forget: the local cache keeps the attempted value
// even when the remote write fails.
func (c *Controller) writeState(ctx context.Context, state protocol.RoomState) {
	state.HostID = c.self
	state.UpdatedAt = c.nowMillis()
	c.cacheState(state)
	if err := store.PutJSON(ctx, c.st, "state", state); err != nil {
		ilog.EventError(ctx, err, "state_write_failed", "userID", c.self)
	}
}

// Status reports the controller's view for the local UI.
type Status struct {
	Phase    string                    `json:"phase"`
	IsHost   bool                      `json:"isHost"`
	State    protocol.RoomState        `json:"state"`
	Playback protocol.PlaybackSnapshot `json:"playback"`
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	phase := c.phase
	state := c.state
	pl := c.pl
	c.mu.Unlock()

	status := Status{
		Phase:  phase.String(),
		IsHost: phase == PhaseHost,
		State:  state,
	}
	if pl != nil {
		status.Playback = pl.Snapshot()
	}
	return status
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

func (c *Controller) currentPhase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Controller) cacheState(state protocol.RoomState) {
	c.mu.Lock()
	c.state = state
	c.haveState = true
	c.mu.Unlock()
}

func (c *Controller) cachedState() protocol.RoomState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) haveStateCached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.haveState
}

func (c *Controller) setPlayer(pl player.Player) {
	c.mu.Lock()
	c.pl = pl
	c.mu.Unlock()
}

func (c *Controller) setGuarded(v bool) {
	c.mu.Lock()
	c.guarded = v
	c.mu.Unlock()
}

func (c *Controller) isGuarded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.guarded
}

func (c *Controller) nowMillis() int64 {
	return c.now().UnixMilli()
}
