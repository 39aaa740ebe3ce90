package player

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/AumSorathiya/watch-together.github.io/internal/locator"
	"github.com/AumSorathiya/watch-together.github.io/internal/protocol"
)

var errDestroyed = errors.New("player destroyed")

// basePlayer is the shared engine behind all three backends: a wall-clock
// playback simulation plus a serialized callback dispatcher. Backends differ
// only in which locator kind they accept and how seek events reach the
// caller.
type basePlayer struct {
	kind locator.Kind

	mu        sync.Mutex
	ready     bool
	destroyed bool
	playing   bool
	basePos   float64
	baseTime  time.Time
	duration  float64
	muted     bool
	volume    float64
	cb        Callbacks

	now    func() time.Time
	events chan func()
	done   chan struct{}
}

func newBase(kind locator.Kind, cfg config) *basePlayer {
	return &basePlayer{
		kind:     kind,
		duration: cfg.duration,
		volume:   1,
		now:      cfg.now,
		events:   make(chan func(), 16),
		done:     make(chan struct{}),
	}
}

// load validates the locator against the backend kind and flips the player
// ready. Readiness is reported through OnReady from the dispatcher, never
// from inside this call stack.
func (b *basePlayer) load(_ context.Context, loc locator.Locator, cb Callbacks) error {
	if loc.Kind != b.kind || loc.Canonical == "" {
		return &LoadError{Locator: loc.Canonical, Err: locator.ErrUnsupported}
	}

	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return &LoadError{Locator: loc.Canonical, Err: errDestroyed}
	}
	first := !b.ready
	b.ready = true
	b.playing = false
	b.basePos = 0
	b.baseTime = b.now()
	b.cb = cb
	b.mu.Unlock()

	if first {
		go b.dispatch()
	}
	b.emit(func() {
		if cb.OnReady != nil {
			cb.OnReady()
		}
	})
	return nil
}

func (b *basePlayer) dispatch() {
	for {
		select {
		case fn := <-b.events:
			fn()
		case <-b.done:
			return
		}
	}
}

func (b *basePlayer) emit(fn func()) {
	select {
	case b.events <- fn:
	case <-b.done:
	}
}

func (b *basePlayer) Play() {
	b.mu.Lock()
	if !b.ready || b.destroyed || b.playing {
		b.mu.Unlock()
		return
	}
	b.playing = true
	b.baseTime = b.now()
	cb := b.cb
	b.mu.Unlock()

	b.emit(func() {
		if cb.OnPlay != nil {
			cb.OnPlay()
		}
	})
}

func (b *basePlayer) Pause() {
	b.mu.Lock()
	if !b.ready || b.destroyed || !b.playing {
		b.mu.Unlock()
		return
	}
	b.basePos = b.positionLocked()
	b.playing = false
	cb := b.cb
	b.mu.Unlock()

	b.emit(func() {
		if cb.OnPause != nil {
			cb.OnPause()
		}
	})
}

// seek moves the playhead. Backends with a native seek event call it with
// notify=true; the Vimeo adapter passes false and lets its poller synthesize
// the event instead.
func (b *basePlayer) seek(seconds float64, notify bool) {
	if seconds < 0 {
		seconds = 0
	}
	b.mu.Lock()
	if !b.ready || b.destroyed {
		b.mu.Unlock()
		return
	}
	if b.duration > 0 && seconds > b.duration {
		seconds = b.duration
	}
	b.basePos = seconds
	b.baseTime = b.now()
	cb := b.cb
	b.mu.Unlock()

	if notify {
		b.emit(func() {
			if cb.OnSeek != nil {
				cb.OnSeek(seconds)
			}
		})
	}
}

func (b *basePlayer) CurrentTime() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ready {
		return 0
	}
	return b.positionLocked()
}

func (b *basePlayer) positionLocked() float64 {
	pos := b.basePos
	if b.playing {
		pos += b.now().Sub(b.baseTime).Seconds()
	}
	if b.duration > 0 && pos > b.duration {
		pos = b.duration
	}
	return pos
}

func (b *basePlayer) Duration() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ready {
		return 0
	}
	return b.duration
}

func (b *basePlayer) IsPlaying() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready && b.playing
}

func (b *basePlayer) IsReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready && !b.destroyed
}

func (b *basePlayer) SetVolume(v float64) {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ready {
		return
	}
	b.volume = v
}

func (b *basePlayer) Mute() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.muted = true
}

func (b *basePlayer) Unmute() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.muted = false
}

func (b *basePlayer) IsMuted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.muted
}

func (b *basePlayer) Snapshot() protocol.PlaybackSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := protocol.PlaybackSnapshot{
		Muted:  b.muted,
		Volume: b.volume,
	}
	if b.ready {
		snap.CurrentTime = b.positionLocked()
		snap.Duration = b.duration
		snap.Playing = b.playing
	}
	return snap
}

func (b *basePlayer) Destroy() {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.destroyed = true
	b.ready = false
	b.mu.Unlock()
	close(b.done)
}
