// Package player wraps the playback backends behind one capability set so
// the sync controller never sees backend specifics. The kind set is closed:
// YouTube embeds, Vimeo embeds, and direct video files.
package player

import (
	"context"
	"fmt"
	"time"

	"github.com/AumSorathiya/watch-together.github.io/internal/locator"
	"github.com/AumSorathiya/watch-together.github.io/internal/protocol"
)

// Player is the uniform adapter contract. Every method except Load is safe
// to call before readiness; pre-ready calls are no-ops returning zero
// values.
type Player interface {
	// Load binds a locator and returns once the backend signals
	// readiness. Callbacks registered here fire at most once per real
	// event and never synchronously re-entrant with the call that
	// triggered them.
	Load(ctx context.Context, loc locator.Locator, cb Callbacks) error

	Play()
	Pause()
	Seek(seconds float64)

	CurrentTime() float64
	Duration() float64
	IsPlaying() bool
	IsReady() bool

	SetVolume(v float64)
	Mute()
	Unmute()
	IsMuted() bool

	Snapshot() protocol.PlaybackSnapshot
	Destroy()
}

// Callbacks are the backend event hooks the controller supplies at load
// time. Nil members are simply skipped.
type Callbacks struct {
	OnReady func()
	OnPlay  func()
	OnPause func()
	OnSeek  func(seconds float64)
}

// LoadError wraps any locator or backend initialization failure. It is
// surfaced to the user and never fatal to the session.
type LoadError struct {
	Locator string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading %q: %v", e.Locator, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// New builds the adapter for a backend kind.
func New(kind locator.Kind, opts ...Option) (Player, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	switch kind {
	case locator.KindYouTube:
		return newYouTube(cfg), nil
	case locator.KindVimeo:
		return newVimeo(cfg), nil
	case locator.KindFile:
		return newFile(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported player kind: %s", kind)
	}
}

type config struct {
	now          func() time.Time
	pollInterval time.Duration
	duration     float64
}

func defaultConfig() config {
	return config{
		now:          time.Now,
		pollInterval: 16 * time.Millisecond,
	}
}

type Option func(*config)

// WithClock replaces the wall clock. Tests use it to advance playback
// deterministically.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithPollInterval tunes the current-time polling cadence used to
// synthesize seek events on backends without a native one.
func WithPollInterval(d time.Duration) Option {
	return func(c *config) { c.pollInterval = d }
}

// WithDuration fixes the media duration for backends that cannot report
// one. Zero means unknown.
func WithDuration(seconds float64) Option {
	return func(c *config) { c.duration = seconds }
}
