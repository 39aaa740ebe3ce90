package player

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/AumSorathiya/watch-together.github.io/internal/locator"
)

// seekJumpThreshold separates a real seek from normal playback progression
// between two consecutive polls.
const seekJumpThreshold = 1.0

// vimeoPlayer drives a Vimeo embed. The embed has no seek-completed event,
// so the adapter polls current time once per frame interval and synthesizes
// OnSeek whenever the position jumps more than seekJumpThreshold between
// consecutive polls.
type vimeoPlayer struct {
	*basePlayer

	pollInterval time.Duration
	pollOnce     sync.Once
}

func newVimeo(cfg config) *vimeoPlayer {
	return &vimeoPlayer{
		basePlayer:   newBase(locator.KindVimeo, cfg),
		pollInterval: cfg.pollInterval,
	}
}

func (p *vimeoPlayer) Load(ctx context.Context, loc locator.Locator, cb Callbacks) error {
	if err := p.load(ctx, loc, cb); err != nil {
		return err
	}
	p.pollOnce.Do(func() { go p.pollSeeks() })
	return nil
}

func (p *vimeoPlayer) Seek(seconds float64) {
	p.seek(seconds, false)
}

func (p *vimeoPlayer) pollSeeks() {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	last := p.CurrentTime()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			current := p.CurrentTime()
			if math.Abs(current-last) > seekJumpThreshold {
				p.mu.Lock()
				cb := p.cb
				p.mu.Unlock()
				p.emit(func() {
					if cb.OnSeek != nil {
						cb.OnSeek(current)
					}
				})
			}
			last = current
		}
	}
}
