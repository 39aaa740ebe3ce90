package player

import (
	"context"

	"github.com/AumSorathiya/watch-together.github.io/internal/locator"
)

// youtubePlayer drives a YouTube embed. The embed reports seeks natively,
// so Seek forwards straight to the caller's OnSeek.
type youtubePlayer struct {
	*basePlayer
}

func newYouTube(cfg config) *youtubePlayer {
	return &youtubePlayer{basePlayer: newBase(locator.KindYouTube, cfg)}
}

func (p *youtubePlayer) Load(ctx context.Context, loc locator.Locator, cb Callbacks) error {
	return p.load(ctx, loc, cb)
}

func (p *youtubePlayer) Seek(seconds float64) {
	p.seek(seconds, true)
}
