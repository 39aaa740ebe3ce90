package player

import (
	"context"

	"github.com/AumSorathiya/watch-together.github.io/internal/locator"
)

// filePlayer drives a plain HTML5-style media element for direct file URLs.
type filePlayer struct {
	*basePlayer
}

func newFile(cfg config) *filePlayer {
	return &filePlayer{basePlayer: newBase(locator.KindFile, cfg)}
}

func (p *filePlayer) Load(ctx context.Context, loc locator.Locator, cb Callbacks) error {
	return p.load(ctx, loc, cb)
}

func (p *filePlayer) Seek(seconds float64) {
	p.seek(seconds, true)
}
