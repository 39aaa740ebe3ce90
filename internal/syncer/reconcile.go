package syncer

import (
	"math"

	"github.com/AumSorathiya/watch-together.github.io/internal/protocol"
)

const (
	// driftThreshold is how far local playback may wander from the
	// predicted remote position before a viewer seeks.
	driftThreshold = 0.4

	// maxStalenessMillis bounds how old a RoomState record may be and
	// still be reconciled against. Older records mean the host has gone
	// silent; chasing them would yank viewers to a guessed position.
	maxStalenessMillis = 10_000
)

// action is what one reconciliation pass decided to do.
type action struct {
	Skipped bool
	Seek    bool
	SeekTo  float64
	Play    bool
	Pause   bool
}

// decide compares the canonical record against local playback.
//
// Dead reckoning: the host's playhead is assumed to have advanced linearly
// since its last write. The elapsed-time term is applied even when the
// record says paused; host pause writes carry a fresh timestamp, which
// keeps the resulting error bounded between writes.
func decide(state protocol.RoomState, local protocol.PlaybackSnapshot, nowMillis int64, forced bool) action {
	staleness := nowMillis - state.UpdatedAt
	if !forced && staleness > maxStalenessMillis {
		return action{Skipped: true}
	}

	predicted := state.Time + float64(staleness)/1000.0

	var a action
	if drift := math.Abs(predicted - local.CurrentTime); forced || drift > driftThreshold {
		a.Seek = true
		a.SeekTo = predicted
	}
	if state.Playing && !local.Playing {
		a.Play = true
	}
	if !state.Playing && local.Playing {
		a.Pause = true
	}
	return a
}
