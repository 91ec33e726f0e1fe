// Package playback holds the in-process playback state the scheduler prefetches for:
// the local player and the remote jukebox mode.
package playback

import (
	"sync"

	"go.uber.org/zap"

	"prefetchd/internal/core"
)

// Player tracks what is playing locally. Audio output is handled by the client that
// reports progress through the API; the player only keeps the pointers and states.
type Player struct {
	mu        sync.RWMutex
	playing   core.Item
	state     core.PlayerState
	nextState core.PlayerState
	logger    *zap.Logger
}

func NewPlayer(logger *zap.Logger) *Player {
	return &Player{logger: logger}
}

func (p *Player) CurrentPlaying() core.Item {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.playing
}

// SetCurrentPlaying replaces the playing item without changing the player state.
func (p *Player) SetCurrentPlaying(item core.Item) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = item
	p.nextState = core.PlayerStateIdle
}

func (p *Player) SetPlayerState(state core.PlayerState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != state {
		p.logger.Debug("Player state changed",
			zap.Stringer("from", p.state),
			zap.Stringer("to", state))
	}
	p.state = state
}

// SetNextPlayerState sets the state of the gapless next player.
func (p *Player) SetNextPlayerState(state core.PlayerState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextState = state
}

// Play makes item current. Playback waits in the downloading state until data is there.
func (p *Player) Play(item core.Item) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.playing = item
	if item != nil && (item.IsWorkDone() || item.PartialExists()) {
		p.state = core.PlayerStateStarted
	} else {
		p.state = core.PlayerStateDownloading
	}

	if item != nil {
		p.logger.Info("Playing", zap.String("songID", item.Song().ID), zap.Stringer("state", p.state))
	}
}

// State returns the player and next-player states.
func (p *Player) State() (state, next core.PlayerState) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state, p.nextState
}
