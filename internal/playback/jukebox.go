package playback

import (
	"sync"

	"go.uber.org/zap"
)

// Jukebox is the remote playback mode. While enabled the device plays media itself and
// the local scheduler stops transferring.
type Jukebox struct {
	mu       sync.RWMutex
	enabled  bool
	revision int64
	index    int
	offset   int
	logger   *zap.Logger
}

// JukeboxStatus is what remote clients poll.
type JukeboxStatus struct {
	Enabled          bool  `json:"enabled"`
	PlaylistRevision int64 `json:"playlistRevision"`
	Index            int   `json:"index"`
	OffsetSeconds    int   `json:"offsetSeconds"`
}

func NewJukebox(logger *zap.Logger) *Jukebox {
	return &Jukebox{logger: logger}
}

func (j *Jukebox) IsEnabled() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.enabled
}

func (j *Jukebox) SetEnabled(enabled bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.enabled != enabled {
		j.logger.Info("Jukebox mode toggled", zap.Bool("enabled", enabled))
	}
	j.enabled = enabled
}

// UpdatePlaylist marks the remote playlist stale so clients refetch it.
func (j *Jukebox) UpdatePlaylist() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.revision++
}

// Skip moves the remote position.
func (j *Jukebox) Skip(index, offsetSeconds int) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.index = index
	j.offset = offsetSeconds
	j.logger.Debug("Jukebox skip", zap.Int("index", index), zap.Int("offsetSeconds", offsetSeconds))
}

func (j *Jukebox) Status() JukeboxStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return JukeboxStatus{
		Enabled:          j.enabled,
		PlaylistRevision: j.revision,
		Index:            j.index,
		OffsetSeconds:    j.offset,
	}
}
