package core

import (
	"go.uber.org/zap"
)

// shiftThreshold is the playing index past which the shuffle window slides forward.
const shiftThreshold = 4

// checkShufflePlay keeps the foreground queue filled with shuffle candidates. The queue is
// topped up to the configured size, and once playback is past the first few songs the
// oldest entries are replaced by new candidates.
func (d *Downloader) checkShufflePlay() {
	listSize := d.settings.MaxShuffleSongs()
	wasEmpty := len(d.foreground) == 0
	revisionBefore := d.revision

	if size := len(d.foreground); size < listSize {
		for _, song := range d.shuffle.Get(listSize - size) {
			d.foreground = append(d.foreground, d.items.NewItem(song, false))
			d.revision++
		}
	}

	currentIndex := 0
	if d.player.CurrentPlaying() != nil {
		currentIndex = d.currentPlayingIndex()
	}

	if currentIndex > shiftThreshold {
		songsToShift := currentIndex - 2
		for _, song := range d.shuffle.Get(songsToShift) {
			d.foreground = append(d.foreground, d.items.NewItem(song, false))

			oldest := d.foreground[0]
			oldest.CancelDownload()
			if oldest == d.current {
				d.current = nil
			}
			d.foreground[0] = nil
			d.foreground = d.foreground[1:]
			d.revision++
		}
	}

	if revisionBefore != d.revision {
		d.logger.Debug("Shuffle play updated queue",
			zap.Int("queueLength", len(d.foreground)),
			zap.Int64("revision", d.revision))
		d.remote.UpdatePlaylist()
	}

	if wasEmpty && len(d.foreground) > 0 {
		if d.remote.IsEnabled() {
			d.remote.Skip(0, 0)
			d.player.SetPlayerState(PlayerStateStarted)
		} else {
			d.player.Play(d.foreground[0])
		}
	}
}
