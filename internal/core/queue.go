package core

import (
	"math/rand/v2"
	"slices"
	"time"

	"go.uber.org/zap"

	"prefetchd/internal/model"
)

// Queue mutations and queries
// Every structural change to the foreground or background queue bumps the revision so
// pollers can detect changes without comparing lists.

// Enqueue adds songs to the foreground queue and turns shuffle play off.
// With newPlaylist the queue is replaced. With playNext the songs go right after the
// playing item (or take its slot when autoPlay is set), otherwise they are appended.
func (d *Downloader) Enqueue(songs []model.Song, save, autoPlay, playNext, newPlaylist bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.shuffle.SetEnabled(false)

	if len(songs) == 0 {
		return
	}

	if newPlaylist {
		clear(d.foreground)
		d.foreground = d.foreground[:0]
	}

	added := make([]Item, 0, len(songs))
	for _, song := range songs {
		added = append(added, d.items.NewItem(song, save))
	}

	if playNext {
		current := d.currentPlayingIndex()
		offset := 1
		if autoPlay && current >= 0 {
			offset = 0
		}
		d.foreground = slices.Insert(d.foreground, current+offset, added...)
	} else {
		d.foreground = append(d.foreground, added...)
	}

	d.revision++

	d.logger.Debug("Songs enqueued",
		zap.Int("count", len(songs)),
		zap.Bool("save", save),
		zap.Bool("playNext", playNext),
		zap.Bool("newPlaylist", newPlaylist),
		zap.Int64("revision", d.revision))
}

// EnqueueBackground appends songs to the background queue and runs a scheduling step.
func (d *Downloader) EnqueueBackground(songs []model.Song, save bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(songs) == 0 {
		return
	}

	for _, song := range songs {
		d.background = append(d.background, d.items.NewItem(song, save))
	}
	d.revision++

	d.logger.Debug("Songs enqueued for background download",
		zap.Int("count", len(songs)),
		zap.Bool("save", save),
		zap.Int64("revision", d.revision))

	d.runCheck()
}

// Clear empties the foreground queue and cancels the active transfer.
// The revision is bumped on every call, even when the queue was already empty.
func (d *Downloader) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()

	clear(d.foreground)
	d.foreground = d.foreground[:0]
	d.revision++

	if d.current != nil {
		d.current.CancelDownload()
		d.current = nil
	}
}

// ClearBackground empties the background queue, cancelling the active transfer when it
// belongs to it. Used on teardown; the revision is left untouched.
func (d *Downloader) ClearBackground() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current != nil && d.indexOf(d.background, d.current) >= 0 {
		d.current.CancelDownload()
		d.current = nil
	}

	clear(d.background)
	d.background = d.background[:0]
}

// Remove drops item from both queues, cancelling it if it is the active transfer.
func (d *Downloader) Remove(item Item) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if item == d.current {
		d.current.CancelDownload()
		d.current = nil
	}

	d.foreground = slices.DeleteFunc(d.foreground, func(i Item) bool { return i == item })
	d.background = slices.DeleteFunc(d.background, func(i Item) bool { return i == item })
	d.revision++
}

// Shuffle randomizes the foreground queue, keeping the playing item first.
func (d *Downloader) Shuffle() {
	d.mu.Lock()
	defer d.mu.Unlock()

	rand.Shuffle(len(d.foreground), func(i, j int) {
		d.foreground[i], d.foreground[j] = d.foreground[j], d.foreground[i]
	})

	if playing := d.player.CurrentPlaying(); playing != nil {
		if idx := d.indexOf(d.foreground, playing); idx > 0 {
			d.foreground = slices.Delete(d.foreground, idx, idx+1)
			d.foreground = slices.Insert(d.foreground, 0, playing)
		}
	}

	d.revision++
}

// SetShuffleMode turns shuffle play on or off. The next tick fills the queue.
func (d *Downloader) SetShuffleMode(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.shuffle.SetEnabled(enabled)
}

// Lookup returns the item for song: a queued item that is usable for playback, or a
// cached item, created unsaved on first lookup.
func (d *Downloader) Lookup(song model.Song) Item {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, queue := range [][]Item{d.foreground, d.background} {
		for _, item := range queue {
			if item.Song().Same(song) && usable(item) {
				return item
			}
		}
	}

	if item, ok := d.cache.Get(song.ID); ok {
		return item
	}

	item := d.items.NewItem(song, false)
	d.cache.Put(song.ID, item)
	return item
}

// usable reports whether an item has data to play: a live partial file or finished work.
func usable(item Item) bool {
	if item.IsWorkDone() {
		return true
	}
	return item.IsDownloading() && !item.IsCancelled() && item.PartialExists()
}

// CurrentPlayingIndex returns the index of the playing item in the foreground queue, or -1.
func (d *Downloader) CurrentPlayingIndex() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentPlayingIndex()
}

func (d *Downloader) currentPlayingIndex() int {
	playing := d.player.CurrentPlaying()
	if playing == nil {
		return -1
	}
	return d.indexOf(d.foreground, playing)
}

// Downloads returns the foreground queue followed by the background queue.
func (d *Downloader) Downloads() []Item {
	d.mu.Lock()
	defer d.mu.Unlock()

	items := make([]Item, 0, len(d.foreground)+len(d.background))
	items = append(items, d.foreground...)
	return append(items, d.background...)
}

// DownloadListDuration returns the total duration of the playable foreground entries.
func (d *Downloader) DownloadListDuration() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.downloadListDuration()
}

func (d *Downloader) downloadListDuration() time.Duration {
	var total time.Duration
	for _, item := range d.foreground {
		if song := item.Song(); song.Playable() {
			total += song.Duration
		}
	}
	return total
}

// Revision returns the queue revision. It changes exactly when a queue changed.
func (d *Downloader) Revision() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.revision
}

// CurrentTransfer returns the active transfer, or nil.
func (d *Downloader) CurrentTransfer() Item {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Snapshot returns a consistent copy of the queue model.
func (d *Downloader) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	return Snapshot{
		Revision:     d.revision,
		Foreground:   slices.Clone(d.foreground),
		Background:   slices.Clone(d.background),
		Current:      d.current,
		CurrentIndex: d.currentPlayingIndex(),
		Duration:     d.downloadListDuration(),
	}
}
