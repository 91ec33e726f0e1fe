// Package core decides which song is downloaded at any time: it owns the foreground and
// background download queues and runs the periodic scheduling tick over them.
package core

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Collaborators are the external components the Downloader consults and drives.
// Scanner and Observer are optional.
type Collaborators struct {
	Player       Player
	Remote       RemotePlayback
	Shuffle      ShuffleSource
	Availability Availability
	Scanner      MediaScanner
	Observer     Observer
}

// Downloader maintains the playlist-backed foreground queue and the background prefetch
// queue, and starts at most one transfer at a time.
//
// Every exported method runs under a single mutex, so mutations and scheduler ticks
// never interleave.
type Downloader struct {
	settings     Settings
	items        ItemFactory
	player       Player
	remote       RemotePlayback
	shuffle      ShuffleSource
	availability Availability
	scanner      MediaScanner
	observer     Observer
	logger       *zap.Logger

	mu                sync.Mutex
	foreground        []Item
	background        []Item
	current           Item // active transfer
	cleanupCandidates map[Item]struct{}
	cache             *RecencyCache
	revision          int64

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewDownloader creates a Downloader. Call Start to run the periodic tick.
func NewDownloader(settings Settings, items ItemFactory, c Collaborators, logger *zap.Logger) *Downloader {
	observer := c.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	return &Downloader{
		settings:          settings,
		items:             items,
		player:            c.Player,
		remote:            c.Remote,
		shuffle:           c.Shuffle,
		availability:      c.Availability,
		scanner:           c.Scanner,
		observer:          observer,
		logger:            logger,
		cleanupCandidates: make(map[Item]struct{}),
		cache:             NewRecencyCache(DefaultRecencyCacheSize),
		stopCh:            make(chan struct{}),
	}
}

// Start runs CheckDownloads with a fixed delay between the end of one tick and the
// start of the next, until ctx is done or Stop is called.
func (d *Downloader) Start(ctx context.Context, interval time.Duration) error {
	d.logger.Info("Downloader started", zap.Duration("interval", interval))

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Downloader stopped")
			return nil
		case <-d.stopCh:
			d.logger.Info("Downloader stopped")
			return nil
		case <-timer.C:
			d.CheckDownloads()
			timer.Reset(interval)
		}
	}
}

// Stop ends the periodic tick. It is safe to call more than once.
func (d *Downloader) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
}

// Close stops the tick, empties both queues and cancels the active transfer, then waits
// for that transfer to tear down when the item supports it.
func (d *Downloader) Close() {
	d.Stop()

	active := d.CurrentTransfer()
	d.Clear()
	d.ClearBackground()

	if w, ok := active.(waiter); ok {
		w.Wait()
	}
	d.logger.Info("Downloader closed")
}

// CheckDownloads runs one scheduling step: it picks the transfer that should be running
// now, starts it if needed, and reclaims obsolete artifacts.
func (d *Downloader) CheckDownloads() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.runCheck()
}

// runCheck runs checkDownloads with d.mu held. A panic ends the step and is logged and
// counted instead of reaching the caller.
func (d *Downloader) runCheck() {
	start := time.Now()
	outcome := tickOutcomeOK

	defer func() {
		if r := recover(); r != nil {
			outcome = tickOutcomePanic
			d.logger.Error("checkDownloads failed", zap.Any("panic", r))
		}
		d.observer.ObserveTick(outcome, time.Since(start))
		d.observer.SetQueueLengths(len(d.foreground), len(d.background))
		d.observer.SetRevision(d.revision)
	}()

	d.checkDownloads()
}

func (d *Downloader) checkDownloads() {
	if !d.availability.StorageAvailable() {
		d.logger.Debug("Storage unavailable, skipping download check")
		return
	}

	if d.shuffle.IsEnabled() {
		d.checkShufflePlay()
	}

	if d.remote.IsEnabled() || !d.availability.NetworkAvailable() {
		return
	}

	if len(d.foreground) == 0 && len(d.background) == 0 {
		return
	}

	playing := d.player.CurrentPlaying()

	// The item being listened to preempts everything else.
	if playing != nil && playing != d.current && !playing.IsWorkDone() {
		if d.current != nil {
			d.current.CancelDownload()
		}
		d.startTransfer(playing, sourcePlaying)
		d.cleanup(playing)
		return
	}

	// Keep the active transfer unless it failed and something else could be tried.
	if d.current != nil && !d.current.IsWorkDone() &&
		(!d.current.IsFailed() || (len(d.foreground) == 0 && len(d.background) == 0)) {
		d.cleanup(playing)
		return
	}

	d.current = nil
	preloaded := d.selectForeground(playing)

	n := len(d.foreground)
	preload := d.settings.PreloadCount()
	if d.current == nil && len(d.background) > 0 &&
		(preloaded+1 == n || preloaded >= preload || n == 0) {
		d.selectBackground()
	}

	d.cleanup(playing)
}

// selectForeground scans the foreground queue once around, starting at the playing item,
// and starts the first item that is to be saved or still fits the preload window.
// It returns the number of finished items counted as preloaded.
func (d *Downloader) selectForeground(playing Item) int {
	n := len(d.foreground)
	if n == 0 {
		return 0
	}

	start := 0
	if playing != nil {
		if idx := d.indexOf(d.foreground, playing); idx >= 0 {
			start = idx
		}
	}

	preload := d.settings.PreloadCount()
	preloaded := 0
	i := start
	for {
		item := d.foreground[i]
		if !item.IsWorkDone() {
			if item.ShouldSave() || preloaded < preload {
				d.startTransfer(item, sourceForeground)
				if i == start+1 {
					d.player.SetNextPlayerState(PlayerStateDownloading)
				}
				break
			}
		} else if item != playing {
			preloaded++
		}

		i = (i + 1) % n
		if i == start {
			break
		}
	}

	return preloaded
}

// selectBackground drops finished background entries and starts the first one that
// still needs work.
func (d *Downloader) selectBackground() {
	kept := d.background[:0]
	for idx, item := range d.background {
		if d.current != nil {
			kept = append(kept, d.background[idx:]...)
			break
		}

		if item.IsWorkDone() && (!item.ShouldSave() || item.IsSaved()) {
			if d.settings.ShouldScanMedia() && d.scanner != nil {
				if err := d.scanner.ScanMedia(item.Song(), item.FinalPath()); err != nil {
					d.logger.Warn("Failed to scan media",
						zap.String("songID", item.Song().ID),
						zap.Error(err))
				}
			}
			d.revision++
			d.logger.Debug("Dropped finished background item",
				zap.String("songID", item.Song().ID),
				zap.Int64("revision", d.revision))
			continue
		}

		kept = append(kept, item)
		d.startTransfer(item, sourceBackground)
	}

	clear(d.background[len(kept):])
	d.background = kept
}

func (d *Downloader) startTransfer(item Item, source string) {
	d.current = item
	item.Download()
	d.cleanupCandidates[item] = struct{}{}
	d.observer.ObserveTransferStart(source)

	d.logger.Debug("Transfer selected",
		zap.String("songID", item.Song().ID),
		zap.String("source", source))
}

// cleanup reclaims artifacts of former transfers that are neither active nor playing.
func (d *Downloader) cleanup(playing Item) {
	for item := range d.cleanupCandidates {
		if item == d.current || item == playing {
			continue
		}
		if item.Cleanup() {
			delete(d.cleanupCandidates, item)
		}
	}
}

func (d *Downloader) indexOf(items []Item, target Item) int {
	for i, item := range items {
		if item == target {
			return i
		}
	}
	return -1
}
