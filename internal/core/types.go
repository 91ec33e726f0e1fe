package core

import (
	"time"

	"prefetchd/internal/model"
)

// Item is a schedulable download unit as seen by the Downloader.
// The Downloader only drives it through these methods and never inspects the transfer itself.
type Item interface {
	Song() model.Song
	// Download starts a transfer; no-op when one is running or no work is left
	Download()
	// CancelDownload stops the running transfer; no-op otherwise
	CancelDownload()
	IsDownloading() bool
	IsCancelled() bool
	IsFailed() bool
	IsWorkDone() bool
	ShouldSave() bool
	IsSaved() bool
	// Status names the transfer state for reporting, e.g. "downloading" or "failed"
	Status() string
	Failures() int
	PartialExists() bool
	FinalPath() string
	// Cleanup removes obsolete artifacts and reports whether nothing is left to reclaim
	Cleanup() bool
}

// waiter is implemented by items whose transfer teardown can be awaited.
type waiter interface {
	Wait()
}

// ItemFactory creates items for songs that have none yet.
type ItemFactory interface {
	NewItem(song model.Song, save bool) Item
}

// ItemFactoryFunc adapts a function to ItemFactory.
type ItemFactoryFunc func(song model.Song, save bool) Item

// NewItem calls f.
func (f ItemFactoryFunc) NewItem(song model.Song, save bool) Item {
	return f(song, save)
}

type PlayerState int

const (
	// PlayerStateIdle indicates nothing is loaded
	PlayerStateIdle PlayerState = iota
	// PlayerStateDownloading indicates the player waits for its item's transfer
	PlayerStateDownloading
	// PlayerStatePrepared indicates the item is loaded and ready
	PlayerStatePrepared
	// PlayerStateStarted indicates playback is running
	PlayerStateStarted
	// PlayerStatePaused indicates playback is paused
	PlayerStatePaused
	// PlayerStateStopped indicates playback was stopped
	PlayerStateStopped
	// PlayerStateCompleted indicates the item finished playing
	PlayerStateCompleted
)

func (s PlayerState) String() string {
	switch s {
	case PlayerStateIdle:
		return "idle"
	case PlayerStateDownloading:
		return "downloading"
	case PlayerStatePrepared:
		return "prepared"
	case PlayerStateStarted:
		return "started"
	case PlayerStatePaused:
		return "paused"
	case PlayerStateStopped:
		return "stopped"
	case PlayerStateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Player is the local playback component. The Downloader holds a non-owning reference.
// Implementations must not call back into the Downloader from these methods.
type Player interface {
	CurrentPlaying() Item
	SetPlayerState(state PlayerState)
	SetNextPlayerState(state PlayerState)
	Play(item Item)
}

// RemotePlayback is the optional jukebox mode where a remote device plays media directly.
type RemotePlayback interface {
	IsEnabled() bool
	// UpdatePlaylist marks the remote playlist mirror as stale
	UpdatePlaylist()
	Skip(index, offsetSeconds int)
}

// ShuffleSource produces random songs for shuffle play.
type ShuffleSource interface {
	IsEnabled() bool
	SetEnabled(enabled bool)
	// Get returns up to n new candidates
	Get(n int) []model.Song
}

// Availability reports whether downloads can currently proceed.
// Both checks run inside the scheduler tick and must not block.
type Availability interface {
	StorageAvailable() bool
	NetworkAvailable() bool
}

// MediaScanner registers a finished file with the media index.
type MediaScanner interface {
	ScanMedia(song model.Song, path string) error
}

// Settings are the configuration values read on every tick.
type Settings interface {
	PreloadCount() int
	MaxShuffleSongs() int
	ShouldScanMedia() bool
}

// Observer receives scheduler measurements.
type Observer interface {
	ObserveTick(outcome string, duration time.Duration)
	ObserveTransferStart(source string)
	SetQueueLengths(foreground, background int)
	SetRevision(revision int64)
}

type nopObserver struct{}

func (nopObserver) ObserveTick(string, time.Duration) {}
func (nopObserver) ObserveTransferStart(string)       {}
func (nopObserver) SetQueueLengths(int, int)          {}
func (nopObserver) SetRevision(int64)                 {}

// Snapshot is a consistent copy of the queue model for cheap polling.
type Snapshot struct {
	Revision     int64
	Foreground   []Item
	Background   []Item
	Current      Item // Active transfer, nil when idle
	CurrentIndex int  // Index of the currently playing item in Foreground, -1 if absent
	Duration     time.Duration
}

const (
	sourceForeground = "foreground"
	sourceBackground = "background"
	sourcePlaying    = "playing"

	tickOutcomeOK    = "ok"
	tickOutcomePanic = "panic"
)
