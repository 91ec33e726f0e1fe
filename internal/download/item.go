// Package download implements the schedulable download item: one song plus the state of its transfer
// and the files the transfer leaves on disk.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"prefetchd/internal/model"
)

// DefaultMaxRetries is the number of failed transfers after which an item gives up.
const DefaultMaxRetries = 5

// ErrCancelled is returned by fetchers that observe a cancelled transfer.
var ErrCancelled = errors.New("download cancelled")

// Fetcher copies the remote media of a song into w. It must return promptly once ctx is done.
type Fetcher interface {
	Fetch(ctx context.Context, song model.Song, w io.Writer) error
}

// Factory creates items sharing a fetcher, a storage layout and a retry budget.
type Factory struct {
	fetcher    Fetcher
	layout     Layout
	maxRetries int
	logger     *zap.Logger
}

// NewFactory creates a Factory. A non-positive maxRetries selects DefaultMaxRetries.
func NewFactory(fetcher Fetcher, layout Layout, maxRetries int, logger *zap.Logger) *Factory {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Factory{
		fetcher:    fetcher,
		layout:     layout,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// New creates an item for song. Existing artifacts on disk determine the initial state.
func (f *Factory) New(song model.Song, save bool) *Item {
	item := &Item{
		song:       song,
		save:       save,
		fetcher:    f.fetcher,
		layout:     f.layout,
		maxRetries: f.maxRetries,
		logger:     f.logger.With(zap.String("songID", song.ID)),
		state:      StateIdle,
	}

	switch {
	case fileExists(f.layout.SavedPath(song)):
		item.state = StateSaved
	case fileExists(f.layout.CompletePath(song)):
		item.state = StateComplete
	}

	return item
}

// Item is one schedulable unit. All methods are safe for concurrent use.
type Item struct {
	song       model.Song
	save       bool
	fetcher    Fetcher
	layout     Layout
	maxRetries int
	logger     *zap.Logger

	mu       sync.Mutex
	state    State
	failures int
	attempt  string             // ID of the running or last transfer
	cancel   context.CancelFunc // cancels the running transfer
	done     chan struct{}      // closed when the last transfer goroutine exits
}

// Song returns the wrapped song.
func (i *Item) Song() model.Song {
	return i.song
}

// ShouldSave reports whether the item is meant for permanent storage.
func (i *Item) ShouldSave() bool {
	return i.save
}

// State returns the current transfer state.
func (i *Item) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Status implements core.Item.
func (i *Item) Status() string {
	return i.State().String()
}

// Failures returns the number of failed transfers so far.
func (i *Item) Failures() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.failures
}

// Download starts a transfer in the background. It does nothing when a transfer is already
// running or no further work is needed.
func (i *Item) Download() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state == StateDownloading || i.workDoneLocked() {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	previous := i.done
	done := make(chan struct{})

	i.attempt = uuid.NewString()
	i.cancel = cancel
	i.done = done
	i.state = StateDownloading

	i.logger.Debug("Starting transfer",
		zap.String("attempt", i.attempt),
		zap.Int("failures", i.failures),
		zap.Bool("save", i.save))

	go i.run(ctx, i.attempt, previous, done)
}

// CancelDownload stops the running transfer, if any. The transfer goroutine exits asynchronously.
func (i *Item) CancelDownload() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state != StateDownloading {
		return
	}

	i.cancel()
	i.state = StateCancelled
	i.logger.Debug("Transfer cancelled", zap.String("attempt", i.attempt))
}

// Wait blocks until the last started transfer goroutine has exited.
func (i *Item) Wait() {
	i.mu.Lock()
	done := i.done
	i.mu.Unlock()

	if done != nil {
		<-done
	}
}

// IsDownloading reports whether a transfer is running.
func (i *Item) IsDownloading() bool {
	return i.State() == StateDownloading
}

// IsCancelled reports whether the last transfer was cancelled.
func (i *Item) IsCancelled() bool {
	return i.State() == StateCancelled
}

// IsFailed reports whether the last transfer failed.
func (i *Item) IsFailed() bool {
	return i.State() == StateFailed
}

// IsSaved reports whether the song is in permanent storage.
func (i *Item) IsSaved() bool {
	return i.State() == StateSaved
}

// IsWorkDone reports whether the item needs no further transfer, either because the
// required artifact exists or because the retry budget is spent.
func (i *Item) IsWorkDone() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.workDoneLocked()
}

func (i *Item) workDoneLocked() bool {
	switch i.state {
	case StateSaved:
		return true
	case StateComplete:
		return !i.save
	case StateFailed:
		return i.failures >= i.maxRetries
	default:
		return false
	}
}

// PartialExists reports whether the partial file is on disk.
func (i *Item) PartialExists() bool {
	return fileExists(i.layout.PartialPath(i.song))
}

// FinalPath returns the path of the finished artifact: the saved file when saved, the
// cached complete file otherwise.
func (i *Item) FinalPath() string {
	if i.IsSaved() {
		return i.layout.SavedPath(i.song)
	}
	return i.layout.CompletePath(i.song)
}

// Cleanup removes artifacts made obsolete by a later stage and reports whether nothing is
// left to reclaim. A running transfer is never touched.
//
// Files are shared by every item of the same song, so the partial file is only removed
// once a complete or saved file supersedes it. A cancelled or failed item leaves it for
// the next transfer, which truncates it.
func (i *Item) Cleanup() bool {
	if i.IsDownloading() {
		return false
	}

	partial := i.layout.PartialPath(i.song)
	complete := i.layout.CompletePath(i.song)
	saved := i.layout.SavedPath(i.song)

	ok := true
	savedExists := fileExists(saved)

	if savedExists || fileExists(complete) {
		if err := removeFile(partial); err != nil {
			i.logger.Debug("Failed to remove partial file", zap.Error(err))
			ok = false
		}
	}

	if savedExists {
		if err := removeFile(complete); err != nil {
			i.logger.Debug("Failed to remove complete file", zap.Error(err))
			ok = false
		}
	}

	return ok
}

func (i *Item) run(ctx context.Context, attempt string, previous, done chan struct{}) {
	defer close(done)

	// The partial file is shared between attempts.
	if previous != nil {
		<-previous
	}

	state, err := i.transfer(ctx)

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.attempt != attempt {
		return
	}
	i.cancel()

	switch {
	case err == nil:
		i.state = state
		i.logger.Debug("Transfer finished",
			zap.String("attempt", attempt),
			zap.String("state", state.String()))
	case errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled):
		i.state = StateCancelled
	default:
		i.failures++
		i.state = StateFailed
		i.logger.Warn("Transfer failed",
			zap.String("attempt", attempt),
			zap.Int("failures", i.failures),
			zap.Int("maxRetries", i.maxRetries),
			zap.Error(err))
	}
}

func (i *Item) transfer(ctx context.Context) (State, error) {
	saved := i.layout.SavedPath(i.song)
	complete := i.layout.CompletePath(i.song)

	if fileExists(saved) {
		return StateSaved, nil
	}

	if fileExists(complete) {
		if !i.save {
			return StateComplete, nil
		}
		if err := os.Rename(complete, saved); err != nil {
			return StateIdle, fmt.Errorf("failed to save complete file: %w", err)
		}
		return StateSaved, nil
	}

	partial := i.layout.PartialPath(i.song)
	if err := os.MkdirAll(filepath.Dir(partial), 0o755); err != nil {
		return StateIdle, fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := os.Create(partial)
	if err != nil {
		return StateIdle, fmt.Errorf("failed to create partial file: %w", err)
	}

	fetchErr := i.fetcher.Fetch(ctx, i.song, f)
	closeErr := f.Close()

	if fetchErr != nil {
		return StateIdle, fetchErr
	}
	if closeErr != nil {
		return StateIdle, fmt.Errorf("failed to close partial file: %w", closeErr)
	}
	if err := ctx.Err(); err != nil {
		return StateIdle, err
	}

	target, state := complete, StateComplete
	if i.save {
		target, state = saved, StateSaved
	}

	if err := os.Rename(partial, target); err != nil {
		return StateIdle, fmt.Errorf("failed to finalize download: %w", err)
	}

	return state, nil
}
