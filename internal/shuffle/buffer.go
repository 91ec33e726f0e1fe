package shuffle

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"prefetchd/internal/model"
)

// oversample is how many candidates are requested per wanted song, so recent repeats
// can be skipped without a second round trip.
const oversample = 2

// Catalog supplies random playable songs.
type Catalog interface {
	RandomSongs(ctx context.Context, n int) ([]model.Song, error)
}

// Buffer is the shuffle candidate source used by the scheduler.
type Buffer struct {
	catalog Catalog
	recent  *RecentStore
	timeout time.Duration
	enabled atomic.Bool
	logger  *zap.Logger
}

// NewBuffer creates a disabled buffer drawing from catalog.
func NewBuffer(catalog Catalog, recent *RecentStore, timeout time.Duration, logger *zap.Logger) *Buffer {
	return &Buffer{
		catalog: catalog,
		recent:  recent,
		timeout: timeout,
		logger:  logger,
	}
}

func (b *Buffer) IsEnabled() bool { return b.enabled.Load() }

func (b *Buffer) SetEnabled(enabled bool) {
	if b.enabled.Swap(enabled) != enabled {
		b.logger.Info("Shuffle play toggled", zap.Bool("enabled", enabled))
	}
}

// Get returns up to n random songs that were not handed out recently. A catalog error
// yields no songs; the scheduler asks again on its next tick.
func (b *Buffer) Get(n int) []model.Song {
	if n <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	candidates, err := b.catalog.RandomSongs(ctx, n*oversample)
	if err != nil {
		b.logger.Warn("Failed to fetch shuffle candidates", zap.Error(err))
		return nil
	}

	picked := b.pick(candidates, n)
	if len(picked) == 0 && len(candidates) > 0 {
		// Library smaller than the recent window: start over.
		b.logger.Debug("Shuffle candidates exhausted, forgetting recent songs",
			zap.Int("recent", b.recent.Size()))
		b.recent.Clear()
		picked = b.pick(candidates, n)
	}

	return picked
}

func (b *Buffer) pick(candidates []model.Song, n int) []model.Song {
	picked := make([]model.Song, 0, n)
	for _, song := range candidates {
		if len(picked) == n {
			break
		}
		if b.recent.Has(song.ID) {
			continue
		}
		b.recent.Add(song.ID)
		picked = append(picked, song)
	}
	return picked
}
