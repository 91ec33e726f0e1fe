package core

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"prefetchd/internal/download"
	"prefetchd/internal/model"
)

// gateFetcher holds every transfer until release is closed.
type gateFetcher struct {
	release chan struct{}
	exited  atomic.Int32
}

func (f *gateFetcher) Fetch(ctx context.Context, song model.Song, w io.Writer) error {
	defer f.exited.Add(1)

	select {
	case <-f.release:
	case <-ctx.Done():
		return ctx.Err()
	}

	_, err := io.WriteString(w, "audio "+song.ID)
	return err
}

// newTransferHarness wires the Downloader to real download items below a temp directory.
func newTransferHarness(t *testing.T) (*testHarness, *gateFetcher, download.Layout) {
	t.Helper()

	h := newTestHarness()
	fetcher := &gateFetcher{release: make(chan struct{})}
	layout := download.Layout{Root: t.TempDir()}
	factory := download.NewFactory(fetcher, layout, 0, zap.NewNop())

	h.downloader = NewDownloader(h.settings, ItemFactoryFunc(func(song model.Song, save bool) Item {
		return factory.New(song, save)
	}), Collaborators{
		Player:       h.player,
		Remote:       h.remote,
		Shuffle:      h.shuffle,
		Availability: h.availability,
		Scanner:      h.scanner,
		Observer:     h.observer,
	}, zap.NewNop())

	return h, fetcher, layout
}

func downloadingCount(items []Item) int {
	n := 0
	for _, item := range items {
		if item.IsDownloading() {
			n++
		}
	}
	return n
}

// waitSettled waits until item has no running transfer.
func waitSettled(t *testing.T, item Item) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for item.IsDownloading() {
		if time.Now().After(deadline) {
			t.Fatalf("transfer of %s did not finish", item.Song().ID)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCheckDownloads_RealItemsRunOneTransfer(t *testing.T) {
	h, fetcher, layout := newTransferHarness(t)
	h.downloader.Enqueue(songs("s1", "s2", "s3"), false, false, false, true)
	h.downloader.EnqueueBackground(songs("b1"), false)

	for range 3 {
		h.downloader.CheckDownloads()
		if n := downloadingCount(h.downloader.Downloads()); n != 1 {
			t.Fatalf("expected exactly one running transfer, got %d", n)
		}
	}

	queued := h.downloader.Downloads()
	if h.downloader.CurrentTransfer() != queued[0] {
		t.Fatal("expected the head of the queue to transfer first")
	}

	// Playing s2 preempts the running transfer.
	h.player.playing = queued[1]
	h.downloader.CheckDownloads()

	if !queued[0].IsCancelled() {
		t.Error("preempted transfer should be cancelled")
	}
	if h.downloader.CurrentTransfer() != queued[1] {
		t.Fatal("expected the playing item to transfer")
	}
	if n := downloadingCount(h.downloader.Downloads()); n != 1 {
		t.Fatalf("expected exactly one running transfer after preemption, got %d", n)
	}

	close(fetcher.release)

	for step := 0; ; step++ {
		if step > 20 {
			t.Fatal("queues did not drain")
		}
		if current := h.downloader.CurrentTransfer(); current != nil {
			waitSettled(t, current)
		}
		h.downloader.CheckDownloads()
		if n := downloadingCount(h.downloader.Downloads()); n > 1 {
			t.Fatalf("step %d: %d running transfers", step, n)
		}

		snapshot := h.downloader.Snapshot()
		if len(snapshot.Background) == 0 && downloadingCount(snapshot.Foreground) == 0 {
			break
		}
	}

	for _, item := range queued[:3] {
		if item.Status() != "complete" || item.Failures() != 0 {
			t.Errorf("%s ended %s with %d failures", item.Song().ID, item.Status(), item.Failures())
		}
		if item.PartialExists() {
			t.Errorf("%s left its partial file behind", item.Song().ID)
		}
	}
	for _, song := range songs("s1", "s2", "s3", "b1") {
		if item := h.downloader.Lookup(song); !item.IsWorkDone() {
			t.Errorf("%s should be complete on disk at %s", song.ID, layout.CompletePath(song))
		}
	}
}

func TestCheckDownloads_RealItemsShareFilesPerSong(t *testing.T) {
	h, fetcher, _ := newTransferHarness(t)

	// A cached item and a background item of the same song write the same files.
	playing := h.downloader.Lookup(songs("s1")[0])
	h.downloader.EnqueueBackground(songs("s1"), false)
	background := h.downloader.CurrentTransfer()
	if background == nil || background == playing {
		t.Fatal("expected the background item to transfer")
	}

	// Playing the cached item cancels the background transfer; cleanup of the cancelled
	// item must not break the new one.
	h.player.playing = playing
	h.downloader.CheckDownloads()
	waitSettled(t, background)
	h.downloader.CheckDownloads()

	close(fetcher.release)
	waitSettled(t, playing)

	if playing.Status() != "complete" || playing.Failures() != 0 {
		t.Errorf("expected the playing transfer to complete, got %s with %d failures",
			playing.Status(), playing.Failures())
	}
}

func TestClose_WaitsForActiveTransfer(t *testing.T) {
	h, fetcher, _ := newTransferHarness(t)
	h.downloader.Enqueue(songs("s1"), false, false, false, true)
	h.downloader.CheckDownloads()
	active := h.downloader.CurrentTransfer()

	h.downloader.Close()

	if got := fetcher.exited.Load(); got != 1 {
		t.Errorf("expected the transfer to have exited, got %d", got)
	}
	if !active.IsCancelled() {
		t.Errorf("expected cancelled transfer, got %s", active.Status())
	}
}
