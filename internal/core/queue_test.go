package core

import (
	"slices"
	"testing"
	"time"

	"prefetchd/internal/model"
)

func TestEnqueue_NewPlaylistRoundTrip(t *testing.T) {
	h := newTestHarness()
	h.downloader.Enqueue(songs("old"), false, false, false, false)
	before := h.downloader.Revision()

	h.downloader.Enqueue(songs("s1", "s2", "s3"), false, false, false, true)

	ids := songIDs(h.downloader.Downloads())
	if !slices.Equal(ids, []string{"s1", "s2", "s3"}) {
		t.Errorf("Downloads() = %v, expected [s1 s2 s3]", ids)
	}
	if h.downloader.Revision() != before+1 {
		t.Errorf("expected revision %d, got %d", before+1, h.downloader.Revision())
	}
}

func TestEnqueue_EmptyIsNoOp(t *testing.T) {
	h := newTestHarness()
	h.downloader.Enqueue(songs("s1"), false, false, false, false)
	before := h.downloader.Revision()

	h.downloader.Enqueue(nil, false, false, false, true)

	if h.downloader.Revision() != before {
		t.Error("empty enqueue must not bump the revision")
	}
	if ids := songIDs(h.downloader.Downloads()); !slices.Equal(ids, []string{"s1"}) {
		t.Errorf("queue changed to %v", ids)
	}
}

func TestEnqueue_DisablesShuffle(t *testing.T) {
	h := newTestHarness()
	h.shuffle.enabled = true

	h.downloader.Enqueue(nil, false, false, false, false)

	if h.shuffle.enabled {
		t.Error("enqueue should turn shuffle play off")
	}
}

func TestEnqueue_Positions(t *testing.T) {
	tests := []struct {
		name     string
		playing  int // index of the playing item, -1 for none
		autoPlay bool
		playNext bool
		expected []string
	}{
		{"append", 1, false, false, []string{"a", "b", "c", "x", "y"}},
		{"play next after playing item", 1, false, true, []string{"a", "b", "x", "y", "c"}},
		{"play next with autoplay takes the playing slot", 1, true, true, []string{"a", "x", "y", "b", "c"}},
		{"play next without playing item goes first", -1, false, true, []string{"x", "y", "a", "b", "c"}},
		{"autoplay without playing item goes first", -1, true, true, []string{"x", "y", "a", "b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHarness()
			h.downloader.Enqueue(songs("a", "b", "c"), false, false, false, true)
			if tt.playing >= 0 {
				h.player.playing = h.fg(tt.playing)
			}
			before := h.downloader.Revision()

			h.downloader.Enqueue(songs("x", "y"), true, tt.autoPlay, tt.playNext, false)

			if ids := songIDs(h.downloader.Downloads()); !slices.Equal(ids, tt.expected) {
				t.Errorf("queue = %v, expected %v", ids, tt.expected)
			}
			if h.downloader.Revision() != before+1 {
				t.Errorf("expected a single revision bump, got %d", h.downloader.Revision()-before)
			}
		})
	}
}

func TestEnqueueBackground(t *testing.T) {
	h := newTestHarness()
	before := h.downloader.Revision()

	h.downloader.EnqueueBackground(songs("b1", "b2"), true)

	snapshot := h.downloader.Snapshot()
	if ids := songIDs(snapshot.Background); !slices.Equal(ids, []string{"b1", "b2"}) {
		t.Errorf("background = %v", ids)
	}
	if !snapshot.Background[0].ShouldSave() {
		t.Error("save flag should be passed to items")
	}
	if snapshot.Revision != before+1 {
		t.Errorf("expected revision %d, got %d", before+1, snapshot.Revision)
	}
	if snapshot.Current != snapshot.Background[0] {
		t.Error("enqueueing background work should run a scheduling step")
	}
}

func TestClear_BumpsEveryCall(t *testing.T) {
	h := newTestHarness()
	h.downloader.Enqueue(songs("s1", "s2"), false, false, false, true)
	h.downloader.CheckDownloads()
	s1 := h.fg(0)
	before := h.downloader.Revision()

	h.downloader.Clear()
	h.downloader.Clear()

	if len(h.downloader.Downloads()) != 0 {
		t.Error("queue should be empty")
	}
	if h.downloader.Revision() != before+2 {
		t.Errorf("expected revision %d, got %d", before+2, h.downloader.Revision())
	}
	if s1.cancels != 1 {
		t.Errorf("active transfer should be cancelled once, got %d", s1.cancels)
	}
	if h.downloader.CurrentTransfer() != nil {
		t.Error("current transfer should be cleared")
	}
}

func TestClearBackground(t *testing.T) {
	t.Run("cancels background transfer", func(t *testing.T) {
		h := newTestHarness()
		h.downloader.EnqueueBackground(songs("b1"), false)
		b1 := h.bg(0)
		before := h.downloader.Revision()

		h.downloader.ClearBackground()

		if b1.cancels != 1 {
			t.Errorf("expected background transfer to be cancelled, got %d", b1.cancels)
		}
		if len(h.downloader.Downloads()) != 0 {
			t.Error("background queue should be empty")
		}
		if h.downloader.Revision() != before {
			t.Error("ClearBackground must not bump the revision")
		}
	})

	t.Run("keeps foreground transfer", func(t *testing.T) {
		h := newTestHarness()
		h.downloader.Enqueue(songs("s1"), false, false, false, true)
		h.downloader.EnqueueBackground(songs("b1"), false)
		s1 := h.fg(0)

		h.downloader.ClearBackground()

		if s1.cancels != 0 || h.downloader.CurrentTransfer() != Item(s1) {
			t.Error("foreground transfer should survive ClearBackground")
		}
	})
}

func TestRemove(t *testing.T) {
	h := newTestHarness()
	h.downloader.Enqueue(songs("s1", "s2"), false, false, false, true)
	h.downloader.CheckDownloads()
	s1 := h.fg(0)
	before := h.downloader.Revision()

	h.downloader.Remove(s1)

	if ids := songIDs(h.downloader.Downloads()); !slices.Equal(ids, []string{"s2"}) {
		t.Errorf("queue = %v, expected [s2]", ids)
	}
	if s1.cancels != 1 || h.downloader.CurrentTransfer() != nil {
		t.Error("removing the active transfer should cancel it")
	}
	if h.downloader.Revision() != before+1 {
		t.Error("Remove should bump the revision")
	}
}

func TestShuffle_PinsPlayingItem(t *testing.T) {
	h := newTestHarness()
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	h.downloader.Enqueue(songs(ids...), false, false, false, true)
	playing := h.fg(5)
	h.player.playing = playing
	before := h.downloader.Revision()

	h.downloader.Shuffle()

	items := h.downloader.Downloads()
	if items[0] != Item(playing) {
		t.Errorf("playing item should be first, got %s", items[0].Song().ID)
	}
	got := songIDs(items)
	slices.Sort(got)
	if !slices.Equal(got, ids) {
		t.Errorf("shuffle changed the set of items: %v", got)
	}
	if h.downloader.Revision() != before+1 {
		t.Error("Shuffle should bump the revision")
	}
}

func TestLookup(t *testing.T) {
	t.Run("returns usable queued item", func(t *testing.T) {
		h := newTestHarness()
		h.factory.presets["s1"] = func(i *fakeItem) { i.workDone = true }
		h.downloader.Enqueue(songs("s1"), false, false, false, true)

		if got := h.downloader.Lookup(songs("s1")[0]); got != Item(h.fg(0)) {
			t.Error("expected the queued item")
		}
	})

	t.Run("returns item with live partial file", func(t *testing.T) {
		h := newTestHarness()
		h.factory.presets["b1"] = func(i *fakeItem) { i.partial = true }
		h.downloader.EnqueueBackground(songs("b1"), false)

		if got := h.downloader.Lookup(songs("b1")[0]); got != Item(h.bg(0)) {
			t.Error("expected the downloading background item")
		}
	})

	t.Run("falls back to the recency cache", func(t *testing.T) {
		h := newTestHarness()
		h.downloader.Enqueue(songs("s1"), false, false, false, true)
		queued := h.fg(0)

		first := h.downloader.Lookup(songs("s1")[0])
		second := h.downloader.Lookup(songs("s1")[0])

		if first == Item(queued) {
			t.Error("an idle queued item is not usable for lookup")
		}
		if first != second {
			t.Error("repeated lookups should return the same cached item")
		}
		if first.ShouldSave() {
			t.Error("cached items are created unsaved")
		}
		if h.downloader.cache.Len() != 1 {
			t.Errorf("expected one cached item, got %d", h.downloader.cache.Len())
		}
	})
}

func TestQueries(t *testing.T) {
	h := newTestHarness()
	h.downloader.Enqueue([]model.Song{
		{ID: "a", Artist: "A", Duration: 3 * time.Minute},
		{ID: "b", Artist: "B", Duration: 2 * time.Minute},
		{ID: "dir", Artist: "C", Duration: time.Hour, IsDir: true},
		{ID: "anon", Duration: time.Hour},
	}, false, false, false, true)
	h.player.playing = h.fg(1)

	if got := h.downloader.DownloadListDuration(); got != 5*time.Minute {
		t.Errorf("DownloadListDuration() = %v, expected 5m", got)
	}
	if got := h.downloader.CurrentPlayingIndex(); got != 1 {
		t.Errorf("CurrentPlayingIndex() = %d, expected 1", got)
	}

	snapshot := h.downloader.Snapshot()
	if snapshot.CurrentIndex != 1 || snapshot.Duration != 5*time.Minute || len(snapshot.Foreground) != 4 {
		t.Errorf("unexpected snapshot %+v", snapshot)
	}

	h.player.playing = nil
	if got := h.downloader.CurrentPlayingIndex(); got != -1 {
		t.Errorf("CurrentPlayingIndex() = %d, expected -1", got)
	}
}

func TestRevision_NeverDecreases(t *testing.T) {
	h := newTestHarness()
	last := h.downloader.Revision()

	steps := []func(){
		func() { h.downloader.Enqueue(songs("a", "b"), false, false, false, true) },
		func() { h.downloader.EnqueueBackground(songs("c"), false) },
		func() { h.downloader.CheckDownloads() },
		func() { h.downloader.Shuffle() },
		func() { h.downloader.Remove(h.downloader.Downloads()[0]) },
		func() { h.downloader.ClearBackground() },
		func() { h.downloader.Clear() },
	}

	for i, step := range steps {
		step()
		current := h.downloader.Revision()
		if current < last {
			t.Fatalf("step %d: revision went from %d to %d", i, last, current)
		}
		last = current
	}
}
