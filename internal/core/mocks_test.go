package core

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"prefetchd/internal/model"
)

// Mock implementations for testing

type fakeItem struct {
	song         model.Song
	save         bool
	downloading  bool
	cancelled    bool
	failed       bool
	workDone     bool
	saved        bool
	partial      bool
	cleanupFails bool

	downloads int
	cancels   int
	cleanups  int
}

func (f *fakeItem) Song() model.Song { return f.song }

func (f *fakeItem) Download() {
	if f.downloading || f.workDone {
		return
	}
	f.downloads++
	f.downloading = true
	f.cancelled = false
	f.failed = false
}

func (f *fakeItem) CancelDownload() {
	if !f.downloading {
		return
	}
	f.cancels++
	f.downloading = false
	f.cancelled = true
}

func (f *fakeItem) IsDownloading() bool { return f.downloading }
func (f *fakeItem) IsCancelled() bool   { return f.cancelled }
func (f *fakeItem) IsFailed() bool      { return f.failed }
func (f *fakeItem) IsWorkDone() bool    { return f.workDone }
func (f *fakeItem) ShouldSave() bool    { return f.save }
func (f *fakeItem) IsSaved() bool       { return f.saved }
func (f *fakeItem) PartialExists() bool { return f.partial }
func (f *fakeItem) FinalPath() string   { return "/music/" + f.song.ID + ".mp3" }

func (f *fakeItem) Status() string {
	switch {
	case f.saved:
		return "saved"
	case f.downloading:
		return "downloading"
	case f.failed:
		return "failed"
	case f.cancelled:
		return "cancelled"
	case f.workDone:
		return "complete"
	default:
		return "idle"
	}
}

func (f *fakeItem) Failures() int {
	if f.failed {
		return 1
	}
	return 0
}

func (f *fakeItem) Cleanup() bool {
	f.cleanups++
	return !f.cleanupFails
}

// finish marks the transfer as done.
func (f *fakeItem) finish() {
	f.downloading = false
	f.workDone = true
	f.saved = f.save
}

// fail marks the transfer as failed with retries left.
func (f *fakeItem) fail() {
	f.downloading = false
	f.failed = true
}

type fakeFactory struct {
	presets map[string]func(*fakeItem) // applied to every item created for the song ID
	created []*fakeItem
}

func (f *fakeFactory) NewItem(song model.Song, save bool) Item {
	item := &fakeItem{song: song, save: save}
	if preset, ok := f.presets[song.ID]; ok {
		preset(item)
	}
	f.created = append(f.created, item)
	return item
}

type fakePlayer struct {
	playing   Item
	state     PlayerState
	nextState PlayerState
	played    []Item
}

func (p *fakePlayer) CurrentPlaying() Item                 { return p.playing }
func (p *fakePlayer) SetPlayerState(state PlayerState)     { p.state = state }
func (p *fakePlayer) SetNextPlayerState(state PlayerState) { p.nextState = state }

func (p *fakePlayer) Play(item Item) {
	p.playing = item
	p.played = append(p.played, item)
	p.state = PlayerStateStarted
}

type fakeRemote struct {
	enabled bool
	updates int
	skips   []int
}

func (r *fakeRemote) IsEnabled() bool   { return r.enabled }
func (r *fakeRemote) UpdatePlaylist()   { r.updates++ }
func (r *fakeRemote) Skip(index, _ int) { r.skips = append(r.skips, index) }

type fakeShuffle struct {
	enabled bool
	next    int
	calls   []int
}

func (s *fakeShuffle) IsEnabled() bool         { return s.enabled }
func (s *fakeShuffle) SetEnabled(enabled bool) { s.enabled = enabled }

func (s *fakeShuffle) Get(n int) []model.Song {
	s.calls = append(s.calls, n)
	songs := make([]model.Song, 0, n)
	for range n {
		s.next++
		songs = append(songs, model.Song{ID: fmt.Sprintf("shuffle-%d", s.next)})
	}
	return songs
}

type fakeAvailability struct {
	storageDown bool
	networkDown bool
	panics      bool
}

func (a *fakeAvailability) StorageAvailable() bool {
	if a.panics {
		panic("storage probe exploded")
	}
	return !a.storageDown
}

func (a *fakeAvailability) NetworkAvailable() bool { return !a.networkDown }

type fakeSettings struct {
	preload  int
	maxSongs int
	scan     bool
}

func (s *fakeSettings) PreloadCount() int     { return s.preload }
func (s *fakeSettings) MaxShuffleSongs() int  { return s.maxSongs }
func (s *fakeSettings) ShouldScanMedia() bool { return s.scan }

type fakeScanner struct {
	scanned []string
}

func (s *fakeScanner) ScanMedia(song model.Song, _ string) error {
	s.scanned = append(s.scanned, song.ID)
	return nil
}

type fakeObserver struct {
	mu       sync.Mutex
	outcomes []string
	starts   map[string]int
	ticked   chan struct{}
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{starts: make(map[string]int), ticked: make(chan struct{}, 16)}
}

func (o *fakeObserver) ObserveTick(outcome string, _ time.Duration) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, outcome)
	o.mu.Unlock()
	select {
	case o.ticked <- struct{}{}:
	default:
	}
}

func (o *fakeObserver) ObserveTransferStart(source string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.starts[source]++
}

func (o *fakeObserver) SetQueueLengths(int, int) {}
func (o *fakeObserver) SetRevision(int64)        {}

type testHarness struct {
	downloader   *Downloader
	factory      *fakeFactory
	player       *fakePlayer
	remote       *fakeRemote
	shuffle      *fakeShuffle
	availability *fakeAvailability
	settings     *fakeSettings
	scanner      *fakeScanner
	observer     *fakeObserver
}

func newTestHarness() *testHarness {
	h := &testHarness{
		factory:      &fakeFactory{presets: make(map[string]func(*fakeItem))},
		player:       &fakePlayer{},
		remote:       &fakeRemote{},
		shuffle:      &fakeShuffle{},
		availability: &fakeAvailability{},
		settings:     &fakeSettings{preload: DefaultPreloadCount, maxSongs: 5},
		scanner:      &fakeScanner{},
		observer:     newFakeObserver(),
	}

	h.downloader = NewDownloader(h.settings, h.factory, Collaborators{
		Player:       h.player,
		Remote:       h.remote,
		Shuffle:      h.shuffle,
		Availability: h.availability,
		Scanner:      h.scanner,
		Observer:     h.observer,
	}, zap.NewNop())

	return h
}

func songs(ids ...string) []model.Song {
	result := make([]model.Song, 0, len(ids))
	for _, id := range ids {
		result = append(result, model.Song{ID: id, Title: "Title " + id, Artist: "Artist"})
	}
	return result
}

// fg returns the foreground queue item at index i.
func (h *testHarness) fg(i int) *fakeItem {
	return h.downloader.foreground[i].(*fakeItem)
}

func (h *testHarness) bg(i int) *fakeItem {
	return h.downloader.background[i].(*fakeItem)
}

func songIDs(items []Item) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.Song().ID)
	}
	return ids
}

func countDownloading(items []*fakeItem) int {
	n := 0
	for _, item := range items {
		if item.downloading {
			n++
		}
	}
	return n
}
