package http

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"prefetchd/internal/core"
	"prefetchd/internal/flood"
	"prefetchd/internal/model"
	"prefetchd/internal/playback"
	"prefetchd/internal/store"
)

// Scheduler is the part of the Downloader the control API drives.
type Scheduler interface {
	Snapshot() core.Snapshot
	Enqueue(songs []model.Song, save, autoPlay, playNext, newPlaylist bool)
	EnqueueBackground(songs []model.Song, save bool)
	Clear()
	Shuffle()
	Remove(item core.Item)
	Lookup(song model.Song) core.Item
	SetShuffleMode(enabled bool)
}

// Library resolves song IDs.
type Library interface {
	Song(ctx context.Context, id string) (model.Song, error)
	Songs(ctx context.Context, ids []string) ([]model.Song, error)
	UpsertSong(ctx context.Context, song model.Song) error
	Search(ctx context.Context, query string, limit int) ([]model.Song, error)
	IndexedPath(ctx context.Context, songID string) (string, bool, error)
}

type Player interface {
	SetCurrentPlaying(item core.Item)
	State() (state, next core.PlayerState)
}

type Jukebox interface {
	SetEnabled(enabled bool)
	Status() playback.JukeboxStatus
}

// Limiter throttles queue changes per client.
type Limiter interface {
	Allow(client string) bool
	GetStats() flood.Stats
}

// API groups the dependencies of the control endpoints.
type API struct {
	Scheduler Scheduler
	Library   Library
	Player    Player
	Jukebox   Jukebox
	Limiter   Limiter // optional
}

type itemView struct {
	Song        model.Song `json:"song"`
	State       string     `json:"state"`
	Failures    int        `json:"failures,omitempty"`
	Save        bool       `json:"save"`
	Background  bool       `json:"background"`
	IndexedPath string     `json:"indexedPath,omitempty"` // media index entry, once scanned
}

type playerView struct {
	State string `json:"state"`
	Next  string `json:"next"`
}

type downloadsView struct {
	Revision     int64                  `json:"revision"`
	Duration     float64                `json:"duration"` // seconds
	CurrentIndex int                    `json:"currentIndex"`
	Current      string                 `json:"current,omitempty"`
	Items        []itemView             `json:"items"`
	Player       playerView             `json:"player"`
	Jukebox      playback.JukeboxStatus `json:"jukebox"`
}

type statsView struct {
	Revision   int64        `json:"revision"`
	Foreground int          `json:"foreground"`
	Background int          `json:"background"`
	Limiter    *flood.Stats `json:"limiter,omitempty"` // absent when requests are not limited
}

type enqueueRequest struct {
	SongIDs     []string `json:"songIds"`
	Save        bool     `json:"save"`
	AutoPlay    bool     `json:"autoPlay"`
	PlayNext    bool     `json:"playNext"`
	NewPlaylist bool     `json:"newPlaylist"`
}

type songRequest struct {
	SongID string `json:"songId"`
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

func (a *API) register(mux *http.ServeMux, logger *zap.Logger, metrics *Metrics) {
	handle := func(pattern, endpoint string, h func(*http.Request) (any, int, error)) {
		mutating := strings.HasPrefix(pattern, http.MethodPost)
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			var (
				body   any
				status int
				err    error
			)
			if mutating && a.Limiter != nil && !a.Limiter.Allow(clientKey(r)) {
				status, err = http.StatusTooManyRequests, errors.New("too many requests")
			} else {
				body, status, err = h(r)
			}
			if metrics != nil {
				metrics.recordRequest(endpoint, status)
			}
			if err != nil {
				logger.Debug("API request failed",
					zap.String("endpoint", endpoint),
					zap.Int("status", status),
					zap.Error(err))
				body = map[string]string{"error": err.Error()}
			}
			writeJSON(w, status, body, logger)
		})
	}

	handle("GET /api/downloads", "downloads", a.downloads)
	handle("POST /api/enqueue", "enqueue", a.enqueue)
	handle("POST /api/background", "background", a.background)
	handle("POST /api/clear", "clear", a.clear)
	handle("POST /api/shuffle", "shuffle", a.shuffle)
	handle("POST /api/remove", "remove", a.remove)
	handle("POST /api/playing", "playing", a.playing)
	handle("POST /api/shuffle-mode", "shuffle_mode", a.shuffleMode)
	handle("POST /api/jukebox", "jukebox", a.jukebox)
	handle("POST /api/songs", "songs", a.songs)
	handle("GET /api/search", "search", a.search)
	handle("GET /api/stats", "stats", a.stats)
}

func (a *API) downloads(r *http.Request) (any, int, error) {
	return a.render(r.Context())
}

// render answers a request with the current queue view.
func (a *API) render(ctx context.Context) (any, int, error) {
	view, err := a.view(ctx)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	return view, http.StatusOK, nil
}

func (a *API) view(ctx context.Context) (downloadsView, error) {
	snapshot := a.Scheduler.Snapshot()
	state, next := a.Player.State()

	view := downloadsView{
		Revision:     snapshot.Revision,
		Duration:     snapshot.Duration.Seconds(),
		CurrentIndex: snapshot.CurrentIndex,
		Items:        make([]itemView, 0, len(snapshot.Foreground)+len(snapshot.Background)),
		Player:       playerView{State: state.String(), Next: next.String()},
		Jukebox:      a.Jukebox.Status(),
	}
	if snapshot.Current != nil {
		view.Current = snapshot.Current.Song().ID
	}

	for i, item := range slices.Concat(snapshot.Foreground, snapshot.Background) {
		entry := itemView{
			Song:       item.Song(),
			State:      item.Status(),
			Failures:   item.Failures(),
			Save:       item.ShouldSave(),
			Background: i >= len(snapshot.Foreground),
		}
		path, ok, err := a.Library.IndexedPath(ctx, entry.Song.ID)
		if err != nil {
			return downloadsView{}, err
		}
		if ok {
			entry.IndexedPath = path
		}
		view.Items = append(view.Items, entry)
	}
	return view, nil
}

func (a *API) stats(_ *http.Request) (any, int, error) {
	snapshot := a.Scheduler.Snapshot()
	view := statsView{
		Revision:   snapshot.Revision,
		Foreground: len(snapshot.Foreground),
		Background: len(snapshot.Background),
	}
	if a.Limiter != nil {
		stats := a.Limiter.GetStats()
		view.Limiter = &stats
	}
	return view, http.StatusOK, nil
}

func (a *API) enqueue(r *http.Request) (any, int, error) {
	var req enqueueRequest
	if err := decode(r, &req); err != nil {
		return nil, http.StatusBadRequest, err
	}

	songs, status, err := a.resolve(r.Context(), req.SongIDs)
	if err != nil {
		return nil, status, err
	}

	a.Scheduler.Enqueue(songs, req.Save, req.AutoPlay, req.PlayNext, req.NewPlaylist)
	return a.render(r.Context())
}

func (a *API) background(r *http.Request) (any, int, error) {
	var req enqueueRequest
	if err := decode(r, &req); err != nil {
		return nil, http.StatusBadRequest, err
	}

	songs, status, err := a.resolve(r.Context(), req.SongIDs)
	if err != nil {
		return nil, status, err
	}

	a.Scheduler.EnqueueBackground(songs, req.Save)
	return a.render(r.Context())
}

func (a *API) clear(r *http.Request) (any, int, error) {
	a.Scheduler.Clear()
	return a.render(r.Context())
}

func (a *API) shuffle(r *http.Request) (any, int, error) {
	a.Scheduler.Shuffle()
	return a.render(r.Context())
}

func (a *API) remove(r *http.Request) (any, int, error) {
	var req songRequest
	if err := decode(r, &req); err != nil {
		return nil, http.StatusBadRequest, err
	}

	item := findQueued(a.Scheduler.Snapshot(), req.SongID)
	if item == nil {
		return nil, http.StatusNotFound, errors.New("song is not queued: " + req.SongID)
	}

	a.Scheduler.Remove(item)
	return a.render(r.Context())
}

// playing sets the playing song, preferring its foreground entry so the scheduler sees
// the playing index.
func (a *API) playing(r *http.Request) (any, int, error) {
	var req songRequest
	if err := decode(r, &req); err != nil {
		return nil, http.StatusBadRequest, err
	}

	snapshot := a.Scheduler.Snapshot()
	var item core.Item
	for _, queued := range snapshot.Foreground {
		if queued.Song().ID == req.SongID {
			item = queued
			break
		}
	}

	if item == nil {
		song, err := a.Library.Song(r.Context(), req.SongID)
		if err != nil {
			return nil, errorStatus(err), err
		}
		item = a.Scheduler.Lookup(song)
	}

	a.Player.SetCurrentPlaying(item)
	return a.render(r.Context())
}

func (a *API) shuffleMode(r *http.Request) (any, int, error) {
	var req toggleRequest
	if err := decode(r, &req); err != nil {
		return nil, http.StatusBadRequest, err
	}

	a.Scheduler.SetShuffleMode(req.Enabled)
	return a.render(r.Context())
}

func (a *API) jukebox(r *http.Request) (any, int, error) {
	var req toggleRequest
	if err := decode(r, &req); err != nil {
		return nil, http.StatusBadRequest, err
	}

	a.Jukebox.SetEnabled(req.Enabled)
	return a.Jukebox.Status(), http.StatusOK, nil
}

func (a *API) songs(r *http.Request) (any, int, error) {
	var songs []model.Song
	if err := decode(r, &songs); err != nil {
		return nil, http.StatusBadRequest, err
	}

	for _, song := range songs {
		if err := a.Library.UpsertSong(r.Context(), song); err != nil {
			return nil, http.StatusBadRequest, err
		}
	}
	return map[string]int{"stored": len(songs)}, http.StatusOK, nil
}

func (a *API) search(r *http.Request) (any, int, error) {
	query := r.URL.Query().Get("q")
	if query == "" {
		return nil, http.StatusBadRequest, errors.New("missing query parameter q")
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		var err error
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			return nil, http.StatusBadRequest, errors.New("invalid limit: " + raw)
		}
	}

	songs, err := a.Library.Search(r.Context(), query, limit)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	if songs == nil {
		songs = []model.Song{}
	}
	return songs, http.StatusOK, nil
}

func (a *API) resolve(ctx context.Context, ids []string) ([]model.Song, int, error) {
	songs, err := a.Library.Songs(ctx, ids)
	if err != nil {
		return nil, errorStatus(err), err
	}
	return songs, http.StatusOK, nil
}

func findQueued(snapshot core.Snapshot, songID string) core.Item {
	for _, queue := range [][]core.Item{snapshot.Foreground, snapshot.Background} {
		for _, item := range queue {
			if item.Song().ID == songID {
				return item
			}
		}
	}
	return nil
}

// clientKey identifies the caller by remote host.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func errorStatus(err error) int {
	if errors.Is(err, store.ErrSongNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func decode(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return errors.New("invalid request body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Debug("Failed to write response", zap.Error(err))
	}
}
