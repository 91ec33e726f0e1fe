// Package store provides the sqlite-backed song library and media index.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"prefetchd/internal/model"
)

//go:embed schema.sql
var schema string

// ErrSongNotFound is returned when a song ID is not in the library.
var ErrSongNotFound = errors.New("song not found")

const songColumns = "id, title, artist, album, suffix, path, duration_ms, is_dir"

// Library is the song catalog and media index.
type Library struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens the database at path, creating the schema if needed.
// The path can be ":memory:" for an in-memory database.
func Open(path string, logger *zap.Logger) (*Library, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite allows a single writer, and every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Info("Library opened", zap.String("path", path))
	return &Library{db: db, logger: logger}, nil
}

// Close closes the database.
func (l *Library) Close() error {
	return l.db.Close()
}

// UpsertSong inserts song or replaces the stored copy.
func (l *Library) UpsertSong(ctx context.Context, song model.Song) error {
	if song.ID == "" {
		return errors.New("song ID is required")
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO songs (`+songColumns+`, search_key) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			artist = excluded.artist,
			album = excluded.album,
			suffix = excluded.suffix,
			path = excluded.path,
			duration_ms = excluded.duration_ms,
			is_dir = excluded.is_dir,
			search_key = excluded.search_key`,
		song.ID, song.Title, song.Artist, song.Album, song.Suffix, song.Path,
		song.Duration.Milliseconds(), song.IsDir, searchKey(song))
	if err != nil {
		return fmt.Errorf("failed to upsert song %s: %w", song.ID, err)
	}
	return nil
}

// Song returns the song with the given ID.
func (l *Library) Song(ctx context.Context, id string) (model.Song, error) {
	row := l.db.QueryRowContext(ctx, "SELECT "+songColumns+" FROM songs WHERE id = ?", id)

	song, err := scanSong(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Song{}, fmt.Errorf("%w: %s", ErrSongNotFound, id)
	}
	if err != nil {
		return model.Song{}, fmt.Errorf("failed to load song %s: %w", id, err)
	}
	return song, nil
}

// Songs resolves ids in order. Any unknown ID fails the whole lookup.
func (l *Library) Songs(ctx context.Context, ids []string) ([]model.Song, error) {
	songs := make([]model.Song, 0, len(ids))
	for _, id := range ids {
		song, err := l.Song(ctx, id)
		if err != nil {
			return nil, err
		}
		songs = append(songs, song)
	}
	return songs, nil
}

// RandomSongs returns up to n random playable songs.
func (l *Library) RandomSongs(ctx context.Context, n int) ([]model.Song, error) {
	rows, err := l.db.QueryContext(ctx,
		"SELECT "+songColumns+" FROM songs WHERE is_dir = 0 AND artist != '' ORDER BY RANDOM() LIMIT ?", n)
	if err != nil {
		return nil, fmt.Errorf("failed to query random songs: %w", err)
	}
	defer rows.Close()

	var songs []model.Song
	for rows.Next() {
		song, err := scanSong(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan song: %w", err)
		}
		songs = append(songs, song)
	}
	return songs, rows.Err()
}

// ScanMedia records the downloaded file of song in the media index.
func (l *Library) ScanMedia(song model.Song, path string) error {
	_, err := l.db.Exec(`
		INSERT INTO media_index (song_id, path, scanned_at) VALUES (?, ?, ?)
		ON CONFLICT(song_id) DO UPDATE SET path = excluded.path, scanned_at = excluded.scanned_at`,
		song.ID, path, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to index %s: %w", song.ID, err)
	}

	l.logger.Debug("Media indexed", zap.String("songID", song.ID), zap.String("path", path))
	return nil
}

// IndexedPath returns the indexed file path of a song, if any.
func (l *Library) IndexedPath(ctx context.Context, songID string) (string, bool, error) {
	var path string
	err := l.db.QueryRowContext(ctx, "SELECT path FROM media_index WHERE song_id = ?", songID).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query media index: %w", err)
	}
	return path, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSong(row rowScanner) (model.Song, error) {
	var (
		song       model.Song
		durationMs int64
	)
	err := row.Scan(&song.ID, &song.Title, &song.Artist, &song.Album, &song.Suffix, &song.Path,
		&durationMs, &song.IsDir)
	if err != nil {
		return model.Song{}, err
	}
	song.Duration = time.Duration(durationMs) * time.Millisecond
	return song, nil
}
