// Package model holds the media types shared by the scheduler, the download items and the library.
package model

import (
	"net/url"
	"path/filepath"
	"time"
)

const defaultSuffix = "mp3"

// Song is a playable entry from the remote library.
// Two songs are the same song when their IDs match.
type Song struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Artist   string        `json:"artist,omitempty"`
	Album    string        `json:"album,omitempty"`
	Suffix   string        `json:"suffix,omitempty"` // File extension without the dot
	Path     string        `json:"path,omitempty"`   // Relative storage path without extension
	Duration time.Duration `json:"duration,omitempty"`
	IsDir    bool          `json:"isDir,omitempty"`
}

// Same reports whether s and other identify the same song.
func (s Song) Same(other Song) bool {
	return s.ID == other.ID
}

// FileSuffix returns the extension used for the song's files.
func (s Song) FileSuffix() string {
	if s.Suffix == "" {
		return defaultSuffix
	}
	return s.Suffix
}

// BasePath returns the relative path of the song's files, without extension.
// Paths that would leave the download root fall back to the ID.
func (s Song) BasePath() string {
	if s.Path != "" && filepath.IsLocal(s.Path) {
		return filepath.Clean(s.Path)
	}
	if base := url.PathEscape(s.ID); filepath.IsLocal(base) {
		return base
	}
	return "_" + s.ID
}

// Playable reports whether the entry contributes to playlist duration totals.
func (s Song) Playable() bool {
	return !s.IsDir && s.Artist != ""
}
