package download

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"prefetchd/internal/model"
)

// Layout maps songs to their on-disk artifacts below a root directory.
//
// A song stored at <base>.<ext> goes through <base>.partial.<ext> while the transfer
// runs and <base>.complete.<ext> once it lands in the cache without being saved.
type Layout struct {
	Root string
}

// SavedPath returns the permanent storage path of the song.
func (l Layout) SavedPath(song model.Song) string {
	return filepath.Join(l.Root, song.BasePath()+"."+song.FileSuffix())
}

// CompletePath returns the cache path of a fully transferred, unsaved song.
func (l Layout) CompletePath(song model.Song) string {
	return filepath.Join(l.Root, song.BasePath()+".complete."+song.FileSuffix())
}

// PartialPath returns the path the transfer writes to.
func (l Layout) PartialPath(song model.Song) string {
	return filepath.Join(l.Root, song.BasePath()+".partial."+song.FileSuffix())
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// removeFile deletes path, treating a missing file as success.
func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}
