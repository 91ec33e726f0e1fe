package store

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"prefetchd/internal/model"
)

var (
	featRegex       = regexp.MustCompile(`(?i)\s*[\(\[]?\s*\b(?:feat\.?|ft\.?|featuring)\s+[^\)\]]*[\)\]]?\s*`)
	punctRegex      = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// DefaultSearchLimit caps search results when no limit is given.
const DefaultSearchLimit = 50

// normalize folds text for matching: accents stripped, punctuation removed, lower case.
func normalize(text string) string {
	text = norm.NFKD.String(text)

	var result strings.Builder
	for _, r := range text {
		if !unicode.IsMark(r) {
			result.WriteRune(r)
		}
	}
	text = result.String()

	text = punctRegex.ReplaceAllString(text, " ")
	text = whitespaceRegex.ReplaceAllString(text, " ")

	return strings.TrimSpace(strings.ToLower(text))
}

// searchKey is the indexed text of a song. Featured artists are dropped from the title.
func searchKey(song model.Song) string {
	title := featRegex.ReplaceAllString(song.Title, " ")
	return normalize(song.Artist + " " + title + " " + song.Album)
}

// Search returns songs whose artist, title or album contain every word of query,
// best title matches first.
func (l *Library) Search(ctx context.Context, query string, limit int) ([]model.Song, error) {
	words := strings.Fields(normalize(query))
	if len(words) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	conditions := make([]string, 0, len(words))
	args := make([]any, 0, len(words))
	for _, word := range words {
		conditions = append(conditions, "search_key LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(word)+"%")
	}

	rows, err := l.db.QueryContext(ctx,
		"SELECT "+songColumns+" FROM songs WHERE is_dir = 0 AND "+strings.Join(conditions, " AND "), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search songs: %w", err)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}

	normalizedQuery := strings.Join(words, " ")
	slices.SortStableFunc(songs, func(a, b model.Song) int {
		sa := similarity(normalizedQuery, normalize(a.Title))
		sb := similarity(normalizedQuery, normalize(b.Title))
		switch {
		case sa > sb:
			return -1
		case sa < sb:
			return 1
		default:
			return strings.Compare(a.ID, b.ID)
		}
	})

	if len(songs) > limit {
		songs = songs[:limit]
	}
	return songs, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// similarity is the longest common subsequence of s1 and s2 relative to the longer one.
func similarity(s1, s2 string) float64 {
	if s1 == s2 {
		return 1.0
	}
	if len(s1) == 0 || len(s2) == 0 {
		return 0.0
	}
	return float64(longestCommonSubsequence(s1, s2)) / float64(max(len(s1), len(s2)))
}

func longestCommonSubsequence(s1, s2 string) int {
	prev := make([]int, len(s2)+1)
	curr := make([]int, len(s2)+1)

	for i := 1; i <= len(s1); i++ {
		for j := 1; j <= len(s2); j++ {
			if s1[i-1] == s2[j-1] {
				curr[j] = prev[j-1] + 1
			} else {
				curr[j] = max(prev[j], curr[j-1])
			}
		}
		prev, curr = curr, prev
	}

	return prev[len(s2)]
}
