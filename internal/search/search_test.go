package search

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"cantara/internal/config"
	"cantara/internal/domain"
	"cantara/internal/index"
)

func buildIndex(t *testing.T, titles ...string) *index.Index {
	t.Helper()
	entries := make([]domain.SourceFile, len(titles))
	for i, title := range titles {
		rel := fmt.Sprintf("%02d.song", i)
		entries[i] = domain.SourceFile{
			Key:     domain.EntryKey("repo", rel),
			Title:   title,
			RelPath: rel,
			Kind:    domain.KindSong,
			Repo:    "repo",
		}
	}
	return index.Build(1, [][]domain.SourceFile{entries}, config.CollisionLastWins)
}

func TestEmptyQueryYieldsEmptyResultSet(t *testing.T) {
	e := NewEngine(10)
	idx := buildIndex(t, "Amazing Grace", "How Great Thou Art")

	require.Empty(t, e.Query(idx, "").Results)
	require.Empty(t, e.Query(idx, "   \t ").Results)
}

func TestSubstringMatchingIsCaseInsensitive(t *testing.T) {
	e := NewEngine(10)
	idx := buildIndex(t, "Amazing Grace", "Be Thou My Vision")

	// Any contiguous, case-varied substring of a title must find it.
	for _, q := range []string{"amazing", "AMAZING GRACE", "zing gr", "Grace", "g GRA"} {
		rs := e.Query(idx, q)
		require.NotEmpty(t, rs.Results, q)
		require.Equal(t, "Amazing Grace", rs.Results[0].File.Title, q)
	}

	require.Empty(t, e.Query(idx, "grapes").Results)
}

func TestQueryNormalizesWhitespace(t *testing.T) {
	e := NewEngine(10)
	idx := buildIndex(t, "Be Thou My Vision")

	rs := e.Query(idx, "  thou   my  ")
	require.Len(t, rs.Results, 1)
}

func TestTitleMatchesKeepInsertionOrder(t *testing.T) {
	e := NewEngine(10)
	idx := buildIndex(t, "Song B", "Song A", "Song C")

	rs := e.Query(idx, "song")
	titles := make([]string, len(rs.Results))
	for i, r := range rs.Results {
		titles[i] = r.File.Title
	}
	require.Equal(t, []string{"Song B", "Song A", "Song C"}, titles)
}

func TestResultSetIsCapped(t *testing.T) {
	titles := make([]string, 8)
	for i := range titles {
		titles[i] = fmt.Sprintf("Hymn %d", i)
	}
	e := NewEngine(5)
	idx := buildIndex(t, titles...)

	rs := e.Query(idx, "hymn")
	require.Len(t, rs.Results, 5)
	require.True(t, rs.Truncated)
}

func TestOrdinalsAreOneBased(t *testing.T) {
	e := NewEngine(10)
	idx := buildIndex(t, "Alpha", "Alps")

	rs := e.Query(idx, "al")
	require.Len(t, rs.Results, 2)
	require.Equal(t, 1, rs.Results[0].Ordinal)
	require.Equal(t, 2, rs.Results[1].Ordinal)
}

func TestSelectByOrdinal(t *testing.T) {
	e := NewEngine(10)
	idx := buildIndex(t, "Alpha", "Alps")
	rs := e.Query(idx, "al")

	got, ok := rs.Select(2)
	require.True(t, ok)
	require.Equal(t, "Alps", got.Title)

	// Out-of-range ordinals yield no selection, not an error.
	_, ok = rs.Select(0)
	require.False(t, ok)
	_, ok = rs.Select(3)
	require.False(t, ok)
	_, ok = rs.Select(-1)
	require.False(t, ok)
}

func TestContentMatchesFollowTitleMatches(t *testing.T) {
	dir := t.TempDir()
	songPath := filepath.Join(dir, "vision.song")
	require.NoError(t, os.WriteFile(songPath,
		[]byte("Be thou my wisdom, and thou my true word\nI ever with thee"), 0644))

	entries := []domain.SourceFile{
		{
			Key:   domain.EntryKey("repo", "wisdom-title.song"),
			Title: "Wisdom of Ages",
			Kind:  domain.KindSong,
			Repo:  "repo",
		},
		{
			Key:   domain.EntryKey("repo", "vision.song"),
			Title: "Be Thou My Vision",
			Path:  songPath,
			Kind:  domain.KindSong,
			Repo:  "repo",
		},
	}
	idx := index.Build(1, [][]domain.SourceFile{entries}, config.CollisionLastWins)

	e := NewEngine(10)
	e.RefreshCache(idx)

	rs := e.Query(idx, "wisdom")
	require.Len(t, rs.Results, 2)
	require.True(t, rs.Results[0].TitleMatch)
	require.Equal(t, "Wisdom of Ages", rs.Results[0].File.Title)
	require.False(t, rs.Results[1].TitleMatch)
	require.Equal(t, "Be Thou My Vision", rs.Results[1].File.Title)
	require.Contains(t, rs.Results[1].Snippet, "wisdom")
}

func TestContentMatchGoneAfterInvalidate(t *testing.T) {
	dir := t.TempDir()
	songPath := filepath.Join(dir, "vision.song")
	require.NoError(t, os.WriteFile(songPath, []byte("high king of heaven"), 0644))

	entries := []domain.SourceFile{{
		Key:   domain.EntryKey("repo", "vision.song"),
		Title: "Be Thou My Vision",
		Path:  songPath,
		Kind:  domain.KindSong,
		Repo:  "repo",
	}}
	idx := index.Build(1, [][]domain.SourceFile{entries}, config.CollisionLastWins)

	e := NewEngine(10)
	e.RefreshCache(idx)
	require.Len(t, e.Query(idx, "heaven").Results, 1)

	// Without cached contents the engine does not touch the disk per query.
	require.NoError(t, os.Remove(songPath))
	e.InvalidateCache()
	require.Empty(t, e.Query(idx, "heaven").Results)
}

func TestSnippetIsBoundedAndSingleLine(t *testing.T) {
	content := "line one\nline two with the magic word inside of it\nline three continues for quite a while afterwards"
	dir := t.TempDir()
	songPath := filepath.Join(dir, "s.song")
	require.NoError(t, os.WriteFile(songPath, []byte(content), 0644))

	entries := []domain.SourceFile{{
		Key:   domain.EntryKey("repo", "s.song"),
		Title: "Some Song",
		Path:  songPath,
		Kind:  domain.KindSong,
		Repo:  "repo",
	}}
	idx := index.Build(1, [][]domain.SourceFile{entries}, config.CollisionLastWins)

	e := NewEngine(10)
	e.RefreshCache(idx)

	rs := e.Query(idx, "magic")
	require.Len(t, rs.Results, 1)
	snippet := rs.Results[0].Snippet
	require.Contains(t, snippet, "magic")
	require.NotContains(t, snippet, "\n")
	require.LessOrEqual(t, len(snippet), 2*snippetContext+len("magic")+10)
}

func TestSnippetWithLengthChangingCaseMappings(t *testing.T) {
	// U+023A lowercases to U+2C65, which is one UTF-8 byte longer, so byte
	// offsets found in the lowered text drift past the original's end.
	content := "ȺȺȺȺȺȺȺȺȺȺ grace"
	dir := t.TempDir()
	songPath := filepath.Join(dir, "s.song")
	require.NoError(t, os.WriteFile(songPath, []byte(content), 0644))

	entries := []domain.SourceFile{{
		Key:   domain.EntryKey("repo", "s.song"),
		Title: "Some Song",
		Path:  songPath,
		Kind:  domain.KindSong,
		Repo:  "repo",
	}}
	idx := index.Build(1, [][]domain.SourceFile{entries}, config.CollisionLastWins)

	e := NewEngine(10)
	e.RefreshCache(idx)

	rs := e.Query(idx, "grace")
	require.Len(t, rs.Results, 1)
	require.Contains(t, rs.Results[0].Snippet, "grace")
}

func TestNormalize(t *testing.T) {
	require.Equal(t, "amazing grace", Normalize("  AMAZING \t Grace "))
	require.Equal(t, "", Normalize("   "))
}
