package search

import (
	"os"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"cantara/internal/domain"
	"cantara/internal/index"
)

// snippetContext is the number of characters kept around a content match.
const snippetContext = 30

// Result is one search hit, addressable by its 1-based ordinal for the
// keyboard-number shortcut.
type Result struct {
	Ordinal    int
	File       domain.SourceFile
	TitleMatch bool
	// Snippet holds the text around a content match ("" for title matches).
	Snippet string
}

// ResultSet is the ranked, bounded outcome of one query. It is rebuilt fully
// on every query change.
type ResultSet struct {
	Query     string
	Results   []Result
	Truncated bool
}

// Select resolves a 1-based ordinal to an entry. Out-of-range ordinals yield
// no selection, so stray number keys are harmless.
func (rs ResultSet) Select(ordinal int) (domain.SourceFile, bool) {
	if ordinal < 1 || ordinal > len(rs.Results) {
		return domain.SourceFile{}, false
	}
	return rs.Results[ordinal-1].File, true
}

// Normalize lower-cases a query and collapses runs of whitespace.
func Normalize(raw string) string {
	return strings.Join(strings.Fields(strings.ToLower(raw)), " ")
}

// Engine performs incremental search over an index snapshot. Queries run
// synchronously and never touch the network; song file contents are served
// from an in-memory cache refreshed when the index changes.
type Engine struct {
	maxResults int

	mu       sync.Mutex
	contents map[string]string // file path -> song text
}

// NewEngine creates a search engine capping result sets at maxResults.
func NewEngine(maxResults int) *Engine {
	return &Engine{
		maxResults: maxResults,
		contents:   make(map[string]string),
	}
}

// RefreshCache re-reads the text of every song entry in the snapshot.
// Unreadable files are skipped; they simply won't content-match.
func (e *Engine) RefreshCache(idx *index.Index) {
	fresh := make(map[string]string)
	for _, entry := range idx.All() {
		if entry.Kind != domain.KindSong {
			continue
		}
		data, err := os.ReadFile(entry.Path)
		if err != nil {
			continue
		}
		fresh[entry.Path] = string(data)
	}

	e.mu.Lock()
	e.contents = fresh
	e.mu.Unlock()
}

// InvalidateCache drops all cached song contents.
func (e *Engine) InvalidateCache() {
	e.mu.Lock()
	e.contents = make(map[string]string)
	e.mu.Unlock()
}

// Query matches the normalized query against the snapshot. Title matches come
// first in discovery order; song-content matches follow, ordered by title. An
// empty query yields an empty result set. Results beyond the cap are omitted
// and the set is marked truncated.
func (e *Engine) Query(idx *index.Index, raw string) ResultSet {
	rs := ResultSet{Query: raw}
	query := Normalize(raw)
	if query == "" {
		return rs
	}

	matchedKeys := make(map[string]bool)
	for _, entry := range idx.All() {
		if strings.Contains(Normalize(entry.Title), query) {
			matchedKeys[entry.Key] = true
			rs.Results = append(rs.Results, Result{File: entry, TitleMatch: true})
		}
	}

	var contentHits []Result
	for _, entry := range idx.All() {
		if entry.Kind != domain.KindSong || matchedKeys[entry.Key] {
			continue
		}
		content, ok := e.content(entry.Path)
		if !ok {
			continue
		}
		lower := strings.ToLower(content)
		pos := strings.Index(lower, query)
		if pos < 0 {
			continue
		}
		contentHits = append(contentHits, Result{
			File:    entry,
			Snippet: snippetAround(content, lower, pos, query),
		})
	}
	sort.SliceStable(contentHits, func(a, b int) bool {
		return strings.ToLower(contentHits[a].File.Title) < strings.ToLower(contentHits[b].File.Title)
	})
	rs.Results = append(rs.Results, contentHits...)

	if len(rs.Results) > e.maxResults {
		rs.Results = rs.Results[:e.maxResults]
		rs.Truncated = true
	}
	for i := range rs.Results {
		rs.Results[i].Ordinal = i + 1
	}
	return rs
}

func (e *Engine) content(path string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.contents[path]
	return c, ok
}

// snippetAround cuts the text surrounding a match, on rune boundaries,
// collapsing newlines for single-line display. The match position is a byte
// offset into lower, the lowercased form of content; lowering can change byte
// lengths, so offsets are carried over as rune counts (ToLower maps runes one
// to one) and clamped to the original text.
func snippetAround(content, lower string, pos int, query string) string {
	runes := []rune(content)

	matchStart := utf8.RuneCountInString(lower[:pos])
	matchLen := utf8.RuneCountInString(query)

	start := matchStart - snippetContext
	if start < 0 {
		start = 0
	}
	if start > len(runes) {
		start = len(runes)
	}
	end := matchStart + matchLen + snippetContext
	if end > len(runes) {
		end = len(runes)
	}

	snippet := string(runes[start:end])
	return strings.Join(strings.Fields(snippet), " ")
}
