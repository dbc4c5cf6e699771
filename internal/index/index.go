package index

import (
	"sort"
	"strings"

	"cantara/internal/config"
	"cantara/internal/domain"
)

// Index is the merged, deduplicated collection of source file entries across
// all active repositories. An Index is an immutable snapshot: it is built
// once by a refresh and then only read, so it can be shared across the UI and
// the presentation engine without locking.
type Index struct {
	version uint64
	entries []domain.SourceFile // discovery order, collisions resolved
	byKey   map[string]int
	byTitle []int // entry positions ordered by title
}

// Empty returns the zero-version empty snapshot.
func Empty() *Index {
	return &Index{byKey: make(map[string]int)}
}

// Build merges per-source scan results, given in configuration order, into a
// new snapshot. Key collisions across repositories are resolved by policy:
// last-wins keeps the entry from the later-configured repository (replacing in
// place, so insertion order is preserved), first-wins keeps the earlier one.
func Build(version uint64, scans [][]domain.SourceFile, policy config.CollisionPolicy) *Index {
	idx := &Index{
		version: version,
		byKey:   make(map[string]int),
	}

	for _, scan := range scans {
		for _, entry := range scan {
			pos, seen := idx.byKey[entry.Key]
			if !seen {
				idx.byKey[entry.Key] = len(idx.entries)
				idx.entries = append(idx.entries, entry)
				continue
			}
			if policy != config.CollisionFirstWins {
				idx.entries[pos] = entry
			}
		}
	}

	idx.byTitle = make([]int, len(idx.entries))
	for i := range idx.byTitle {
		idx.byTitle[i] = i
	}
	sort.SliceStable(idx.byTitle, func(a, b int) bool {
		ta := strings.ToLower(idx.entries[idx.byTitle[a]].Title)
		tb := strings.ToLower(idx.entries[idx.byTitle[b]].Title)
		if ta != tb {
			return ta < tb
		}
		return idx.byTitle[a] < idx.byTitle[b]
	})

	return idx
}

// Version identifies the snapshot; each rebuild yields a higher version.
func (idx *Index) Version() uint64 { return idx.version }

// Count returns the number of entries (the "Source files: N" figure).
func (idx *Index) Count() int { return len(idx.entries) }

// All returns the entries in discovery order. The returned slice is a copy;
// callers may not mutate the snapshot through it.
func (idx *Index) All() []domain.SourceFile {
	out := make([]domain.SourceFile, len(idx.entries))
	copy(out, idx.entries)
	return out
}

// ByTitle returns the entries sorted by title (case-insensitive), ties broken
// by discovery order.
func (idx *Index) ByTitle() []domain.SourceFile {
	out := make([]domain.SourceFile, len(idx.byTitle))
	for i, pos := range idx.byTitle {
		out[i] = idx.entries[pos]
	}
	return out
}

// Resolve looks up an entry by its unique key.
func (idx *Index) Resolve(key string) (domain.SourceFile, bool) {
	pos, ok := idx.byKey[key]
	if !ok {
		return domain.SourceFile{}, false
	}
	return idx.entries[pos], true
}
