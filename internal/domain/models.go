package domain

import (
	"path"
	"strings"
	"time"
)

// RepoType distinguishes the kinds of configured repositories
type RepoType string

const (
	RepoLocal     RepoType = "local"
	RepoRemoteZip RepoType = "remote-zip"
)

// RepositoryConfig describes one configured origin of source files.
// Exactly one of Path (local) or URL (remote-zip) is set, depending on Type.
// Configs are immutable; editing a repository replaces the config wholesale.
type RepositoryConfig struct {
	Type RepoType `toml:"type"`
	Path string   `toml:"path,omitempty"`
	URL  string   `toml:"url,omitempty"`
}

// Identity returns the stable identity of the repository: the local path or
// the remote URL. Two configs with the same identity are the same repository.
func (c RepositoryConfig) Identity() string {
	if c.Type == RepoRemoteZip {
		return c.URL
	}
	return c.Path
}

// String returns a short human-readable label for log lines and the UI.
func (c RepositoryConfig) String() string {
	switch c.Type {
	case RepoRemoteZip:
		return c.URL
	default:
		return c.Path
	}
}

// FileKind classifies a source file by what it contributes to a presentation
type FileKind string

const (
	KindSong         FileKind = "song"
	KindImage        FileKind = "image"
	KindPresentation FileKind = "presentation"
	KindVideo        FileKind = "video"
)

// kindByExtension maps lower-cased file extensions to kinds. Files with
// extensions not listed here are skipped during a scan.
var kindByExtension = map[string]FileKind{
	".song": KindSong,
	".jpg":  KindImage,
	".jpeg": KindImage,
	".png":  KindImage,
	".pptx": KindPresentation,
	".odp":  KindPresentation,
	".mp4":  KindVideo,
	".webm": KindVideo,
	".mov":  KindVideo,
}

// KindForExtension classifies a file extension (including the dot),
// case-insensitively. The second result is false for unrecognized extensions.
func KindForExtension(ext string) (FileKind, bool) {
	k, ok := kindByExtension[strings.ToLower(ext)]
	return k, ok
}

// SourceFile is one song/picture/presentation/video file discovered in a
// repository. Entries are value types: a scan produces a fresh snapshot,
// nothing mutates an entry in place.
type SourceFile struct {
	// Key uniquely addresses the entry across all repositories. It is derived
	// from the owning repository identity and the slash-normalized relative
	// path, so identical filenames in different repositories never collide.
	Key string

	// Title is the display name (file stem).
	Title string

	// Path is the absolute path of the file inside the repository's local root.
	Path string

	// RelPath is the slash-separated path relative to the local root.
	RelPath string

	Kind FileKind

	// Repo is the identity of the owning repository (back-reference only).
	Repo string

	ModTime time.Time
}

// EntryKey derives the unique key for a file within a repository.
// relPath must already be slash-separated.
func EntryKey(repoIdentity, relPath string) string {
	return repoIdentity + "#" + path.Clean(relPath)
}
