package repo

import (
	"context"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"cantara/internal/domain"
)

// Fetcher materializes a remote ZIP repository into a local directory.
// Implemented by the fetch package; declared here so sources stay decoupled
// from the HTTP/archive machinery.
type Fetcher interface {
	FetchAndExtract(ctx context.Context, url string) (string, error)
}

// Source is the runtime handle bound to one configured repository. It can
// materialize a local root directory and be scanned for source files.
type Source interface {
	Config() domain.RepositoryConfig
	Identity() string
	// Materialize resolves the repository to a readable local root directory.
	// For remote repositories this may download and extract an archive.
	Materialize(ctx context.Context) (string, error)
}

// NewSource creates the runtime handle for a repository config. fetcher is
// only consulted for remote repositories and may be nil for local ones.
func NewSource(cfg domain.RepositoryConfig, fetcher Fetcher) Source {
	if cfg.Type == domain.RepoRemoteZip {
		return &remoteSource{cfg: cfg, fetcher: fetcher}
	}
	return &localSource{cfg: cfg}
}

// localSource is a repository backed by a local directory
type localSource struct {
	cfg domain.RepositoryConfig
}

func (s *localSource) Config() domain.RepositoryConfig { return s.cfg }
func (s *localSource) Identity() string                { return s.cfg.Identity() }

func (s *localSource) Materialize(_ context.Context) (string, error) {
	info, err := os.Stat(s.cfg.Path)
	switch {
	case os.IsNotExist(err):
		return "", NewError(KindNotFound, s.Identity(), err)
	case os.IsPermission(err):
		return "", NewError(KindPermissionDenied, s.Identity(), err)
	case err != nil:
		return "", NewError(KindNotFound, s.Identity(), err)
	}
	if !info.IsDir() {
		return "", NewError(KindNotFound, s.Identity(), os.ErrInvalid)
	}
	// Probe readability up front so a permission problem surfaces as a
	// materialize failure instead of a silently empty scan.
	f, err := os.Open(s.cfg.Path)
	if err != nil {
		if os.IsPermission(err) {
			return "", NewError(KindPermissionDenied, s.Identity(), err)
		}
		return "", NewError(KindNotFound, s.Identity(), err)
	}
	f.Close()
	return s.cfg.Path, nil
}

// remoteSource is a repository backed by a ZIP archive URL
type remoteSource struct {
	cfg     domain.RepositoryConfig
	fetcher Fetcher
}

func (s *remoteSource) Config() domain.RepositoryConfig { return s.cfg }
func (s *remoteSource) Identity() string                { return s.cfg.Identity() }

func (s *remoteSource) Materialize(ctx context.Context) (string, error) {
	return s.fetcher.FetchAndExtract(ctx, s.cfg.URL)
}

// Scan walks root up to maxDepth directory levels deep and produces an entry
// for every file whose extension maps to a known kind. Unrecognized files are
// skipped silently; an empty result is a valid empty repository. The depth
// bound also guards against symlink loops.
func Scan(root, identity string, maxDepth int) []domain.SourceFile {
	var entries []domain.SourceFile

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtree: keep scanning the rest.
			log.Printf("scan: skipping %s: %v", path, err)
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}

		if d.IsDir() {
			if path == root {
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if strings.Count(rel, string(filepath.Separator))+1 > maxDepth {
				return filepath.SkipDir
			}
			return nil
		}

		kind, ok := domain.KindForExtension(filepath.Ext(d.Name()))
		if !ok {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			log.Printf("scan: stat %s: %v", path, infoErr)
			return nil
		}

		relSlash := filepath.ToSlash(rel)
		entries = append(entries, domain.SourceFile{
			Key:     domain.EntryKey(identity, relSlash),
			Title:   titleOf(d.Name()),
			Path:    path,
			RelPath: relSlash,
			Kind:    kind,
			Repo:    identity,
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		log.Printf("scan: walking %s: %v", root, err)
	}

	return entries
}

// titleOf returns the file stem used as display title.
func titleOf(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
