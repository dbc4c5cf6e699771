package fetch

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cantara/internal/repo"
)

const (
	// maxDownloadBytes bounds the size of a remote archive.
	maxDownloadBytes = 256 << 20
	// maxEntryBytes bounds a single extracted file (zip-bomb guard).
	maxEntryBytes = 512 << 20

	contentDirName = "content"
	etagFileName   = "etag"
)

// Fetcher downloads remote ZIP repositories and maintains a local extraction
// cache keyed by URL. A cached extraction is only replaced after a complete
// archive has been downloaded and fully extracted; until then the previous
// copy keeps serving.
type Fetcher struct {
	client   *http.Client
	cacheDir string

	mu     sync.Mutex
	perURL map[string]*sync.Mutex
}

// NewFetcher creates a fetcher caching extractions under cacheDir.
func NewFetcher(cacheDir string) *Fetcher {
	return &Fetcher{
		client:   &http.Client{Timeout: 30 * time.Second},
		cacheDir: cacheDir,
		perURL:   make(map[string]*sync.Mutex),
	}
}

// NewFetcherWithClient allows injecting an HTTP client (tests).
func NewFetcherWithClient(cacheDir string, client *http.Client) *Fetcher {
	f := NewFetcher(cacheDir)
	f.client = client
	return f
}

// ValidateURL checks a repository URL syntactically, without any network
// access. Returns a KindInvalidURL error for anything that is not an absolute
// http(s) URL with a host.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return repo.NewError(repo.KindInvalidURL, "", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return repo.NewError(repo.KindInvalidURL, "", fmt.Errorf("unsupported scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return repo.NewError(repo.KindInvalidURL, "", fmt.Errorf("missing host in %q", raw))
	}
	return nil
}

// FetchAndExtract downloads the archive at rawURL and returns the directory
// holding its extracted contents. When the download or extraction fails but a
// previous extraction exists, that previous root is returned together with the
// error, so callers can fall back to stale-but-available content. At most one
// fetch per URL runs at a time; concurrent callers for the same URL wait.
func (f *Fetcher) FetchAndExtract(ctx context.Context, rawURL string) (string, error) {
	if err := ValidateURL(rawURL); err != nil {
		return "", err
	}

	lock := f.urlLock(rawURL)
	lock.Lock()
	defer lock.Unlock()

	entryDir := f.entryDir(rawURL)
	contentDir := filepath.Join(entryDir, contentDirName)
	cached := dirExists(contentDir)

	root, err := f.fetchLocked(ctx, rawURL, entryDir, contentDir, cached)
	if err != nil && cached {
		// The previous extraction stays valid; report the failure as a
		// warning alongside the stale root.
		log.Printf("fetch: %s failed (%v), serving cached copy", rawURL, err)
		return contentDir, err
	}
	return root, err
}

// Invalidate discards the cached extraction for a URL. The next fetch starts
// from scratch.
func (f *Fetcher) Invalidate(rawURL string) error {
	lock := f.urlLock(rawURL)
	lock.Lock()
	defer lock.Unlock()
	return os.RemoveAll(f.entryDir(rawURL))
}

// CachedRoot returns the extraction root for a URL if one exists on disk.
func (f *Fetcher) CachedRoot(rawURL string) (string, bool) {
	contentDir := filepath.Join(f.entryDir(rawURL), contentDirName)
	return contentDir, dirExists(contentDir)
}

func (f *Fetcher) fetchLocked(ctx context.Context, rawURL, entryDir, contentDir string, cached bool) (string, error) {
	if err := os.MkdirAll(entryDir, 0755); err != nil {
		return "", repo.NewError(repo.KindArchive, rawURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", repo.NewError(repo.KindInvalidURL, rawURL, err)
	}
	if cached {
		if etag := f.readETag(entryDir); etag != "" {
			req.Header.Set("If-None-Match", etag)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", repo.NewError(repo.KindNetwork, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && cached {
		return contentDir, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", repo.NewError(repo.KindNetwork, rawURL, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	// Download fully to a temporary file before touching the cache.
	tmpZip, err := os.CreateTemp(entryDir, "download-*.zip")
	if err != nil {
		return "", repo.NewError(repo.KindArchive, rawURL, err)
	}
	defer os.Remove(tmpZip.Name())

	n, err := io.Copy(tmpZip, io.LimitReader(resp.Body, maxDownloadBytes+1))
	if closeErr := tmpZip.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", repo.NewError(repo.KindNetwork, rawURL, err)
	}
	if n > maxDownloadBytes {
		return "", repo.NewError(repo.KindArchive, rawURL, fmt.Errorf("archive exceeds %d bytes", int64(maxDownloadBytes)))
	}

	partial, err := os.MkdirTemp(entryDir, "extract-*")
	if err != nil {
		return "", repo.NewError(repo.KindArchive, rawURL, err)
	}
	if err := extractZip(tmpZip.Name(), partial, rawURL); err != nil {
		os.RemoveAll(partial)
		return "", err
	}

	// Atomically swap the new extraction in; only remove the old copy after
	// the new one is in place.
	if err := swapDirs(partial, contentDir); err != nil {
		os.RemoveAll(partial)
		return "", repo.NewError(repo.KindArchive, rawURL, err)
	}

	f.writeETag(entryDir, resp.Header.Get("ETag"))
	return contentDir, nil
}

// extractZip extracts the archive into destRoot, rejecting entries whose
// resolved path would escape it.
func extractZip(zipPath, destRoot, rawURL string) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return repo.NewError(repo.KindArchive, rawURL, err)
	}
	defer zr.Close()

	// Validate every entry name before writing anything, so a hostile
	// archive leaves no partial files behind.
	for _, zf := range zr.File {
		if !entryPathIsLocal(zf.Name) {
			return repo.NewError(repo.KindUnsafeArchive, rawURL,
				fmt.Errorf("archive entry %q escapes extraction root", zf.Name))
		}
	}

	for _, zf := range zr.File {
		target := filepath.Join(destRoot, filepath.FromSlash(zf.Name))
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return repo.NewError(repo.KindArchive, rawURL, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return repo.NewError(repo.KindArchive, rawURL, err)
		}
		if err := extractEntry(zf, target); err != nil {
			return repo.NewError(repo.KindArchive, rawURL, err)
		}
	}
	return nil
}

func extractEntry(zf *zip.File, target string) error {
	rc, err := zf.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", zf.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create %s: %w", zf.Name, err)
	}
	defer out.Close()

	n, err := io.Copy(out, io.LimitReader(rc, maxEntryBytes+1))
	if err != nil {
		return fmt.Errorf("write %s: %w", zf.Name, err)
	}
	if n > maxEntryBytes {
		return fmt.Errorf("entry %s exceeds %d bytes", zf.Name, int64(maxEntryBytes))
	}
	return nil
}

// entryPathIsLocal reports whether a ZIP entry name stays inside the
// extraction root: relative, no drive letter, no '..' escape.
func entryPathIsLocal(name string) bool {
	if name == "" {
		return false
	}
	if strings.Contains(name, "\x00") {
		return false
	}
	// ZIP names are slash-separated; normalize Windows-style names too.
	n := strings.ReplaceAll(name, "\\", "/")
	return filepath.IsLocal(filepath.FromSlash(n))
}

// swapDirs replaces dest with src, keeping the previous dest until the new
// one has been renamed into place.
func swapDirs(src, dest string) error {
	old := dest + ".old"
	_ = os.RemoveAll(old)
	if dirExists(dest) {
		if err := os.Rename(dest, old); err != nil {
			return err
		}
	}
	if err := os.Rename(src, dest); err != nil {
		// Try to roll the previous copy back.
		if dirExists(old) {
			_ = os.Rename(old, dest)
		}
		return err
	}
	_ = os.RemoveAll(old)
	return nil
}

func (f *Fetcher) entryDir(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *Fetcher) urlLock(rawURL string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	lock, ok := f.perURL[rawURL]
	if !ok {
		lock = &sync.Mutex{}
		f.perURL[rawURL] = lock
	}
	return lock
}

func (f *Fetcher) readETag(entryDir string) string {
	data, err := os.ReadFile(filepath.Join(entryDir, etagFileName))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (f *Fetcher) writeETag(entryDir, etag string) {
	path := filepath.Join(entryDir, etagFileName)
	if etag == "" {
		_ = os.Remove(path)
		return
	}
	if err := os.WriteFile(path, []byte(etag), 0644); err != nil {
		log.Printf("fetch: writing etag: %v", err)
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
