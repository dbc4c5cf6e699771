package manager

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cantara/internal/config"
	"cantara/internal/domain"
	"cantara/internal/eventbus"
	"cantara/internal/fetch"
	"cantara/internal/repo"
)

func writeSong(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func localRepo(path string) domain.RepositoryConfig {
	return domain.RepositoryConfig{Type: domain.RepoLocal, Path: path}
}

func newManager(t *testing.T, bus eventbus.EventBus, repos ...domain.RepositoryConfig) *Manager {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Repositories = repos
	return New(bus, fetch.NewFetcher(t.TempDir()), cfg)
}

func TestRefreshRejectsEmptyRepositorySet(t *testing.T) {
	m := newManager(t, nil)
	err := m.Refresh(context.Background())
	require.ErrorIs(t, err, config.ErrNoRepositories)
}

func TestRefreshCountsAcrossSources(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	writeSong(t, dirA, "one.song", "x")
	writeSong(t, dirA, "two.song", "x")
	writeSong(t, dirB, "three.song", "x")

	m := newManager(t, nil, localRepo(dirA), localRepo(dirB))
	require.NoError(t, m.Refresh(context.Background()))
	require.Equal(t, 3, m.Count())
}

func TestRefreshIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeSong(t, dir, "b.song", "x")
	writeSong(t, dir, "a.song", "x")

	m := newManager(t, nil, localRepo(dir))
	require.NoError(t, m.Refresh(context.Background()))
	first := m.Index().All()

	require.NoError(t, m.Refresh(context.Background()))
	second := m.Index().All()

	require.Equal(t, len(first), len(second))
	for i := range first {
		require.Equal(t, first[i].Key, second[i].Key)
		require.Equal(t, first[i].Title, second[i].Title)
	}
	require.Greater(t, m.Index().Version(), uint64(1))
}

func TestPartialFailureStillPublishesIndex(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	writeSong(t, dirA, "one.song", "x")
	writeSong(t, dirB, "two.song", "x")
	missing := filepath.Join(t.TempDir(), "gone")

	m := newManager(t, nil, localRepo(dirA), localRepo(missing), localRepo(dirB))
	err := m.Refresh(context.Background())

	var agg repo.RefreshErrors
	require.ErrorAs(t, err, &agg)
	require.Len(t, agg, 1)
	require.Equal(t, repo.KindNotFound, agg[0].Kind)
	require.Equal(t, missing, agg[0].Repo)

	require.Equal(t, 2, m.Count(), "surviving sources still contribute")
}

func TestFailedSourceKeepsLastGoodEntries(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "songs")
	writeSong(t, dir, "keep.song", "x")

	m := newManager(t, nil, localRepo(dir))
	require.NoError(t, m.Refresh(context.Background()))
	require.Equal(t, 1, m.Count())

	// Repository vanishes; its last good scan keeps serving.
	require.NoError(t, os.RemoveAll(dir))
	err := m.Refresh(context.Background())
	require.Error(t, err)
	require.Equal(t, 1, m.Count())

	entry, _, ok := m.Resolve(domain.EntryKey(dir, "keep.song"))
	require.True(t, ok)
	require.Equal(t, "keep", entry.Title)
}

func TestIdenticalFilenamesAcrossRepositoriesDoNotCollide(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	writeSong(t, dirA, "shared.song", "from A")
	writeSong(t, dirB, "shared.song", "from B")

	// Keys derive from repository identity, so identical filenames in
	// different repositories do not collide.
	m := newManager(t, nil, localRepo(dirA), localRepo(dirB))
	require.NoError(t, m.Refresh(context.Background()))
	require.Equal(t, 2, m.Count())
}

func TestResolveReturnsOwningRoot(t *testing.T) {
	dir := t.TempDir()
	writeSong(t, dir, "here.song", "content")

	m := newManager(t, nil, localRepo(dir))
	require.NoError(t, m.Refresh(context.Background()))

	entry, root, ok := m.Resolve(domain.EntryKey(dir, "here.song"))
	require.True(t, ok)
	require.Equal(t, dir, root)

	data, err := os.ReadFile(entry.Path)
	require.NoError(t, err)
	require.Equal(t, "content", string(data))

	_, _, ok = m.Resolve("unknown#key.song")
	require.False(t, ok)
}

func TestAddAndRemoveSource(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()

	m := newManager(t, nil, localRepo(dirA))
	require.False(t, m.AddSource(localRepo(dirA)), "duplicate identity is a no-op")
	require.True(t, m.AddSource(localRepo(dirB)))
	require.Len(t, m.ListSources(), 2)

	require.True(t, m.RemoveSource(dirA))
	require.False(t, m.RemoveSource(dirA))

	sources := m.ListSources()
	require.Len(t, sources, 1)
	require.Equal(t, dirB, sources[0].Identity())
}

func TestRemoteRepositoryThroughManager(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("remote hymn.song")
	require.NoError(t, err)
	_, err = w.Write([]byte("remote content"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	url := srv.URL + "/songs.zip"
	localDir := t.TempDir()
	writeSong(t, localDir, "local.song", "x")

	m := newManager(t, nil, localRepo(localDir),
		domain.RepositoryConfig{Type: domain.RepoRemoteZip, URL: url})
	require.NoError(t, m.Refresh(context.Background()))
	require.Equal(t, 2, m.Count())

	entry, root, ok := m.Resolve(domain.EntryKey(url, "remote hymn.song"))
	require.True(t, ok)
	require.Equal(t, "remote hymn", entry.Title)
	require.Equal(t, filepath.Join(root, "remote hymn.song"), entry.Path)
}

func TestSupersededRefreshIsAbandoned(t *testing.T) {
	dir := t.TempDir()
	writeSong(t, dir, "a.song", "x")

	m := newManager(t, nil, localRepo(dir))

	// Simulate a newer refresh finishing while an older one is in flight: the
	// older generation observes the bump and must not publish.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Refresh(context.Background())
		}()
	}
	wg.Wait()

	// Whatever interleaving happened, the published snapshot is consistent.
	require.Equal(t, 1, m.Count())
	require.NoError(t, m.Refresh(context.Background()))
	require.Equal(t, 1, m.Count())
}

func TestPublishedVersionNeverGoesBackward(t *testing.T) {
	dir := t.TempDir()
	writeSong(t, dir, "a.song", "x")

	m := newManager(t, nil, localRepo(dir))

	// An older refresh must not overwrite a newer snapshot, so the version
	// observed through the published pointer only ever increases.
	var regressed atomic.Bool
	stop := make(chan struct{})
	watcher := make(chan struct{})
	go func() {
		defer close(watcher)
		var last uint64
		for {
			select {
			case <-stop:
				return
			default:
			}
			v := m.Index().Version()
			if v < last {
				regressed.Store(true)
				return
			}
			last = v
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Refresh(context.Background())
		}()
	}
	wg.Wait()

	close(stop)
	<-watcher
	require.False(t, regressed.Load(), "published index version regressed")
}

func TestRefreshPublishesEvents(t *testing.T) {
	dir := t.TempDir()
	writeSong(t, dir, "a.song", "x")
	missing := filepath.Join(t.TempDir(), "gone")

	bus := eventbus.New()
	defer bus.Close()

	var mu sync.Mutex
	var updated *eventbus.IndexUpdatedEvent
	var failed *eventbus.SourceFailedEvent
	var completed *eventbus.RefreshCompletedEvent
	bus.Subscribe(eventbus.EventIndexUpdated, func(e eventbus.DomainEvent) {
		mu.Lock()
		defer mu.Unlock()
		ev := e.(eventbus.IndexUpdatedEvent)
		updated = &ev
	})
	bus.Subscribe(eventbus.EventSourceFailed, func(e eventbus.DomainEvent) {
		mu.Lock()
		defer mu.Unlock()
		ev := e.(eventbus.SourceFailedEvent)
		failed = &ev
	})
	bus.Subscribe(eventbus.EventRefreshCompleted, func(e eventbus.DomainEvent) {
		mu.Lock()
		defer mu.Unlock()
		ev := e.(eventbus.RefreshCompletedEvent)
		completed = &ev
	})

	m := newManager(t, bus, localRepo(dir), localRepo(missing))
	require.Error(t, m.Refresh(context.Background()))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return updated != nil && failed != nil && completed != nil
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, updated.Count)
	require.Equal(t, missing, failed.Identity)
	require.False(t, failed.Stale)
	require.Equal(t, 1, completed.Failures)
}

func TestRefreshRequestedEventTriggersRefresh(t *testing.T) {
	dir := t.TempDir()
	writeSong(t, dir, "a.song", "x")

	bus := eventbus.New()
	defer bus.Close()

	m := newManager(t, bus, localRepo(dir))
	m.PublishRefresh(false)

	require.Eventually(t, func() bool {
		return m.Count() == 1
	}, 2*time.Second, 10*time.Millisecond)
}
