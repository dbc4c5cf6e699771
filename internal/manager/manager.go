package manager

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"cantara/internal/config"
	"cantara/internal/domain"
	"cantara/internal/eventbus"
	"cantara/internal/fetch"
	"cantara/internal/index"
	"cantara/internal/repo"
)

// maxConcurrentScans limits how many sources materialize at the same time.
const maxConcurrentScans = 5

// Manager owns the set of configured repository sources and the published
// index snapshot. All mutation goes through the manager; consumers only ever
// see immutable snapshots.
type Manager struct {
	bus     eventbus.EventBus
	fetcher *fetch.Fetcher

	scanDepth int
	policy    config.CollisionPolicy

	mu       sync.Mutex
	sources  []repo.Source                  // configuration order
	lastGood map[string][]domain.SourceFile // identity -> last successful scan
	roots    map[string]string              // identity -> materialized local root
	locks    map[string]*sync.Mutex         // identity -> per-source serialization

	generation atomic.Uint64
	current    atomic.Pointer[index.Index]
	workers    chan struct{}
}

// New creates a manager for the repositories in cfg. It subscribes to
// refresh-request events on the bus.
func New(bus eventbus.EventBus, fetcher *fetch.Fetcher, cfg *config.Config) *Manager {
	m := &Manager{
		bus:       bus,
		fetcher:   fetcher,
		scanDepth: cfg.Scan.MaxDepth,
		policy:    cfg.Scan.Collision,
		lastGood:  make(map[string][]domain.SourceFile),
		roots:     make(map[string]string),
		locks:     make(map[string]*sync.Mutex),
		workers:   make(chan struct{}, maxConcurrentScans),
	}
	m.current.Store(index.Empty())

	for _, rc := range cfg.Repositories {
		m.sources = append(m.sources, repo.NewSource(rc, fetcher))
	}

	if bus != nil {
		bus.Subscribe(eventbus.EventRefreshRequested, func(e eventbus.DomainEvent) {
			event, ok := e.(eventbus.RefreshRequestedEvent)
			if !ok {
				return
			}
			go func() {
				if event.Invalidate {
					m.InvalidateCaches()
				}
				if err := m.Refresh(context.Background()); err != nil {
					log.Printf("manager: refresh: %v", err)
				}
			}()
		})
	}

	return m
}

// AddSource adds a repository. Adding an already-configured identity is a
// no-op. Reports whether the set changed.
func (m *Manager) AddSource(rc domain.RepositoryConfig) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sources {
		if s.Identity() == rc.Identity() {
			return false
		}
	}
	m.sources = append(m.sources, repo.NewSource(rc, m.fetcher))
	m.publishConfigChanged()
	return true
}

// RemoveSource removes the repository with the given identity, discarding its
// cached scan and, for remote repositories, its archive cache.
func (m *Manager) RemoveSource(identity string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.sources {
		if s.Identity() != identity {
			continue
		}
		removed := s.Config()
		m.sources = append(m.sources[:i], m.sources[i+1:]...)
		delete(m.lastGood, identity)
		delete(m.roots, identity)
		if removed.Type == domain.RepoRemoteZip && m.fetcher != nil {
			if err := m.fetcher.Invalidate(removed.URL); err != nil {
				log.Printf("manager: invalidating cache for %s: %v", removed.URL, err)
			}
		}
		m.publishConfigChanged()
		return true
	}
	return false
}

// ListSources returns the configured repositories in configuration order.
func (m *Manager) ListSources() []domain.RepositoryConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.RepositoryConfig, len(m.sources))
	for i, s := range m.sources {
		out[i] = s.Config()
	}
	return out
}

// InvalidateCaches discards the archive cache of every remote repository, so
// the next refresh downloads afresh.
func (m *Manager) InvalidateCaches() {
	if m.fetcher == nil {
		return
	}
	for _, rc := range m.ListSources() {
		if rc.Type != domain.RepoRemoteZip {
			continue
		}
		if err := m.fetcher.Invalidate(rc.URL); err != nil {
			log.Printf("manager: invalidating cache for %s: %v", rc.URL, err)
		}
	}
}

// sourceResult carries the outcome of one source's materialize+scan.
type sourceResult struct {
	identity string
	entries  []domain.SourceFile
	root     string
	err      *repo.Error
	ok       bool // entries are fresh (scan ran against a materialized root)
}

// Refresh re-materializes and re-scans every source and publishes a new index
// snapshot. Sources run concurrently; operations on the same source are
// serialized. Per-source failures are collected, not short-circuited: a failed
// source keeps contributing its last-known-good entries and the snapshot is
// still published. When a newer refresh supersedes this one, its results are
// abandoned without publishing.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	sources := make([]repo.Source, len(m.sources))
	copy(sources, m.sources)
	m.mu.Unlock()

	if len(sources) == 0 {
		return config.ErrNoRepositories
	}

	gen := m.generation.Add(1)

	configs := make([]domain.RepositoryConfig, len(sources))
	for i, s := range sources {
		configs[i] = s.Config()
	}
	m.publish(eventbus.RefreshStartedEvent{Repositories: configs})

	results := make([]sourceResult, len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src repo.Source) {
			defer wg.Done()
			m.workers <- struct{}{}
			defer func() { <-m.workers }()
			results[i] = m.refreshSource(ctx, src)
		}(i, src)
	}
	wg.Wait()

	var failures repo.RefreshErrors
	scans := make([][]domain.SourceFile, 0, len(results))

	// The supersede check, the last-good merge, and the snapshot store must
	// sit in one critical section: a newer refresh checking after us also
	// stores after us, so the published version never goes backward.
	m.mu.Lock()
	if gen != m.generation.Load() {
		m.mu.Unlock()
		log.Printf("manager: refresh %d superseded, abandoning", gen)
		return nil
	}
	for _, res := range results {
		if res.ok {
			m.lastGood[res.identity] = res.entries
			m.roots[res.identity] = res.root
			scans = append(scans, res.entries)
		} else {
			// Stale-but-available: the last good scan keeps serving.
			scans = append(scans, m.lastGood[res.identity])
		}
		if res.err != nil {
			failures = append(failures, res.err)
		}
	}
	idx := index.Build(gen, scans, m.policy)
	m.current.Store(idx)
	m.mu.Unlock()

	m.publish(eventbus.IndexUpdatedEvent{Version: idx.Version(), Count: idx.Count()})

	var err error
	if len(failures) > 0 {
		err = failures
	}
	m.publish(eventbus.RefreshCompletedEvent{Failures: len(failures), Err: err})
	return err
}

// refreshSource materializes and scans a single source, holding its
// per-identity lock so at most one operation per repository runs at a time.
func (m *Manager) refreshSource(ctx context.Context, src repo.Source) sourceResult {
	identity := src.Identity()
	lock := m.sourceLock(identity)
	lock.Lock()
	defer lock.Unlock()

	res := sourceResult{identity: identity}

	if ctx.Err() != nil {
		res.err = repo.NewError(repo.KindNetwork, identity, ctx.Err())
		m.publishSourceFailure(res)
		return res
	}

	root, err := src.Materialize(ctx)
	if err != nil {
		var re *repo.Error
		if !errors.As(err, &re) {
			re = repo.NewError(repo.KindNetwork, identity, err)
		}
		res.err = re
		if root == "" {
			m.publishSourceFailure(res)
			return res
		}
		// A stale cached root is still scannable; keep the warning.
	}

	res.entries = repo.Scan(root, identity, m.scanDepth)
	res.root = root
	res.ok = true
	m.publish(eventbus.SourceScannedEvent{Identity: identity, Count: len(res.entries)})
	if res.err != nil {
		m.publishSourceFailure(res)
	}
	return res
}

// PublishRefresh asks for a refresh via the bus, so the request is handled
// off the caller's goroutine (the UI thread never blocks on I/O).
func (m *Manager) PublishRefresh(invalidate bool) {
	m.publish(eventbus.RefreshRequestedEvent{Invalidate: invalidate})
}

// Resolve looks up an entry by unique key in the current snapshot, together
// with its owning repository's local root, so callers can load the file bytes.
func (m *Manager) Resolve(key string) (domain.SourceFile, string, bool) {
	entry, ok := m.current.Load().Resolve(key)
	if !ok {
		return domain.SourceFile{}, "", false
	}
	m.mu.Lock()
	root := m.roots[entry.Repo]
	m.mu.Unlock()
	return entry, root, true
}

// Index returns the last-published snapshot. Never nil.
func (m *Manager) Index() *index.Index {
	return m.current.Load()
}

// Count returns the number of entries in the current snapshot.
func (m *Manager) Count() int {
	return m.current.Load().Count()
}

func (m *Manager) sourceLock(identity string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[identity]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[identity] = lock
	}
	return lock
}

// publishConfigChanged must be called with m.mu held.
func (m *Manager) publishConfigChanged() {
	if m.bus == nil {
		return
	}
	configs := make([]domain.RepositoryConfig, len(m.sources))
	for i, s := range m.sources {
		configs[i] = s.Config()
	}
	m.bus.Publish(eventbus.ConfigChangedEvent{Repositories: configs})
}

func (m *Manager) publishSourceFailure(res sourceResult) {
	m.mu.Lock()
	_, stale := m.lastGood[res.identity]
	m.mu.Unlock()
	m.publish(eventbus.SourceFailedEvent{Identity: res.identity, Err: res.err, Stale: stale})
}

func (m *Manager) publish(e eventbus.DomainEvent) {
	if m.bus != nil {
		m.bus.Publish(e)
	}
}
