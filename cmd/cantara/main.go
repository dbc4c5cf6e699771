package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"cantara/internal/config"
	"cantara/internal/domain"
	"cantara/internal/eventbus"
	"cantara/internal/fetch"
	"cantara/internal/manager"
	"cantara/internal/search"
	"cantara/internal/ui"
)

func main() {
	// Optional .env with CANTARA_* overrides; missing file is fine.
	_ = godotenv.Load()

	var (
		configPath string
		addDir     string
		addURL     string
		hardFetch  bool
	)
	flag.StringVar(&configPath, "config", os.Getenv("CANTARA_CONFIG"), "Path to the settings file")
	flag.StringVar(&addDir, "dir", "", "Add a local song folder as repository")
	flag.StringVar(&addURL, "url", "", "Add a remote ZIP repository URL")
	flag.BoolVar(&hardFetch, "refresh", false, "Discard remote archive caches before the first refresh")
	flag.Parse()

	// Set up logging
	logFile, err := os.OpenFile("cantara.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		log.Printf("Could not open log file: %v", err)
	} else {
		defer logFile.Close()
		log.SetOutput(logFile)
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	// Create event bus
	bus := eventbus.New()
	defer bus.Close()

	// Load configuration
	var configSvc config.ConfigService
	if configPath != "" {
		configSvc = config.NewConfigServiceAt(configPath, bus)
	} else {
		configSvc = config.NewConfigServiceWithBus(bus)
	}
	cfg, err := configSvc.Load()
	if err != nil {
		log.Printf("Error loading config: %v", err)
		cfg = config.DefaultConfig()
	}

	configChanged := false
	if addDir != "" {
		absDir, err := filepath.Abs(addDir)
		if err != nil {
			fmt.Printf("Error resolving path %q: %v\n", addDir, err)
			os.Exit(1)
		}
		if cfg.AddRepository(domain.RepositoryConfig{Type: domain.RepoLocal, Path: absDir}) {
			configChanged = true
		}
	}
	if addURL != "" {
		// Syntactic check only, no network round-trip.
		if err := fetch.ValidateURL(addURL); err != nil {
			fmt.Printf("URL is invalid: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("URL is valid")
		if cfg.AddRepository(domain.RepositoryConfig{Type: domain.RepoRemoteZip, URL: addURL}) {
			configChanged = true
		}
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("Configuration error: %v\n", err)
		fmt.Println("Add a song repository with -dir <folder> or -url <zip-url>.")
		os.Exit(1)
	}

	if configChanged {
		if err := configSvc.Save(cfg); err != nil {
			log.Printf("Failed to save config: %v", err)
		}
	}

	// Persist repository-set changes made at runtime
	bus.Subscribe(eventbus.EventConfigChanged, func(e eventbus.DomainEvent) {
		if event, ok := e.(eventbus.ConfigChangedEvent); ok {
			cfg.Repositories = event.Repositories
			if err := configSvc.Save(cfg); err != nil {
				log.Printf("Failed to save config: %v", err)
			}
		}
	})

	// Remote archive cache location
	cacheDir := os.Getenv("CANTARA_CACHE_DIR")
	if cacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = os.TempDir()
		}
		cacheDir = filepath.Join(base, "cantara", "repositories")
	}

	// Initialize services
	fetcher := fetch.NewFetcher(cacheDir)
	mgr := manager.New(bus, fetcher, cfg)
	engine := search.NewEngine(cfg.Search.MaxResults)

	// Create UI model
	uiModel := ui.NewModel(mgr, engine)
	p := tea.NewProgram(uiModel, tea.WithAltScreen())
	uiModel.SetProgram(p)

	// Set up event forwarding to UI
	eventChan := make(chan eventbus.DomainEvent, 100)
	forward := func(e eventbus.DomainEvent) {
		select {
		case eventChan <- e:
		default:
			log.Println("Event channel full, dropping event")
		}
	}
	for _, et := range []eventbus.EventType{
		eventbus.EventRefreshStarted,
		eventbus.EventSourceScanned,
		eventbus.EventSourceFailed,
		eventbus.EventIndexUpdated,
		eventbus.EventRefreshCompleted,
		eventbus.EventError,
	} {
		bus.Subscribe(et, forward)
	}

	// Start forwarding events to UI in background
	go func() {
		for event := range eventChan {
			p.Send(ui.EventMsg{Event: event})
		}
	}()

	// Kick off the initial refresh in the background
	go func() {
		if hardFetch {
			mgr.InvalidateCaches()
		}
		if err := mgr.Refresh(ctx); err != nil {
			log.Printf("Initial refresh: %v", err)
		}
	}()

	// Run the UI
	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running program: %v\n", err)
		os.Exit(1)
	}

	// Cleanup
	close(eventChan)
	cancel()
}
