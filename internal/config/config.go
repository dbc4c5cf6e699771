package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"cantara/internal/domain"
	"cantara/internal/eventbus"
)

// ErrNoRepositories is returned when a configuration contains no repositories.
// At least one repository is required; callers (wizard, flags) must prevent an
// empty set rather than let the core run against nothing.
var ErrNoRepositories = errors.New("no repositories configured")

// CollisionPolicy decides which entry wins when two repositories produce the
// same derived key.
type CollisionPolicy string

const (
	// CollisionLastWins keeps the entry from the repository configured later.
	CollisionLastWins CollisionPolicy = "last-wins"
	// CollisionFirstWins keeps the entry from the repository configured first.
	CollisionFirstWins CollisionPolicy = "first-wins"
)

// Defaults for the policy knobs.
const (
	DefaultScanDepth  = 6
	DefaultMaxResults = 50
)

// Config represents the application configuration
type Config struct {
	Version      int                       `toml:"version"`
	Repositories []domain.RepositoryConfig `toml:"repositories"`
	Scan         ScanSettings              `toml:"scan"`
	Search       SearchSettings            `toml:"search"`
}

// ScanSettings holds repository scanning knobs
type ScanSettings struct {
	// MaxDepth bounds recursive directory traversal (guards symlink loops).
	MaxDepth int `toml:"max_depth"`
	// Collision selects the key-collision policy across repositories.
	Collision CollisionPolicy `toml:"collision"`
}

// SearchSettings holds search knobs
type SearchSettings struct {
	// MaxResults caps the size of a result set.
	MaxResults int `toml:"max_results"`
}

// AddRepository appends a repository unless one with the same identity is
// already configured. Reports whether the set changed.
func (c *Config) AddRepository(rc domain.RepositoryConfig) bool {
	for _, existing := range c.Repositories {
		if existing.Identity() == rc.Identity() {
			return false
		}
	}
	c.Repositories = append(c.Repositories, rc)
	return true
}

// RemoveRepository removes the repository with the given identity.
// Reports whether the set changed.
func (c *Config) RemoveRepository(identity string) bool {
	for i, existing := range c.Repositories {
		if existing.Identity() == identity {
			c.Repositories = append(c.Repositories[:i], c.Repositories[i+1:]...)
			return true
		}
	}
	return false
}

// Validate checks the configuration for use by the repository manager.
func (c *Config) Validate() error {
	if len(c.Repositories) == 0 {
		return ErrNoRepositories
	}
	for _, rc := range c.Repositories {
		switch rc.Type {
		case domain.RepoLocal:
			if rc.Path == "" {
				return fmt.Errorf("local repository with empty path")
			}
		case domain.RepoRemoteZip:
			if rc.URL == "" {
				return fmt.Errorf("remote repository with empty url")
			}
		default:
			return fmt.Errorf("unknown repository type %q", rc.Type)
		}
	}
	return nil
}

// ConfigService handles configuration management
type ConfigService interface {
	Load() (*Config, error)
	Save(config *Config) error
	LoadFromPath(path string) (*Config, error)
	SaveToPath(config *Config, path string) error
	Path() string
}

// configService is the concrete implementation
type configService struct {
	bus      eventbus.EventBus
	filePath string
}

// NewConfigService creates a config service storing settings in the platform
// user config directory.
func NewConfigService() ConfigService {
	configDir, err := os.UserConfigDir()
	if err != nil {
		// Fallback to home directory
		configDir, err = os.UserHomeDir()
		if err != nil {
			configDir = "."
		}
		configDir = filepath.Join(configDir, ".config")
	}

	cantaraDir := filepath.Join(configDir, "cantara")
	_ = os.MkdirAll(cantaraDir, 0755)

	return &configService{
		filePath: filepath.Join(cantaraDir, "settings.toml"),
	}
}

// NewConfigServiceWithBus creates a config service with event bus support
func NewConfigServiceWithBus(bus eventbus.EventBus) ConfigService {
	cs := NewConfigService().(*configService)
	cs.bus = bus
	return cs
}

// NewConfigServiceAt creates a config service bound to an explicit file path.
func NewConfigServiceAt(path string, bus eventbus.EventBus) ConfigService {
	return &configService{bus: bus, filePath: path}
}

// Path returns the settings file location.
func (cs *configService) Path() string {
	return cs.filePath
}

// Load loads the configuration from the service's settings file. A missing
// file yields the default configuration, not an error.
func (cs *configService) Load() (*Config, error) {
	if _, err := os.Stat(cs.filePath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if cs.bus != nil {
			cs.bus.Publish(eventbus.ConfigLoadedEvent{Repositories: cfg.Repositories})
		}
		return cfg, nil
	}

	cfg, err := cs.LoadFromPath(cs.filePath)
	if err != nil {
		return nil, err
	}

	if cs.bus != nil {
		cs.bus.Publish(eventbus.ConfigLoadedEvent{Repositories: cfg.Repositories})
	}
	return cfg, nil
}

// Save saves the configuration to the service's settings file.
func (cs *configService) Save(config *Config) error {
	if err := cs.SaveToPath(config, cs.filePath); err != nil {
		return err
	}
	if cs.bus != nil {
		cs.bus.Publish(eventbus.ConfigSavedEvent{})
	}
	return nil
}

// LoadFromPath loads configuration from a specific path
func (cs *configService) LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// SaveToPath saves configuration to a specific path
func (cs *configService) SaveToPath(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	cfg := &Config{Version: 1}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Scan.MaxDepth <= 0 {
		cfg.Scan.MaxDepth = DefaultScanDepth
	}
	if cfg.Scan.Collision == "" {
		cfg.Scan.Collision = CollisionLastWins
	}
	if cfg.Search.MaxResults <= 0 {
		cfg.Search.MaxResults = DefaultMaxResults
	}
}
