package domain

// EventType represents the type of domain event
type EventType string

// Event types
const (
	EventConfigLoaded     EventType = "ConfigLoaded"
	EventConfigSaved      EventType = "ConfigSaved"
	EventConfigChanged    EventType = "ConfigChanged"
	EventRefreshRequested EventType = "RefreshRequested"
	EventRefreshStarted   EventType = "RefreshStarted"
	EventSourceScanned    EventType = "SourceScanned"
	EventSourceFailed     EventType = "SourceFailed"
	EventIndexUpdated     EventType = "IndexUpdated"
	EventRefreshCompleted EventType = "RefreshCompleted"
	EventError            EventType = "Error"
)

// DomainEvent is the interface for all domain events
type DomainEvent interface {
	Type() EventType
}

// ConfigLoadedEvent is emitted when the settings file has been read
type ConfigLoadedEvent struct {
	Repositories []RepositoryConfig
}

func (e ConfigLoadedEvent) Type() EventType { return EventConfigLoaded }

// ConfigSavedEvent is emitted after the settings file has been written
type ConfigSavedEvent struct{}

func (e ConfigSavedEvent) Type() EventType { return EventConfigSaved }

// ConfigChangedEvent is emitted when the repository set changed and the
// settings need to be persisted
type ConfigChangedEvent struct {
	Repositories []RepositoryConfig
}

func (e ConfigChangedEvent) Type() EventType { return EventConfigChanged }

// RefreshRequestedEvent asks the repository manager to re-materialize and
// re-scan every configured source
type RefreshRequestedEvent struct {
	// Invalidate forces remote archive caches to be discarded first.
	Invalidate bool
}

func (e RefreshRequestedEvent) Type() EventType { return EventRefreshRequested }

// RefreshStartedEvent is emitted when a refresh begins
type RefreshStartedEvent struct {
	Repositories []RepositoryConfig
}

func (e RefreshStartedEvent) Type() EventType { return EventRefreshStarted }

// SourceScannedEvent is emitted when one repository's scan finished
type SourceScannedEvent struct {
	Identity string
	Count    int
}

func (e SourceScannedEvent) Type() EventType { return EventSourceScanned }

// SourceFailedEvent is emitted when one repository could not be materialized
// or scanned. It is a warning: the refresh carries on with the other sources
// and the repository keeps contributing its last-known-good entries.
type SourceFailedEvent struct {
	Identity string
	Err      error
	// Stale is true when previously cached entries are still being served.
	Stale bool
}

func (e SourceFailedEvent) Type() EventType { return EventSourceFailed }

// IndexUpdatedEvent is emitted after a new index snapshot has been published
type IndexUpdatedEvent struct {
	Version uint64
	Count   int
}

func (e IndexUpdatedEvent) Type() EventType { return EventIndexUpdated }

// RefreshCompletedEvent is emitted when a refresh has finished, successfully
// or partially
type RefreshCompletedEvent struct {
	Failures int
	Err      error // nil, or the aggregate of per-source failures
}

func (e RefreshCompletedEvent) Type() EventType { return EventRefreshCompleted }

// ErrorEvent is emitted for errors that belong to no particular repository
type ErrorEvent struct {
	Message string
	Err     error
}

func (e ErrorEvent) Type() EventType { return EventError }
