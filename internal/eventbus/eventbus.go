package eventbus

import (
	"log"
	"runtime/debug"
	"sync"

	"cantara/internal/domain"
)

// Re-export domain types for convenience
type DomainEvent = domain.DomainEvent
type EventType = domain.EventType

// Event type constants
const (
	EventConfigLoaded     = domain.EventConfigLoaded
	EventConfigSaved      = domain.EventConfigSaved
	EventConfigChanged    = domain.EventConfigChanged
	EventRefreshRequested = domain.EventRefreshRequested
	EventRefreshStarted   = domain.EventRefreshStarted
	EventSourceScanned    = domain.EventSourceScanned
	EventSourceFailed     = domain.EventSourceFailed
	EventIndexUpdated     = domain.EventIndexUpdated
	EventRefreshCompleted = domain.EventRefreshCompleted
	EventError            = domain.EventError
)

// Re-export domain event types
type ConfigLoadedEvent = domain.ConfigLoadedEvent
type ConfigSavedEvent = domain.ConfigSavedEvent
type ConfigChangedEvent = domain.ConfigChangedEvent
type RefreshRequestedEvent = domain.RefreshRequestedEvent
type RefreshStartedEvent = domain.RefreshStartedEvent
type SourceScannedEvent = domain.SourceScannedEvent
type SourceFailedEvent = domain.SourceFailedEvent
type IndexUpdatedEvent = domain.IndexUpdatedEvent
type RefreshCompletedEvent = domain.RefreshCompletedEvent
type ErrorEvent = domain.ErrorEvent

// EventHandler is a function that handles domain events
type EventHandler func(DomainEvent)

// EventBus is the interface for the event bus
type EventBus interface {
	Publish(event DomainEvent)
	Subscribe(eventType EventType, handler EventHandler) func()
	Close()
}

// subscription ties a handler to an id so Subscribe can hand out a working
// unsubscribe function
type subscription struct {
	id      uint64
	handler EventHandler
}

// bus is the concrete implementation of EventBus
type bus struct {
	mu        sync.RWMutex
	nextID    uint64
	handlers  map[EventType][]subscription
	eventChan chan DomainEvent
	wg        sync.WaitGroup
	quit      chan struct{}
	closeOnce sync.Once
}

// New creates a new event bus
func New() EventBus {
	b := &bus{
		handlers:  make(map[EventType][]subscription),
		eventChan: make(chan DomainEvent, 1000),
		quit:      make(chan struct{}),
	}

	// Start the event dispatcher
	b.wg.Add(1)
	go b.dispatch()

	return b
}

// Publish publishes an event to all subscribers
func (b *bus) Publish(event DomainEvent) {
	select {
	case b.eventChan <- event:
		// Event sent successfully
	default:
		// Channel full, log and drop
		log.Printf("Event bus channel full, dropping event: %v", event.Type())
	}
}

// Subscribe subscribes to events of a specific type.
// Returns an unsubscribe function.
func (b *bus) Subscribe(eventType EventType, handler EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[eventType] = append(b.handlers[eventType], subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.handlers[eventType]
		for i, s := range subs {
			if s.id == id {
				b.handlers[eventType] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}

// Close stops the dispatcher. Events published after Close are dropped.
func (b *bus) Close() {
	b.closeOnce.Do(func() {
		close(b.quit)
		b.wg.Wait()
	})
}

// dispatch handles event distribution to subscribers
func (b *bus) dispatch() {
	defer b.wg.Done()

	for {
		select {
		case event := <-b.eventChan:
			b.mu.RLock()
			subs := b.handlers[event.Type()]
			// Make a copy to avoid holding the lock during handler execution
			subsCopy := make([]subscription, len(subs))
			copy(subsCopy, subs)
			b.mu.RUnlock()

			for _, sub := range subsCopy {
				func(h EventHandler, eventType EventType) {
					defer func() {
						if r := recover(); r != nil {
							log.Printf("Event handler panic for %s: %v\nStack: %s", eventType, r, debug.Stack())
						}
					}()
					h(event)
				}(sub.handler, event.Type())
			}

		case <-b.quit:
			// Drain remaining events
			for {
				select {
				case <-b.eventChan:
					// Discard event
				default:
					return
				}
			}
		}
	}
}
