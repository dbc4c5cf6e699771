package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cantara/internal/domain"
)

func TestPublishReachesSubscribers(t *testing.T) {
	bus := New()
	defer bus.Close()

	got := make(chan DomainEvent, 1)
	bus.Subscribe(EventIndexUpdated, func(e DomainEvent) {
		got <- e
	})

	bus.Publish(domain.IndexUpdatedEvent{Version: 7, Count: 42})

	select {
	case e := <-got:
		ev, ok := e.(IndexUpdatedEvent)
		require.True(t, ok)
		require.Equal(t, uint64(7), ev.Version)
		require.Equal(t, 42, ev.Count)
	case <-time.After(2 * time.Second):
		t.Fatal("event never delivered")
	}
}

func TestSubscriberOnlySeesItsEventType(t *testing.T) {
	bus := New()
	defer bus.Close()

	var mu sync.Mutex
	var seen []EventType
	bus.Subscribe(EventSourceScanned, func(e DomainEvent) {
		mu.Lock()
		seen = append(seen, e.Type())
		mu.Unlock()
	})

	bus.Publish(domain.IndexUpdatedEvent{})
	bus.Publish(domain.SourceScannedEvent{Identity: "x", Count: 1})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []EventType{EventSourceScanned}, seen)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New()
	defer bus.Close()

	var count int
	var mu sync.Mutex
	marker := make(chan struct{}, 8)
	unsub := bus.Subscribe(EventRefreshStarted, func(e DomainEvent) {
		mu.Lock()
		count++
		mu.Unlock()
		marker <- struct{}{}
	})

	bus.Publish(domain.RefreshStartedEvent{})
	select {
	case <-marker:
	case <-time.After(2 * time.Second):
		t.Fatal("first event never delivered")
	}

	unsub()
	bus.Publish(domain.RefreshStartedEvent{})

	// Give the dispatcher a beat to (not) deliver.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, count)
}

func TestHandlerPanicDoesNotKillDispatcher(t *testing.T) {
	bus := New()
	defer bus.Close()

	bus.Subscribe(EventError, func(e DomainEvent) {
		panic("handler blew up")
	})
	got := make(chan struct{}, 1)
	bus.Subscribe(EventError, func(e DomainEvent) {
		got <- struct{}{}
	})

	bus.Publish(domain.ErrorEvent{Message: "boom"})

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("second handler never ran after panic in first")
	}
}
