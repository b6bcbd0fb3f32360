package plugins

import "sync"

// Bus is a minimal in-process EventEmitter: it broadcasts events to
// registered listeners synchronously and retains a bounded history for
// late subscribers and the get_limit_events command surface. Event dispatch
// snapshots the listener table before invocation, so a listener removed
// mid-dispatch never sees a torn call.
type Bus struct {
	mu         sync.RWMutex
	listeners  map[string]registeredListener
	history    []PluginEvent
	maxHistory int
}

type registeredListener struct {
	listener EventListener
	filter   *EventFilter
}

// NewBus returns a Bus retaining up to maxHistory past events.
func NewBus(maxHistory int) *Bus {
	if maxHistory <= 0 {
		maxHistory = 1000
	}
	return &Bus{listeners: make(map[string]registeredListener), maxHistory: maxHistory}
}

func (b *Bus) EmitEvent(event PluginEvent) {
	b.mu.Lock()
	b.history = append(b.history, event)
	if len(b.history) > b.maxHistory {
		drop := len(b.history) - b.maxHistory
		copy(b.history, b.history[drop:])
		b.history = b.history[:b.maxHistory]
	}
	// Snapshot before releasing the lock and invoking listeners: a
	// RemoveListener racing this EmitEvent never observes a partially
	// dispatched event.
	snapshot := make([]registeredListener, 0, len(b.listeners))
	for _, rl := range b.listeners {
		snapshot = append(snapshot, rl)
	}
	b.mu.Unlock()

	for _, rl := range snapshot {
		if rl.filter == nil || rl.filter.Matches(event) {
			rl.listener.HandleEvent(event)
		}
	}
}

func (b *Bus) AddListener(listener EventListener, filter *EventFilter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[listener.ListenerID()] = registeredListener{listener: listener, filter: filter}
}

func (b *Bus) RemoveListener(listener EventListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.listeners, listener.ListenerID())
}

func (b *Bus) History(filter EventFilter) []PluginEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []PluginEvent
	for _, e := range b.history {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}
