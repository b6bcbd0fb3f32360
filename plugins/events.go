// Package plugins holds the types shared across the plugin host: identity,
// versioning, the error taxonomy, and the event shapes the Lifecycle Engine,
// Permission Broker, and Sandbox Governor all publish through.
package plugins

// EventType identifies the kind of event emitted to the UI collaborator.
type EventType string

// Priority levels for plugin events.
const (
	PriorityLow      = 0
	PriorityNormal   = 1
	PriorityHigh     = 2
	PriorityCritical = 3
)

// Lifecycle Engine events, emitted to the UI collaborator per spec.
const (
	EventPluginInstalled     EventType = "plugin.installed"
	EventPluginUpdated       EventType = "plugin.updated"
	EventPluginUninstalled   EventType = "plugin.uninstalled"
	EventPluginStatusChanged EventType = "plugin.status_changed"
)

// Permission Broker events.
const (
	EventPermissionGranted EventType = "permission.granted"
	EventPermissionDenied  EventType = "permission.denied"
)

// Sandbox & Resource Governor events.
const (
	EventSoftLimitBreached EventType = "sandbox.soft_limit_breached"
	EventHardLimitBreached EventType = "sandbox.hard_limit_breached"
	EventLimitRecovered    EventType = "sandbox.limit_recovered"
)

// Internal sub-phase events, published during Enable/Disable so in-process
// observers (metrics, scenario tests) can assert on intermediate states that
// never reach the UI collaborator directly.
const (
	EventPluginInitializing EventType = "plugin.initializing"
	EventPluginInitialized  EventType = "plugin.initialized"
	EventPluginStarting     EventType = "plugin.starting"
	EventPluginStarted      EventType = "plugin.started"
	EventPluginStopping     EventType = "plugin.stopping"
	EventPluginStopped      EventType = "plugin.stopped"
)

// PluginEvent is a single lifecycle/permission/sandbox event, published by
// whichever component owns the transition and consumed by the UI
// collaborator and by in-process listeners (metrics, tests).
type PluginEvent struct {
	// Type identifies the specific kind of event.
	Type EventType

	// Priority indicates how urgently the event should surface to a user.
	Priority int

	// PluginID identifies the plugin the event concerns.
	PluginID string

	// Source identifies the component that published the event
	// ("lifecycle", "permission", "sandbox").
	Source string

	// Status mirrors the registry's status string at the time of the
	// event (e.g. "Enabled", "Errored"), when the event represents a
	// status transition. Kept as a string rather than a registry.Status
	// to avoid a dependency cycle between plugins and registry.
	Status string

	// Err carries the failure that produced an Errored/Incompatible
	// transition, if any.
	Err error

	// Metadata carries event-specific structured detail (e.g. resource
	// name and value for a limit breach, granted capability set for a
	// permission grant).
	Metadata map[string]any

	// Timestamp records when the event occurred, as Unix nanoseconds.
	Timestamp int64
}

// EventFilter selects a subset of events for a listener.
type EventFilter struct {
	Types      []EventType
	Priorities []int
	PluginIDs  []string
	FromTime   int64
	ToTime     int64
}

// Matches reports whether event satisfies every non-empty criterion in f.
func (f EventFilter) Matches(event PluginEvent) bool {
	if len(f.Types) > 0 && !containsType(f.Types, event.Type) {
		return false
	}
	if len(f.Priorities) > 0 && !containsInt(f.Priorities, event.Priority) {
		return false
	}
	if len(f.PluginIDs) > 0 && !containsString(f.PluginIDs, event.PluginID) {
		return false
	}
	if f.FromTime != 0 && event.Timestamp < f.FromTime {
		return false
	}
	if f.ToTime != 0 && event.Timestamp > f.ToTime {
		return false
	}
	return true
}

func containsType(s []EventType, v EventType) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// EventEmitter broadcasts plugin events to registered listeners.
type EventEmitter interface {
	// EmitEvent broadcasts event to every listener whose filter matches it.
	EmitEvent(event PluginEvent)

	// AddListener registers listener, optionally restricted by filter.
	// A nil filter matches every event.
	AddListener(listener EventListener, filter *EventFilter)

	// RemoveListener unregisters listener.
	RemoveListener(listener EventListener)

	// History returns past events matching filter, bounded by the
	// emitter's retention policy.
	History(filter EventFilter) []PluginEvent
}

// EventListener receives plugin events it has subscribed to.
type EventListener interface {
	// HandleEvent processes a single event.
	HandleEvent(event PluginEvent)

	// ListenerID returns a stable identifier used for registration and
	// removal.
	ListenerID() string
}
