package discovery

// EventKind classifies a discovery engine notification.
type EventKind uint8

const (
	// EventDiscovered fires when a node first appears in the table.
	EventDiscovered EventKind = iota

	// EventUpdated fires when a known node's advertisement data changes.
	EventUpdated

	// EventStateChanged fires on any entry state transition.
	EventStateChanged

	// EventExpired fires when an entry ages out of the table.
	EventExpired

	// EventBound fires when a binding completes and is committed.
	EventBound

	// EventWindowOpened and EventWindowClosed track the permit-join window.
	EventWindowOpened
	EventWindowClosed
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventDiscovered:
		return "DISCOVERED"
	case EventUpdated:
		return "UPDATED"
	case EventStateChanged:
		return "STATE_CHANGED"
	case EventExpired:
		return "EXPIRED"
	case EventBound:
		return "BOUND"
	case EventWindowOpened:
		return "WINDOW_OPENED"
	case EventWindowClosed:
		return "WINDOW_CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Event is a discovery engine notification. Entry is a snapshot and is the
// zero value for window events.
type Event struct {
	Kind  EventKind
	Entry Entry
}

// EventFunc receives engine notifications. Callbacks run synchronously on
// the engine's goroutine and must not call back into the engine.
type EventFunc func(Event)
