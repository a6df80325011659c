package xhrmock

// EventType is the type tag of an [Event].
type EventType string

// Event types dispatched by [XHR] and its upload target.
const (
	EventReadyStateChange EventType = "readystatechange"
	EventLoadStart        EventType = "loadstart"
	EventProgress         EventType = "progress"
	EventLoad             EventType = "load"
	EventLoadEnd          EventType = "loadend"
	EventError            EventType = "error"
	EventAbort            EventType = "abort"
	EventTimeout          EventType = "timeout"
)

// Event is dispatched to listeners of an [EventTarget]. Progress fields are
// only meaningful for progress-style events, and Err is only set for
// [EventError].
type Event struct {
	Type EventType

	LengthComputable bool
	Loaded           int64
	Total            int64

	Err error
}

// Listener handles a dispatched [Event].
type Listener func(*Event)

// ListenerID identifies a listener added with [EventTarget.AddEventListener].
// The zero value never identifies a listener.
type ListenerID uint64

type listenerEntry struct {
	id      ListenerID
	fn      Listener
	removed bool
}

// EventTarget keeps ordered listener lists per event type and dispatches to
// them synchronously.
//
// Each type has a property-style slot set through [EventTarget.On]. The slot
// is always the first listener invoked for its type and can be replaced
// without touching the listeners added with [EventTarget.AddEventListener].
//
// An EventTarget is not safe for concurrent use; an [XHR] only touches it from
// its event loop.
type EventTarget struct {
	lastID    ListenerID
	slots     map[EventType]*listenerEntry
	listeners map[EventType][]*listenerEntry
}

// NewEventTarget creates an empty [EventTarget].
func NewEventTarget() *EventTarget {
	return &EventTarget{
		slots:     make(map[EventType]*listenerEntry),
		listeners: make(map[EventType][]*listenerEntry),
	}
}

// AddEventListener appends fn to the listeners of typ. Adding the same
// function twice registers it twice. A nil fn is ignored and yields the zero
// [ListenerID].
func (t *EventTarget) AddEventListener(typ EventType, fn Listener) ListenerID {
	if fn == nil {
		return 0
	}
	t.lastID++
	t.listeners[typ] = append(t.listeners[typ], &listenerEntry{id: t.lastID, fn: fn})
	return t.lastID
}

// RemoveEventListener removes the listener with the given ID from typ. If the
// listener is removed while an event of that type is being dispatched, it is
// not invoked for that event.
func (t *EventTarget) RemoveEventListener(typ EventType, id ListenerID) {
	entries := t.listeners[typ]
	for i, entry := range entries {
		if entry.id != id {
			continue
		}
		entry.removed = true
		t.listeners[typ] = append(entries[:i:i], entries[i+1:]...)
		return
	}
}

// On sets the property-style listener for typ, replacing the previous one. A
// nil fn clears the slot.
func (t *EventTarget) On(typ EventType, fn Listener) {
	if prev, ok := t.slots[typ]; ok {
		prev.removed = true
		delete(t.slots, typ)
	}
	if fn != nil {
		t.slots[typ] = &listenerEntry{fn: fn}
	}
}

// HasListeners reports whether anything would be invoked for typ.
func (t *EventTarget) HasListeners(typ EventType) bool {
	_, ok := t.slots[typ]
	return ok || len(t.listeners[typ]) > 0
}

// Dispatch invokes the listeners of e.Type that were registered when Dispatch
// was called, slot first and then in registration order, before returning.
// Panics raised by listeners are not recovered.
func (t *EventTarget) Dispatch(e *Event) {
	entries := make([]*listenerEntry, 0, len(t.listeners[e.Type])+1)
	if slot, ok := t.slots[e.Type]; ok {
		entries = append(entries, slot)
	}
	entries = append(entries, t.listeners[e.Type]...)

	for _, entry := range entries {
		if entry.removed {
			continue
		}
		entry.fn(e)
	}
}
