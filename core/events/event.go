package events

import "usdengine/core/types"

// Event represents a structured state change emitted by an engine.
type Event interface {
	EventType() string
}

// Renderable events know how to flatten themselves into the wire event.
type Renderable interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. websocket
// clients, the journal).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Multi fans one event out to several emitters in order.
type Multi []Emitter

// Emit implements the Emitter interface.
func (m Multi) Emit(evt Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(evt)
		}
	}
}

// Render converts evt into its wire form. Events that do not implement
// Renderable are rendered with their type only.
func Render(evt Event) *types.Event {
	if evt == nil {
		return nil
	}
	if r, ok := evt.(Renderable); ok {
		if out := r.Event(); out != nil {
			return out
		}
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}
