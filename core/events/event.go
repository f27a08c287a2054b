package events

import "creditra/core/types"

// Event represents a structured state change emitted by the credit service.
type Event interface {
	EventType() string
}

// Payload is implemented by events that can render themselves into the wire
// representation. Emitters that persist or forward events rely on it.
type Payload interface {
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events. It
// is the default wired into engines until a real sink is attached.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}
