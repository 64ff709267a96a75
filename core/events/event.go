package events

// Event represents a structured state change emitted by a ledger engine.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (gateway, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events. It
// is the default for engines whose caller did not wire an emitter.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Recorder captures emitted events in order. Tests use it to assert on the
// audit trail produced by a sequence of operations.
type Recorder struct {
	Events []Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	r.Events = append(r.Events, evt)
}

// Types returns the event type strings in emission order.
func (r *Recorder) Types() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.Events))
	for _, evt := range r.Events {
		out = append(out, evt.EventType())
	}
	return out
}
