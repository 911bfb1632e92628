package agentloop

// EventType identifies a stream event.
type EventType string

const (
	EventMessage EventType = "message"
	EventEnd     EventType = "end"
	EventError   EventType = "error"
)

// Event is one item of a streamed run. A stream yields zero or more message
// events followed by exactly one end or error event.
type Event struct {
	Type    EventType   `json:"type"`
	Kind    MessageKind `json:"kind,omitempty"`
	Content string      `json:"content,omitempty"`
}

func messageEvent(m Message) Event {
	return Event{Type: EventMessage, Kind: m.Kind, Content: m.Text()}
}

func endEvent() Event {
	return Event{Type: EventEnd}
}

func errorEvent(err error) Event {
	return Event{Type: EventError, Content: err.Error()}
}

// Terminal reports whether e ends a stream.
func (e Event) Terminal() bool {
	return e.Type == EventEnd || e.Type == EventError
}
