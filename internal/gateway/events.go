package gateway

// EventType tags every outbound frame so clients can switch on one field.
type EventType string

const (
	// EventMessage is a persisted turn echoed to the client.
	EventMessage EventType = "message"
	// EventChunk is one streamed fragment of an assistant reply.
	EventChunk EventType = "chunk"
	// EventStreamEnd marks the end of a streamed reply.
	EventStreamEnd EventType = "stream_end"
	// EventError is an inline notice delivered when a reply failed. It is
	// never persisted to history.
	EventError EventType = "error"
)

// Event is the single outbound frame schema pushed over a connection.
type Event struct {
	Type    EventType `json:"type"`
	Role    string    `json:"role,omitempty"`
	Content string    `json:"content,omitempty"`
}

// MessageEvent builds a persisted-turn frame.
func MessageEvent(role, content string) Event {
	return Event{Type: EventMessage, Role: role, Content: content}
}

// ChunkEvent builds a streamed-fragment frame.
func ChunkEvent(content string) Event {
	return Event{Type: EventChunk, Content: content}
}

// StreamEndEvent builds an end-of-reply frame.
func StreamEndEvent() Event {
	return Event{Type: EventStreamEnd}
}

// ErrorEvent builds an inline error frame.
func ErrorEvent(content string) Event {
	return Event{Type: EventError, Content: content}
}
