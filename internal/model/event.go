package model

// EventType names a decoded stream event.
type EventType string

const (
	EventInit     EventType = "init"
	EventPresence EventType = "presence"
	EventDelta    EventType = "delta"
	EventAction   EventType = "action"
	EventImage    EventType = "image"
	EventContext  EventType = "context"
	EventError    EventType = "error"
)

// Event is one typed item of the assistant stream.
type Event struct {
	Type      EventType
	SessionID string
	RequestID string
	Text      string
	Action    *Action
	Image     *Image
	Context   *ContextFilter
}
