package delivery

import (
	"time"

	"github.com/austindbirch/hookrelay/internal/ids"
)

// UnknownEventType is used when the payload carries no usable "event" field
const UnknownEventType = "unknown"

// Event is the JSON document POSTed to a destination
type Event struct {
	EventID    string         `json:"event_id"`
	Source     string         `json:"source"`
	EventType  string         `json:"event_type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data"`
	Raw        map[string]any `json:"raw"`
}

// NewEvent wraps an inbound payload received from source
func NewEvent(source string, payload map[string]any) Event {
	return Event{
		EventID:    ids.NewEvent(),
		Source:     source,
		EventType:  EventTypeOf(payload),
		OccurredAt: time.Now().UTC(),
		Data:       payload,
		Raw:        payload,
	}
}

// EventTypeOf reads payload["event"] when it is a non-empty string
func EventTypeOf(payload map[string]any) string {
	if v, ok := payload["event"].(string); ok && v != "" {
		return v
	}
	return UnknownEventType
}
