package history

import (
	"context"
	"time"
)

// EventType defines the kind of timer lifecycle event.
type EventType string

const (
	EventStart    EventType = "start"
	EventPause    EventType = "pause"
	EventResume   EventType = "resume"
	EventReset    EventType = "reset"
	EventComplete EventType = "complete"
	EventRecover  EventType = "recover"
)

// Event represents a timer lifecycle event to be exported to external systems.
// Value is the re-based timer value in seconds at OccurredAt.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Key        string    `json:"key"`
	Mode       string    `json:"mode"`
	Value      float64   `json:"value"`
	Initial    float64   `json:"initial"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
