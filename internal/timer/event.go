package timer

import "time"

// EventType names a change observed on an engine.
type EventType string

const (
	EventStart    EventType = "start"
	EventPause    EventType = "pause"
	EventResume   EventType = "resume"
	EventReset    EventType = "reset"
	EventComplete EventType = "complete"
	EventRecover  EventType = "recover"
	// EventTick is sent on every advancement frame. It never reaches
	// history sinks.
	EventTick EventType = "tick"
)

// State is a point-in-time view of an engine. Value is the re-based value
// at the moment the snapshot was taken.
type State struct {
	Key      string    `json:"key"`
	Mode     Mode      `json:"mode"`
	Value    float64   `json:"value"`
	Initial  float64   `json:"initial"`
	Running  bool      `json:"running"`
	Paused   bool      `json:"paused"`
	Complete bool      `json:"complete"`
	LastSync time.Time `json:"last_sync"`
}

// Event is delivered to subscribers.
type Event struct {
	Type  EventType `json:"type"`
	At    time.Time `json:"at"`
	State State     `json:"state"`
}
