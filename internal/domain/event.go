package domain

import "time"

// EventType classifies journal entries.
type EventType string

const (
	EventRunStarted   EventType = "run_started"
	EventRunPaused    EventType = "run_paused"
	EventRunResumed   EventType = "run_resumed"
	EventRunCompleted EventType = "run_completed"
	EventRunAborted   EventType = "run_aborted"
	EventSafetyTrip   EventType = "safety_trip"
	EventSafetyReset  EventType = "safety_reset"
)

// Event is one durable record of a safety or run transition. Events are
// append-only; the journal never rewrites history.
type Event struct {
	Time    time.Time `json:"time"`
	Type    EventType `json:"type"`
	RunID   string    `json:"run_id,omitempty"`
	Sensor  string    `json:"sensor,omitempty"`
	Value   float64   `json:"value,omitempty"`
	Limit   float64   `json:"limit,omitempty"`
	Message string    `json:"message,omitempty"`
}
