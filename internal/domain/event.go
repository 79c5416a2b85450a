package domain

import "time"

// EventType names an engine lifecycle event.
type EventType string

const (
	EventEntryFilled     EventType = "entry_filled"
	EventEntryRejected   EventType = "entry_rejected"
	EventExitDecided     EventType = "exit_decided"
	EventExitSubmitted   EventType = "exit_submitted"
	EventExitFilled      EventType = "exit_filled"
	EventExitRejected    EventType = "exit_rejected"
	EventEvaluationFault EventType = "evaluation_fault"
	EventSessionRolled   EventType = "session_rolled"
	EventEngineFault     EventType = "engine_fault"
)

// Event is published on the signal bus and relayed to WebSocket clients.
type Event struct {
	Type       EventType `json:"type"`
	SessionID  string    `json:"session_id,omitempty"`
	EntryID    string    `json:"entry_id,omitempty"`
	ExitID     string    `json:"exit_id,omitempty"`
	Instrument string    `json:"instrument,omitempty"`
	Direction  Direction `json:"direction,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Code       string    `json:"code,omitempty"`
	Price      float64   `json:"price,omitempty"`
	Profit     float64   `json:"profit,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

// EventsChannel is the bus channel engine events are published on.
const EventsChannel = "exitwatch:events"
