package events

import "time"

// EventType represents the type of event broadcast to subscribers
type EventType string

const (
	// EventTypeDetection is emitted after each pseudonymization request
	EventTypeDetection EventType = "detection"
	// EventTypeSession is emitted when sessions are created, imported, or cleared
	EventTypeSession EventType = "session"
)

// Event is the envelope sent to subscribed clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// DetectionEvent summarizes one pseudonymization request. It carries counts
// and metadata only; surface text and placeholder mappings never leave the
// engine through this channel.
type DetectionEvent struct {
	RequestID    string         `json:"request_id"`
	SessionID    string         `json:"session_id"`
	Language     string         `json:"language"`
	Texts        int            `json:"texts"`
	EntityCount  int            `json:"entity_count"`
	EntityCounts map[string]int `json:"entity_counts"`
	Degraded     bool           `json:"degraded"`
	ProcessingMS float64        `json:"processing_ms"`
}

// SessionEvent reports a session lifecycle change
type SessionEvent struct {
	Action    string `json:"action"` // created, imported, cleared
	SessionID string `json:"session_id"`
}
