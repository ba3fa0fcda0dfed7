package event

import (
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeJobUpdate reports a job status change.
	EventTypeJobUpdate EventType = "job_update"
	// EventTypeEntitiesLoaded reports a completed detection batch.
	EventTypeEntitiesLoaded EventType = "entities_loaded"
	// EventTypeEntityUpdated reports a single entity's state change.
	EventTypeEntityUpdated EventType = "entity_updated"
	// EventTypeRedaction reports applied, removed or cleared redactions.
	EventTypeRedaction EventType = "redaction"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	JobID     string      `json:"job_id,omitempty"`
	Data      interface{} `json:"data"`
}

// JobEvent reports job lifecycle progress.
type JobEvent struct {
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
	DocumentName string `json:"document_name,omitempty"`
	TotalPages   int    `json:"total_pages,omitempty"`
	Entities     int    `json:"entities,omitempty"`
	Message      string `json:"message,omitempty"`
}

// EntityEvent reports one entity's reconciled state.
type EntityEvent struct {
	JobID        string `json:"job_id"`
	EntityID     string `json:"entity_id"`
	Category     string `json:"category,omitempty"`
	Selected     bool   `json:"selected"`
	Highlighted  bool   `json:"highlighted"`
	HasRedaction bool   `json:"has_redaction"`
	Annotations  int    `json:"annotations"`
}

// RedactionEvent reports redaction changes.
type RedactionEvent struct {
	JobID       string `json:"job_id"`
	EntityID    string `json:"entity_id,omitempty"`
	Action      string `json:"action"` // "applied", "removed", "cleared"
	Annotations int    `json:"annotations"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action   string `json:"action"` // "connected", "disconnected"
	ClientID string `json:"client_id"`
	ClientIP string `json:"client_ip"`
	Message  string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest narrows which events a client receives. An empty
// Events list means all types; an empty JobID means all jobs.
type SubscriptionRequest struct {
	Events []EventType `json:"events"`
	JobID  string      `json:"job_id,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID           string
	Conn         *websocket.Conn
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	LastPing     time.Time
	IP           string
	UserAgent    string
}
