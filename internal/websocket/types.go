package websocket

import (
	"time"

	gws "github.com/gorilla/websocket"

	"github.com/raaihank/phi-guard/internal/privacy"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypePHIRedaction is sent after text was sanitized
	EventTypePHIRedaction EventType = "phi_redaction"
	// EventTypeReidentification is sent after placeholders were restored
	EventTypeReidentification EventType = "reidentification"
	// EventTypeSystemStatus represents a system status event
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	eventTypePong       EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// AuditEventData is the payload of redaction and re-identification events.
// It never carries original values or placeholders.
type AuditEventData struct {
	TenantID  string                   `json:"tenant_id"`
	SessionID string                   `json:"session_id"`
	MappingID string                   `json:"mapping_id,omitempty"`
	Counts    map[privacy.Category]int `json:"counts"`
	Total     int                      `json:"total"`
	Persisted bool                     `json:"persisted"`
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	TotalRedactions  int64  `json:"total_redactions"`
	ConnectedClients int    `json:"connected_clients"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action   string `json:"action"` // "connected", "disconnected"
	ClientID string `json:"client_id"`
	Message  string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type   string      `json:"type"`
	Events []EventType `json:"events,omitempty"`
	Tenant string      `json:"tenant,omitempty"`
}

// Subscription restricts what a client receives. Empty fields match everything.
type Subscription struct {
	Events []EventType `json:"events"`
	Tenant string      `json:"tenant,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID           string
	conn         *gws.Conn
	Send         chan Event
	Subscription *Subscription
	ConnectedAt  time.Time
	IP           string
}
