package models

import "time"

// EventType names a push event delivered over the websocket hub.
type EventType string

// Push events are a cache-invalidation hint: consumers must be able to
// re-fetch authoritative state via the pull API.
const (
	EventCourseAssigned      EventType = "course_assigned"
	EventCourseStatusChanged EventType = "course_status_changed"
	EventAttendanceUpdated   EventType = "attendance_updated"
	EventInvoiceCreated      EventType = "invoice_created"
)

// Event is the wire payload pushed to connected sessions.
type Event struct {
	Type    EventType              `json:"type"`
	Payload map[string]interface{} `json:"payload"`
	SentAt  time.Time              `json:"sent_at"`
}

// NewEvent builds an event stamped with the current time.
func NewEvent(t EventType, payload map[string]interface{}) Event {
	return Event{Type: t, Payload: payload, SentAt: time.Now().UTC()}
}
