package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventSessionStarted   EventType = "session:started"
	EventSessionEnded     EventType = "session:ended"
	EventSessionCancelled EventType = "session:cancelled"
	EventSessionPaused    EventType = "session:paused"
	EventSessionResumed   EventType = "session:resumed"
)

// Subject returns the NATS subject an event type is published on,
// e.g. "session:started" -> "session.started".
func (t EventType) Subject() string {
	b := []byte(t)
	for i := range b {
		if b[i] == ':' {
			b[i] = '.'
		}
	}
	return string(b)
}

// TableStatus is the occupancy the Table Registry should hold after the event.
func (t EventType) TableStatus() TableStatus {
	switch t {
	case EventSessionEnded, EventSessionCancelled:
		return TableAvailable
	default:
		return TableOccupied
	}
}

type SessionEvent struct {
	EventID    uuid.UUID `json:"event_id"`
	EventType  EventType `json:"event_type"`
	Session    Session   `json:"session"`
	OccurredAt time.Time `json:"occurred_at"`
}

type OutboxEvent struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	SessionID         uuid.UUID       `db:"session_id" json:"session_id"`
	EventType         EventType       `db:"event_type" json:"event_type"`
	TargetTableStatus TableStatus     `db:"target_table_status" json:"target_table_status"`
	Payload           json.RawMessage `db:"payload" json:"payload"`
	Attempts          int             `db:"attempts" json:"attempts"`
	LastError         *string         `db:"last_error" json:"last_error,omitempty"`
	PublishedAt       *time.Time      `db:"published_at" json:"published_at,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
}
