package model

import (
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionActive    SessionStatus = "ACTIVE"
	SessionPaused    SessionStatus = "PAUSED"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionCancelled SessionStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed out of s.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// Live reports whether a session in status s still holds its table.
func (s SessionStatus) Live() bool {
	return s == SessionActive || s == SessionPaused
}

func (s SessionStatus) Valid() bool {
	switch s {
	case SessionActive, SessionPaused, SessionCompleted, SessionCancelled:
		return true
	}
	return false
}

type Session struct {
	ID         uuid.UUID     `db:"id" json:"id"`
	TableID    string        `db:"table_id" json:"table_id"`
	CustomerID *string       `db:"customer_id" json:"customer_id,omitempty"`
	StaffID    string        `db:"staff_id" json:"staff_id"`
	StartTime  time.Time     `db:"start_time" json:"start_time"`
	EndTime    *time.Time    `db:"end_time" json:"end_time,omitempty"`
	HourlyRate int64         `db:"hourly_rate" json:"hourly_rate"`
	Status     SessionStatus `db:"status" json:"status"`
	TotalCost  *int64        `db:"total_cost" json:"total_cost,omitempty"`
	Notes      *string       `db:"notes" json:"notes,omitempty"`
	PausedAt   *time.Time    `db:"paused_at" json:"paused_at,omitempty"`
	PausedMs   int64         `db:"paused_ms" json:"paused_ms"`
	Version    int64         `db:"version" json:"version"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time     `db:"updated_at" json:"updated_at"`
}

// SessionView is a session row enriched with the cost as of the read.
type SessionView struct {
	Session
	CurrentCost int64 `json:"current_cost"`
}

type SessionCost struct {
	SessionID       uuid.UUID `json:"session_id"`
	DurationMinutes int64     `json:"duration_minutes"`
	HourlyRate      int64     `json:"hourly_rate"`
	CurrentCost     int64     `json:"current_cost"`
}

type SessionFilter struct {
	Status  SessionStatus
	TableID string
}
