package models

import (
	"encoding/json"
	"time"
)

// DomainEventType enumerates the events the booking transactor emits. The
// dispatcher consumes these instead of booking code importing workflow code.
type DomainEventType string

const (
	EventAppointmentRequested DomainEventType = "appointment.requested"
	EventAppointmentConfirmed DomainEventType = "appointment.confirmed"
	EventAppointmentCancelled DomainEventType = "appointment.cancelled"
	EventAppointmentCompleted DomainEventType = "appointment.completed"
	EventAppointmentNoShow    DomainEventType = "appointment.no_show"
	EventHostSubstituted      DomainEventType = "appointment.host_substituted"
	EventAttendeeRegistered   DomainEventType = "group.attendee_registered"
	EventAttendeePromoted     DomainEventType = "group.attendee_promoted"
	EventPollResolved         DomainEventType = "poll.resolved"
)

// Valid reports whether the event type is a known value.
func (t DomainEventType) Valid() bool {
	switch t {
	case EventAppointmentRequested, EventAppointmentConfirmed, EventAppointmentCancelled,
		EventAppointmentCompleted, EventAppointmentNoShow, EventHostSubstituted,
		EventAttendeeRegistered, EventAttendeePromoted, EventPollResolved:
		return true
	}
	return false
}

// OutboxEvent is a domain event staged in the same transaction as the state
// change that produced it.
type OutboxEvent struct {
	ID           int64           `db:"id" json:"id"`
	TenantID     string          `db:"tenant_id" json:"tenant_id"`
	EventType    DomainEventType `db:"event_type" json:"event_type"`
	AggregateID  string          `db:"aggregate_id" json:"aggregate_id"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	DispatchedAt *time.Time      `db:"dispatched_at" json:"dispatched_at,omitempty"`
}
